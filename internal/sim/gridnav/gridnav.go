// Package gridnav answers navigability queries over a 2D occupancy grid laid
// on the world's XZ plane.
package gridnav

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strings"

	"questingbots.ai/internal/sim/geom"
	"questingbots.ai/internal/sim/pathcache"
)

type Cell struct {
	X int
	Z int
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func distXZ(a, b Cell) int { return absInt(a.X-b.X) + absInt(a.Z-b.Z) }

// Grid cell (x, z) covers world [x*CellSize, (x+1)*CellSize) on X and the same on Z.
type Grid struct {
	W, H     int
	CellSize float64
	blocked  []bool
}

func New(w, h int, cellSize float64) *Grid {
	if cellSize <= 0 {
		cellSize = 1
	}
	return &Grid{W: w, H: h, CellSize: cellSize, blocked: make([]bool, w*h)}
}

// Parse reads rows of '.' (free) and '#' (blocked). Row i is z = i.
func Parse(r io.Reader, cellSize float64) (*Grid, error) {
	var rows []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("gridnav: empty map")
	}
	g := New(len(rows[0]), len(rows), cellSize)
	for z, row := range rows {
		if len(row) != g.W {
			return nil, fmt.Errorf("gridnav: row %d has width %d, want %d", z, len(row), g.W)
		}
		for x, ch := range row {
			switch ch {
			case '.':
			case '#':
				g.Block(Cell{X: x, Z: z})
			default:
				return nil, fmt.Errorf("gridnav: row %d: unexpected %q", z, ch)
			}
		}
	}
	return g, nil
}

// Digest identifies the grid's dimensions, cell size and blocked cells.
func (g *Grid) Digest() string {
	h := sha256.New()
	var hdr [24]byte
	binary.LittleEndian.PutUint64(hdr[0:], uint64(g.W))
	binary.LittleEndian.PutUint64(hdr[8:], uint64(g.H))
	binary.LittleEndian.PutUint64(hdr[16:], math.Float64bits(g.CellSize))
	h.Write(hdr[:])
	bits := make([]byte, (len(g.blocked)+7)/8)
	for i, b := range g.blocked {
		if b {
			bits[i/8] |= 1 << (i % 8)
		}
	}
	h.Write(bits)
	return hex.EncodeToString(h.Sum(nil))
}

func (g *Grid) InBounds(c Cell) bool { return c.X >= 0 && c.Z >= 0 && c.X < g.W && c.Z < g.H }

func (g *Grid) Block(c Cell) {
	if g.InBounds(c) {
		g.blocked[c.Z*g.W+c.X] = true
	}
}

func (g *Grid) Blocked(c Cell) bool { return !g.InBounds(c) || g.blocked[c.Z*g.W+c.X] }

func (g *Grid) CellOf(p geom.Vec3) Cell {
	return Cell{X: int(math.Floor(p.X / g.CellSize)), Z: int(math.Floor(p.Z / g.CellSize))}
}

func (g *Grid) Center(c Cell, y float64) geom.Vec3 {
	return geom.V((float64(c.X)+0.5)*g.CellSize, y, (float64(c.Z)+0.5)*g.CellSize)
}

// Fixed neighbor order keeps routes deterministic.
var dirs = []Cell{{X: 1}, {X: -1}, {Z: 1}, {Z: -1}}

// RouteBetween runs a BFS from a's cell to b's cell. A blocked or unreachable
// goal yields a Partial route to the reachable cell closest to it.
func (g *Grid) RouteBetween(a, b geom.Vec3) (pathcache.Route, error) {
	start, goal := g.CellOf(a), g.CellOf(b)
	if !g.InBounds(start) || !g.InBounds(goal) || g.Blocked(start) {
		return pathcache.Route{Status: pathcache.StatusInvalid}, nil
	}

	parent := map[Cell]Cell{start: start}
	depth := map[Cell]int{start: 0}
	queue := []Cell{start}
	best := start
	for head := 0; head < len(queue); head++ {
		c := queue[head]
		if c == goal {
			best = c
			break
		}
		if d := distXZ(c, goal); d < distXZ(best, goal) || (d == distXZ(best, goal) && depth[c] < depth[best]) {
			best = c
		}
		for _, dir := range dirs {
			n := Cell{X: c.X + dir.X, Z: c.Z + dir.Z}
			if _, seen := parent[n]; seen || g.Blocked(n) {
				continue
			}
			parent[n] = c
			depth[n] = depth[c] + 1
			queue = append(queue, n)
		}
	}

	var cells []Cell
	for c := best; ; c = parent[c] {
		cells = append(cells, c)
		if c == start {
			break
		}
	}
	for i, j := 0, len(cells)-1; i < j; i, j = i+1, j-1 {
		cells[i], cells[j] = cells[j], cells[i]
	}

	corners := []geom.Vec3{a}
	for i := 1; i+1 < len(cells); i++ {
		in := Cell{X: cells[i].X - cells[i-1].X, Z: cells[i].Z - cells[i-1].Z}
		out := Cell{X: cells[i+1].X - cells[i].X, Z: cells[i+1].Z - cells[i].Z}
		if in != out {
			corners = append(corners, g.Center(cells[i], a.Y))
		}
	}
	status := pathcache.StatusComplete
	if best == goal {
		corners = append(corners, b)
	} else {
		status = pathcache.StatusPartial
		if best != start {
			corners = append(corners, g.Center(best, a.Y))
		}
	}
	return pathcache.Route{Status: status, Corners: corners, Length: geom.PathLength(corners)}, nil
}
