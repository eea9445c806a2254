package quests

import (
	"fmt"
	"sync"
	"time"

	"questingbots.ai/internal/sim/geom"
	"questingbots.ai/internal/sim/tuning"
)

// Graph owns the quests of one session. It is read-mostly: quests are added
// while loading and, later, only appended (chaser quests).
type Graph struct {
	mu     sync.RWMutex
	quests []*Quest
	byID   map[string]*Quest
	built  bool
	seq    int
}

func NewGraph() *Graph {
	return &Graph{byID: map[string]*Quest{}}
}

// AddQuest registers q, assigning an ID when it has none. Duplicate IDs are rejected.
func (g *Graph) AddQuest(q *Quest) error {
	if q == nil {
		return fmt.Errorf("quests: nil quest")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addLocked(q, "quest")
}

func (g *Graph) addLocked(q *Quest, idPrefix string) error {
	g.seq++
	if q.ID == "" {
		q.ID = fmt.Sprintf("%s-%d", idPrefix, g.seq)
	}
	if _, dup := g.byID[q.ID]; dup {
		return fmt.Errorf("quests: duplicate quest id %q", q.ID)
	}
	g.quests = append(g.quests, q)
	g.byID[q.ID] = q
	return nil
}

// Quests returns a snapshot in insertion order.
func (g *Graph) Quests() []*Quest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Quest(nil), g.quests...)
}

func (g *Graph) Find(id string) (*Quest, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	q, ok := g.byID[id]
	return q, ok
}

func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.quests)
}

func (g *Graph) MarkBuilt() {
	g.mu.Lock()
	g.built = true
	g.mu.Unlock()
}

func (g *Graph) IsBuilt() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.built
}

// AddChaserQuest appends a single-objective quest toward pos that expires
// after the configured interest time.
func (g *Graph) AddChaserQuest(pos geom.Vec3, now time.Time, s tuning.QuestSettings) (*Quest, error) {
	q := NewGoToPositionQuest("Chaser", pos, s)
	if d := s.InterestTime(); d > 0 {
		q.ExpiresAt = now.Add(d)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.addLocked(q, "chaser"); err != nil {
		return nil, err
	}
	q.Name = fmt.Sprintf("Chaser %s", q.ID)
	return q, nil
}
