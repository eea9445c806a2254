package routing

import (
	"time"

	"questingbots.ai/internal/sim/geom"
	"questingbots.ai/internal/sim/pathcache"
)

type UpdateReason string

const (
	UpdateNone       UpdateReason = ""
	UpdateForce      UpdateReason = "force"
	UpdateNewTarget  UpdateReason = "new_target"
	UpdateIncomplete UpdateReason = "incomplete_path"
)

// PathState is an agent's current route and when it was computed.
type PathState struct {
	Target geom.Vec3
	Route  pathcache.Route
	SetAt  time.Time

	hasTarget bool
	cursor    int
}

// NeedsUpdate reports why the route toward target should be recomputed:
// forced, a new target, an invalid route, or a partial one older than retry.
func (p *PathState) NeedsUpdate(target geom.Vec3, now time.Time, retry time.Duration, force bool) UpdateReason {
	switch {
	case force:
		return UpdateForce
	case !p.hasTarget || target != p.Target:
		return UpdateNewTarget
	case p.Route.Status == pathcache.StatusInvalid:
		return UpdateIncomplete
	case p.Route.Status == pathcache.StatusPartial && now.Sub(p.SetAt) > retry:
		return UpdateIncomplete
	}
	return UpdateNone
}

func (p *PathState) Set(target geom.Vec3, r pathcache.Route, now time.Time) {
	p.Target = target
	p.Route = r
	p.SetAt = now
	p.hasTarget = true
	p.cursor = 0
}

func (p *PathState) Reset() { *p = PathState{} }

// Next returns the corner to head for from pos. Corners within reach are
// consumed in order; the final corner is returned once all others are passed.
func (p *PathState) Next(pos geom.Vec3, reach float64) (geom.Vec3, bool) {
	cs := p.Route.Corners
	if len(cs) == 0 {
		return geom.Vec3{}, false
	}
	for p.cursor < len(cs)-1 && geom.Dist(pos, cs[p.cursor]) <= reach {
		p.cursor++
	}
	return cs[p.cursor], true
}
