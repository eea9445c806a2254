package pathcache

import (
	"time"

	"go.uber.org/zap"

	"questingbots.ai/internal/sim/geom"
	"questingbots.ai/internal/sim/jobs"
	"questingbots.ai/internal/sim/quests"
	"questingbots.ai/internal/sim/simclock"
)

// Discoverer finds static paths for quests that declare waypoints.
type Discoverer struct {
	cache *Cache
	nav   Navigator
	log   *zap.Logger
}

func NewDiscoverer(cache *Cache, nav Navigator, log *zap.Logger) *Discoverer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Discoverer{cache: cache, nav: nav, log: log}
}

// DiscoverQuest routes between every ordered pair of distinct waypoints of q
// and from every waypoint to each valid objective's first step. Complete
// routes are chained, then merged into the cache; pairs already cached are
// reused instead of routed again. It returns the number of segments added.
func (d *Discoverer) DiscoverQuest(q *quests.Quest) int {
	if len(q.Waypoints) == 0 {
		return 0
	}
	var local []Segment
	seen := map[Key]bool{}
	try := func(a, b geom.Vec3, what string) {
		k := Key{Start: a, End: b}
		if a == b || seen[k] {
			return
		}
		seen[k] = true
		if s, ok := d.cache.Get(k); ok {
			local = append(local, s)
			return
		}
		seg, ok := d.route(a, b)
		if !ok {
			d.log.Warn("no static path",
				zap.String("quest", q.Name), zap.String("target", what),
				zap.Stringer("from", a), zap.Stringer("to", b), zap.String("status", string(seg.Status)))
			return
		}
		local = append(local, seg)
	}

	for _, from := range q.Waypoints {
		for _, to := range q.Waypoints {
			try(from, to, "waypoint")
		}
	}
	for _, o := range q.ValidObjectives() {
		first, _ := o.FirstStepPosition()
		for _, wp := range q.Waypoints {
			try(wp, first, o.Name)
		}
	}

	added := d.cache.Merge(Combine(local))
	if added > 0 {
		d.log.Debug("static paths added", zap.String("quest", q.Name), zap.Int("added", added))
	}
	return added
}

func (d *Discoverer) route(a, b geom.Vec3) (Segment, bool) {
	r, err := d.nav.RouteBetween(a, b)
	if err != nil {
		d.log.Debug("route query failed", zap.Error(err))
		return Segment{Start: a, End: b, Status: StatusInvalid}, false
	}
	seg := SegmentFrom(a, b, r)
	return seg, seg.Status == StatusComplete
}

// Job returns a time-sliced runner that discovers paths for qs.
func (d *Discoverer) Job(qs []*quests.Quest, clock simclock.Clock, budget time.Duration) *jobs.Runner[*quests.Quest] {
	return jobs.NewRunner(qs, func(q *quests.Quest) { d.DiscoverQuest(q) }, clock, budget)
}
