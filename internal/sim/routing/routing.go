// Package routing resolves agent routes, falling back to cached static paths
// when the direct route only gets part of the way.
package routing

import (
	"sort"

	"go.uber.org/zap"

	"questingbots.ai/internal/sim/geom"
	"questingbots.ai/internal/sim/pathcache"
)

type Resolver struct {
	nav   pathcache.Navigator
	cache *pathcache.Cache
	log   *zap.Logger
}

func NewResolver(nav pathcache.Navigator, cache *pathcache.Cache, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{nav: nav, cache: cache, log: log}
}

// Result is a resolved route. Static is set when a cached path was used.
type Result struct {
	Route  pathcache.Route
	Static *pathcache.Segment
}

// Resolve routes from -> to. When the direct route is Partial, cached static
// paths ending at to are tried in order of Length + distance(from, start);
// the first whose start is completely reachable from from is used.
func (r *Resolver) Resolve(from, to geom.Vec3) Result {
	direct := r.route(from, to)
	if direct.Status != pathcache.StatusPartial || r.cache == nil {
		return Result{Route: direct}
	}

	candidates := r.cache.Lookup(to)
	sort.SliceStable(candidates, func(i, j int) bool {
		return cost(from, candidates[i]) < cost(from, candidates[j])
	})
	for i := range candidates {
		static := candidates[i]
		lead := r.route(from, static.Start)
		if lead.Status != pathcache.StatusComplete {
			continue
		}
		joined := pathcache.SegmentFrom(from, static.Start, lead).Append(static)
		r.log.Debug("using static path",
			zap.Stringer("from", static.Start), zap.Stringer("to", static.End))
		return Result{
			Route:  pathcache.Route{Status: pathcache.StatusComplete, Corners: joined.Corners, Length: joined.Length},
			Static: &static,
		}
	}
	return Result{Route: direct}
}

func (r *Resolver) route(a, b geom.Vec3) pathcache.Route {
	rt, err := r.nav.RouteBetween(a, b)
	if err != nil {
		r.log.Debug("route query failed", zap.Error(err))
		return pathcache.Route{Status: pathcache.StatusInvalid}
	}
	if rt.Length == 0 {
		rt.Length = geom.PathLength(rt.Corners)
	}
	return rt
}

func cost(from geom.Vec3, s pathcache.Segment) float64 {
	return s.Length + geom.Dist(from, s.Start)
}
