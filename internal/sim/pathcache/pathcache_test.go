package pathcache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questingbots.ai/internal/sim/geom"
	"questingbots.ai/internal/sim/quests"
	"questingbots.ai/internal/sim/simclock"
)

var (
	A = geom.V(0, 0, 0)
	B = geom.V(10, 0, 0)
	C = geom.V(10, 0, 10)
	D = geom.V(0, 0, 10)
)

func straight(a, b geom.Vec3) Segment {
	return SegmentFrom(a, b, Route{Status: StatusComplete, Corners: []geom.Vec3{a, b}})
}

func byKey(segs []Segment) map[Key]Segment {
	m := map[Key]Segment{}
	for _, s := range segs {
		m[s.Key()] = s
	}
	return m
}

func TestCombine_ChainsThroughSharedPoint(t *testing.T) {
	ab := straight(A, B)
	bc := SegmentFrom(B, C, Route{Status: StatusComplete, Corners: []geom.Vec3{B, geom.V(12, 0, 5), C}})

	out := Combine([]Segment{ab, bc})
	require.Len(t, out, 3)

	ac, ok := byKey(out)[Key{A, C}]
	require.True(t, ok)
	assert.Equal(t, []geom.Vec3{A, B, geom.V(12, 0, 5), C}, ac.Corners)
	assert.InDelta(t, ab.Length+bc.Length, ac.Length, 1e-9)
	assert.Equal(t, StatusComplete, ac.Status)

	again := Combine(out)
	assert.Equal(t, out, again)
}

func TestCombine_TransitiveFixedPoint(t *testing.T) {
	in := []Segment{straight(A, B), straight(B, C), straight(C, D)}
	out := Combine(in)
	m := byKey(out)
	for _, k := range []Key{{A, C}, {B, D}, {A, D}} {
		assert.Contains(t, m, k)
	}
	assert.Len(t, out, 6)
	assert.InDelta(t, 30.0, m[Key{A, D}].Length, 1e-9)
	assert.Len(t, Combine(out), 6)
}

func TestCombine_SkipsLoopsAndIncomplete(t *testing.T) {
	in := []Segment{
		straight(A, B),
		straight(B, A),
		{Start: B, End: C, Status: StatusPartial, Corners: []geom.Vec3{B, C}},
	}
	out := Combine(in)
	m := byKey(out)
	assert.NotContains(t, m, Key{A, A})
	assert.NotContains(t, m, Key{B, B})
	assert.NotContains(t, m, Key{B, C})
	assert.NotContains(t, m, Key{A, C})
	assert.Len(t, out, 2)
	assert.Len(t, in, 3)
}

func TestCombine_FirstDiscoveredWins(t *testing.T) {
	direct := straight(A, C)
	out := Combine([]Segment{direct, straight(A, B), straight(B, C)})
	assert.Equal(t, direct, byKey(out)[Key{A, C}])
}

func TestCache_StoreAndLookup(t *testing.T) {
	c := New(nil)
	assert.True(t, c.Store(straight(A, C)))
	assert.False(t, c.Store(straight(A, C)))
	assert.False(t, c.Store(Segment{Start: B, End: C, Status: StatusPartial}))
	assert.False(t, c.Store(Segment{Start: D, End: C, Status: StatusInvalid}))
	assert.True(t, c.Store(straight(B, C)))

	got := c.Lookup(C)
	require.Len(t, got, 2)
	assert.Equal(t, A, got[0].Start)
	assert.Equal(t, B, got[1].Start)
	for _, s := range got {
		assert.Equal(t, StatusComplete, s.Status)
	}
	assert.Empty(t, c.Lookup(D))
}

func TestCache_CombineAll(t *testing.T) {
	c := New(nil)
	c.Store(straight(A, B))
	c.Store(straight(B, C))
	assert.Equal(t, 1, c.CombineAll())
	assert.Equal(t, 0, c.CombineAll())
	assert.True(t, c.Has(Key{A, C}))
	assert.Equal(t, 3, c.Len())
}

func TestCache_ReadersSeeWholeMerges(t *testing.T) {
	c := New(nil)
	batch := Combine([]Segment{straight(A, B), straight(B, C), straight(C, D)})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if n := len(c.Segments()); n != 0 && n != len(batch) {
				t.Errorf("observed partial merge: %d segments", n)
				return
			}
		}
	}()
	c.Merge(batch)
	close(stop)
	wg.Wait()
	assert.Equal(t, len(batch), c.Len())
}

type fakeNav struct {
	mu     sync.Mutex
	routes map[Key]Route
	errs   map[Key]error
	calls  int
}

func (f *fakeNav) RouteBetween(a, b geom.Vec3) (Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	k := Key{a, b}
	if err := f.errs[k]; err != nil {
		return Route{}, err
	}
	if r, ok := f.routes[k]; ok {
		return r, nil
	}
	return Route{Status: StatusInvalid}, nil
}

func complete(a, b geom.Vec3) Route {
	return Route{Status: StatusComplete, Corners: []geom.Vec3{a, b}}
}

func TestDiscoverer_CachesOnlyCompleteRoutes(t *testing.T) {
	obj := geom.V(20, 0, 0)
	q := &quests.Quest{Name: "Q", Waypoints: []geom.Vec3{A, B}}
	q.AddObjective(quests.NewObjective("O", quests.Step{Position: obj}))

	nav := &fakeNav{
		routes: map[Key]Route{
			{A, B}:   complete(A, B),
			{B, obj}: complete(B, obj),
			{A, obj}: {Status: StatusPartial, Corners: []geom.Vec3{A, B}},
		},
		errs: map[Key]error{{B, A}: errors.New("navmesh unavailable")},
	}
	c := New(nil)
	d := NewDiscoverer(c, nav, nil)

	added := d.DiscoverQuest(q)
	// A->B and B->obj are direct; A->obj is derived by chaining them.
	assert.Equal(t, 3, added)
	ao, ok := c.Get(Key{A, obj})
	require.True(t, ok)
	assert.Equal(t, []geom.Vec3{A, B, obj}, ao.Corners)
	assert.False(t, c.Has(Key{B, A}))

	for _, s := range c.Lookup(obj) {
		assert.Equal(t, StatusComplete, s.Status)
	}

	calls := nav.calls
	assert.Equal(t, 0, d.DiscoverQuest(q))
	// Only the failed pair is routed again.
	assert.Equal(t, calls+1, nav.calls)
}

func TestDiscoverer_JobIsTimeSliced(t *testing.T) {
	clk := simclock.NewManual(time.Unix(0, 0))
	var qs []*quests.Quest
	routes := map[Key]Route{}
	for i := 0; i < 4; i++ {
		a, b := geom.V(float64(i), 0, 0), geom.V(float64(i), 0, 1)
		qs = append(qs, &quests.Quest{Name: "Q", Waypoints: []geom.Vec3{a, b}})
		routes[Key{a, b}] = complete(a, b)
	}
	nav := &fakeNav{routes: routes}
	c := New(nil)
	d := NewDiscoverer(c, timedNav{nav, clk}, nil)

	job := d.Job(qs, clk, 3*time.Millisecond)
	steps := 0
	for !job.Step() {
		steps++
		require.Less(t, steps, 10)
	}
	assert.Equal(t, 1, steps)
	assert.Equal(t, 4, c.Len())
	assert.True(t, job.Done())
	assert.Zero(t, d.DiscoverQuest(&quests.Quest{Name: "no waypoints"}))
}

// timedNav charges 1ms of simulated time per route query.
type timedNav struct {
	inner Navigator
	clk   *simclock.Manual
}

func (n timedNav) RouteBetween(a, b geom.Vec3) (Route, error) {
	n.clk.Advance(time.Millisecond)
	return n.inner.RouteBetween(a, b)
}
