package pathcache

import (
	"fmt"

	"questingbots.ai/internal/sim/geom"
)

// Status is the reachability verdict of a route attempt.
type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusInvalid  Status = "invalid"
)

// Route is the answer of a navigability query.
type Route struct {
	Status  Status
	Corners []geom.Vec3
	Length  float64
}

// Navigator computes a navigable corridor between two points. An error means
// reachability could not be determined; it is treated as StatusInvalid.
type Navigator interface {
	RouteBetween(a, b geom.Vec3) (Route, error)
}

type Key struct {
	Start geom.Vec3
	End   geom.Vec3
}

func (k Key) String() string { return fmt.Sprintf("%s->%s", k.Start, k.End) }

// Segment is a directed corridor from Start to End.
type Segment struct {
	Start   geom.Vec3
	End     geom.Vec3
	Corners []geom.Vec3
	Status  Status
	Length  float64
}

func (s Segment) Key() Key { return Key{Start: s.Start, End: s.End} }

// SegmentFrom wraps a route attempt between a and b. Length is derived from
// the corners when the navigator did not report one.
func SegmentFrom(a, b geom.Vec3, r Route) Segment {
	l := r.Length
	if l == 0 {
		l = geom.PathLength(r.Corners)
	}
	return Segment{
		Start:   a,
		End:     b,
		Corners: append([]geom.Vec3(nil), r.Corners...),
		Status:  r.Status,
		Length:  l,
	}
}

// Append joins s and next at their shared point, which appears once in the
// result. The caller guarantees s.End == next.Start.
func (s Segment) Append(next Segment) Segment {
	corners := make([]geom.Vec3, 0, len(s.Corners)+len(next.Corners))
	corners = append(corners, s.Corners...)
	tail := next.Corners
	if len(corners) > 0 && len(tail) > 0 && corners[len(corners)-1] == tail[0] {
		tail = tail[1:]
	}
	corners = append(corners, tail...)
	return Segment{
		Start:   s.Start,
		End:     next.End,
		Corners: corners,
		Status:  StatusComplete,
		Length:  s.Length + next.Length,
	}
}
