package obs

import (
	"fmt"
	"sort"
)

// Vector is one structured observation as delivered by the observation feed.
type Vector []float64

const (
	SegmentCamera     = "camera"
	SegmentBackCamera = "back_camera"
	SegmentCollision  = "collision"
)

// Segment names one contiguous slice of the observation vector.
type Segment struct {
	Name   string `json:"name"`
	Offset int    `json:"offset"`
	Dim    int    `json:"dim"`
}

// Layout declares how an observation vector is partitioned. Segments must be
// disjoint and together cover [0, TotalDim).
type Layout struct {
	TotalDim int       `json:"total_dim"`
	Segments []Segment `json:"segments"`
}

func (l Layout) Validate() error {
	if l.TotalDim <= 0 {
		return fmt.Errorf("observation layout requires total dim > 0")
	}
	if len(l.Segments) == 0 {
		return fmt.Errorf("observation layout requires at least one segment")
	}
	seen := make(map[string]struct{}, len(l.Segments))
	ordered := append([]Segment(nil), l.Segments...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Offset < ordered[j].Offset })

	next := 0
	for _, seg := range ordered {
		if seg.Name == "" {
			return fmt.Errorf("observation segment name is required")
		}
		if _, dup := seen[seg.Name]; dup {
			return fmt.Errorf("duplicate observation segment: %s", seg.Name)
		}
		seen[seg.Name] = struct{}{}
		if seg.Dim <= 0 {
			return fmt.Errorf("observation segment %s requires dim > 0", seg.Name)
		}
		if seg.Offset != next {
			return fmt.Errorf("observation segment %s at offset %d leaves a gap or overlap (expected %d)", seg.Name, seg.Offset, next)
		}
		next = seg.Offset + seg.Dim
	}
	if next != l.TotalDim {
		return fmt.Errorf("observation segments cover [0, %d) but total dim is %d", next, l.TotalDim)
	}
	return nil
}

func (l Layout) segment(name string) (Segment, bool) {
	for _, seg := range l.Segments {
		if seg.Name == name {
			return seg, true
		}
	}
	return Segment{}, false
}

// CheckVector verifies a delivered observation matches the declared size.
func (l Layout) CheckVector(v Vector) error {
	if len(v) != l.TotalDim {
		return fmt.Errorf("observation dimension mismatch: got=%d want=%d", len(v), l.TotalDim)
	}
	return nil
}

// Extract returns the named segment of v.
func (l Layout) Extract(v Vector, name string) (Vector, error) {
	if err := l.CheckVector(v); err != nil {
		return nil, err
	}
	seg, ok := l.segment(name)
	if !ok {
		return nil, fmt.Errorf("unknown observation segment: %s", name)
	}
	return Vector(v[seg.Offset : seg.Offset+seg.Dim]), nil
}

// Collision reads the collision indicator segment as a near-boolean label:
// any value >= 0.5 in the segment counts as a collision event.
func (l Layout) Collision(v Vector) (bool, error) {
	seg, err := l.Extract(v, SegmentCollision)
	if err != nil {
		return false, err
	}
	for _, x := range seg {
		if x >= 0.5 {
			return true, nil
		}
	}
	return false, nil
}
