package formula

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sort"
)

// Keyframe is a TCB spline key: time, value, tension, continuity and bias.
type Keyframe [5]float64

// Spline is a Kochanek-Bartels spline through a set of keyframes. Outside
// the keyframe range the boundary value holds.
type Spline struct {
	keys []Keyframe
	coef [][4]float64
}

// NewSpline sorts keys by time and precomputes the cubic segments.
func NewSpline(keys []Keyframe) (*Spline, error) {
	if len(keys) == 0 {
		return nil, errors.New("spline has no keyframes")
	}
	s := &Spline{keys: slices.Clone(keys)}
	slices.SortStableFunc(s.keys, func(a, b Keyframe) int {
		for i := range a {
			if c := cmp.Compare(a[i], b[i]); c != 0 {
				return c
			}
		}
		return 0
	})

	n := len(s.keys)
	ds := make([]float64, n)
	dd := make([]float64, n)
	for i := range s.keys {
		prev := max(0, min(n-1, i-1))
		next := max(0, min(n-1, i+1))
		x0, y0 := s.keys[prev][0], s.keys[prev][1]
		x1, y1 := s.keys[i][0], s.keys[i][1]
		t, c, b := s.keys[i][2], s.keys[i][3], s.keys[i][4]
		x2, y2 := s.keys[next][0], s.keys[next][1]

		cs := y1 - y0
		cd := y2 - y1
		in := cs*((1-t)*(1-c)*(1+b))/2 + cd*((1-t)*(1+c)*(1-b))/2
		out := cs*((1-t)*(1+c)*(1+b))/2 + cd*((1-t)*(1-c)*(1-b))/2

		// Scale the tangents for non-uniform key spacing.
		n1 := x2 - x1
		n0 := x1 - x0
		if n0+n1 != 0 {
			in *= 2 * n0 / (n0 + n1)
			out *= 2 * n1 / (n0 + n1)
		} else {
			in, out = 0, 0
		}
		ds[i] = in
		dd[i] = out
	}

	for i := 0; i+1 < n; i++ {
		y1 := s.keys[i][1]
		y2 := s.keys[i+1][1]
		d0 := dd[i]
		d1 := ds[i+1]
		s.coef = append(s.coef, [4]float64{
			y1,
			d0,
			-3*y1 + 3*y2 - 2*d0 - d1,
			2*y1 - 2*y2 + d0 + d1,
		})
	}
	return s, nil
}

// Evaluate returns the spline value at x.
func (s *Spline) Evaluate(x float64) float64 {
	if len(s.coef) == 0 {
		return s.keys[0][1]
	}
	idx := sort.Search(len(s.keys), func(i int) bool { return s.keys[i][0] > x }) - 1
	idx = max(0, min(idx, len(s.keys)-2))

	x1 := s.keys[idx][0]
	x2 := s.keys[idx+1][0]
	var u float64
	if x2 != x1 {
		u = (x - x1) / (x2 - x1)
	}
	u = max(0, min(1, u))

	c := s.coef[idx]
	return c[3]*u*u*u + c[2]*u*u + c[1]*u + c[0]
}

// keyframesFrom converts stack values to keyframes.
func keyframesFrom(vals []Value) ([]Keyframe, error) {
	keys := make([]Keyframe, len(vals))
	for i, v := range vals {
		comps := v.Components()
		if len(comps) != 5 {
			return nil, fmt.Errorf("%w: keyframe %d has %d components, want 5", ErrUnsupportedOperand, i, len(comps))
		}
		copy(keys[i][:], comps)
	}
	return keys, nil
}
