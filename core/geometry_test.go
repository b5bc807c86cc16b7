package core

import (
	"math"
	"testing"
)

func TestVec3Distance(t *testing.T) {
	a := Vec3{X: 1, Y: 2, Z: 3}
	b := Vec3{X: 4, Y: 6, Z: 3}

	if d := a.DistanceTo(b); d != 5 {
		t.Fatalf("DistanceTo = %v, want 5", d)
	}
	if d := b.DistanceTo(a); d != 5 {
		t.Fatalf("distance should be symmetric, got %v", d)
	}
	if n := b.Sub(a).Norm(); n != 5 {
		t.Fatalf("Norm = %v, want 5", n)
	}
}

func TestVec3Arithmetic(t *testing.T) {
	v := Vec3{X: 1, Y: -2, Z: 0.5}
	if got := v.Add(v); got != v.Scale(2) {
		t.Fatalf("v+v = %v, want %v", got, v.Scale(2))
	}
	if got := v.Sub(v); got != (Vec3{}) {
		t.Fatalf("v-v = %v, want zero", got)
	}
	if got := v.Dot(Vec3{X: 2, Y: 1, Z: 4}); got != 2 {
		t.Fatalf("Dot = %v, want 2", got)
	}
}

func TestHeadingTo(t *testing.T) {
	origin := Vec3{}
	cases := []struct {
		target Vec3
		want   float64
	}{
		{Vec3{X: 1}, 0},
		{Vec3{Y: 1}, math.Pi / 2},
		{Vec3{X: -1}, math.Pi},
		{Vec3{Y: -1}, -math.Pi / 2},
		{Vec3{Z: 10}, 0},
	}
	for _, tc := range cases {
		if got := origin.HeadingTo(tc.target); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("HeadingTo(%v) = %v, want %v", tc.target, got, tc.want)
		}
	}
}
