package tensor

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// ShapeError reports an operation applied to tensors of incompatible shape.
type ShapeError struct {
	Op     string
	Want   []int
	Got    []int
	Detail string
}

func (e *ShapeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: shape mismatch", e.Op)
	if e.Want != nil {
		fmt.Fprintf(&b, ": want %v", e.Want)
	}
	if e.Got != nil {
		fmt.Fprintf(&b, ", got %v", e.Got)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}
	return b.String()
}

func addTo(dst, s []float64) {
	if len(dst) == 0 {
		return
	}
	floats.Add(dst, s)
}

// Sub returns a-b.
func Sub(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, &ShapeError{Op: "Sub", Want: a.Shape, Got: b.Shape}
	}
	out := a.Clone()
	if len(out.Data) > 0 {
		floats.Sub(out.Data, b.Data)
	}
	return out, nil
}

// Scale returns c*a.
func Scale(c float64, a *Tensor) *Tensor {
	out := a.Clone()
	floats.Scale(c, out.Data)
	return out
}

// Apply returns fn mapped over every element of a.
func Apply(fn func(float64) float64, a *Tensor) *Tensor {
	out := New(a.Shape...)
	for i, v := range a.Data {
		out.Data[i] = fn(v)
	}
	return out
}

// Square returns a² elementwise.
func Square(a *Tensor) *Tensor {
	return Apply(func(v float64) float64 { return v * v }, a)
}

// Sum reduces every element of a.
func Sum(a *Tensor) float64 { return floats.Sum(a.Data) }

// Fill sets every element to v.
func (t *Tensor) Fill(v float64) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// Zero sets every element to 0.
func (t *Tensor) Zero() { t.Fill(0) }

// IsFinite reports whether no element is NaN or ±Inf.
func (t *Tensor) IsFinite() bool {
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// MinMax returns the smallest and largest element.
func (t *Tensor) MinMax() (float64, float64) {
	if len(t.Data) == 0 {
		return 0, 0
	}
	return floats.Min(t.Data), floats.Max(t.Data)
}
