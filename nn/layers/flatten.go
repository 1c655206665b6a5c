package layers

import (
	"fmt"

	"cvae_lib/tensor"
)

// Flatten reshapes [batch, ...] to [batch, features]; the batch axis is kept.
type Flatten struct {
	inputShape []int
}

func NewFlatten() *Flatten { return &Flatten{} }

func (f *Flatten) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 1 {
		return nil, &tensor.ShapeError{Op: "Flatten", Got: x.Shape, Detail: "need a batch axis"}
	}
	f.inputShape = append(f.inputShape[:0], x.Shape...)
	y := tensor.New(x.Shape[0], tensor.Volume(x.Shape[1:]))
	copy(y.Data, x.Data)
	return y, nil
}

func (f *Flatten) Backward(g *tensor.Tensor) (*tensor.Tensor, error) {
	if f.inputShape == nil {
		return nil, fmt.Errorf("no cached input for backward pass")
	}
	return g.Reshape(f.inputShape...)
}

func (f *Flatten) Tag() string {
	return "Flatten"
}

// Reshape maps [batch, features] to [batch, target...].
type Reshape struct {
	target     []int
	inputShape []int
}

// NewReshape creates a reshape layer; target excludes the batch axis.
func NewReshape(target ...int) *Reshape {
	return &Reshape{target: append([]int(nil), target...)}
}

func (r *Reshape) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 1 || tensor.Volume(x.Shape[1:]) != tensor.Volume(r.target) {
		return nil, &tensor.ShapeError{
			Op:   r.Tag(),
			Want: append([]int{-1}, r.target...),
			Got:  x.Shape,
		}
	}
	r.inputShape = append(r.inputShape[:0], x.Shape...)
	y := tensor.New(append([]int{x.Shape[0]}, r.target...)...)
	copy(y.Data, x.Data)
	return y, nil
}

func (r *Reshape) Backward(g *tensor.Tensor) (*tensor.Tensor, error) {
	if r.inputShape == nil {
		return nil, fmt.Errorf("no cached input for backward pass")
	}
	return g.Reshape(r.inputShape...)
}

func (r *Reshape) Tag() string {
	return fmt.Sprintf("Reshape_%v", r.target)
}
