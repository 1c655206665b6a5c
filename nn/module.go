package nn

import (
	"fmt"
	"strings"

	"cvae_lib/tensor"
)

// Module defines a single layer/unit in the network.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	// Backward computes gradients and propagates them.
	// It takes the gradient of the loss with respect to the module's output,
	// and returns the gradient of the loss with respect to the module's input.
	Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error)
	Tag() string
}

// Trainable is a Module with parameters updated by gradient descent.
type Trainable interface {
	Module
	Update(learningRate float64) error
	Params() []*tensor.Tensor
	Grads() []*tensor.Tensor
}

// Sequential chains multiple Modules in order.
type Sequential struct {
	Layers []Module
}

// NewSequential builds a Sequential from layers.
func NewSequential(layers ...Module) *Sequential {
	return &Sequential{Layers: layers}
}

// Forward applies each layer in sequence.
func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x
	var err error
	for _, layer := range s.Layers {
		out, err = layer.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", layer.Tag(), err)
		}
	}
	return out, nil
}

// Backward applies Backward in reverse order.
func (s *Sequential) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	out := grad
	var err error
	for i := len(s.Layers) - 1; i >= 0; i-- {
		out, err = s.Layers[i].Backward(out)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Layers[i].Tag(), err)
		}
	}
	return out, nil
}

// Update steps every trainable layer.
func (s *Sequential) Update(learningRate float64) error {
	for _, layer := range s.Layers {
		if t, ok := layer.(Trainable); ok {
			if err := t.Update(learningRate); err != nil {
				return err
			}
		}
	}
	return nil
}

// Params concatenates the parameters of every trainable layer.
func (s *Sequential) Params() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, layer := range s.Layers {
		if t, ok := layer.(Trainable); ok {
			params = append(params, t.Params()...)
		}
	}
	return params
}

// Grads concatenates the gradients of every trainable layer.
func (s *Sequential) Grads() []*tensor.Tensor {
	var grads []*tensor.Tensor
	for _, layer := range s.Layers {
		if t, ok := layer.(Trainable); ok {
			grads = append(grads, t.Grads()...)
		}
	}
	return grads
}

// Tag lists the tags of all layers.
func (s *Sequential) Tag() string {
	tags := make([]string, len(s.Layers))
	for i, layer := range s.Layers {
		tags[i] = layer.Tag()
	}
	return "Sequential[" + strings.Join(tags, ",") + "]"
}

// CountParams returns the number of scalar parameters in params.
func CountParams(params []*tensor.Tensor) int {
	n := 0
	for _, p := range params {
		n += p.Size()
	}
	return n
}
