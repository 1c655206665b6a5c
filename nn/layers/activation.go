package layers

import (
	"fmt"
	"math"

	"cvae_lib/tensor"
)

// Func holds an elementwise activation and its derivative. Deriv receives
// both the pre-activation x and the activation y = Fn(x).
type Func struct {
	Name  string
	Fn    func(x float64) float64
	Deriv func(x, y float64) float64
}

// SupportedActivations contains the activation functions by name.
var SupportedActivations = map[string]Func{
	"ReLU": {
		Name: "ReLU",
		Fn: func(x float64) float64 {
			if x > 0 {
				return x
			}
			return 0
		},
		Deriv: func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		},
	},
	"Sigmoid": {
		Name: "Sigmoid",
		Fn:   sigmoid,
		Deriv: func(_, y float64) float64 {
			return y * (1 - y)
		},
	},
	"Linear": {
		Name:  "Linear",
		Fn:    func(x float64) float64 { return x },
		Deriv: func(_, _ float64) float64 { return 1 },
	},
}

// sigmoid is split by sign so exp never overflows.
func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Activation is a layer that applies an elementwise function.
type Activation struct {
	fn         Func
	lastInput  *tensor.Tensor
	lastOutput *tensor.Tensor
}

// NewActivation creates a new activation layer.
func NewActivation(name string) (*Activation, error) {
	fn, ok := SupportedActivations[name]
	if !ok {
		return nil, fmt.Errorf("unsupported activation: %s", name)
	}
	return &Activation{fn: fn}, nil
}

// MustActivation is NewActivation for names known at compile time.
func MustActivation(name string) *Activation {
	a, err := NewActivation(name)
	if err != nil {
		panic(err)
	}
	return a
}

// Forward processes the input through the layer.
func (a *Activation) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	a.lastInput = input
	a.lastOutput = tensor.Apply(a.fn.Fn, input)
	return a.lastOutput, nil
}

// Backward computes gradOut * f'(x).
func (a *Activation) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if a.lastInput == nil {
		return nil, fmt.Errorf("no cached input for backward pass")
	}
	if !tensor.SameShape(gradOut, a.lastInput) {
		return nil, &tensor.ShapeError{Op: a.Tag() + " backward", Want: a.lastInput.Shape, Got: gradOut.Shape}
	}
	gradIn := tensor.New(gradOut.Shape...)
	for i, g := range gradOut.Data {
		gradIn.Data[i] = g * a.fn.Deriv(a.lastInput.Data[i], a.lastOutput.Data[i])
	}
	return gradIn, nil
}

func (a *Activation) Tag() string {
	return "Activation_" + a.fn.Name
}
