package layers

import (
	"fmt"

	"cvae_lib/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Linear is a fully-connected layer: y = x·Wᵀ + B for x of shape [batch, inDim].
type Linear struct {
	W, B *tensor.Tensor // W: [outDim, inDim], B: [outDim]

	lastInput *tensor.Tensor

	gradW, gradB *tensor.Tensor
	hasGrads     bool
}

// NewLinear(inDim→outDim) sets up zero W,B.
func NewLinear(inDim, outDim int) *Linear {
	return &Linear{
		W:     tensor.New(outDim, inDim),
		B:     tensor.New(outDim),
		gradW: tensor.New(outDim, inDim),
		gradB: tensor.New(outDim),
	}
}

// InitWeights draws Glorot-uniform weights and zeroes the bias.
func (l *Linear) InitWeights(src rand.Source) {
	GlorotUniform(l.W, l.inDim(), l.outDim(), src)
	l.B.Zero()
}

func (l *Linear) inDim() int  { return l.W.Shape[1] }
func (l *Linear) outDim() int { return l.W.Shape[0] }

// ForwardPlaintext computes y = xWᵀ + B for a [batch, inDim] tensor.
func (l *Linear) ForwardPlaintext(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) == 1 {
		// x is a single sample, treat as (1, inDim)
		x = &tensor.Tensor{Data: x.Data, Shape: []int{1, x.Shape[0]}}
	}
	if len(x.Shape) != 2 || x.Shape[1] != l.inDim() || x.Shape[0] == 0 {
		return nil, &tensor.ShapeError{Op: l.Tag(), Want: []int{-1, l.inDim()}, Got: x.Shape}
	}
	l.lastInput = x

	batchSize := x.Shape[0]
	out := tensor.New(batchSize, l.outDim())
	xd, _ := x.Dense()
	wd, _ := l.W.Dense()
	yd := mat.NewDense(batchSize, l.outDim(), out.Data)
	yd.Mul(xd, wd.T())

	// Broadcast bias across batch
	for b := 0; b < batchSize; b++ {
		floats.Add(out.Data[b*l.outDim():(b+1)*l.outDim()], l.B.Data)
	}
	return out, nil
}

// Forward processes the input through the layer.
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return l.ForwardPlaintext(input)
}

// Backward computes dL/dW = gᵀx, dL/dB = Σ_batch g and returns dL/dx = gW.
func (l *Linear) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	input := l.lastInput
	if input == nil {
		return nil, fmt.Errorf("no cached input for backward pass")
	}
	batchSize := input.Shape[0]
	want := []int{batchSize, l.outDim()}
	if !tensor.SameShape(gradOut, &tensor.Tensor{Shape: want}) {
		return nil, &tensor.ShapeError{Op: l.Tag() + " backward", Want: want, Got: gradOut.Shape}
	}

	gd, _ := gradOut.Dense()
	xd, _ := input.Dense()

	gwd := mat.NewDense(l.outDim(), l.inDim(), l.gradW.Data)
	gwd.Mul(gd.T(), xd)

	l.gradB.Zero()
	for b := 0; b < batchSize; b++ {
		floats.Add(l.gradB.Data, gradOut.Data[b*l.outDim():(b+1)*l.outDim()])
	}
	l.hasGrads = true

	gradIn, err := tensor.MatMul(gradOut, l.W)
	if err != nil {
		return nil, fmt.Errorf("%s backward: %w", l.Tag(), err)
	}
	return gradIn, nil
}

// Update applies the calculated gradients to the weights.
func (l *Linear) Update(learningRate float64) error {
	if !l.hasGrads {
		return fmt.Errorf("%s: no gradients to update", l.Tag())
	}
	floats.AddScaled(l.W.Data, -learningRate, l.gradW.Data)
	floats.AddScaled(l.B.Data, -learningRate, l.gradB.Data)
	return nil
}

func (l *Linear) Params() []*tensor.Tensor { return []*tensor.Tensor{l.W, l.B} }

func (l *Linear) Grads() []*tensor.Tensor { return []*tensor.Tensor{l.gradW, l.gradB} }

func (l *Linear) Tag() string {
	return fmt.Sprintf("Linear_%d_%d", l.inDim(), l.outDim())
}
