package nn

import (
	"errors"
	"strings"
	"testing"

	"cvae_lib/nn/layers"
	"cvae_lib/tensor"
)

// dummy layer: adds a constant
type addLayer struct{ c float64 }

func (l *addLayer) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Apply(func(v float64) float64 { return v + l.c }, x), nil
}
func (l *addLayer) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	return gradOut, nil
}
func (l *addLayer) Tag() string { return "add" }

// dummy layer: error on forward
type errLayer struct{}

var errFail = errors.New("fail")

func (l *errLayer) Forward(*tensor.Tensor) (*tensor.Tensor, error) {
	return nil, errFail
}
func (l *errLayer) Backward(*tensor.Tensor) (*tensor.Tensor, error) {
	return nil, errFail
}
func (l *errLayer) Tag() string { return "err" }

func TestSequentialPlain(t *testing.T) {
	a := tensor.New(1)
	a.Data[0] = 1
	seq := NewSequential(&addLayer{c: 2}, &addLayer{c: 3})
	out, err := seq.Forward(a)
	if err != nil {
		t.Fatal(err)
	}
	if out.Data[0] != 6 {
		t.Fatalf("expected 6, got %f", out.Data[0])
	}
	if got := seq.Tag(); got != "Sequential[add,add]" {
		t.Errorf("Tag = %q", got)
	}
}

func TestSequentialErrorWrapsLayerTag(t *testing.T) {
	seq := NewSequential(&addLayer{c: 0}, &errLayer{})
	_, err := seq.Forward(tensor.New(1))
	if !errors.Is(err, errFail) {
		t.Fatalf("expected wrapped errFail, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "err: ") {
		t.Errorf("error should name the failing layer, got %q", err)
	}
	if _, err := seq.Backward(tensor.New(1)); !errors.Is(err, errFail) {
		t.Fatalf("expected wrapped errFail on backward, got %v", err)
	}
}

func TestSequentialParamsSkipsStateless(t *testing.T) {
	seq := NewSequential(
		layers.NewLinear(4, 3),
		layers.MustActivation("ReLU"),
		layers.NewLinear(3, 2),
	)
	if got := len(seq.Params()); got != 4 {
		t.Fatalf("expected 4 param tensors, got %d", got)
	}
	if got := CountParams(seq.Params()); got != 4*3+3+3*2+2 {
		t.Errorf("CountParams = %d", got)
	}
	if len(seq.Grads()) != len(seq.Params()) {
		t.Errorf("Grads and Params must align")
	}
}

func TestSequentialTrainStep(t *testing.T) {
	l := layers.NewLinear(1, 1)
	l.W.Data[0] = 1
	seq := NewSequential(l, layers.MustActivation("Linear"))

	x := tensor.NewWithData([]float64{2})
	target := &tensor.Tensor{Data: []float64{6}, Shape: []int{1, 1}}
	var loss MeanSquaredErrorLoss
	var first, last float64
	for step := 0; step < 50; step++ {
		out, err := seq.Forward(x)
		if err != nil {
			t.Fatal(err)
		}
		v, err := loss.Forward(out, target)
		if err != nil {
			t.Fatal(err)
		}
		if step == 0 {
			first = v
		}
		last = v
		g, _ := loss.Backward(out, target)
		if _, err := seq.Backward(g); err != nil {
			t.Fatal(err)
		}
		if err := seq.Update(0.05); err != nil {
			t.Fatal(err)
		}
	}
	if last >= first/100 {
		t.Errorf("loss did not converge: %f -> %f", first, last)
	}
}
