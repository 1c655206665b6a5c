package nn

import (
	"fmt"
	"math"

	"cvae_lib/tensor"
)

// Loss is a reconstruction loss averaged over every element.
type Loss interface {
	Forward(pred, target *tensor.Tensor) (float64, error)
	// Backward returns dL/dpred.
	Backward(pred, target *tensor.Tensor) (*tensor.Tensor, error)
	Name() string
}

// bceEpsilon keeps log() away from 0, as Keras does.
const bceEpsilon = 1e-7

// BinaryCrossEntropyLoss expects pred in (0,1), e.g. sigmoid outputs.
type BinaryCrossEntropyLoss struct{}

func (BinaryCrossEntropyLoss) Name() string { return "bce" }

func (BinaryCrossEntropyLoss) Forward(pred, target *tensor.Tensor) (float64, error) {
	if err := checkLossShapes(pred, target); err != nil {
		return 0, err
	}
	loss := 0.0
	for i, p := range pred.Data {
		p = clamp(p)
		t := target.Data[i]
		loss -= t*math.Log(p) + (1-t)*math.Log(1-p)
	}
	return loss / float64(len(pred.Data)), nil
}

// Backward computes grad = (p - t) / (p(1-p)) / N.
func (BinaryCrossEntropyLoss) Backward(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkLossShapes(pred, target); err != nil {
		return nil, err
	}
	n := float64(len(pred.Data))
	grad := tensor.New(pred.Shape...)
	for i, p := range pred.Data {
		p = clamp(p)
		grad.Data[i] = (p - target.Data[i]) / (p * (1 - p)) / n
	}
	return grad, nil
}

// MeanSquaredErrorLoss is mean((pred - target)²).
type MeanSquaredErrorLoss struct{}

func (MeanSquaredErrorLoss) Name() string { return "mse" }

func (MeanSquaredErrorLoss) Forward(pred, target *tensor.Tensor) (float64, error) {
	if err := checkLossShapes(pred, target); err != nil {
		return 0, err
	}
	diff, _ := tensor.Sub(pred, target)
	return tensor.Sum(tensor.Square(diff)) / float64(len(pred.Data)), nil
}

func (MeanSquaredErrorLoss) Backward(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkLossShapes(pred, target); err != nil {
		return nil, err
	}
	diff, _ := tensor.Sub(pred, target)
	return tensor.Scale(2/float64(len(pred.Data)), diff), nil
}

// LossByName resolves "bce" or "mse".
func LossByName(name string) (Loss, error) {
	switch name {
	case "bce", "binary_crossentropy":
		return BinaryCrossEntropyLoss{}, nil
	case "mse", "mean_squared_error":
		return MeanSquaredErrorLoss{}, nil
	default:
		return nil, fmt.Errorf("unknown loss %q", name)
	}
}

// KLDivergence computes coeff · Σ(exp(logVar) + mean² − 1 − logVar) over
// every element, together with its gradients w.r.t. mean and logVar.
func KLDivergence(mean, logVar *tensor.Tensor, coeff float64) (kl float64, gradMean, gradLogVar *tensor.Tensor, err error) {
	if !tensor.SameShape(mean, logVar) {
		return 0, nil, nil, &tensor.ShapeError{Op: "KLDivergence", Want: mean.Shape, Got: logVar.Shape}
	}
	gradMean = tensor.New(mean.Shape...)
	gradLogVar = tensor.New(mean.Shape...)
	sum := 0.0
	for i, mu := range mean.Data {
		lv := logVar.Data[i]
		e := math.Exp(lv)
		sum += e + mu*mu - 1 - lv
		gradMean.Data[i] = coeff * 2 * mu
		gradLogVar.Data[i] = coeff * (e - 1)
	}
	return coeff * sum, gradMean, gradLogVar, nil
}

func checkLossShapes(pred, target *tensor.Tensor) error {
	if !tensor.SameShape(pred, target) {
		return &tensor.ShapeError{Op: "loss", Want: pred.Shape, Got: target.Shape}
	}
	if len(pred.Data) == 0 {
		return fmt.Errorf("loss: empty prediction")
	}
	return nil
}

func clamp(p float64) float64 {
	return math.Min(math.Max(p, bceEpsilon), 1-bceEpsilon)
}
