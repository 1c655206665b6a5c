package vae

import (
	"fmt"
	"math"

	"cvae_lib/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Sampler draws latent vectors with the reparameterization trick, so that
// z is a deterministic function of (mean, logVar) and independent noise.
type Sampler struct {
	mode   SamplingMode
	normal distuv.Normal

	// cached for Backward
	lastEps    *tensor.Tensor
	lastLogVar *tensor.Tensor
}

// NewSampler draws noise from src. src must not be shared across goroutines.
func NewSampler(src rand.Source, mode SamplingMode) *Sampler {
	return &Sampler{
		mode:   mode,
		normal: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
}

// Noise returns a tensor of independent N(0,1) draws.
func (s *Sampler) Noise(shape ...int) *tensor.Tensor {
	eps := tensor.New(shape...)
	for i := range eps.Data {
		eps.Data[i] = s.normal.Rand()
	}
	return eps
}

// Sample returns z for a (mean, logVar) pair of identical shape. A fresh
// ε is drawn on every call.
func (s *Sampler) Sample(mean, logVar *tensor.Tensor) (*tensor.Tensor, error) {
	if !tensor.SameShape(mean, logVar) {
		return nil, &tensor.ShapeError{Op: "Sampler", Want: mean.Shape, Got: logVar.Shape}
	}
	eps := s.Noise(mean.Shape...)
	z := tensor.New(mean.Shape...)
	for i, mu := range mean.Data {
		std := math.Exp(0.5 * logVar.Data[i])
		switch s.mode {
		case SampleMultiplicative:
			z.Data[i] = mu + eps.Data[i]*std
		default:
			z.Data[i] = mu + eps.Data[i] + std
		}
	}
	s.lastEps = eps
	s.lastLogVar = logVar
	return z, nil
}

// Backward maps dL/dz to (dL/dmean, dL/dlogVar) for the last Sample call.
func (s *Sampler) Backward(gradZ *tensor.Tensor) (gradMean, gradLogVar *tensor.Tensor, err error) {
	if s.lastEps == nil {
		return nil, nil, fmt.Errorf("no cached sample for backward pass")
	}
	if !tensor.SameShape(gradZ, s.lastEps) {
		return nil, nil, &tensor.ShapeError{Op: "Sampler backward", Want: s.lastEps.Shape, Got: gradZ.Shape}
	}
	gradMean = gradZ.Clone()
	gradLogVar = tensor.New(gradZ.Shape...)
	for i, g := range gradZ.Data {
		dstd := 0.5 * math.Exp(0.5*s.lastLogVar.Data[i])
		if s.mode == SampleMultiplicative {
			dstd *= s.lastEps.Data[i]
		}
		gradLogVar.Data[i] = g * dstd
	}
	return gradMean, gradLogVar, nil
}

// Mode reports the formula in use.
func (s *Sampler) Mode() SamplingMode { return s.mode }

func (s *Sampler) Tag() string { return "Sampler_" + s.mode.String() }
