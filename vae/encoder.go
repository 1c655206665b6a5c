package vae

import (
	"fmt"

	"cvae_lib/nn"
	"cvae_lib/nn/layers"
	"cvae_lib/tensor"
)

const (
	kernelSize = 5
	convStride = 2
)

// Encoder maps [batch, H, W, C] images to (z_mean, z_log_var, z).
type Encoder struct {
	inputShape []int
	latentDim  int

	conv1, conv2 *layers.Conv2D
	features     *nn.Sequential
	zMean        *layers.Linear
	zLogVar      *layers.Linear
	sampler      *Sampler
}

// NewEncoder builds the two-convolution encoder. Both inputShape
// (height, width, channels) and latentDim are required.
func NewEncoder(inputShape []int, latentDim int, opts ...Option) (*Encoder, error) {
	if err := validateInputShape(inputShape); err != nil {
		return nil, err
	}
	if latentDim <= 0 {
		return nil, ErrMissingLatentDim
	}
	o := buildOptions(opts)

	h, w, c := inputShape[0], inputShape[1], inputShape[2]
	conv1 := layers.NewConv2D(c, 6, kernelSize, kernelSize, convStride, layers.Valid)
	h1, w1 := conv1.GetOutputShape(h, w)
	conv2 := layers.NewConv2D(6, 16, kernelSize, kernelSize, convStride, layers.Valid)
	h2, w2 := conv2.GetOutputShape(h1, w1)
	if h2 <= 0 || w2 <= 0 {
		return nil, fmt.Errorf("%w: %dx%d is too small for two %dx%d stride-%d convolutions",
			ErrInvalidInputShape, h, w, kernelSize, kernelSize, convStride)
	}
	flat := h2 * w2 * 16

	e := &Encoder{
		inputShape: append([]int(nil), inputShape...),
		latentDim:  latentDim,
		conv1:      conv1,
		conv2:      conv2,
		features: nn.NewSequential(
			conv1,
			layers.MustActivation("ReLU"),
			conv2,
			layers.MustActivation("ReLU"),
			layers.NewFlatten(),
		),
		zMean:   layers.NewLinear(flat, latentDim),
		zLogVar: layers.NewLinear(flat, latentDim),
		sampler: NewSampler(o.src, o.mode),
	}
	e.conv1.InitWeights(o.src)
	e.conv2.InitWeights(o.src)
	e.zMean.InitWeights(o.src)
	e.zLogVar.InitWeights(o.src)
	return e, nil
}

// Forward returns z_mean, z_log_var and a sample z, each [batch, latentDim].
func (e *Encoder) Forward(x *tensor.Tensor) (zMean, zLogVar, z *tensor.Tensor, err error) {
	h, err := e.features.Forward(x)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encoder: %w", err)
	}
	if zMean, err = e.zMean.Forward(h); err != nil {
		return nil, nil, nil, fmt.Errorf("encoder: z_mean: %w", err)
	}
	if zLogVar, err = e.zLogVar.Forward(h); err != nil {
		return nil, nil, nil, fmt.Errorf("encoder: z_log_var: %w", err)
	}
	if z, err = e.sampler.Sample(zMean, zLogVar); err != nil {
		return nil, nil, nil, fmt.Errorf("encoder: %w", err)
	}
	return zMean, zLogVar, z, nil
}

// Backward propagates gradients arriving at z (through the sampler) and
// directly at z_mean / z_log_var (e.g. from the KL term). Nil direct
// gradients are treated as zero.
func (e *Encoder) Backward(gradMean, gradLogVar, gradZ *tensor.Tensor) (*tensor.Tensor, error) {
	gm, glv, err := e.sampler.Backward(gradZ)
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	if gradMean != nil {
		if gm, err = tensor.Add(gm, gradMean); err != nil {
			return nil, fmt.Errorf("encoder: z_mean grad: %w", err)
		}
	}
	if gradLogVar != nil {
		if glv, err = tensor.Add(glv, gradLogVar); err != nil {
			return nil, fmt.Errorf("encoder: z_log_var grad: %w", err)
		}
	}

	gh1, err := e.zMean.Backward(gm)
	if err != nil {
		return nil, fmt.Errorf("encoder: z_mean: %w", err)
	}
	gh2, err := e.zLogVar.Backward(glv)
	if err != nil {
		return nil, fmt.Errorf("encoder: z_log_var: %w", err)
	}
	gh, err := tensor.Add(gh1, gh2)
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	gx, err := e.features.Backward(gh)
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	return gx, nil
}

// Update applies one SGD step to every encoder weight.
func (e *Encoder) Update(learningRate float64) error {
	for _, t := range []nn.Trainable{e.features, e.zMean, e.zLogVar} {
		if err := t.Update(learningRate); err != nil {
			return fmt.Errorf("encoder: %w", err)
		}
	}
	return nil
}

// Params returns every encoder weight tensor.
func (e *Encoder) Params() []*tensor.Tensor {
	params := e.features.Params()
	params = append(params, e.zMean.Params()...)
	return append(params, e.zLogVar.Params()...)
}

// LatentDim is the size of z.
func (e *Encoder) LatentDim() int { return e.latentDim }

// InputShape is the configured (height, width, channels).
func (e *Encoder) InputShape() []int { return append([]int(nil), e.inputShape...) }

// Features is the convolutional trunk shared by both heads.
func (e *Encoder) Features() *nn.Sequential { return e.features }

// Sampler exposes the reparameterization layer.
func (e *Encoder) Sampler() *Sampler { return e.sampler }

func (e *Encoder) namedLayers() map[string]nn.Trainable {
	return map[string]nn.Trainable{
		"encoder/conv_1":    e.conv1,
		"encoder/conv_2":    e.conv2,
		"encoder/z_mean":    e.zMean,
		"encoder/z_log_var": e.zLogVar,
	}
}
