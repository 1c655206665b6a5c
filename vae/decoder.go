package vae

import (
	"fmt"

	"cvae_lib/nn"
	"cvae_lib/nn/layers"
	"cvae_lib/tensor"
)

// Base feature map the decoder upsamples from: 7x7x6 -> 14 -> 28.
const (
	baseSize     = 7
	baseChannels = 6
)

// Decoder maps [batch, latentDim] latent vectors to [batch, 28, 28, 1] images.
type Decoder struct {
	latentDim int

	hidden                 *layers.Linear
	convT1, convT2, output *layers.Conv2DTranspose
	net                    *nn.Sequential
}

// NewDecoder builds the transposed-convolution decoder.
func NewDecoder(latentDim int, opts ...Option) (*Decoder, error) {
	if latentDim <= 0 {
		return nil, ErrMissingLatentDim
	}
	o := buildOptions(opts)

	d := &Decoder{
		latentDim: latentDim,
		hidden:    layers.NewLinear(latentDim, baseSize*baseSize*baseChannels),
		convT1:    layers.NewConv2DTranspose(baseChannels, 16, kernelSize, kernelSize, convStride, layers.Same),
		convT2:    layers.NewConv2DTranspose(16, 6, kernelSize, kernelSize, convStride, layers.Same),
		output:    layers.NewConv2DTranspose(6, 1, kernelSize, kernelSize, 1, layers.Same),
	}
	d.net = nn.NewSequential(
		d.hidden,
		layers.MustActivation("ReLU"),
		layers.NewReshape(baseSize, baseSize, baseChannels),
		d.convT1,
		layers.MustActivation("ReLU"),
		d.convT2,
		layers.MustActivation("ReLU"),
		d.output,
		layers.MustActivation("Sigmoid"),
	)
	d.hidden.InitWeights(o.src)
	d.convT1.InitWeights(o.src)
	d.convT2.InitWeights(o.src)
	d.output.InitWeights(o.src)
	return d, nil
}

// Forward reconstructs images from z.
func (d *Decoder) Forward(z *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := d.net.Forward(z)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	return out, nil
}

// Backward returns dL/dz for the last Forward call.
func (d *Decoder) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	gz, err := d.net.Backward(gradOut)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	return gz, nil
}

// Update applies one SGD step to every decoder weight.
func (d *Decoder) Update(learningRate float64) error {
	if err := d.net.Update(learningRate); err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	return nil
}

// Params returns every decoder weight tensor.
func (d *Decoder) Params() []*tensor.Tensor { return d.net.Params() }

// Network is the full layer stack from z to the image.
func (d *Decoder) Network() *nn.Sequential { return d.net }

// LatentDim is the expected size of z.
func (d *Decoder) LatentDim() int { return d.latentDim }

// OutputShape is the per-sample (height, width, channels) of a reconstruction.
func (d *Decoder) OutputShape() []int {
	h, w := d.convT1.GetOutputShape(baseSize, baseSize)
	h, w = d.convT2.GetOutputShape(h, w)
	h, w = d.output.GetOutputShape(h, w)
	return []int{h, w, 1}
}

func (d *Decoder) namedLayers() map[string]nn.Trainable {
	return map[string]nn.Trainable{
		"decoder/hidden_1": d.hidden,
		"decoder/convt_1":  d.convT1,
		"decoder/convt_2":  d.convT2,
		"decoder/output":   d.output,
	}
}
