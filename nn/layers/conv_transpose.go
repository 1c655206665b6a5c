package layers

import (
	"fmt"

	"cvae_lib/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

// Conv2DTranspose is the gradient-of-convolution ("deconvolution") layer
// over NHWC tensors. Each input pixel scatters a kernel-sized patch into the
// output, spaced stride apart.
type Conv2DTranspose struct {
	inChan, outChan int
	kh, kw          int
	stride          int
	padding         Padding

	W *tensor.Tensor // weights: [outChan, inChan, kh, kw]
	B *tensor.Tensor // bias: [outChan]

	lastInput *tensor.Tensor

	gradW    *tensor.Tensor
	gradB    *tensor.Tensor
	hasGrads bool
}

// NewConv2DTranspose creates a transposed convolution with zero weights.
func NewConv2DTranspose(inChan, outChan, kh, kw, stride int, padding Padding) *Conv2DTranspose {
	if stride < 1 {
		stride = 1
	}
	return &Conv2DTranspose{
		inChan:  inChan,
		outChan: outChan,
		kh:      kh,
		kw:      kw,
		stride:  stride,
		padding: padding,
		W:       tensor.New(outChan, inChan, kh, kw),
		B:       tensor.New(outChan),
		gradW:   tensor.New(outChan, inChan, kh, kw),
		gradB:   tensor.New(outChan),
	}
}

// InitWeights draws Glorot-uniform weights and zeroes the bias.
func (c *Conv2DTranspose) InitWeights(src rand.Source) {
	GlorotUniform(c.W, c.kh*c.kw*c.outChan, c.kh*c.kw*c.inChan, src)
	c.B.Zero()
}

// GetOutputShape returns the output dimensions for given input dimensions.
func (c *Conv2DTranspose) GetOutputShape(inH, inW int) (outH, outW int) {
	outH, _ = convTransposeGeometry(inH, c.kh, c.stride, c.padding)
	outW, _ = convTransposeGeometry(inW, c.kw, c.stride, c.padding)
	return outH, outW
}

// ForwardPlain performs the forward pass on a [batch, height, width, inChan] tensor.
func (c *Conv2DTranspose) ForwardPlain(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 4 || input.Shape[3] != c.inChan {
		return nil, &tensor.ShapeError{
			Op:     c.Tag(),
			Want:   []int{-1, -1, -1, c.inChan},
			Got:    input.Shape,
			Detail: "input must be [batch, height, width, channels]",
		}
	}
	batchSize, height, width := input.Shape[0], input.Shape[1], input.Shape[2]
	outHeight, padTop := convTransposeGeometry(height, c.kh, c.stride, c.padding)
	outWidth, padLeft := convTransposeGeometry(width, c.kw, c.stride, c.padding)

	output := tensor.New(batchSize, outHeight, outWidth, c.outChan)
	c.lastInput = input

	inChan, outChan := c.inChan, c.outChan
	kh, kw, stride := c.kh, c.kw, c.stride
	w, x := c.W.Data, input.Data

	err := forEachSample(batchSize, func(b int) error {
		sample := output.Data[b*outHeight*outWidth*outChan : (b+1)*outHeight*outWidth*outChan]
		for i := 0; i < len(sample); i += outChan {
			copy(sample[i:i+outChan], c.B.Data)
		}

		for iy := 0; iy < height; iy++ {
			for ix := 0; ix < width; ix++ {
				inBase := ((b*height+iy)*width + ix) * inChan
				for ic := 0; ic < inChan; ic++ {
					v := x[inBase+ic]
					if v == 0 {
						continue
					}
					for dy := 0; dy < kh; dy++ {
						oy := iy*stride + dy - padTop
						if oy < 0 || oy >= outHeight {
							continue
						}
						for dx := 0; dx < kw; dx++ {
							ox := ix*stride + dx - padLeft
							if ox < 0 || ox >= outWidth {
								continue
							}
							outBase := (oy*outWidth + ox) * outChan
							for oc := 0; oc < outChan; oc++ {
								sample[outBase+oc] += v * w[((oc*inChan+ic)*kh+dy)*kw+dx]
							}
						}
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return output, nil
}

// BackwardPlain performs plaintext backward pass.
func (c *Conv2DTranspose) BackwardPlain(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if c.lastInput == nil {
		return nil, fmt.Errorf("no cached input for backward pass")
	}
	batchSize, height, width := c.lastInput.Shape[0], c.lastInput.Shape[1], c.lastInput.Shape[2]
	outHeight, padTop := convTransposeGeometry(height, c.kh, c.stride, c.padding)
	outWidth, padLeft := convTransposeGeometry(width, c.kw, c.stride, c.padding)

	want := []int{batchSize, outHeight, outWidth, c.outChan}
	if !tensor.SameShape(gradOut, &tensor.Tensor{Shape: want}) {
		return nil, &tensor.ShapeError{Op: c.Tag() + " backward", Want: want, Got: gradOut.Shape}
	}

	c.gradW.Zero()
	c.gradB.Zero()
	inputGrad := tensor.New(c.lastInput.Shape...)

	inChan, outChan := c.inChan, c.outChan
	kh, kw, stride := c.kh, c.kw, c.stride
	w, x, g := c.W.Data, c.lastInput.Data, gradOut.Data
	gw, gx := c.gradW.Data, inputGrad.Data

	// Bias gradient: sum over every output position
	for i := 0; i < len(g); i += outChan {
		floats.Add(c.gradB.Data, g[i:i+outChan])
	}

	for b := 0; b < batchSize; b++ {
		gradBase := b * outHeight * outWidth * outChan
		for iy := 0; iy < height; iy++ {
			for ix := 0; ix < width; ix++ {
				inBase := ((b*height+iy)*width + ix) * inChan
				for ic := 0; ic < inChan; ic++ {
					v := x[inBase+ic]
					sum := 0.0
					for dy := 0; dy < kh; dy++ {
						oy := iy*stride + dy - padTop
						if oy < 0 || oy >= outHeight {
							continue
						}
						for dx := 0; dx < kw; dx++ {
							ox := ix*stride + dx - padLeft
							if ox < 0 || ox >= outWidth {
								continue
							}
							outBase := gradBase + (oy*outWidth+ox)*outChan
							for oc := 0; oc < outChan; oc++ {
								wIdx := ((oc*inChan+ic)*kh+dy)*kw + dx
								sum += g[outBase+oc] * w[wIdx]
								gw[wIdx] += g[outBase+oc] * v
							}
						}
					}
					gx[inBase+ic] = sum
				}
			}
		}
	}

	c.hasGrads = true
	return inputGrad, nil
}

// UpdatePlain updates parameters using plaintext gradients.
func (c *Conv2DTranspose) UpdatePlain(lr float64) error {
	if !c.hasGrads {
		return fmt.Errorf("%s: no gradients to update", c.Tag())
	}
	floats.AddScaled(c.W.Data, -lr, c.gradW.Data)
	floats.AddScaled(c.B.Data, -lr, c.gradB.Data)
	return nil
}

func (c *Conv2DTranspose) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return c.ForwardPlain(input)
}

func (c *Conv2DTranspose) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	return c.BackwardPlain(gradOut)
}

func (c *Conv2DTranspose) Update(learningRate float64) error {
	return c.UpdatePlain(learningRate)
}

func (c *Conv2DTranspose) Params() []*tensor.Tensor { return []*tensor.Tensor{c.W, c.B} }

func (c *Conv2DTranspose) Grads() []*tensor.Tensor { return []*tensor.Tensor{c.gradW, c.gradB} }

func (c *Conv2DTranspose) Tag() string {
	return fmt.Sprintf("Conv2DTranspose_%d_%d_%d_%d", c.inChan, c.outChan, c.kh, c.kw)
}
