package layers

import (
	"fmt"

	"cvae_lib/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

// Conv2D is a strided 2D convolution over NHWC tensors.
type Conv2D struct {
	// Layer parameters
	inChan, outChan int // number of input/output channels
	kh, kw          int // kernel height and width
	stride          int
	padding         Padding

	// Plaintext parameters
	W *tensor.Tensor // weights: [outChan, inChan, kh, kw]
	B *tensor.Tensor // bias: [outChan]

	// Cached input for backward pass
	lastInput *tensor.Tensor

	// Gradient storage
	gradW    *tensor.Tensor
	gradB    *tensor.Tensor
	hasGrads bool
}

// NewConv2D creates a new Conv2D layer with zero weights.
func NewConv2D(inChan, outChan, kh, kw, stride int, padding Padding) *Conv2D {
	if stride < 1 {
		stride = 1
	}
	return &Conv2D{
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
func (c *Conv2D) InitWeights(src rand.Source) {
	GlorotUniform(c.W, c.kh*c.kw*c.inChan, c.kh*c.kw*c.outChan, src)
	c.B.Zero()
}

// GetOutputShape returns the output dimensions for given input dimensions.
func (c *Conv2D) GetOutputShape(inH, inW int) (outH, outW int) {
	outH, _ = convGeometry(inH, c.kh, c.stride, c.padding)
	outW, _ = convGeometry(inW, c.kw, c.stride, c.padding)
	return outH, outW
}

// ForwardPlain performs the forward pass on a [batch, height, width, inChan] tensor.
func (c *Conv2D) ForwardPlain(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 4 || input.Shape[3] != c.inChan {
		return nil, &tensor.ShapeError{
			Op:     c.Tag(),
			Want:   []int{-1, -1, -1, c.inChan},
			Got:    input.Shape,
			Detail: "input must be [batch, height, width, channels]",
		}
	}
	batchSize, height, width := input.Shape[0], input.Shape[1], input.Shape[2]

	outHeight, padTop := convGeometry(height, c.kh, c.stride, c.padding)
	outWidth, padLeft := convGeometry(width, c.kw, c.stride, c.padding)
	if outHeight <= 0 || outWidth <= 0 {
		return nil, &tensor.ShapeError{
			Op:     c.Tag(),
			Got:    input.Shape,
			Detail: fmt.Sprintf("%dx%d input is smaller than the %dx%d kernel", height, width, c.kh, c.kw),
		}
	}

	output := tensor.New(batchSize, outHeight, outWidth, c.outChan)

	// Cache input for backward pass
	c.lastInput = input

	inChan, outChan := c.inChan, c.outChan
	kh, kw, stride := c.kh, c.kw, c.stride
	w, x := c.W.Data, input.Data

	err := forEachSample(batchSize, func(b int) error {
		for y := 0; y < outHeight; y++ {
			for xo := 0; xo < outWidth; xo++ {
				outBase := ((b*outHeight+y)*outWidth + xo) * outChan
				for oc := 0; oc < outChan; oc++ {
					sum := c.B.Data[oc] // Start with bias

					for dy := 0; dy < kh; dy++ {
						iy := y*stride + dy - padTop
						if iy < 0 || iy >= height {
							continue
						}
						for dx := 0; dx < kw; dx++ {
							ix := xo*stride + dx - padLeft
							if ix < 0 || ix >= width {
								continue
							}
							inBase := ((b*height+iy)*width + ix) * inChan
							for ic := 0; ic < inChan; ic++ {
								wIdx := ((oc*inChan+ic)*kh+dy)*kw + dx
								sum += x[inBase+ic] * w[wIdx]
							}
						}
					}
					output.Data[outBase+oc] = sum
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
func (c *Conv2D) BackwardPlain(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if c.lastInput == nil {
		return nil, fmt.Errorf("no cached input for backward pass")
	}
	batchSize, height, width := c.lastInput.Shape[0], c.lastInput.Shape[1], c.lastInput.Shape[2]
	outHeight, padTop := convGeometry(height, c.kh, c.stride, c.padding)
	outWidth, padLeft := convGeometry(width, c.kw, c.stride, c.padding)

	want := []int{batchSize, outHeight, outWidth, c.outChan}
	if !tensor.SameShape(gradOut, &tensor.Tensor{Shape: want}) {
		return nil, &tensor.ShapeError{Op: c.Tag() + " backward", Want: want, Got: gradOut.Shape}
	}

	// Initialize gradients
	c.gradW.Zero()
	c.gradB.Zero()
	inputGrad := tensor.New(c.lastInput.Shape...)

	inChan, outChan := c.inChan, c.outChan
	kh, kw, stride := c.kh, c.kw, c.stride
	w, x := c.W.Data, c.lastInput.Data
	gw, gx := c.gradW.Data, inputGrad.Data

	for b := 0; b < batchSize; b++ {
		for y := 0; y < outHeight; y++ {
			for xo := 0; xo < outWidth; xo++ {
				outBase := ((b*outHeight+y)*outWidth + xo) * outChan
				for oc := 0; oc < outChan; oc++ {
					g := gradOut.Data[outBase+oc]
					if g == 0 {
						continue
					}
					c.gradB.Data[oc] += g

					for dy := 0; dy < kh; dy++ {
						iy := y*stride + dy - padTop
						if iy < 0 || iy >= height {
							continue
						}
						for dx := 0; dx < kw; dx++ {
							ix := xo*stride + dx - padLeft
							if ix < 0 || ix >= width {
								continue
							}
							inBase := ((b*height+iy)*width + ix) * inChan
							for ic := 0; ic < inChan; ic++ {
								wIdx := ((oc*inChan+ic)*kh+dy)*kw + dx
								gw[wIdx] += g * x[inBase+ic]
								gx[inBase+ic] += g * w[wIdx]
							}
						}
					}
				}
			}
		}
	}

	c.hasGrads = true
	return inputGrad, nil
}

// UpdatePlain updates parameters using plaintext gradients.
func (c *Conv2D) UpdatePlain(lr float64) error {
	if !c.hasGrads {
		return fmt.Errorf("%s: no gradients to update", c.Tag())
	}
	floats.AddScaled(c.W.Data, -lr, c.gradW.Data)
	floats.AddScaled(c.B.Data, -lr, c.gradB.Data)
	return nil
}

func (c *Conv2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return c.ForwardPlain(input)
}

func (c *Conv2D) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	return c.BackwardPlain(gradOut)
}

func (c *Conv2D) Update(learningRate float64) error {
	return c.UpdatePlain(learningRate)
}

// Params returns the weight and bias tensors (shared, not copied).
func (c *Conv2D) Params() []*tensor.Tensor { return []*tensor.Tensor{c.W, c.B} }

// Grads returns the gradients matching Params.
func (c *Conv2D) Grads() []*tensor.Tensor { return []*tensor.Tensor{c.gradW, c.gradB} }

func (c *Conv2D) Tag() string {
	return fmt.Sprintf("Conv2D_%d_%d_%d_%d", c.inChan, c.outChan, c.kh, c.kw)
}
