package layers

import (
	"testing"

	"cvae_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten_Plain(t *testing.T) {
	f := NewFlatten()
	input := tensor.New(2, 4, 4, 16)
	for i := range input.Data {
		input.Data[i] = float64(i)
	}
	flat, err := f.Forward(input)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 256}, flat.Shape)
	assert.Equal(t, input.Data, flat.Data)

	g, err := f.Backward(flat)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 4, 16}, g.Shape)
}

func TestReshape_RoundTrip(t *testing.T) {
	r := NewReshape(7, 7, 6)
	x := tensor.New(3, 294)
	y, err := r.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7, 7, 6}, y.Shape)

	g, err := r.Backward(y)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 294}, g.Shape)

	_, err = r.Forward(tensor.New(3, 300))
	require.Error(t, err)
}

func TestActivation_Values(t *testing.T) {
	x := tensor.NewWithData([]float64{-800, -1, 0, 1, 800})

	relu := MustActivation("ReLU")
	y, err := relu.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 1, 800}, y.Data)

	sig := MustActivation("Sigmoid")
	y, err = sig.Forward(x)
	require.NoError(t, err)
	assert.True(t, y.IsFinite())
	assert.InDelta(t, 0.0, y.Data[0], 1e-12)
	assert.InDelta(t, 0.5, y.Data[2], 1e-12)
	assert.InDelta(t, 1.0, y.Data[4], 1e-12)

	_, err = NewActivation("Swish")
	require.Error(t, err)
}

func TestActivation_Backward(t *testing.T) {
	sig := MustActivation("Sigmoid")
	x := tensor.NewWithData([]float64{-2, -0.5, 0.3, 1.7})
	checkGradients(t, sig, nil, nil, x)

	relu := MustActivation("ReLU")
	_, err := relu.Forward(x)
	require.NoError(t, err)
	g := tensor.New(4)
	g.Fill(1)
	gx, err := relu.Backward(g)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1, 1}, gx.Data)
}
