package vae

import (
	"errors"
	"testing"

	"cvae_lib/tensor"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func randomImages(seed uint64, shape ...int) *tensor.Tensor {
	r := rand.New(rand.NewSource(seed))
	x := tensor.New(shape...)
	for i := range x.Data {
		x.Data[i] = r.Float64()
	}
	return x
}

func TestNewEncoderConfigErrors(t *testing.T) {
	tests := []struct {
		name       string
		inputShape []int
		latentDim  int
		want       error
	}{
		{"missing latent dim", []int{28, 28, 1}, 0, ErrMissingLatentDim},
		{"negative latent dim", []int{28, 28, 1}, -3, ErrMissingLatentDim},
		{"missing input shape", nil, 2, ErrMissingInputShape},
		{"rank 2 input shape", []int{28, 28}, 2, ErrInvalidInputShape},
		{"zero dim", []int{28, 0, 1}, 2, ErrInvalidInputShape},
		{"too small", []int{8, 8, 1}, 2, ErrInvalidInputShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncoder(tt.inputShape, tt.latentDim, WithSeed(1))
			assert.Nil(t, enc)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestEncoderShapes(t *testing.T) {
	for _, tt := range []struct {
		inputShape []int
		latentDim  int
		batch      int
	}{
		{[]int{28, 28, 1}, 2, 4},
		{[]int{28, 28, 1}, 16, 1},
		{[]int{32, 32, 3}, 5, 2},
	} {
		enc, err := NewEncoder(tt.inputShape, tt.latentDim, WithSeed(2))
		require.NoError(t, err)
		x := randomImages(3, append([]int{tt.batch}, tt.inputShape...)...)

		zMean, zLogVar, z, err := enc.Forward(x)
		require.NoError(t, err)
		want := []int{tt.batch, tt.latentDim}
		for name, got := range map[string]*tensor.Tensor{"z_mean": zMean, "z_log_var": zLogVar, "z": z} {
			if diff := cmp.Diff(want, got.Shape); diff != "" {
				t.Errorf("%v %s shape mismatch (-want +got):\n%s", tt.inputShape, name, diff)
			}
		}
	}
}

func TestEncoderFlattenedSize(t *testing.T) {
	enc, err := NewEncoder([]int{28, 28, 1}, 2, WithSeed(1))
	require.NoError(t, err)
	// 28 -> 12 -> 4, 4*4*16 features into each head
	assert.Equal(t, []int{2, 256}, enc.zMean.W.Shape)
	assert.Equal(t, []int{2, 256}, enc.zLogVar.W.Shape)
}

func TestEncoderWrongInputShape(t *testing.T) {
	enc, err := NewEncoder([]int{28, 28, 1}, 2, WithSeed(1))
	require.NoError(t, err)

	_, _, _, err = enc.Forward(tensor.New(2, 28, 28, 3))
	var se *tensor.ShapeError
	require.True(t, errors.As(err, &se), "got %v", err)
}

func TestEncoderDeterministicHeadsStochasticSample(t *testing.T) {
	enc, err := NewEncoder([]int{28, 28, 1}, 2, WithSeed(5))
	require.NoError(t, err)
	x := randomImages(6, 3, 28, 28, 1)

	m1, lv1, z1, err := enc.Forward(x)
	require.NoError(t, err)
	m2, lv2, z2, err := enc.Forward(x)
	require.NoError(t, err)

	assert.Equal(t, m1.Data, m2.Data)
	assert.Equal(t, lv1.Data, lv2.Data)
	assert.NotEqual(t, z1.Data, z2.Data)
}

func TestEncoderSeedReproducible(t *testing.T) {
	x := randomImages(7, 2, 28, 28, 1)
	run := func() *tensor.Tensor {
		enc, err := NewEncoder([]int{28, 28, 1}, 3, WithSeed(42))
		require.NoError(t, err)
		_, _, z, err := enc.Forward(x)
		require.NoError(t, err)
		return z
	}
	assert.Equal(t, run().Data, run().Data)
}
