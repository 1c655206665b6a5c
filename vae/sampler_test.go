package vae

import (
	"errors"
	"math"
	"testing"

	"cvae_lib/tensor"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestSamplerShape(t *testing.T) {
	s := NewSampler(rand.NewSource(1), SampleAdditive)
	for _, shape := range [][]int{{1, 2}, {4, 2}, {16, 7}} {
		z, err := s.Sample(tensor.New(shape...), tensor.New(shape...))
		require.NoError(t, err)
		if diff := cmp.Diff(shape, z.Shape); diff != "" {
			t.Errorf("shape mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestSamplerShapeMismatch(t *testing.T) {
	s := NewSampler(rand.NewSource(1), SampleAdditive)
	_, err := s.Sample(tensor.New(4, 2), tensor.New(4, 3))
	var se *tensor.ShapeError
	require.True(t, errors.As(err, &se), "got %v", err)
}

func TestSamplerFormulas(t *testing.T) {
	mean := tensor.NewWithData([]float64{0.5, -1, 2})
	logVar := tensor.NewWithData([]float64{0, -2, 1})

	tests := []struct {
		mode SamplingMode
		want func(mu, lv, eps float64) float64
	}{
		{SampleAdditive, func(mu, lv, eps float64) float64 { return mu + eps + math.Exp(0.5*lv) }},
		{SampleMultiplicative, func(mu, lv, eps float64) float64 { return mu + eps*math.Exp(0.5*lv) }},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			z, err := NewSampler(rand.NewSource(11), tt.mode).Sample(mean, logVar)
			require.NoError(t, err)
			eps := NewSampler(rand.NewSource(11), tt.mode).Noise(3)
			for i := range z.Data {
				assert.InDelta(t, tt.want(mean.Data[i], logVar.Data[i], eps.Data[i]), z.Data[i], 1e-12)
			}
		})
	}
}

func TestSamplerFreshNoise(t *testing.T) {
	s := NewSampler(rand.NewSource(2), SampleAdditive)
	mean, logVar := tensor.New(4, 2), tensor.New(4, 2)
	z1, err := s.Sample(mean, logVar)
	require.NoError(t, err)
	z2, err := s.Sample(mean, logVar)
	require.NoError(t, err)
	assert.NotEqual(t, z1.Data, z2.Data)
}

func TestSamplerBackward(t *testing.T) {
	mean := tensor.NewWithData([]float64{0.1, 0.2})
	logVar := tensor.NewWithData([]float64{-0.4, 0.6})
	gradZ := tensor.NewWithData([]float64{1.5, -2})

	for _, mode := range []SamplingMode{SampleAdditive, SampleMultiplicative} {
		t.Run(mode.String(), func(t *testing.T) {
			s := NewSampler(rand.NewSource(21), mode)
			_, _, err := s.Backward(gradZ)
			require.Error(t, err, "backward before sample")

			_, err = s.Sample(mean, logVar)
			require.NoError(t, err)
			gm, glv, err := s.Backward(gradZ)
			require.NoError(t, err)
			assert.Equal(t, gradZ.Data, gm.Data)

			eps := NewSampler(rand.NewSource(21), mode).Noise(2)
			for i, g := range gradZ.Data {
				want := g * 0.5 * math.Exp(0.5*logVar.Data[i])
				if mode == SampleMultiplicative {
					want *= eps.Data[i]
				}
				assert.InDelta(t, want, glv.Data[i], 1e-12)
			}
		})
	}
}

func TestParseSamplingMode(t *testing.T) {
	for in, want := range map[string]SamplingMode{
		"":               SampleAdditive,
		"additive":       SampleAdditive,
		"multiplicative": SampleMultiplicative,
	} {
		got, err := ParseSamplingMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSamplingMode("gumbel")
	require.Error(t, err)
}
