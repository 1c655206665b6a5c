package vae

import (
	"path/filepath"
	"testing"

	"cvae_lib/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightsRoundTrip(t *testing.T) {
	src, err := New(mnistConfig(2), WithSeed(1))
	require.NoError(t, err)
	dst, err := New(mnistConfig(2), WithSeed(2))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "vae.json")
	require.NoError(t, utils.SaveWeights(path, src.Weights()))
	loaded, err := utils.LoadWeights(path)
	require.NoError(t, err)

	assert.Equal(t, utils.WeightsVersion, loaded.Version)
	assert.Len(t, loaded.Layers, 8)
	require.NoError(t, dst.LoadWeights(loaded))

	x := randomImages(3, 2, 28, 28, 1)
	a, _, _, err := src.Encode(x)
	require.NoError(t, err)
	b, _, _, err := dst.Encode(x)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)

	cfg, err := ConfigFromWeights(loaded)
	require.NoError(t, err)
	assert.Equal(t, mnistConfig(2), cfg)
}

func TestLoadWeightsMismatchLeavesModelUnchanged(t *testing.T) {
	small, err := New(mnistConfig(2), WithSeed(1))
	require.NoError(t, err)
	big, err := New(mnistConfig(3), WithSeed(2))
	require.NoError(t, err)

	before := big.Weights()
	err = big.LoadWeights(small.Weights())
	require.Error(t, err)
	assert.Equal(t, before, big.Weights())

	partial := small.Weights()
	delete(partial.Layers, "decoder/output")
	require.Error(t, small.LoadWeights(partial))
	require.Error(t, small.LoadWeights(nil))
}

func TestParseIntList(t *testing.T) {
	got, err := ParseIntList("28, 28,1")
	require.NoError(t, err)
	assert.Equal(t, []int{28, 28, 1}, got)

	_, err = ParseIntList("28,x")
	require.Error(t, err)
}

func TestConfigFromWeights(t *testing.T) {
	m, err := New(mnistConfig(3), WithSeed(2))
	require.NoError(t, err)
	cfg, err := ConfigFromWeights(m.Weights())
	require.NoError(t, err)
	assert.Equal(t, mnistConfig(3), cfg)

	_, err = ConfigFromWeights(nil)
	require.Error(t, err)
	_, err = ConfigFromWeights(&utils.ModelWeights{Meta: map[string]string{"input_shape": "28,28,1"}})
	require.Error(t, err)
}
