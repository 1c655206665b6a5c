package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRunConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	yml := `latent_dim: 8
batch_size: 16
learning_rate: 0.005
sampling_mode: multiplicative
kl_coefficient: 0.5
shuffle: false
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.LatentDim)
	assert.Equal(t, 16, cfg.BatchSize)
	assert.Equal(t, 0.005, cfg.LearningRate)
	assert.Equal(t, "multiplicative", cfg.SamplingMode)
	assert.Equal(t, 0.5, cfg.KLCoeff)
	assert.False(t, cfg.Shuffle)
	// untouched keys keep their defaults
	assert.Equal(t, []int{28, 28, 1}, cfg.InputShape)
	assert.Equal(t, DefaultRunConfig().Epochs, cfg.Epochs)
	require.NoError(t, ValidateConfig(&cfg))
}

func TestLoadRunConfigErrors(t *testing.T) {
	_, err := LoadRunConfig("/nonexistent/run.yaml")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size: [1, 2"), 0644))
	_, err = LoadRunConfig(path)
	require.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"input shape", func(c *RunConfig) { c.InputShape = []int{28, 28} }},
		{"latent dim", func(c *RunConfig) { c.LatentDim = 0 }},
		{"batch size", func(c *RunConfig) { c.BatchSize = 0 }},
		{"epochs", func(c *RunConfig) { c.Epochs = -1 }},
		{"learning rate", func(c *RunConfig) { c.LearningRate = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRunConfig()
			require.NoError(t, ValidateConfig(&cfg))
			tt.mutate(&cfg)
			assert.Error(t, ValidateConfig(&cfg))
		})
	}
}

func TestParseShape(t *testing.T) {
	for _, in := range []string{"28,28,1", "28 28 1", "28x28x1"} {
		got, err := ParseShape(in)
		require.NoError(t, err)
		assert.Equal(t, []int{28, 28, 1}, got)
	}
	_, err := ParseShape("28,a")
	assert.Error(t, err)
}
