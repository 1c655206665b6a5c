package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RunConfig holds training and inference settings. Every field can come
// from a YAML file and be overridden by command-line flags.
type RunConfig struct {
	InputShape   []int   `yaml:"input_shape"`
	LatentDim    int     `yaml:"latent_dim"`
	DataPath     string  `yaml:"data_path"`
	Samples      int     `yaml:"samples"`
	BatchSize    int     `yaml:"batch_size"`
	Epochs       int     `yaml:"epochs"`
	LearningRate float64 `yaml:"learning_rate"`
	Loss         string  `yaml:"loss"`
	SamplingMode string  `yaml:"sampling_mode"`
	KLCoeff      float64 `yaml:"kl_coefficient"`
	Seed         uint64  `yaml:"seed"`
	Shuffle      bool    `yaml:"shuffle"`
	WeightsPath  string  `yaml:"weights"`
}

// DefaultRunConfig returns the settings used when no file is given.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		InputShape:   []int{28, 28, 1},
		LatentDim:    2,
		Samples:      1000,
		BatchSize:    32,
		Epochs:       5,
		LearningRate: 0.01,
		Loss:         "bce",
		SamplingMode: "additive",
		KLCoeff:      -0.05,
		Seed:         1,
		Shuffle:      true,
		WeightsPath:  "vae_weights.json",
	}
}

// LoadRunConfig reads a YAML file on top of DefaultRunConfig.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ParseShape parses "28,28,1" or "28 28 1" into a slice of integers
func ParseShape(s string) ([]int, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == 'x' })
	shape := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		shape[i] = n
	}
	return shape, nil
}

// ValidateConfig validates training configuration
func ValidateConfig(config *RunConfig) error {
	if len(config.InputShape) != 3 {
		return fmt.Errorf("input shape must be (height, width, channels)")
	}

	if config.LatentDim <= 0 {
		return fmt.Errorf("latent dim must be positive")
	}

	if config.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}

	if config.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive")
	}

	if config.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive")
	}

	return nil
}
