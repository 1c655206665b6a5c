// Package vae implements a LeNet-scale convolutional variational autoencoder:
// an encoder producing a latent Gaussian, a reparameterized sampler, and a
// transposed-convolution decoder, composed into one trainable model.
package vae

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cvae_lib/utils"

	"golang.org/x/exp/rand"
)

// Configuration errors. They are returned before any tensor is allocated.
var (
	ErrMissingInputShape      = errors.New("vae: input_shape is required")
	ErrInvalidInputShape      = errors.New("vae: input_shape must be (height, width, channels) with positive dims")
	ErrMissingLatentDim       = errors.New("vae: latent_dim is required and must be positive")
	ErrIncompatibleInputShape = errors.New("vae: input_shape does not match the decoder output")
)

// ErrNoForward is returned by Model.Backward when no Forward result is
// current, either because none ran or because Encode, Decode or Generate
// replaced the cached activations since.
var ErrNoForward = errors.New("vae: backward needs a preceding forward")

// DefaultKLCoefficient scales the summed KL term.
const DefaultKLCoefficient = -0.05

// Config holds the two construction-time options of the model.
type Config struct {
	InputShape []int `yaml:"input_shape" json:"input_shape"`
	LatentDim  int   `yaml:"latent_dim" json:"latent_dim"`
}

// Validate checks that both options are present and well formed.
func (c Config) Validate() error {
	if err := validateInputShape(c.InputShape); err != nil {
		return err
	}
	if c.LatentDim <= 0 {
		return ErrMissingLatentDim
	}
	return nil
}

func validateInputShape(shape []int) error {
	if len(shape) == 0 {
		return ErrMissingInputShape
	}
	if len(shape) != 3 {
		return fmt.Errorf("%w: got %v", ErrInvalidInputShape, shape)
	}
	for _, d := range shape {
		if d <= 0 {
			return fmt.Errorf("%w: got %v", ErrInvalidInputShape, shape)
		}
	}
	return nil
}

// SamplingMode selects the reparameterization formula.
type SamplingMode int

const (
	// SampleAdditive computes z = mean + ε + exp(0.5·logVar).
	SampleAdditive SamplingMode = iota
	// SampleMultiplicative computes z = mean + ε·exp(0.5·logVar).
	SampleMultiplicative
)

func (m SamplingMode) String() string {
	switch m {
	case SampleAdditive:
		return "additive"
	case SampleMultiplicative:
		return "multiplicative"
	default:
		return fmt.Sprintf("SamplingMode(%d)", int(m))
	}
}

// ParseSamplingMode accepts "additive" or "multiplicative".
func ParseSamplingMode(s string) (SamplingMode, error) {
	switch s {
	case "", "additive":
		return SampleAdditive, nil
	case "multiplicative":
		return SampleMultiplicative, nil
	default:
		return 0, fmt.Errorf("vae: unknown sampling mode %q", s)
	}
}

type options struct {
	src     rand.Source
	mode    SamplingMode
	klCoeff float64
	logger  *slog.Logger
	stats   *utils.TimingStats
}

// Option customizes model construction.
type Option func(*options)

// WithSource sets the random source used for weight init and sampling.
func WithSource(src rand.Source) Option {
	return func(o *options) { o.src = src }
}

// WithSeed is WithSource(rand.NewSource(seed)).
func WithSeed(seed uint64) Option {
	return func(o *options) { o.src = rand.NewSource(seed) }
}

// WithSamplingMode selects the reparameterization formula.
func WithSamplingMode(m SamplingMode) Option {
	return func(o *options) { o.mode = m }
}

// WithKLCoefficient overrides DefaultKLCoefficient.
func WithKLCoefficient(c float64) Option {
	return func(o *options) { o.klCoeff = c }
}

// WithLogger sets the logger for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTimingStats accumulates encoder and decoder forward time into stats.
func WithTimingStats(stats *utils.TimingStats) Option {
	return func(o *options) { o.stats = stats }
}

func buildOptions(opts []Option) options {
	o := options{
		mode:    SampleAdditive,
		klCoeff: DefaultKLCoefficient,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.src == nil {
		o.src = rand.NewSource(uint64(time.Now().UnixNano()))
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}
