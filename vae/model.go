package vae

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"cvae_lib/nn"
	"cvae_lib/tensor"
	"cvae_lib/utils"
)

// Result is the output of one forward pass. KL is the auxiliary loss the
// training loop adds to its reconstruction loss.
type Result struct {
	Reconstruction *tensor.Tensor
	ZMean          *tensor.Tensor
	ZLogVar        *tensor.Tensor
	Z              *tensor.Tensor
	KL             float64
}

// Model owns one Encoder and one Decoder sharing latentDim.
// It is not safe for concurrent use.
type Model struct {
	cfg     Config
	Encoder *Encoder
	Decoder *Decoder

	klCoeff float64
	logger  *slog.Logger
	stats   *utils.TimingStats

	last   *Result
	losses []float64
}

// New builds a model from cfg. Options control the random source, the
// sampling formula and the KL coefficient.
func New(cfg Config, opts ...Option) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	// share one source so a seed fixes init and sampling together
	shared := []Option{WithSource(o.src), WithSamplingMode(o.mode)}

	enc, err := NewEncoder(cfg.InputShape, cfg.LatentDim, shared...)
	if err != nil {
		return nil, err
	}
	dec, err := NewDecoder(cfg.LatentDim, shared...)
	if err != nil {
		return nil, err
	}
	if out := dec.OutputShape(); !slices.Equal(out, cfg.InputShape) {
		return nil, fmt.Errorf("%w: input %v, decoder produces %v", ErrIncompatibleInputShape, cfg.InputShape, out)
	}

	return &Model{
		cfg:     Config{InputShape: slices.Clone(cfg.InputShape), LatentDim: cfg.LatentDim},
		Encoder: enc,
		Decoder: dec,
		klCoeff: o.klCoeff,
		logger:  o.logger,
		stats:   o.stats,
	}, nil
}

// Forward encodes x, samples z, decodes it and computes the KL term:
//
//	kl = klCoeff · Σ(exp(z_log_var) + z_mean² − 1 − z_log_var)
//
// summed over the whole batch. The KL value is returned in Result and
// recorded as the model's auxiliary loss until the next call.
func (m *Model) Forward(x *tensor.Tensor) (*Result, error) {
	start := time.Now()
	zMean, zLogVar, z, err := m.Encoder.Forward(x)
	if err != nil {
		return nil, err
	}
	if m.stats != nil {
		start = m.stats.Track(&m.stats.EncoderTime, start)
	}
	recon, err := m.Decoder.Forward(z)
	if err != nil {
		return nil, err
	}
	if m.stats != nil {
		m.stats.Track(&m.stats.DecoderTime, start)
	}
	kl, _, _, err := nn.KLDivergence(zMean, zLogVar, m.klCoeff)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Reconstruction: recon,
		ZMean:          zMean,
		ZLogVar:        zLogVar,
		Z:              z,
		KL:             kl,
	}
	m.last = res
	m.losses = []float64{kl}
	m.logger.Debug("vae forward", "batch", x.Shape[0], "kl", kl)
	return res, nil
}

// Losses returns the auxiliary losses registered by the last Forward call.
func (m *Model) Losses() []float64 {
	return slices.Clone(m.losses)
}

// Backward takes dL/dreconstruction for the last Forward call, adds the
// gradient of the KL term and propagates both to the input.
func (m *Model) Backward(gradRecon *tensor.Tensor) (*tensor.Tensor, error) {
	if m.last == nil {
		return nil, ErrNoForward
	}
	gz, err := m.Decoder.Backward(gradRecon)
	if err != nil {
		return nil, err
	}
	_, gMean, gLogVar, err := nn.KLDivergence(m.last.ZMean, m.last.ZLogVar, m.klCoeff)
	if err != nil {
		return nil, err
	}
	return m.Encoder.Backward(gMean, gLogVar, gz)
}

// Update applies one SGD step to every weight.
func (m *Model) Update(learningRate float64) error {
	if err := m.Encoder.Update(learningRate); err != nil {
		return err
	}
	return m.Decoder.Update(learningRate)
}

// Params returns every trainable weight tensor, encoder first.
func (m *Model) Params() []*tensor.Tensor {
	return append(m.Encoder.Params(), m.Decoder.Params()...)
}

// Encode runs only the encoder. It overwrites the layer caches, so a
// Backward after Encode fails until the next Forward.
func (m *Model) Encode(x *tensor.Tensor) (zMean, zLogVar, z *tensor.Tensor, err error) {
	m.last = nil
	return m.Encoder.Forward(x)
}

// Decode runs only the decoder. Like Encode, it invalidates the last Forward.
func (m *Model) Decode(z *tensor.Tensor) (*tensor.Tensor, error) {
	m.last = nil
	return m.Decoder.Forward(z)
}

// Generate decodes n latent vectors drawn from the N(0, I) prior.
func (m *Model) Generate(n int) (*tensor.Tensor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("vae: generate needs a positive count, got %d", n)
	}
	z := m.Encoder.Sampler().Noise(n, m.cfg.LatentDim)
	return m.Decode(z)
}

// Config returns the construction options.
func (m *Model) Config() Config {
	return Config{InputShape: slices.Clone(m.cfg.InputShape), LatentDim: m.cfg.LatentDim}
}

// KLCoefficient is the scale applied to the summed KL term.
func (m *Model) KLCoefficient() float64 { return m.klCoeff }

func (m *Model) namedLayers() map[string]nn.Trainable {
	named := m.Encoder.namedLayers()
	for k, v := range m.Decoder.namedLayers() {
		named[k] = v
	}
	return named
}
