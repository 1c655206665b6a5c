// Package train fits a vae.Model to a Dataset with mini-batch SGD.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"cvae_lib/nn"
	"cvae_lib/tensor"
	"cvae_lib/utils"
	"cvae_lib/vae"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

// ErrNonFiniteLoss stops training before NaN or Inf reaches the weights.
var ErrNonFiniteLoss = errors.New("train: non-finite loss")

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Config controls one training run.
type Config struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Shuffle      bool

	// Stats receives phase timings; a fresh one is allocated when nil.
	Stats *utils.TimingStats
}

func (c Config) validate() error {
	switch {
	case c.Epochs <= 0:
		return errors.New("train: epochs must be positive")
	case c.BatchSize <= 0:
		return errors.New("train: batch size must be positive")
	case c.LearningRate <= 0:
		return errors.New("train: learning rate must be positive")
	}
	return nil
}

// StepResult is the loss breakdown of one mini-batch.
type StepResult struct {
	Loss           float64
	Reconstruction float64
	KL             float64
}

// EpochResult averages StepResult over an epoch, weighted by batch size.
type EpochResult struct {
	Epoch int
	StepResult
	Duration time.Duration
}

// Trainer is not safe for concurrent use.
type Trainer struct {
	model  *vae.Model
	loss   nn.Loss
	cfg    Config
	rng    *rand.Rand
	logger *slog.Logger

	Stats *utils.TimingStats
	steps int
}

// NewTrainer pairs a model with a reconstruction loss. src drives shuffling.
func NewTrainer(model *vae.Model, loss nn.Loss, cfg Config, src rand.Source, logger *slog.Logger) (*Trainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if src == nil {
		src = rand.NewSource(uint64(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	stats := cfg.Stats
	if stats == nil {
		stats = &utils.TimingStats{}
	}
	return &Trainer{
		model:  model,
		loss:   loss,
		cfg:    cfg,
		rng:    rand.New(src),
		logger: logger,
		Stats:  stats,
	}, nil
}

// Steps is the number of mini-batches processed so far.
func (t *Trainer) Steps() int { return t.steps }

// Step runs forward, loss, backward and update on one batch. The batch is
// its own reconstruction target.
func (t *Trainer) Step(x *tensor.Tensor) (StepResult, error) {
	start := time.Now()
	res, err := t.model.Forward(x)
	if err != nil {
		return StepResult{}, err
	}
	start = t.Stats.Track(&t.Stats.ForwardPassTime, start)

	recon, err := t.loss.Forward(res.Reconstruction, x)
	if err != nil {
		return StepResult{}, fmt.Errorf("%s loss: %w", t.loss.Name(), err)
	}
	grad, err := t.loss.Backward(res.Reconstruction, x)
	if err != nil {
		return StepResult{}, fmt.Errorf("%s loss: %w", t.loss.Name(), err)
	}
	aux := floats.Sum(t.model.Losses())
	start = t.Stats.Track(&t.Stats.LossComputationTime, start)
	if !finite(recon) || !finite(aux) || !res.Reconstruction.IsFinite() {
		return StepResult{}, fmt.Errorf("%w at step %d (reconstruction %g, kl %g)", ErrNonFiniteLoss, t.steps+1, recon, aux)
	}

	if _, err := t.model.Backward(grad); err != nil {
		return StepResult{}, err
	}
	start = t.Stats.Track(&t.Stats.BackwardPassTime, start)

	if err := t.model.Update(t.cfg.LearningRate); err != nil {
		return StepResult{}, err
	}
	t.Stats.Track(&t.Stats.UpdateTime, start)

	t.steps++
	return StepResult{Loss: recon + aux, Reconstruction: recon, KL: res.KL}, nil
}

// Train runs cfg.Epochs passes over ds and returns per-epoch averages.
// It stops between batches when ctx is cancelled.
func (t *Trainer) Train(ctx context.Context, ds *Dataset) ([]EpochResult, error) {
	if want := t.model.Config().InputShape; !slices.Equal(ds.SampleShape(), want) {
		return nil, fmt.Errorf("train: dataset images are %v, model expects %v", ds.SampleShape(), want)
	}
	n := ds.Len()
	if n == 0 {
		return nil, errors.New("train: empty dataset")
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	runStart := time.Now()
	defer func() { t.Stats.TotalTime += time.Since(runStart) }()

	results := make([]EpochResult, 0, t.cfg.Epochs)
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		epochStart := time.Now()
		if t.cfg.Shuffle {
			t.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		var sum StepResult
		for lo := 0; lo < n; lo += t.cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			hi := min(lo+t.cfg.BatchSize, n)

			loadStart := time.Now()
			x := ds.Batch(order[lo:hi])
			t.Stats.Track(&t.Stats.DataLoadingTime, loadStart)

			step, err := t.Step(x)
			if err != nil {
				return results, fmt.Errorf("epoch %d, batch at %d: %w", epoch, lo, err)
			}
			t.logger.Debug("train step", "epoch", epoch, "step", t.steps, "loss", step.Loss, "kl", step.KL)

			w := float64(hi - lo)
			sum.Loss += step.Loss * w
			sum.Reconstruction += step.Reconstruction * w
			sum.KL += step.KL * w
		}

		r := EpochResult{
			Epoch: epoch,
			StepResult: StepResult{
				Loss:           sum.Loss / float64(n),
				Reconstruction: sum.Reconstruction / float64(n),
				KL:             sum.KL / float64(n),
			},
			Duration: time.Since(epochStart),
		}
		results = append(results, r)
		t.logger.Info("epoch complete",
			"epoch", epoch, "epochs", t.cfg.Epochs,
			"loss", r.Loss, "reconstruction", r.Reconstruction, "kl", r.KL,
			"duration", r.Duration)
	}
	return results, nil
}
