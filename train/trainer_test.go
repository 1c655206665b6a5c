package train

import (
	"context"
	"errors"
	"math"
	"testing"

	"cvae_lib/nn"
	"cvae_lib/utils"
	"cvae_lib/vae"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func newModel(t *testing.T, opts ...vae.Option) *vae.Model {
	t.Helper()
	m, err := vae.New(vae.Config{InputShape: []int{28, 28, 1}, LatentDim: 2}, append([]vae.Option{vae.WithSeed(1)}, opts...)...)
	require.NoError(t, err)
	return m
}

func TestNewTrainerConfigErrors(t *testing.T) {
	m := newModel(t)
	for _, cfg := range []Config{
		{Epochs: 0, BatchSize: 1, LearningRate: 0.1},
		{Epochs: 1, BatchSize: 0, LearningRate: 0.1},
		{Epochs: 1, BatchSize: 1, LearningRate: 0},
	} {
		_, err := NewTrainer(m, nn.BinaryCrossEntropyLoss{}, cfg, nil, nil)
		assert.Error(t, err, "%+v", cfg)
	}
}

func TestTrainerStepReducesLoss(t *testing.T) {
	m := newModel(t, vae.WithKLCoefficient(0))
	tr, err := NewTrainer(m, nn.BinaryCrossEntropyLoss{}, Config{Epochs: 1, BatchSize: 4, LearningRate: 0.5}, rand.NewSource(2), nil)
	require.NoError(t, err)

	x := SyntheticBlobs(4, 28, 28, rand.NewSource(3)).Images
	first, err := tr.Step(x)
	require.NoError(t, err)
	var last StepResult
	for i := 0; i < 30; i++ {
		last, err = tr.Step(x)
		require.NoError(t, err)
	}
	assert.Less(t, last.Reconstruction, 0.8*first.Reconstruction)
	assert.Equal(t, 31, tr.Steps())
	assert.Equal(t, 0.0, last.KL)
}

func TestTrainEpochs(t *testing.T) {
	stats := &utils.TimingStats{}
	m := newModel(t, vae.WithTimingStats(stats))
	ds := SyntheticBlobs(10, 28, 28, rand.NewSource(4))
	tr, err := NewTrainer(m, nn.MeanSquaredErrorLoss{}, Config{
		Epochs:       2,
		BatchSize:    4,
		LearningRate: 0.05,
		Shuffle:      true,
		Stats:        stats,
	}, rand.NewSource(5), nil)
	require.NoError(t, err)

	results, err := tr.Train(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, r := range results {
		assert.Equal(t, i+1, r.Epoch)
		assert.False(t, math.IsNaN(r.Loss) || math.IsInf(r.Loss, 0))
		assert.InDelta(t, r.Reconstruction+r.KL, r.Loss, 1e-9)
	}
	// 10 images in batches of 4: 3 steps per epoch
	assert.Equal(t, 6, tr.Steps())
	assert.NotZero(t, stats.ForwardPassTime)
	assert.NotZero(t, stats.EncoderTime)
	assert.NotZero(t, stats.TotalTime)
}

func TestTrainShapeMismatch(t *testing.T) {
	tr, err := NewTrainer(newModel(t), nn.BinaryCrossEntropyLoss{}, Config{Epochs: 1, BatchSize: 2, LearningRate: 0.1}, nil, nil)
	require.NoError(t, err)
	_, err = tr.Train(context.Background(), SyntheticBlobs(2, 16, 16, rand.NewSource(1)))
	require.Error(t, err)
}

func TestTrainCancelled(t *testing.T) {
	tr, err := NewTrainer(newModel(t), nn.BinaryCrossEntropyLoss{}, Config{Epochs: 3, BatchSize: 2, LearningRate: 0.1}, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := tr.Train(ctx, SyntheticBlobs(4, 28, 28, rand.NewSource(1)))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, results)
	assert.Equal(t, 0, tr.Steps())
}

func TestTrainerStepRejectsNonFiniteLoss(t *testing.T) {
	m := newModel(t)
	before := make([][]float64, 0)
	for _, p := range m.Params() {
		before = append(before, append([]float64(nil), p.Data...))
	}
	tr, err := NewTrainer(m, nn.BinaryCrossEntropyLoss{}, Config{Epochs: 1, BatchSize: 2, LearningRate: 0.1}, rand.NewSource(1), nil)
	require.NoError(t, err)

	x := SyntheticBlobs(2, 28, 28, rand.NewSource(6)).Images
	x.Data[100] = math.NaN()
	_, err = tr.Step(x)
	require.ErrorIs(t, err, ErrNonFiniteLoss)
	assert.Equal(t, 0, tr.Steps())
	for i, p := range m.Params() {
		assert.Equal(t, before[i], p.Data, "param %d changed", i)
	}
}

func TestTrainStopsOnDivergence(t *testing.T) {
	ds := SyntheticBlobs(6, 28, 28, rand.NewSource(7))
	ds.Images.Data[len(ds.Images.Data)-1] = math.NaN()
	tr, err := NewTrainer(newModel(t), nn.BinaryCrossEntropyLoss{}, Config{Epochs: 3, BatchSize: 2, LearningRate: 0.1}, rand.NewSource(8), nil)
	require.NoError(t, err)

	results, err := tr.Train(context.Background(), ds)
	require.ErrorIs(t, err, ErrNonFiniteLoss)
	assert.Empty(t, results)
	// the first two batches are clean, the third carries the NaN pixel
	assert.Equal(t, 2, tr.Steps())
}
