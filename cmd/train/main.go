// cvae-train: trains the convolutional VAE and saves its weights
//
// Usage:
//
//	cvae-train --data=train-images-idx3-ubyte.gz --epochs=5 --latent=2 --output=vae.json
//	cvae-train --config=run.yaml --verbose
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"cvae_lib/nn"
	"cvae_lib/train"
	"cvae_lib/utils"
	"cvae_lib/vae"

	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
)

func main() {
	if err := newTrainCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cvae-train",
		Short:         "Train a convolutional variational autoencoder",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          trainHandler,
	}

	def := utils.DefaultRunConfig()
	f := cmd.Flags()
	f.String("config", "", "YAML run configuration; flags override its values")
	f.String("data", def.DataPath, "MNIST IDX image file (.gz allowed); synthetic blobs when empty")
	f.Int("samples", def.Samples, "Number of images to load or generate")
	f.Int("epochs", def.Epochs, "Number of training epochs")
	f.Int("batch", def.BatchSize, "Mini-batch size")
	f.Float64("lr", def.LearningRate, "Learning rate")
	f.Int("latent", def.LatentDim, "Latent dimension")
	f.String("loss", def.Loss, "Reconstruction loss: bce, mse")
	f.String("sampling", def.SamplingMode, "Reparameterization: additive, multiplicative")
	f.Float64("kl", def.KLCoeff, "KL coefficient")
	f.Uint64("seed", def.Seed, "Random seed")
	f.Bool("shuffle", def.Shuffle, "Shuffle the dataset every epoch")
	f.String("output", def.WeightsPath, "Output weights file (JSON)")
	f.Bool("verbose", false, "Debug logging and timing statistics")
	return cmd
}

// runConfig loads --config (if any) and applies every flag set explicitly.
func runConfig(cmd *cobra.Command) (utils.RunConfig, error) {
	f := cmd.Flags()
	cfg := utils.DefaultRunConfig()
	if path, _ := f.GetString("config"); path != "" {
		var err error
		if cfg, err = utils.LoadRunConfig(path); err != nil {
			return cfg, err
		}
	}

	if f.Changed("data") {
		cfg.DataPath, _ = f.GetString("data")
	}
	if f.Changed("samples") {
		cfg.Samples, _ = f.GetInt("samples")
	}
	if f.Changed("epochs") {
		cfg.Epochs, _ = f.GetInt("epochs")
	}
	if f.Changed("batch") {
		cfg.BatchSize, _ = f.GetInt("batch")
	}
	if f.Changed("lr") {
		cfg.LearningRate, _ = f.GetFloat64("lr")
	}
	if f.Changed("latent") {
		cfg.LatentDim, _ = f.GetInt("latent")
	}
	if f.Changed("loss") {
		cfg.Loss, _ = f.GetString("loss")
	}
	if f.Changed("sampling") {
		cfg.SamplingMode, _ = f.GetString("sampling")
	}
	if f.Changed("kl") {
		cfg.KLCoeff, _ = f.GetFloat64("kl")
	}
	if f.Changed("seed") {
		cfg.Seed, _ = f.GetUint64("seed")
	}
	if f.Changed("shuffle") {
		cfg.Shuffle, _ = f.GetBool("shuffle")
	}
	if f.Changed("output") {
		cfg.WeightsPath, _ = f.GetString("output")
	}
	return cfg, utils.ValidateConfig(&cfg)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func trainHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := runConfig(cmd)
	if err != nil {
		return err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	utils.Verbose = verbose
	logger := newLogger(verbose)

	mode, err := vae.ParseSamplingMode(cfg.SamplingMode)
	if err != nil {
		return err
	}
	loss, err := nn.LossByName(cfg.Loss)
	if err != nil {
		return err
	}

	stats := &utils.TimingStats{}
	src := rand.NewSource(cfg.Seed)

	start := time.Now()
	var ds *train.Dataset
	if cfg.DataPath != "" {
		if ds, err = train.LoadMNISTImages(cfg.DataPath, cfg.Samples); err != nil {
			return err
		}
	} else {
		ds = train.SyntheticBlobs(cfg.Samples, cfg.InputShape[0], cfg.InputShape[1], src)
	}
	start = stats.Track(&stats.DataLoadingTime, start)
	logger.Info("dataset ready", "images", ds.Len(), "shape", ds.SampleShape(), "source", dataSource(cfg.DataPath))

	model, err := vae.New(
		vae.Config{InputShape: cfg.InputShape, LatentDim: cfg.LatentDim},
		vae.WithSource(src),
		vae.WithSamplingMode(mode),
		vae.WithKLCoefficient(cfg.KLCoeff),
		vae.WithLogger(logger),
		vae.WithTimingStats(stats),
	)
	if err != nil {
		return err
	}
	stats.Track(&stats.ModelInitTime, start)
	logger.Info("model built", "params", nn.CountParams(model.Params()), "latent_dim", cfg.LatentDim, "sampling", mode)

	trainer, err := train.NewTrainer(model, loss, train.Config{
		Epochs:       cfg.Epochs,
		BatchSize:    cfg.BatchSize,
		LearningRate: cfg.LearningRate,
		Shuffle:      cfg.Shuffle,
		Stats:        stats,
	}, src, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	results, err := trainer.Train(ctx, ds)
	for _, r := range results {
		fmt.Printf("Epoch %d/%d | Loss: %.6f | Recon: %.6f | KL: %.6f | Time: %.2fs\n",
			r.Epoch, cfg.Epochs, r.Loss, r.Reconstruction, r.KL, r.Duration.Seconds())
	}
	if err != nil {
		return err
	}
	utils.PrintTimingStats(stats, trainer.Steps())

	weights := model.Weights()
	weights.Meta["sampling_mode"] = mode.String()
	weights.Meta["kl_coefficient"] = strconv.FormatFloat(cfg.KLCoeff, 'g', -1, 64)
	if err := utils.SaveWeights(cfg.WeightsPath, weights); err != nil {
		return err
	}
	logger.Info("weights saved", "path", cfg.WeightsPath)
	return nil
}

func dataSource(path string) string {
	if path == "" {
		return "synthetic"
	}
	return path
}
