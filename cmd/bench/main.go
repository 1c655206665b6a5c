// cvae-bench: per-layer forward/backward/update timings of the VAE, as CSV
//
// Usage:
//
//	cvae-bench --batch=32 --cores=1,4,8 --iters=20 --out=bench.csv
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"cvae_lib/nn/bench"
	"cvae_lib/vae"

	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
)

func main() {
	if err := newBenchCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cvae-bench",
		Short:         "Time every encoder and decoder layer",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          benchHandler,
	}
	f := cmd.Flags()
	f.Int("batch", 32, "Batch size")
	f.Int("latent", 2, "Latent dimension")
	f.String("cores", strconv.Itoa(runtime.NumCPU()), "Comma-separated GOMAXPROCS values (e.g., 1,4,8)")
	f.Int("iters", 20, "Iterations per layer for averaging")
	f.Int("warmup", 2, "Warmup runs per layer before timing")
	f.String("out", "", "Output CSV path (stdout when empty)")
	return cmd
}

func parseCSVInts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", part, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("value must be positive, got %d", n)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty list %q", s)
	}
	return out, nil
}

func benchHandler(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	batch, _ := f.GetInt("batch")
	latent, _ := f.GetInt("latent")
	coresCSV, _ := f.GetString("cores")
	iters, _ := f.GetInt("iters")
	warmup, _ := f.GetInt("warmup")
	outPath, _ := f.GetString("out")

	cores, err := parseCSVInts(coresCSV)
	if err != nil {
		return fmt.Errorf("--cores: %w", err)
	}
	if batch <= 0 {
		return fmt.Errorf("batch must be positive")
	}

	model, err := vae.New(vae.Config{InputShape: []int{28, 28, 1}, LatentDim: latent}, vae.WithSeed(1))
	if err != nil {
		return err
	}
	x := vae.NewSampler(rand.NewSource(2), vae.SampleAdditive).Noise(batch, 28, 28, 1)
	encCases, _, err := bench.Plan(model.Encoder.Features(), x)
	if err != nil {
		return err
	}
	z := vae.NewSampler(rand.NewSource(3), vae.SampleAdditive).Noise(batch, latent)
	decCases, _, err := bench.Plan(model.Decoder.Network(), z)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if outPath != "" {
		file, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}

	prev := runtime.GOMAXPROCS(0)
	defer runtime.GOMAXPROCS(prev)

	var results []bench.Result
	for _, c := range cores {
		runtime.GOMAXPROCS(c)
		for _, net := range []struct {
			name  string
			cases []bench.Case
		}{{"encoder", encCases}, {"decoder", decCases}} {
			r, err := bench.Run(net.name, net.cases, iters, warmup)
			if err != nil {
				return err
			}
			results = append(results, r...)
		}
	}
	return bench.WriteCSV(w, results)
}
