// cvae-infer: reconstructs or generates images with saved VAE weights
//
// Usage:
//
//	cvae-infer --weights=vae.json --mode=reconstruct --data=t10k-images-idx3-ubyte.gz --output=recon.png
//	cvae-infer --weights=vae.json --mode=generate --count=32 --output=samples.png
package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"strconv"

	"cvae_lib/nn"
	"cvae_lib/tensor"
	"cvae_lib/train"
	"cvae_lib/utils"
	"cvae_lib/vae"

	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
)

func main() {
	if err := newInferCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newInferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cvae-infer",
		Short:         "Reconstruct or generate images with a trained VAE",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          inferHandler,
	}
	f := cmd.Flags()
	f.String("weights", "", "Weights JSON file written by cvae-train")
	f.String("mode", "reconstruct", "reconstruct or generate")
	f.String("data", "", "MNIST IDX image file for reconstruct; synthetic blobs when empty")
	f.Int("count", 16, "Number of images")
	f.Uint64("seed", 1, "Random seed")
	f.String("output", "vae_grid.png", "Output PNG grid")
	cmd.MarkFlagRequired("weights")
	return cmd
}

func loadModel(path string, seed uint64) (*vae.Model, error) {
	weights, err := utils.LoadWeights(path)
	if err != nil {
		return nil, err
	}
	cfg, err := vae.ConfigFromWeights(weights)
	if err != nil {
		return nil, err
	}
	opts := []vae.Option{vae.WithSeed(seed)}
	if s, ok := weights.Meta["sampling_mode"]; ok {
		mode, err := vae.ParseSamplingMode(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, vae.WithSamplingMode(mode))
	}
	if s, ok := weights.Meta["kl_coefficient"]; ok {
		c, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("kl_coefficient: %w", err)
		}
		opts = append(opts, vae.WithKLCoefficient(c))
	}

	model, err := vae.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := model.LoadWeights(weights); err != nil {
		return nil, err
	}
	return model, nil
}

func inferHandler(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	weightsPath, _ := f.GetString("weights")
	mode, _ := f.GetString("mode")
	dataPath, _ := f.GetString("data")
	count, _ := f.GetInt("count")
	seed, _ := f.GetUint64("seed")
	output, _ := f.GetString("output")
	if count <= 0 {
		return fmt.Errorf("count must be positive")
	}

	model, err := loadModel(weightsPath, seed)
	if err != nil {
		return err
	}

	var rows []*tensor.Tensor
	switch mode {
	case "reconstruct":
		var ds *train.Dataset
		if dataPath != "" {
			ds, err = train.LoadMNISTImages(dataPath, count)
			if err != nil {
				return err
			}
		} else {
			shape := model.Config().InputShape
			ds = train.SyntheticBlobs(count, shape[0], shape[1], rand.NewSource(seed))
		}
		indices := make([]int, min(count, ds.Len()))
		for i := range indices {
			indices[i] = i
		}
		x := ds.Batch(indices)
		res, err := model.Forward(x)
		if err != nil {
			return err
		}
		bce, err := nn.BinaryCrossEntropyLoss{}.Forward(res.Reconstruction, x)
		if err != nil {
			return err
		}
		fmt.Printf("Reconstructed %d images | BCE: %.6f | KL: %.6f\n", len(indices), bce, res.KL)
		rows = []*tensor.Tensor{x, res.Reconstruction}
	case "generate":
		out, err := model.Generate(count)
		if err != nil {
			return err
		}
		fmt.Printf("Generated %d images\n", count)
		rows = []*tensor.Tensor{out}
	default:
		return fmt.Errorf("unknown mode %q (want reconstruct or generate)", mode)
	}

	if err := writePNG(output, gridImage(rows...)); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", output)
	return nil
}

// gridImage lays out each [n, h, w, 1] tensor as one row of n tiles.
func gridImage(rows ...*tensor.Tensor) *image.Gray {
	if len(rows) == 0 {
		return image.NewGray(image.Rect(0, 0, 0, 0))
	}
	h, w := rows[0].Shape[1], rows[0].Shape[2]
	cols := 0
	for _, r := range rows {
		cols = max(cols, r.Shape[0])
	}
	img := image.NewGray(image.Rect(0, 0, cols*w, len(rows)*h))
	for ri, r := range rows {
		for n := 0; n < r.Shape[0]; n++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					v := math.Min(math.Max(r.At(n, y, x, 0), 0), 1)
					img.SetGray(n*w+x, ri*h+y, color.Gray{Y: uint8(math.Round(v * 255))})
				}
			}
		}
	}
	return img
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
