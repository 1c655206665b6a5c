package vae

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"cvae_lib/tensor"
	"cvae_lib/utils"

	"golang.org/x/exp/maps"
)

// Weights snapshots every layer into the JSON checkpoint format.
func (m *Model) Weights() *utils.ModelWeights {
	mw := &utils.ModelWeights{
		Version: utils.WeightsVersion,
		Meta: map[string]string{
			"input_shape": joinInts(m.cfg.InputShape),
			"latent_dim":  strconv.Itoa(m.cfg.LatentDim),
		},
		Layers: make(map[string]utils.LayerWeight),
	}
	for name, layer := range m.namedLayers() {
		p := layer.Params()
		mw.Layers[name] = utils.LayerWeight{
			Weight: utils.TensorToWeightData(name+"/kernel", p[0]),
			Bias:   utils.TensorToWeightData(name+"/bias", p[1]),
		}
	}
	return mw
}

// LoadWeights copies a checkpoint into the model. Every layer must be
// present with matching shapes; the model is left unchanged on error.
func (m *Model) LoadWeights(mw *utils.ModelWeights) error {
	if mw == nil {
		return fmt.Errorf("vae: nil weights")
	}
	named := m.namedLayers()
	names := maps.Keys(named)
	slices.Sort(names)
	for _, name := range names {
		lw, ok := mw.Layers[name]
		if !ok {
			return fmt.Errorf("vae: checkpoint has no layer %q", name)
		}
		p := named[name].Params()
		if err := checkWeightData(lw.Weight, p[0].Shape); err != nil {
			return fmt.Errorf("vae: %s kernel: %w", name, err)
		}
		if err := checkWeightData(lw.Bias, p[1].Shape); err != nil {
			return fmt.Errorf("vae: %s bias: %w", name, err)
		}
	}
	for name, layer := range named {
		lw := mw.Layers[name]
		p := layer.Params()
		if err := lw.Weight.CopyInto(p[0]); err != nil {
			return err
		}
		if err := lw.Bias.CopyInto(p[1]); err != nil {
			return err
		}
	}
	return nil
}

func checkWeightData(wd *utils.WeightData, shape []int) error {
	if wd == nil {
		return fmt.Errorf("missing")
	}
	if !slices.Equal(wd.Shape, shape) {
		return fmt.Errorf("shape %v, want %v", wd.Shape, shape)
	}
	if want := tensor.Volume(shape); len(wd.Data) != want {
		return fmt.Errorf("%d values, want %d", len(wd.Data), want)
	}
	return nil
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

// ParseIntList is the inverse of the input_shape encoding in checkpoint metadata.
func ParseIntList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("vae: bad integer list %q: %w", s, err)
		}
		out[i] = n
	}
	return out, nil
}

// ConfigFromWeights recovers the model configuration stored in a checkpoint.
func ConfigFromWeights(mw *utils.ModelWeights) (Config, error) {
	if mw == nil {
		return Config{}, fmt.Errorf("vae: nil weights")
	}
	shape, err := ParseIntList(mw.Meta["input_shape"])
	if err != nil {
		return Config{}, err
	}
	latent, err := strconv.Atoi(mw.Meta["latent_dim"])
	if err != nil {
		return Config{}, fmt.Errorf("vae: checkpoint latent_dim: %w", err)
	}
	cfg := Config{InputShape: shape, LatentDim: latent}
	return cfg, cfg.Validate()
}
