package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"cvae_lib/tensor"
)

// WeightsVersion is written into every saved checkpoint.
const WeightsVersion = "cvae/1"

// WeightData represents serializable weight data for a layer
type WeightData struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ModelWeights represents all weights in a model, keyed by layer name.
// Meta carries free-form run information such as latent_dim.
type ModelWeights struct {
	Version string                 `json:"version"`
	Meta    map[string]string      `json:"meta,omitempty"`
	Layers  map[string]LayerWeight `json:"layers"`
}

// LayerWeight contains weights and bias for a layer
type LayerWeight struct {
	Weight *WeightData `json:"weight,omitempty"`
	Bias   *WeightData `json:"bias,omitempty"`
}

// SaveWeights saves model weights to a JSON file
func SaveWeights(filepath string, weights *ModelWeights) error {
	data, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadWeights loads model weights from a JSON file
func LoadWeights(filepath string) (*ModelWeights, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file: %w", err)
	}
	var weights ModelWeights
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	return &weights, nil
}

// TensorToWeightData converts a tensor to serializable weight data
func TensorToWeightData(name string, t *tensor.Tensor) *WeightData {
	return &WeightData{
		Name:  name,
		Shape: slices.Clone(t.Shape),
		Data:  slices.Clone(t.Data),
	}
}

// WeightDataToTensor converts weight data back to a tensor
func WeightDataToTensor(wd *WeightData) *tensor.Tensor {
	t := tensor.New(wd.Shape...)
	copy(t.Data, wd.Data)
	return t
}

// CopyInto overwrites dst with wd after checking that shapes and lengths agree.
func (wd *WeightData) CopyInto(dst *tensor.Tensor) error {
	if wd == nil {
		return fmt.Errorf("missing weight data for shape %v", dst.Shape)
	}
	if !slices.Equal(wd.Shape, dst.Shape) {
		return &tensor.ShapeError{Op: "load " + wd.Name, Want: dst.Shape, Got: wd.Shape}
	}
	if len(wd.Data) != len(dst.Data) {
		return fmt.Errorf("%s: expected %d values, got %d", wd.Name, len(dst.Data), len(wd.Data))
	}
	copy(dst.Data, wd.Data)
	return nil
}
