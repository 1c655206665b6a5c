package layers

import (
	"math"

	"cvae_lib/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// GlorotUniform fills t from U(-l, l) with l = sqrt(6 / (fanIn + fanOut)).
func GlorotUniform(t *tensor.Tensor, fanIn, fanOut int, src rand.Source) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	dist := distuv.Uniform{
		Min: -limit,
		Max: limit,
		Src: src,
	}
	for i := range t.Data {
		t.Data[i] = dist.Rand()
	}
}
