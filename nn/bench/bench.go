// Package bench times the forward, backward and update pass of individual
// layers and writes the results as CSV.
package bench

import (
	"encoding/csv"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"time"

	"cvae_lib/nn"
	"cvae_lib/tensor"
	"cvae_lib/utils"
)

// Case is one layer together with the input it sees inside its network.
type Case struct {
	Index  int
	Layer  nn.Module
	Input  *tensor.Tensor
	Output []int
}

// Result holds averaged timings for one Case.
type Result struct {
	Model  string
	Index  int
	Layer  string
	Input  []int
	Cores  int
	Iters  int
	Fwd    time.Duration
	Bwd    time.Duration
	Update time.Duration
}

// Plan forwards x through seq once and records every layer's input.
func Plan(seq *nn.Sequential, x *tensor.Tensor) ([]Case, *tensor.Tensor, error) {
	cases := make([]Case, 0, len(seq.Layers))
	out := x
	for i, layer := range seq.Layers {
		in := out.Clone()
		var err error
		if out, err = layer.Forward(out); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", layer.Tag(), err)
		}
		cases = append(cases, Case{Index: i, Layer: layer, Input: in, Output: append([]int(nil), out.Shape...)})
	}
	return cases, out, nil
}

// TimeLayer runs one forward, backward and (for trainable layers) update.
// Updates use a zero learning rate so repeated runs see the same weights.
func TimeLayer(m nn.Module, input *tensor.Tensor) (fwd, bwd, upd time.Duration, err error) {
	start := time.Now()
	out, err := m.Forward(input)
	if err != nil {
		return 0, 0, 0, err
	}
	fwd = time.Since(start)

	grad := tensor.New(out.Shape...)
	grad.Fill(1)
	start = time.Now()
	if _, err := m.Backward(grad); err != nil {
		return 0, 0, 0, err
	}
	bwd = time.Since(start)

	if t, ok := m.(nn.Trainable); ok {
		start = time.Now()
		if err := t.Update(0); err != nil {
			return 0, 0, 0, err
		}
		upd = time.Since(start)
	}
	return fwd, bwd, upd, nil
}

// MeasureLayer averages TimeLayer over iters after warmup unrecorded runs.
func MeasureLayer(c Case, iters, warmup int) (avgFwd, avgBwd, avgUpd time.Duration, err error) {
	for i := 0; i < warmup; i++ {
		if _, _, _, err := TimeLayer(c.Layer, c.Input); err != nil {
			return 0, 0, 0, err
		}
	}

	var totalFwd, totalBwd, totalUpd time.Duration
	for i := 0; i < iters; i++ {
		f, b, u, err := TimeLayer(c.Layer, c.Input)
		if err != nil {
			return 0, 0, 0, err
		}
		totalFwd += f
		totalBwd += b
		totalUpd += u
	}
	denom := time.Duration(iters)
	if iters == 0 {
		denom = 1
	}
	return totalFwd / denom, totalBwd / denom, totalUpd / denom, nil
}

// Run measures every case of one network.
func Run(model string, cases []Case, iters, warmup int) ([]Result, error) {
	results := make([]Result, 0, len(cases))
	for _, c := range cases {
		f, b, u, err := MeasureLayer(c, iters, warmup)
		if err != nil {
			return results, fmt.Errorf("%s layer %d (%s): %w", model, c.Index, c.Layer.Tag(), err)
		}
		results = append(results, Result{
			Model:  model,
			Index:  c.Index,
			Layer:  c.Layer.Tag(),
			Input:  append([]int(nil), c.Input.Shape...),
			Cores:  runtime.GOMAXPROCS(0),
			Iters:  iters,
			Fwd:    f,
			Bwd:    b,
			Update: u,
		})
	}
	return results, nil
}

// Header is the first CSV row written by WriteCSV.
var Header = []string{"model", "layer_idx", "layer", "input_shape", "num_cores", "iters", "fwd_us", "bwd_us", "upd_us"}

// WriteCSV writes the header followed by one row per result.
func WriteCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.Model,
			strconv.Itoa(r.Index),
			r.Layer,
			fmt.Sprint(r.Input),
			strconv.Itoa(r.Cores),
			strconv.Itoa(r.Iters),
			toMicro(r.Fwd),
			toMicro(r.Bwd),
			toMicro(r.Update),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func toMicro(d time.Duration) string {
	return strconv.FormatFloat(utils.DurationUS(d), 'f', 3, 64)
}
