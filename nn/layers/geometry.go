package layers

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Padding selects how convolution borders are handled.
type Padding int

const (
	// Valid uses no padding; windows must fit entirely inside the input.
	Valid Padding = iota
	// Same pads so that output = ceil(input / stride) for convolutions and
	// output = input * stride for transposed convolutions.
	Same
)

func (p Padding) String() string {
	switch p {
	case Valid:
		return "valid"
	case Same:
		return "same"
	default:
		return fmt.Sprintf("Padding(%d)", int(p))
	}
}

// convGeometry returns the output length and leading pad of one spatial
// axis of a strided convolution.
func convGeometry(in, k, stride int, p Padding) (out, padBefore int) {
	switch p {
	case Same:
		out = (in + stride - 1) / stride
		total := (out-1)*stride + k - in
		if total < 0 {
			total = 0
		}
		return out, total / 2
	default:
		if in < k {
			return 0, 0
		}
		return (in-k)/stride + 1, 0
	}
}

// convTransposeGeometry is the inverse of convGeometry: the output length
// and leading crop of one spatial axis of a transposed convolution.
func convTransposeGeometry(in, k, stride int, p Padding) (out, padBefore int) {
	switch p {
	case Same:
		total := k - stride
		if total < 0 {
			total = 0
		}
		return in * stride, total / 2
	default:
		if in == 0 {
			return 0, 0
		}
		return (in-1)*stride + k, 0
	}
}

// forEachSample runs fn for every batch index, fanning out across
// GOMAXPROCS goroutines. fn must only write to per-sample regions.
func forEachSample(batch int, fn func(b int) error) error {
	if batch <= 1 {
		for b := 0; b < batch; b++ {
			if err := fn(b); err != nil {
				return err
			}
		}
		return nil
	}
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for b := 0; b < batch; b++ {
		b := b // per-iteration copy (go1.21 loop semantics)
		g.Go(func() error { return fn(b) })
	}
	return g.Wait()
}
