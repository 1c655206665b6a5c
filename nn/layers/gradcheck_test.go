package layers

import (
	"testing"

	"cvae_lib/tensor"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

type layer interface {
	Forward(*tensor.Tensor) (*tensor.Tensor, error)
	Backward(*tensor.Tensor) (*tensor.Tensor, error)
}

func randomTensor(src rand.Source, shape ...int) *tensor.Tensor {
	r := rand.New(src)
	t := tensor.New(shape...)
	for i := range t.Data {
		t.Data[i] = r.Float64()*2 - 1
	}
	return t
}

// projectedLoss is sum(out * proj), whose gradient w.r.t. out is proj.
func projectedLoss(t *testing.T, l layer, x, proj *tensor.Tensor) float64 {
	t.Helper()
	out, err := l.Forward(x)
	require.NoError(t, err)
	return floats.Dot(out.Data, proj.Data)
}

// checkGradients compares analytic input and parameter gradients against
// central differences of projectedLoss.
func checkGradients(t *testing.T, l layer, params, grads []*tensor.Tensor, x *tensor.Tensor) {
	t.Helper()
	const h, tol = 1e-5, 1e-6

	out, err := l.Forward(x)
	require.NoError(t, err)
	proj := randomTensor(rand.NewSource(99), out.Shape...)
	gx, err := l.Backward(proj)
	require.NoError(t, err)
	require.Equal(t, x.Shape, gx.Shape)

	numeric := func(data []float64, i int) float64 {
		orig := data[i]
		data[i] = orig + h
		up := projectedLoss(t, l, x, proj)
		data[i] = orig - h
		down := projectedLoss(t, l, x, proj)
		data[i] = orig
		return (up - down) / (2 * h)
	}

	for i := 0; i < len(x.Data); i += 1 + len(x.Data)/17 {
		require.InDelta(t, numeric(x.Data, i), gx.Data[i], tol, "input grad %d", i)
	}
	// snapshot: the numeric loop re-runs Forward but never Backward
	for p, param := range params {
		g := grads[p].Clone()
		for i := 0; i < len(param.Data); i += 1 + len(param.Data)/13 {
			require.InDelta(t, numeric(param.Data, i), g.Data[i], tol, "param %d grad %d", p, i)
		}
	}
}
