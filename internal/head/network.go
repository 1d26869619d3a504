// Package head implements the small classifier trained on bottleneck
// features: flatten → dense(ReLU) → dropout → dense(softmax).
package head

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Network holds the head parameters. Kernels are fan-in × fan-out, biases are
// single-row matrices.
type Network struct {
	W1, B1  *mat.Dense
	W2, B2  *mat.Dense
	Dropout float64
}

// New creates a network with Glorot-uniform kernels and zero biases.
func New(inputs, hidden, classes int, dropout float64, rng *rand.Rand) *Network {
	return &Network{
		W1:      glorot(inputs, hidden, rng),
		B1:      mat.NewDense(1, hidden, nil),
		W2:      glorot(hidden, classes, rng),
		B2:      mat.NewDense(1, classes, nil),
		Dropout: dropout,
	}
}

func glorot(fanIn, fanOut int, rng *rand.Rand) *mat.Dense {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	data := make([]float64, fanIn*fanOut)
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * limit
	}
	return mat.NewDense(fanIn, fanOut, data)
}

func (n *Network) Inputs() int {
	r, _ := n.W1.Dims()
	return r
}

func (n *Network) Hidden() int {
	_, c := n.W1.Dims()
	return c
}

func (n *Network) Classes() int {
	_, c := n.W2.Dims()
	return c
}

// Params returns the trainable parameters in a fixed order.
func (n *Network) Params() []*mat.Dense {
	return []*mat.Dense{n.W1, n.B1, n.W2, n.B2}
}

// ParamNames matches Params.
var ParamNames = []string{"dense_1/kernel", "dense_1/bias", "dense_2/kernel", "dense_2/bias"}

// pass keeps the intermediate activations of one forward pass.
type pass struct {
	hidden *mat.Dense // after ReLU and dropout
	mask   *mat.Dense // dropout scale per unit, nil at inference
	probs  *mat.Dense
}

func (n *Network) forward(x mat.Matrix, rng *rand.Rand) *pass {
	rows, _ := x.Dims()
	p := &pass{}

	h := mat.NewDense(rows, n.Hidden(), nil)
	h.Mul(x, n.W1)
	addBias(h, n.B1)
	h.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, h)

	if rng != nil && n.Dropout > 0 {
		keep := 1 - n.Dropout
		p.mask = mat.NewDense(rows, n.Hidden(), nil)
		p.mask.Apply(func(_, _ int, _ float64) float64 {
			if rng.Float64() < keep {
				return 1 / keep
			}
			return 0
		}, p.mask)
		h.MulElem(h, p.mask)
	}
	p.hidden = h

	z := mat.NewDense(rows, n.Classes(), nil)
	z.Mul(h, n.W2)
	addBias(z, n.B2)
	softmax(z)
	p.probs = z
	return p
}

// Predict returns class probabilities for every row of x, without dropout.
func (n *Network) Predict(x mat.Matrix) (*mat.Dense, error) {
	if _, c := x.Dims(); c != n.Inputs() {
		return nil, fmt.Errorf("features are %d wide, network expects %d", c, n.Inputs())
	}
	return n.forward(x, nil).probs, nil
}

// backward returns the gradients of the mean cross-entropy, in Params order.
func (n *Network) backward(x mat.Matrix, p *pass, y mat.Matrix) []*mat.Dense {
	rows, _ := x.Dims()

	dz := mat.NewDense(rows, n.Classes(), nil)
	dz.Sub(p.probs, y)
	dz.Scale(1/float64(rows), dz)

	dW2 := mat.NewDense(n.Hidden(), n.Classes(), nil)
	dW2.Mul(p.hidden.T(), dz)
	dB2 := colSums(dz)

	dh := mat.NewDense(rows, n.Hidden(), nil)
	dh.Mul(dz, n.W2.T())
	// hidden is zero wherever ReLU was inactive or the unit was dropped
	dh.Apply(func(i, j int, v float64) float64 {
		if p.hidden.At(i, j) <= 0 {
			return 0
		}
		if p.mask != nil {
			return v * p.mask.At(i, j)
		}
		return v
	}, dh)

	dW1 := mat.NewDense(n.Inputs(), n.Hidden(), nil)
	dW1.Mul(x.T(), dh)
	dB1 := colSums(dh)

	return []*mat.Dense{dW1, dB1, dW2, dB2}
}

func addBias(m, bias *mat.Dense) {
	b := bias.RawRowView(0)
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		floats.Add(m.RawRowView(i), b)
	}
}

func colSums(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(1, cols, nil)
	sum := out.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(sum, m.RawRowView(i))
	}
	return out
}

func softmax(m *mat.Dense) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		top := floats.Max(row)
		var sum float64
		for j, v := range row {
			row[j] = math.Exp(v - top)
			sum += row[j]
		}
		floats.Scale(1/sum, row)
	}
}
