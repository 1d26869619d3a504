package head

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// RMSPropConfig holds configuration for the RMSProp optimizer.
type RMSPropConfig struct {
	LearningRate float64
	Rho          float64
	Epsilon      float64
	Decay        float64
}

// DefaultRMSPropConfig returns the usual library defaults, with no
// learning-rate decay.
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.001,
		Rho:          0.9,
		Epsilon:      1e-7,
		Decay:        0,
	}
}

// RMSProp keeps a running mean of squared gradients per parameter.
type RMSProp struct {
	cfg        RMSPropConfig
	acc        []*mat.Dense
	iterations int
}

func NewRMSProp(cfg RMSPropConfig) *RMSProp {
	return &RMSProp{cfg: cfg}
}

// Step updates params in place from grads; both are in Params order.
func (o *RMSProp) Step(params, grads []*mat.Dense) {
	if o.acc == nil {
		o.acc = make([]*mat.Dense, len(params))
		for i, p := range params {
			r, c := p.Dims()
			o.acc[i] = mat.NewDense(r, c, nil)
		}
	}
	lr := o.cfg.LearningRate
	if o.cfg.Decay > 0 {
		lr /= 1 + o.cfg.Decay*float64(o.iterations)
	}
	for i, p := range params {
		pd := p.RawMatrix().Data
		gd := grads[i].RawMatrix().Data
		ad := o.acc[i].RawMatrix().Data
		for j, g := range gd {
			ad[j] = o.cfg.Rho*ad[j] + (1-o.cfg.Rho)*g*g
			pd[j] -= lr * g / (math.Sqrt(ad[j]) + o.cfg.Epsilon)
		}
	}
	o.iterations++
}

// Iterations is the number of steps taken.
func (o *RMSProp) Iterations() int { return o.iterations }
