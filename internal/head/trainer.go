package head

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/Brownie44l1/schisto-cnn/internal/eval"
)

// Config is the training setup of the head.
type Config struct {
	Epochs    int
	BatchSize int
	Hidden    int
	Dropout   float64
	Seed      uint64
	Optimizer RMSPropConfig
}

// EpochMetrics records one training epoch. Accuracies are fractions in [0, 1].
type EpochMetrics struct {
	Epoch       int           `json:"epoch"`
	Loss        float64       `json:"loss"`
	Accuracy    float64       `json:"accuracy"`
	ValLoss     float64       `json:"val_loss"`
	ValAccuracy float64       `json:"val_accuracy"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Trainer fits a Network on cached features with one-hot labels.
type Trainer struct {
	cfg Config
	net *Network
	opt *RMSProp
	rng *rand.Rand

	// OnEpoch, when set, is called after every epoch.
	OnEpoch func(EpochMetrics)
}

// NewTrainer builds a freshly initialized network for the given feature width
// and class count.
func NewTrainer(cfg Config, inputs, classes int) *Trainer {
	rng := rand.New(rand.NewPCG(cfg.Seed, 0x5eed))
	return &Trainer{
		cfg: cfg,
		net: New(inputs, cfg.Hidden, classes, cfg.Dropout, rng),
		opt: NewRMSProp(cfg.Optimizer),
		rng: rng,
	}
}

func (t *Trainer) Network() *Network { return t.net }

// Fit runs the configured number of epochs over (x, y). The validation pair
// is only evaluated for monitoring. The returned history has one entry per
// completed epoch.
func (t *Trainer) Fit(ctx context.Context, x, y, vx, vy *mat.Dense) ([]EpochMetrics, error) {
	if t.cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", t.cfg.BatchSize)
	}
	rows, cols := x.Dims()
	if yr, yc := y.Dims(); yr != rows || yc != t.net.Classes() {
		return nil, fmt.Errorf("labels are %d×%d, expected %d×%d", yr, yc, rows, t.net.Classes())
	}
	if cols != t.net.Inputs() {
		return nil, fmt.Errorf("features are %d wide, network expects %d", cols, t.net.Inputs())
	}

	history := make([]EpochMetrics, 0, t.cfg.Epochs)
	start := time.Now()
	order := make([]int, rows)
	for i := range order {
		order[i] = i
	}

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}
		t.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var lossSum float64
		var correct int
		for s := 0; s < rows; s += t.cfg.BatchSize {
			e := min(s+t.cfg.BatchSize, rows)
			bx := gather(x, order[s:e])
			by := gather(y, order[s:e])

			p := t.net.forward(bx, t.rng)
			lossSum += eval.CrossEntropy(p.probs, by) * float64(e-s)
			correct += matches(p.probs, by)

			t.opt.Step(t.net.Params(), t.net.backward(bx, p, by))
		}

		m := EpochMetrics{
			Epoch:    epoch,
			Loss:     lossSum / float64(rows),
			Accuracy: float64(correct) / float64(rows),
		}
		if vx != nil && vy != nil {
			var err error
			if m.ValLoss, m.ValAccuracy, err = Evaluate(t.net, vx, vy); err != nil {
				return history, err
			}
		}
		m.Elapsed = time.Since(start)
		history = append(history, m)

		log.Info().
			Int("epoch", epoch).
			Float64("loss", m.Loss).
			Float64("acc", m.Accuracy).
			Float64("val_loss", m.ValLoss).
			Float64("val_acc", m.ValAccuracy).
			Msg("epoch done")
		if t.OnEpoch != nil {
			t.OnEpoch(m)
		}
	}
	return history, nil
}

// Evaluate returns the mean cross-entropy and the accuracy fraction of net on
// (x, y) without dropout.
func Evaluate(net *Network, x, y *mat.Dense) (loss, accuracy float64, err error) {
	probs, err := net.Predict(x)
	if err != nil {
		return 0, 0, err
	}
	rows, _ := x.Dims()
	if rows == 0 {
		return 0, 0, nil
	}
	return eval.CrossEntropy(probs, y), float64(matches(probs, y)) / float64(rows), nil
}

func gather(m *mat.Dense, idx []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, ix := range idx {
		out.SetRow(i, m.RawRowView(ix))
	}
	return out
}

func matches(probs, y *mat.Dense) int {
	pred := eval.ArgMaxRows(probs)
	truth := eval.ArgMaxRows(y)
	n := 0
	for i := range pred {
		if pred[i] == truth[i] {
			n++
		}
	}
	return n
}
