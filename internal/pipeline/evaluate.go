package pipeline

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
	"github.com/Brownie44l1/schisto-cnn/internal/eval"
	"github.com/Brownie44l1/schisto-cnn/internal/features"
	"github.com/Brownie44l1/schisto-cnn/internal/head"
	"github.com/Brownie44l1/schisto-cnn/internal/report"
)

// Result is the outcome of evaluating the head on the validation features.
type Result struct {
	Accuracy   float64 // percent
	Loss       float64
	Labels     []string
	Truth      []int
	Predicted  []int
	Confusion  *eval.ConfusionMatrix
	Normalized *mat.Dense
}

// Print writes the summary lines to w.
func (r *Result) Print(w io.Writer) {
	fmt.Fprintf(w, "[INFO] accuracy: %.2f%%\n", r.Accuracy)
	fmt.Fprintf(w, "[INFO] Loss: %v\n", r.Loss)
	fmt.Fprintf(w, "Accuracy for validation set: %v%%\n", r.Accuracy)
}

// Evaluate runs net over the validation features, then renders both confusion
// matrices and records the scores.
func (p *Pipeline) Evaluate(net *head.Network, val *features.Tensor) (*Result, error) {
	if err := p.cfg.CheckClasses(val.Classes); err != nil {
		return nil, err
	}
	classes := len(val.Classes)
	if net.Classes() != classes {
		return nil, config.Errorf("head predicts %d classes, %d discovered", net.Classes(), classes)
	}

	probs, err := net.Predict(val.Data)
	if err != nil {
		return nil, err
	}
	targets := eval.OneHotMatrix(val.Labels, classes)

	r := &Result{
		Labels:    p.cfg.Labels(val.Classes),
		Truth:     eval.ArgMaxRows(targets),
		Predicted: eval.ArgMaxRows(probs),
		Loss:      eval.CrossEntropy(probs, targets),
	}
	r.Accuracy = eval.Accuracy(r.Truth, r.Predicted)
	if r.Confusion, err = eval.Confusion(r.Truth, r.Predicted, classes); err != nil {
		return nil, err
	}
	r.Normalized = r.Confusion.Normalized()

	log.Info().
		Int("samples", val.Samples).
		Float64("accuracy", r.Accuracy).
		Float64("loss", r.Loss).
		Msg("evaluated head")

	if err := report.ConfusionMatrix(r.Confusion.Matrix, r.Labels,
		"Confusion matrix, without normalization", false, p.cfg.Artifact("cm.png")); err != nil {
		return r, err
	}
	if err := report.ConfusionMatrix(r.Normalized, r.Labels,
		"Normalized confusion matrix", true, p.cfg.Artifact("cm_norm.png")); err != nil {
		return r, err
	}

	p.metrics.EvalAcc.Set(r.Accuracy)
	p.metrics.EvalLoss.Set(r.Loss)
	return r, nil
}

// WriteMetrics dumps the run metrics next to the other artifacts.
func (p *Pipeline) WriteMetrics() error {
	return p.metrics.WriteTextfile(p.cfg.Artifact("metrics.prom"))
}
