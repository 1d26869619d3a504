package monitor

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const namespace = "schisto"

// Prometheus groups the metrics of one pipeline run or server process.
type Prometheus struct {
	Registry *prometheus.Registry
	RunID    string

	Extracted   *prometheus.CounterVec
	EpochLoss   *prometheus.GaugeVec
	EpochAcc    *prometheus.GaugeVec
	Epoch       prometheus.Gauge
	EvalAcc     prometheus.Gauge
	EvalLoss    prometheus.Gauge
	Predictions *prometheus.CounterVec
}

// NewPrometheusMetrics registers every metric on a fresh registry under a new
// run id.
func NewPrometheusMetrics() *Prometheus {
	runID := uuid.New().String()
	labels := prometheus.Labels{"run": runID}
	p := &Prometheus{
		Registry: prometheus.NewRegistry(),
		RunID:    runID,
		Extracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "extracted_samples_total",
			Help:        "Images passed through the backbone.",
			ConstLabels: labels,
		}, []string{"split"}),
		EpochLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "epoch_loss",
			Help:        "Cross-entropy of the last completed epoch.",
			ConstLabels: labels,
		}, []string{"split"}),
		EpochAcc: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "epoch_accuracy",
			Help:        "Accuracy fraction of the last completed epoch.",
			ConstLabels: labels,
		}, []string{"split"}),
		Epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "epoch",
			Help:        "Last completed training epoch.",
			ConstLabels: labels,
		}),
		EvalAcc: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "validation_accuracy_percent",
			Help:        "Accuracy of the evaluated head on the validation set.",
			ConstLabels: labels,
		}),
		EvalLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "validation_loss",
			Help:        "Cross-entropy of the evaluated head on the validation set.",
			ConstLabels: labels,
		}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "predictions_total",
			Help:        "Served predictions by class.",
			ConstLabels: labels,
		}, []string{"class"}),
	}
	p.Registry.MustRegister(p.Extracted, p.EpochLoss, p.EpochAcc, p.Epoch, p.EvalAcc, p.EvalLoss, p.Predictions)
	return p
}

// RecordEpoch records one epoch of training history.
func (p *Prometheus) RecordEpoch(epoch int, loss, acc, valLoss, valAcc float64) {
	p.Epoch.Set(float64(epoch))
	p.EpochLoss.WithLabelValues("train").Set(loss)
	p.EpochLoss.WithLabelValues("validation").Set(valLoss)
	p.EpochAcc.WithLabelValues("train").Set(acc)
	p.EpochAcc.WithLabelValues("validation").Set(valAcc)
}

// WriteTextfile dumps the registry in the text exposition format, for the
// node exporter textfile collector.
func (p *Prometheus) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, p.Registry); err != nil {
		return fmt.Errorf("could not write metrics to %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("wrote metrics")
	return nil
}
