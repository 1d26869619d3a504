package pipeline

import (
	"context"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
	"github.com/Brownie44l1/schisto-cnn/internal/eval"
	"github.com/Brownie44l1/schisto-cnn/internal/features"
	"github.com/Brownie44l1/schisto-cnn/internal/head"
	"github.com/Brownie44l1/schisto-cnn/internal/report"
)

// Train fits the head on the training features, monitoring the validation
// features, then writes the weights and the history curves.
func (p *Pipeline) Train(ctx context.Context, train, val *features.Tensor) (*head.Network, []head.EpochMetrics, error) {
	if !slices.Equal(train.Classes, val.Classes) {
		return nil, nil, config.Errorf("training classes %v differ from validation classes %v", train.Classes, val.Classes)
	}
	if train.Width() != val.Width() {
		return nil, nil, config.Errorf("training features are %d wide, validation features %d", train.Width(), val.Width())
	}
	if err := p.cfg.CheckClasses(train.Classes); err != nil {
		return nil, nil, err
	}
	classes := len(train.Classes)

	trainer := head.NewTrainer(head.Config{
		Epochs:    p.cfg.Epochs,
		BatchSize: p.cfg.BatchSize,
		Hidden:    p.cfg.DenseUnits,
		Dropout:   p.cfg.Dropout,
		Seed:      p.cfg.Seed,
		Optimizer: head.DefaultRMSPropConfig(),
	}, train.Width(), classes)
	trainer.OnEpoch = func(m head.EpochMetrics) {
		p.metrics.RecordEpoch(m.Epoch, m.Loss, m.Accuracy, m.ValLoss, m.ValAccuracy)
	}

	log.Info().
		Int("samples", train.Samples).
		Int("val_samples", val.Samples).
		Int("features", train.Width()).
		Int("classes", classes).
		Int("epochs", p.cfg.Epochs).
		Msg("training head")

	history, err := trainer.Fit(ctx,
		train.Data, eval.OneHotMatrix(train.Labels, classes),
		val.Data, eval.OneHotMatrix(val.Labels, classes))
	if err != nil {
		return nil, history, err
	}

	net := trainer.Network()
	cp := head.NewCheckpoint(net, history, head.CheckpointMetadata{
		RunID:        p.metrics.RunID,
		Classes:      p.cfg.Labels(train.Classes),
		FeatureShape: train.Shape,
	})
	weights := p.cfg.Artifact(p.cfg.WeightsFile)
	if err := cp.Save(weights); err != nil {
		return nil, history, err
	}
	log.Info().Str("path", weights).Msg("saved head weights")

	if err := report.History(history, p.cfg.Artifact("history_accuracy.png"), p.cfg.Artifact("history_loss.png")); err != nil {
		return net, history, err
	}
	return net, history, nil
}

// LoadHead reads the saved weights and checks them against the features they
// will be applied to.
func (p *Pipeline) LoadHead(val *features.Tensor) (*head.Network, error) {
	cp, err := head.LoadCheckpoint(p.cfg.Artifact(p.cfg.WeightsFile))
	if err != nil {
		return nil, err
	}
	net, err := cp.Network()
	if err != nil {
		return nil, err
	}
	if net.Inputs() != val.Width() {
		return nil, config.Errorf("weights expect %d features, cached features are %d wide", net.Inputs(), val.Width())
	}
	if net.Classes() != len(val.Classes) {
		return nil, config.Errorf("weights predict %d classes, %d discovered", net.Classes(), len(val.Classes))
	}
	if len(p.cfg.ClassNames) == 0 && !slices.Equal(cp.Metadata.Classes, val.Classes) {
		return nil, config.Errorf("weights were trained on classes %v, %v discovered", cp.Metadata.Classes, val.Classes)
	}
	return net, nil
}
