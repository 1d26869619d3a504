// Package pipeline wires the stages together: image sets are pushed through
// the backbone, the features cached, the head trained on them and evaluated.
package pipeline

import (
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
	"github.com/Brownie44l1/schisto-cnn/internal/dataset"
	"github.com/Brownie44l1/schisto-cnn/internal/features"
	"github.com/Brownie44l1/schisto-cnn/internal/monitor"
)

// Extractor maps image batches to bottleneck features.
type Extractor interface {
	BatchSize() int
	FeatureShape() []int
	Extract(batch []float32, n int) ([]float32, error)
}

type Split string

const (
	Train      Split = "train"
	Validation Split = "validation"
)

// Pipeline runs the stages for one configuration.
type Pipeline struct {
	cfg     config.Config
	metrics *monitor.Prometheus
}

func New(cfg config.Config, metrics *monitor.Prometheus) *Pipeline {
	if metrics == nil {
		metrics = monitor.NewPrometheusMetrics()
	}
	return &Pipeline{cfg: cfg, metrics: metrics}
}

func (p *Pipeline) Metrics() *monitor.Prometheus { return p.metrics }

func (p *Pipeline) dir(split Split) string {
	if split == Train {
		return p.cfg.TrainDir
	}
	return p.cfg.ValidationDir
}

// Discover lists the labeled image set of a split.
func (p *Pipeline) Discover(split Split) (*dataset.Set, error) {
	return dataset.Discover(p.dir(split))
}

// Extract pushes every image of the split through ext once, in order, and
// caches the result. Only the training split is augmented.
func (p *Pipeline) Extract(ctx context.Context, ext Extractor, layout dataset.Layout, split Split) (*features.Tensor, error) {
	set, err := p.Discover(split)
	if err != nil {
		return nil, err
	}
	if err := p.cfg.CheckClasses(set.Classes); err != nil {
		return nil, err
	}
	if p.cfg.BatchSize > ext.BatchSize() {
		return nil, config.Errorf("batch_size %d exceeds the backbone batch %d", p.cfg.BatchSize, ext.BatchSize())
	}

	interp, err := dataset.Interpolation(p.cfg.Interpolation)
	if err != nil {
		return nil, err
	}
	loader := &dataset.Loader{Size: p.cfg.ImageSize, Layout: layout, Interp: interp}
	if split == Train && p.cfg.Augment.Enabled() {
		loader.Augment = dataset.NewAugmenter(p.cfg.Augment, p.cfg.Seed)
	}

	shape := ext.FeatureShape()
	tensor := &features.Tensor{
		Manifest: features.Manifest{
			Split:     string(split),
			Samples:   set.Len(),
			Shape:     shape,
			Classes:   set.Classes,
			Labels:    set.Labels(),
			Files:     set.Files(),
			RunID:     p.metrics.RunID,
			CreatedAt: time.Now(),
		},
	}
	width := tensor.Width()
	data := mat.NewDense(set.Len(), width, nil)

	batches := dataset.Batches(set.Len(), p.cfg.BatchSize)
	log.Info().
		Str("split", string(split)).
		Str("dir", set.Root).
		Int("samples", set.Len()).
		Int("classes", len(set.Classes)).
		Int("batches", len(batches)).
		Bool("augment", loader.Augment != nil).
		Msg("extracting bottleneck features")

	start := time.Now()
	buf := make([]float32, p.cfg.BatchSize*loader.SampleLen())
	rows := 0
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in := buf[:b.Len()*loader.SampleLen()]
		if err := loader.LoadBatch(set, b, in); err != nil {
			return nil, err
		}
		out, err := ext.Extract(in, b.Len())
		if err != nil {
			return nil, err
		}
		if len(out) != b.Len()*width {
			return nil, config.Errorf("backbone returned %d values for %d samples of width %d", len(out), b.Len(), width)
		}
		for i := 0; i < b.Len(); i++ {
			row := data.RawRowView(b.Start + i)
			for j, v := range out[i*width : (i+1)*width] {
				row[j] = float64(v)
			}
		}
		rows += b.Len()
		p.metrics.Extracted.WithLabelValues(string(split)).Add(float64(b.Len()))
		log.Debug().Int("batch", b.Index+1).Int("of", len(batches)).Msg("extracted batch")
	}
	if rows != set.Len() {
		return nil, config.Errorf("extracted %d rows for %d samples", rows, set.Len())
	}
	tensor.Data = data

	if err := features.Save(p.cfg.ArtifactDir, tensor); err != nil {
		return nil, err
	}
	log.Info().Str("split", string(split)).Dur("took", time.Since(start)).Msg("extraction done")
	return tensor, nil
}

// Cached loads the cached features of a split and checks them against the
// images currently on disk. Any disagreement is a configuration error.
func (p *Pipeline) Cached(split Split) (*features.Tensor, error) {
	set, err := p.Discover(split)
	if err != nil {
		return nil, err
	}
	if err := p.cfg.CheckClasses(set.Classes); err != nil {
		return nil, err
	}
	tensor, err := features.Load(p.cfg.ArtifactDir, string(split))
	if err != nil {
		return nil, err
	}
	if tensor.Samples != set.Len() {
		return nil, config.Errorf("cached %s features hold %d samples but %d images are under %s",
			split, tensor.Samples, set.Len(), set.Root)
	}
	if !slices.Equal(tensor.Classes, set.Classes) {
		return nil, config.Errorf("cached %s features have classes %v but %v are under %s",
			split, tensor.Classes, set.Classes, set.Root)
	}
	labels := set.Labels()
	for i := range labels {
		if labels[i] != tensor.Labels[i] {
			return nil, config.Errorf("cached %s label %d is %d, directory listing says %d",
				split, i, tensor.Labels[i], labels[i])
		}
	}
	return tensor, nil
}

// Reusable reports whether reuse is enabled and the caches of both splits
// match the images on disk, so training can skip the backbone entirely.
func (p *Pipeline) Reusable() bool {
	if !p.cfg.ReuseFeatures {
		return false
	}
	for _, split := range []Split{Train, Validation} {
		if !features.Exists(p.cfg.ArtifactDir, string(split)) {
			return false
		}
		if _, err := p.Cached(split); err != nil {
			log.Warn().Err(err).Str("split", string(split)).Msg("cached features unusable")
			return false
		}
	}
	return true
}

// Features returns the cached features of a split when reuse is enabled and
// they match the images on disk, and extracts them otherwise. A nil ext
// only accepts the cache.
func (p *Pipeline) Features(ctx context.Context, ext Extractor, layout dataset.Layout, split Split) (*features.Tensor, error) {
	if ext == nil {
		return p.Cached(split)
	}
	if p.cfg.ReuseFeatures && features.Exists(p.cfg.ArtifactDir, string(split)) {
		tensor, err := p.Cached(split)
		if err == nil {
			log.Info().Str("split", string(split)).Msg("reusing cached features")
			return tensor, nil
		}
		log.Warn().Err(err).Str("split", string(split)).Msg("cached features unusable, extracting again")
	}
	return p.Extract(ctx, ext, layout, split)
}
