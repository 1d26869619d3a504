package pipeline

import (
	"context"
	"io"

	"github.com/Brownie44l1/schisto-cnn/internal/dataset"
)

// RunTrain is the full training run: extract (or reuse) both splits, fit the
// head, evaluate it and write the metrics file.
func (p *Pipeline) RunTrain(ctx context.Context, ext Extractor, layout dataset.Layout, out io.Writer) (*Result, error) {
	train, err := p.Features(ctx, ext, layout, Train)
	if err != nil {
		return nil, err
	}
	val, err := p.Features(ctx, ext, layout, Validation)
	if err != nil {
		return nil, err
	}
	net, _, err := p.Train(ctx, train, val)
	if err != nil {
		return nil, err
	}
	r, err := p.Evaluate(net, val)
	if err != nil {
		return nil, err
	}
	r.Print(out)
	return r, p.WriteMetrics()
}

// RunValidate evaluates the saved head on the cached validation features
// without touching the backbone.
func (p *Pipeline) RunValidate(out io.Writer) (*Result, error) {
	val, err := p.Cached(Validation)
	if err != nil {
		return nil, err
	}
	net, err := p.LoadHead(val)
	if err != nil {
		return nil, err
	}
	r, err := p.Evaluate(net, val)
	if err != nil {
		return nil, err
	}
	r.Print(out)
	return r, p.WriteMetrics()
}
