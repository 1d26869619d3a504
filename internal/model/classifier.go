package model

import (
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
	"github.com/Brownie44l1/schisto-cnn/internal/head"
)

type extractor interface {
	BatchSize() int
	FeatureShape() []int
	Extract(batch []float32, n int) ([]float32, error)
}

// Classifier chains the backbone and a trained head for serving. The backbone
// is optional; without it only feature vectors can be classified.
type Classifier struct {
	mu       sync.Mutex
	backbone extractor
	head     *head.Network
	Classes  []string
	TopK     int
}

func NewClassifier(backbone extractor, cp *head.Checkpoint, topK int) (*Classifier, error) {
	net, err := cp.Network()
	if err != nil {
		return nil, err
	}
	if len(cp.Metadata.Classes) != net.Classes() {
		return nil, config.Errorf("weights predict %d classes but name %d", net.Classes(), len(cp.Metadata.Classes))
	}
	if backbone != nil {
		width := 1
		for _, d := range backbone.FeatureShape() {
			width *= d
		}
		if width != net.Inputs() {
			return nil, config.Errorf("backbone emits %d features, weights expect %d", width, net.Inputs())
		}
	}
	if topK <= 0 || topK > net.Classes() {
		topK = net.Classes()
	}
	return &Classifier{
		backbone: backbone,
		head:     net,
		Classes:  cp.Metadata.Classes,
		TopK:     topK,
	}, nil
}

// FeatureWidth is the length of the feature vector the head expects.
func (c *Classifier) FeatureWidth() int { return c.head.Inputs() }

// PredictFeatures classifies one bottleneck feature vector.
func (c *Classifier) PredictFeatures(features []float64) (*PredictionResponse, error) {
	if len(features) != c.head.Inputs() {
		return nil, fmt.Errorf("expected %d features, got %d", c.head.Inputs(), len(features))
	}
	probs, err := c.head.Predict(mat.NewDense(1, len(features), features))
	if err != nil {
		return nil, err
	}
	return c.response(probs.RawRowView(0)), nil
}

// PredictImage runs one preprocessed image through the backbone and the head.
func (c *Classifier) PredictImage(pixels []float32) (*PredictionResponse, error) {
	if c.backbone == nil {
		return nil, fmt.Errorf("no backbone loaded")
	}
	c.mu.Lock()
	out, err := c.backbone.Extract(pixels, 1)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	features := make([]float64, len(out))
	for i, v := range out {
		features[i] = float64(v)
	}
	return c.PredictFeatures(features)
}

func (c *Classifier) response(probs []float64) *PredictionResponse {
	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return probs[order[a]] > probs[order[b]] })

	resp := &PredictionResponse{Predictions: make([]Prediction, 0, c.TopK)}
	for _, i := range order[:c.TopK] {
		resp.Predictions = append(resp.Predictions, Prediction{
			Class:       c.Classes[i],
			Index:       i,
			Probability: probs[i],
		})
	}
	resp.Class = resp.Predictions[0].Class
	resp.Confidence = resp.Predictions[0].Probability
	return resp
}
