package model

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
	"github.com/Brownie44l1/schisto-cnn/internal/dataset"
)

// Metadata describes an exported backbone: tensor names, shapes and the
// layout its input expects. InputShape[0] and OutputShape[0] are the batch size.
type Metadata struct {
	InputName   string         `json:"input_name"`
	OutputName  string         `json:"output_name"`
	InputShape  []int64        `json:"input_shape"`
	OutputShape []int64        `json:"output_shape"`
	Layout      dataset.Layout `json:"layout"`
	ImageSize   int            `json:"image_size"`
}

// LoadMetadata reads and checks a backbone metadata file.
func LoadMetadata(path string) (Metadata, error) {
	var metadata Metadata
	metaFile, err := os.ReadFile(path)
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata.InputName == "" {
		metadata.InputName = "input"
	}
	if metadata.OutputName == "" {
		metadata.OutputName = "output"
	}
	if metadata.Layout == "" {
		metadata.Layout = dataset.NHWC
	}
	return metadata, metadata.Check()
}

// Check validates shapes against each other.
func (m Metadata) Check() error {
	if len(m.InputShape) != 4 {
		return config.Errorf("backbone input shape %v is not 4-d", m.InputShape)
	}
	if len(m.OutputShape) < 2 {
		return config.Errorf("backbone output shape %v has no feature dimensions", m.OutputShape)
	}
	if m.InputShape[0] != m.OutputShape[0] {
		return config.Errorf("backbone input batch %d differs from output batch %d",
			m.InputShape[0], m.OutputShape[0])
	}
	if m.Layout != dataset.NHWC && m.Layout != dataset.NCHW {
		return config.Errorf("unknown backbone layout %q", m.Layout)
	}
	h, w, c := m.InputShape[1], m.InputShape[2], m.InputShape[3]
	if m.Layout == dataset.NCHW {
		c, h, w = m.InputShape[1], m.InputShape[2], m.InputShape[3]
	}
	if c != 3 || h != w || (m.ImageSize != 0 && int(h) != m.ImageSize) {
		return config.Errorf("backbone input shape %v does not hold square %d px RGB images",
			m.InputShape, m.ImageSize)
	}
	return nil
}

// BatchSize is the fixed batch the session runs with.
func (m Metadata) BatchSize() int { return int(m.InputShape[0]) }

// InputSize is the side length of the square input images.
func (m Metadata) InputSize() int {
	if m.Layout == dataset.NCHW {
		return int(m.InputShape[2])
	}
	return int(m.InputShape[1])
}

// FeatureShape is the per-sample output shape.
func (m Metadata) FeatureShape() []int {
	shape := make([]int, len(m.OutputShape)-1)
	for i, d := range m.OutputShape[1:] {
		shape[i] = int(d)
	}
	return shape
}

// Prediction is a class with its probability.
type Prediction struct {
	Class       string  `json:"class"`
	Index       int     `json:"index"`
	Probability float64 `json:"probability"`
}

type PredictionRequest struct {
	Features []float64 `json:"features"`
}

type PredictionResponse struct {
	Class       string       `json:"class"`
	Confidence  float64      `json:"confidence"`
	Predictions []Prediction `json:"predictions"`
}
