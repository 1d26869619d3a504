package head

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
)

const (
	framework = "schisto-cnn"
	version   = "1.0.0"
)

// Checkpoint is the serialized head: weights, the final training state and
// the metadata needed to check it against the features it is applied to.
type Checkpoint struct {
	Weights       []WeightTensor     `json:"weights"`
	TrainingState TrainingState      `json:"training_state"`
	Metadata      CheckpointMetadata `json:"metadata"`
}

// WeightTensor is one parameter matrix in row-major order.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

type TrainingState struct {
	Epochs      int     `json:"epochs"`
	Loss        float64 `json:"loss"`
	Accuracy    float64 `json:"accuracy"`
	ValLoss     float64 `json:"val_loss"`
	ValAccuracy float64 `json:"val_accuracy"`
}

type CheckpointMetadata struct {
	Version      string    `json:"version"`
	Framework    string    `json:"framework"`
	CreatedAt    time.Time `json:"created_at"`
	RunID        string    `json:"run_id,omitempty"`
	Classes      []string  `json:"classes"`
	FeatureShape []int     `json:"feature_shape"`
	Dropout      float64   `json:"dropout"`
}

// NewCheckpoint captures the current parameters of net.
func NewCheckpoint(net *Network, history []EpochMetrics, meta CheckpointMetadata) *Checkpoint {
	cp := &Checkpoint{Metadata: meta}
	for i, p := range net.Params() {
		r, c := p.Dims()
		data := make([]float64, r*c)
		copy(data, mat.DenseCopyOf(p).RawMatrix().Data)
		cp.Weights = append(cp.Weights, WeightTensor{Name: ParamNames[i], Shape: []int{r, c}, Data: data})
	}
	if n := len(history); n > 0 {
		last := history[n-1]
		cp.TrainingState = TrainingState{
			Epochs:      last.Epoch,
			Loss:        last.Loss,
			Accuracy:    last.Accuracy,
			ValLoss:     last.ValLoss,
			ValAccuracy: last.ValAccuracy,
		}
	}
	cp.Metadata.Dropout = net.Dropout
	if cp.Metadata.Framework == "" {
		cp.Metadata.Framework = framework
		cp.Metadata.Version = version
		cp.Metadata.CreatedAt = time.Now()
	}
	return cp
}

// Save writes the checkpoint as indented JSON.
func (cp *Checkpoint) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return file.Close()
}

// LoadCheckpoint reads a checkpoint written by Save.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var cp Checkpoint
	if err := json.NewDecoder(file).Decode(&cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &cp, nil
}

// Network rebuilds the head. Tensor shapes must chain into a valid
// inputs → hidden → classes network.
func (cp *Checkpoint) Network() (*Network, error) {
	if len(cp.Weights) != len(ParamNames) {
		return nil, config.Errorf("checkpoint has %d tensors, expected %d", len(cp.Weights), len(ParamNames))
	}
	ms := make([]*mat.Dense, len(cp.Weights))
	for i, w := range cp.Weights {
		if w.Name != ParamNames[i] {
			return nil, config.Errorf("checkpoint tensor %d is %q, expected %q", i, w.Name, ParamNames[i])
		}
		if len(w.Shape) != 2 || w.Shape[0] <= 0 || w.Shape[1] <= 0 || w.Shape[0]*w.Shape[1] != len(w.Data) {
			return nil, config.Errorf("checkpoint tensor %s has shape %v and %d values", w.Name, w.Shape, len(w.Data))
		}
		ms[i] = mat.NewDense(w.Shape[0], w.Shape[1], w.Data)
	}
	n := &Network{W1: ms[0], B1: ms[1], W2: ms[2], B2: ms[3], Dropout: cp.Metadata.Dropout}

	_, hidden := n.W1.Dims()
	b1r, b1c := n.B1.Dims()
	w2r, classes := n.W2.Dims()
	b2r, b2c := n.B2.Dims()
	if b1r != 1 || b1c != hidden || w2r != hidden || b2r != 1 || b2c != classes {
		return nil, config.Errorf("checkpoint tensor shapes do not chain: %v %v %v %v",
			cp.Weights[0].Shape, cp.Weights[1].Shape, cp.Weights[2].Shape, cp.Weights[3].Shape)
	}
	return n, nil
}
