package model

import (
	"fmt"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
)

// Backbone is a frozen convolutional network, exported to ONNX without its
// classification top. It maps an image batch to bottleneck features and is
// never trained.
type Backbone struct {
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewBackbone initializes the ONNX runtime and opens a session on the model.
func NewBackbone(cfg config.Backbone) (*Backbone, error) {
	metadata, err := LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, err
	}

	if cfg.SharedLibrary != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputShape := ort.NewShape(metadata.InputShape...)
	outputShape := ort.NewShape(metadata.OutputShape...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	log.Info().
		Str("model", cfg.ModelPath).
		Ints64("input", metadata.InputShape).
		Ints64("output", metadata.OutputShape).
		Str("layout", string(metadata.Layout)).
		Msg("loaded backbone")

	return &Backbone{
		session:      session,
		Metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (b *Backbone) BatchSize() int { return b.Metadata.BatchSize() }

func (b *Backbone) FeatureShape() []int { return b.Metadata.FeatureShape() }

// Extract runs one batch of n images. batch holds n images back to back; the
// rest of the session input is zeroed, and only the first n feature rows are
// returned.
func (b *Backbone) Extract(batch []float32, n int) ([]float32, error) {
	if err := fillInput(b.inputTensor.GetData(), batch, n, b.BatchSize()); err != nil {
		return nil, err
	}
	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return firstRows(b.outputTensor.GetData(), n, b.BatchSize()), nil
}

// fillInput copies n images into the session input of a fixed batch size and
// zeroes the unused tail.
func fillInput(input, batch []float32, n, size int) error {
	if n <= 0 || n > size {
		return fmt.Errorf("batch of %d images does not fit session batch %d", n, size)
	}
	per := len(input) / size
	if len(batch) != n*per {
		return fmt.Errorf("expected %d input values for %d images, got %d", n*per, n, len(batch))
	}
	copy(input, batch)
	clear(input[len(batch):])
	return nil
}

// firstRows copies the outputs of the first n samples of a batch.
func firstRows(output []float32, n, size int) []float32 {
	rows := len(output) / size
	out := make([]float32, n*rows)
	copy(out, output[:n*rows])
	return out
}

func (b *Backbone) Close() {
	if b.inputTensor != nil {
		b.inputTensor.Destroy()
	}
	if b.outputTensor != nil {
		b.outputTensor.Destroy()
	}
	if b.session != nil {
		b.session.Destroy()
	}
	ort.DestroyEnvironment()
}
