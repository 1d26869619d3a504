package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
	"github.com/Brownie44l1/schisto-cnn/internal/dataset"
	"github.com/Brownie44l1/schisto-cnn/internal/features"
	"github.com/Brownie44l1/schisto-cnn/internal/head"
)

const imageSize = 4

// fakeExtractor emits a one-hot feature per sample, picked from the red value
// of the first pixel (class i is painted with red = 20·i).
type fakeExtractor struct {
	batch   int
	classes int
	calls   int
	rows    int
}

func (f *fakeExtractor) BatchSize() int      { return f.batch }
func (f *fakeExtractor) FeatureShape() []int { return []int{1, 1, f.classes} }

func (f *fakeExtractor) Extract(in []float32, n int) ([]float32, error) {
	sampleLen := 3 * imageSize * imageSize
	if len(in) != n*sampleLen {
		return nil, fmt.Errorf("got %d values for %d samples", len(in), n)
	}
	out := make([]float32, n*f.classes)
	for i := 0; i < n; i++ {
		class := int(math.Round(float64(in[i*sampleLen]) * 255 / 20))
		class = min(max(class, 0), f.classes-1)
		out[i*f.classes+class] = 1
	}
	f.calls++
	f.rows += n
	return out, nil
}

func writePNG(t *testing.T, path string, c color.Color) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// makeSplit writes perClass images for each class, painted by class index.
func makeSplit(t *testing.T, root string, classes, perClass int) {
	for c := 0; c < classes; c++ {
		for i := 0; i < perClass; i++ {
			writePNG(t, filepath.Join(root, fmt.Sprintf("c%02d", c), fmt.Sprintf("img%03d.png", i)),
				color.RGBA{R: uint8(20 * c), A: 255})
		}
	}
}

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.TrainDir = filepath.Join(dir, "training_set")
	cfg.ValidationDir = filepath.Join(dir, "test_set")
	cfg.ArtifactDir = filepath.Join(dir, "artifacts")
	cfg.ImageSize = imageSize
	cfg.Augment = config.Augment{}
	return cfg
}

func eye(n int, scale float64) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, scale)
	}
	return m
}

func TestExtract_HundredSamples(t *testing.T) {
	cfg := testConfig(t)
	makeSplit(t, cfg.TrainDir, 2, 50)

	ext := &fakeExtractor{batch: 32, classes: 2}
	p := New(cfg, nil)
	tensor, err := p.Extract(context.Background(), ext, dataset.NHWC, Train)
	require.NoError(t, err)

	assert.Equal(t, 4, ext.calls)
	assert.Equal(t, 100, ext.rows)
	assert.Equal(t, 100, tensor.Samples)
	rows, cols := tensor.Data.Dims()
	assert.Equal(t, 100, rows)
	assert.Equal(t, 2, cols)
	for i, label := range tensor.Labels {
		assert.Equal(t, 1.0, tensor.Data.At(i, label), "row %d", i)
	}
	assert.True(t, features.Exists(cfg.ArtifactDir, string(Train)))

	cached, err := p.Cached(Train)
	require.NoError(t, err)
	assert.True(t, mat.Equal(tensor.Data, cached.Data))
}

func TestExtract_Errors(t *testing.T) {
	cfg := testConfig(t)
	makeSplit(t, cfg.TrainDir, 2, 3)

	cfg.BatchSize = 64
	_, err := New(cfg, nil).Extract(context.Background(), &fakeExtractor{batch: 32, classes: 2}, dataset.NHWC, Train)
	assert.ErrorIs(t, err, config.ErrConfig)

	cfg.BatchSize = 2
	cfg.ClassNames = config.SnailClasses
	_, err = New(cfg, nil).Extract(context.Background(), &fakeExtractor{batch: 32, classes: 2}, dataset.NHWC, Train)
	assert.ErrorIs(t, err, config.ErrConfig)

	cfg.ClassNames = nil
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(cfg, nil).Extract(ctx, &fakeExtractor{batch: 32, classes: 2}, dataset.NHWC, Train)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunValidate_OnePerClass(t *testing.T) {
	cfg := testConfig(t)
	cfg.ClassNames = config.ParasiteClasses
	makeSplit(t, cfg.ValidationDir, 11, 1)

	p := New(cfg, nil)
	_, err := p.Extract(context.Background(), &fakeExtractor{batch: 32, classes: 11}, dataset.NHWC, Validation)
	require.NoError(t, err)

	net := &head.Network{
		W1: eye(11, 1),
		B1: mat.NewDense(1, 11, nil),
		W2: eye(11, 10),
		B2: mat.NewDense(1, 11, nil),
	}
	cp := head.NewCheckpoint(net, nil, head.CheckpointMetadata{Classes: config.ParasiteClasses})
	require.NoError(t, cp.Save(cfg.Artifact(cfg.WeightsFile)))

	var out bytes.Buffer
	r, err := p.RunValidate(&out)
	require.NoError(t, err)

	assert.Equal(t, 100.0, r.Accuracy)
	assert.Equal(t, 100.0, r.Confusion.Accuracy())
	assert.True(t, mat.Equal(eye(11, 1), r.Confusion.Matrix))
	assert.True(t, mat.Equal(eye(11, 1), r.Normalized))
	assert.Equal(t, config.ParasiteClasses, r.Labels)
	assert.Contains(t, out.String(), "[INFO] accuracy: 100.00%")
	assert.Contains(t, out.String(), "[INFO] Loss: ")
	assert.Contains(t, out.String(), "Accuracy for validation set: 100%")

	for _, name := range []string{"cm.png", "cm_norm.png", "metrics.prom"} {
		_, err := os.Stat(cfg.Artifact(name))
		assert.NoError(t, err, name)
	}
}

func TestRunValidate_CountMismatch(t *testing.T) {
	cfg := testConfig(t)
	makeSplit(t, cfg.ValidationDir, 2, 2)

	// Features for three samples against four images on disk.
	tensor := &features.Tensor{
		Manifest: features.Manifest{
			Split:   string(Validation),
			Samples: 3,
			Shape:   []int{2},
			Classes: []string{"c00", "c01"},
			Labels:  []int{0, 0, 1},
		},
		Data: mat.NewDense(3, 2, nil),
	}
	require.NoError(t, features.Save(cfg.ArtifactDir, tensor))

	_, err := New(cfg, nil).RunValidate(&bytes.Buffer{})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfig)
	_, statErr := os.Stat(cfg.Artifact("cm.png"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunTrain(t *testing.T) {
	cfg := testConfig(t)
	cfg.Augment = config.Default().Augment
	cfg.Epochs = 3
	cfg.BatchSize = 4
	cfg.DenseUnits = 8
	makeSplit(t, cfg.TrainDir, 2, 6)
	makeSplit(t, cfg.ValidationDir, 2, 3)

	ext := &fakeExtractor{batch: 8, classes: 2}
	p := New(cfg, nil)
	var out bytes.Buffer
	r, err := p.RunTrain(context.Background(), ext, dataset.NHWC, &out)
	require.NoError(t, err)
	assert.Equal(t, 18, ext.rows)
	assert.Equal(t, 6, r.Confusion.TotalSamples)
	assert.Contains(t, out.String(), "Accuracy for validation set:")

	for _, name := range []string{
		"bottleneck_features_train.npy", "bottleneck_features_train.json",
		"bottleneck_features_validation.npy", "bottleneck_features_validation.json",
		cfg.WeightsFile, "history_accuracy.png", "history_loss.png",
		"cm.png", "cm_norm.png", "metrics.prom",
	} {
		_, err := os.Stat(cfg.Artifact(name))
		assert.NoError(t, err, name)
	}

	metrics, err := os.ReadFile(cfg.Artifact("metrics.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "schisto_epoch")
	assert.Contains(t, string(metrics), p.Metrics().RunID)

	cp, err := head.LoadCheckpoint(cfg.Artifact(cfg.WeightsFile))
	require.NoError(t, err)
	assert.Equal(t, 3, cp.TrainingState.Epochs)
	assert.Equal(t, []string{"c00", "c01"}, cp.Metadata.Classes)

	cfg.ReuseFeatures = true
	assert.True(t, New(cfg, nil).Reusable())
	reuse := &fakeExtractor{batch: 8, classes: 2}
	_, err = New(cfg, nil).RunTrain(context.Background(), reuse, dataset.NHWC, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Zero(t, reuse.calls)
}

func TestTrain_ClassMismatch(t *testing.T) {
	cfg := testConfig(t)
	a := &features.Tensor{
		Manifest: features.Manifest{Samples: 1, Shape: []int{2}, Classes: []string{"a", "b"}, Labels: []int{0}},
		Data:     mat.NewDense(1, 2, nil),
	}
	b := &features.Tensor{
		Manifest: features.Manifest{Samples: 1, Shape: []int{2}, Classes: []string{"a", "c"}, Labels: []int{0}},
		Data:     mat.NewDense(1, 2, nil),
	}
	_, _, err := New(cfg, nil).Train(context.Background(), a, b)
	assert.ErrorIs(t, err, config.ErrConfig)
}

// saveCache writes a cached split with zero features, one row per label.
func saveCache(t *testing.T, cfg config.Config, split Split, classes []string, labels []int) {
	tensor := &features.Tensor{
		Manifest: features.Manifest{
			Split:   string(split),
			Samples: len(labels),
			Shape:   []int{1, 1, len(classes)},
			Classes: classes,
			Labels:  labels,
		},
		Data: mat.NewDense(len(labels), len(classes), nil),
	}
	require.NoError(t, features.Save(cfg.ArtifactDir, tensor))
}

func TestRunTrain_StaleCacheIsExtractedAgain(t *testing.T) {
	cfg := testConfig(t)
	cfg.Epochs = 1
	cfg.BatchSize = 4
	cfg.DenseUnits = 4
	cfg.ReuseFeatures = true
	makeSplit(t, cfg.TrainDir, 2, 2)
	makeSplit(t, cfg.ValidationDir, 2, 2)
	classes := []string{"c00", "c01"}
	saveCache(t, cfg, Train, classes, []int{0, 0, 1})
	saveCache(t, cfg, Validation, classes, []int{0, 0, 1})

	p := New(cfg, nil)
	assert.False(t, p.Reusable())

	ext := &fakeExtractor{batch: 4, classes: 2}
	_, err := p.RunTrain(context.Background(), ext, dataset.NHWC, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 8, ext.rows)

	cached, err := p.Cached(Train)
	require.NoError(t, err)
	assert.Equal(t, 4, cached.Samples)
	assert.True(t, New(cfg, nil).Reusable())

	cfg.ReuseFeatures = false
	assert.False(t, New(cfg, nil).Reusable())
}

func TestCached_ClassNameMismatch(t *testing.T) {
	cfg := testConfig(t)
	makeSplit(t, cfg.ValidationDir, 2, 2)
	saveCache(t, cfg, Validation, []string{"Bulinus", "Lymnaea"}, []int{0, 0, 1, 1})

	_, err := New(cfg, nil).Cached(Validation)
	assert.ErrorIs(t, err, config.ErrConfig)

	_, err = New(cfg, nil).RunValidate(&bytes.Buffer{})
	assert.ErrorIs(t, err, config.ErrConfig)
}

func TestLoadHead_ClassNameMismatch(t *testing.T) {
	cfg := testConfig(t)
	makeSplit(t, cfg.ValidationDir, 2, 2)

	p := New(cfg, nil)
	val, err := p.Extract(context.Background(), &fakeExtractor{batch: 4, classes: 2}, dataset.NHWC, Validation)
	require.NoError(t, err)

	net := &head.Network{W1: eye(2, 1), B1: mat.NewDense(1, 2, nil), W2: eye(2, 5), B2: mat.NewDense(1, 2, nil)}
	trained := []string{"Bulinus", "Lymnaea"}
	cp := head.NewCheckpoint(net, nil, head.CheckpointMetadata{Classes: trained})
	require.NoError(t, cp.Save(cfg.Artifact(cfg.WeightsFile)))

	_, err = p.LoadHead(val)
	assert.ErrorIs(t, err, config.ErrConfig)

	cfg.ClassNames = trained
	_, err = New(cfg, nil).LoadHead(val)
	assert.NoError(t, err)
}
