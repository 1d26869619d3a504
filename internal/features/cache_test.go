package features

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
)

func sample() *Tensor {
	data := make([]float64, 3*4)
	for i := range data {
		data[i] = float64(i)*0.125 - 0.3
	}
	return &Tensor{
		Manifest: Manifest{
			Split:   "train",
			Samples: 3,
			Shape:   []int{1, 2, 2},
			Classes: []string{"a", "b"},
			Labels:  []int{0, 1, 1},
			Files:   []string{"a/1.png", "b/2.png", "b/3.png"},
		},
		Data: mat.NewDense(3, 4, data),
	}
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	want := sample()
	assert.False(t, Exists(dir, "train"))
	require.NoError(t, Save(dir, want))
	assert.True(t, Exists(dir, "train"))

	got, err := Load(dir, "train")
	require.NoError(t, err)
	assert.Equal(t, want.Manifest.Labels, got.Labels)
	assert.Equal(t, want.Shape, got.Shape)
	assert.Equal(t, want.Classes, got.Classes)
	assert.Equal(t, want.Data.RawMatrix().Data, got.Data.RawMatrix().Data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSave_RejectsInconsistent(t *testing.T) {
	bad := sample()
	bad.Samples = 4
	assert.ErrorIs(t, Save(t.TempDir(), bad), config.ErrConfig)

	bad = sample()
	bad.Shape = []int{5}
	assert.ErrorIs(t, Save(t.TempDir(), bad), config.ErrConfig)

	bad = sample()
	bad.Labels = []int{0, 1, 2}
	assert.ErrorIs(t, Save(t.TempDir(), bad), config.ErrConfig)
}

func TestLoad_ManifestMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(dir, sample()))

	_, manifestPath := Paths(dir, "train")
	m := sample().Manifest
	m.Samples = 2
	m.Labels = m.Labels[:2]
	b, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifestPath, b, 0o644))

	_, err = Load(dir, "train")
	assert.ErrorIs(t, err, config.ErrConfig)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(t.TempDir(), "validation")
	assert.Error(t, err)
}
