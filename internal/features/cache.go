// Package features persists bottleneck features, one artifact per split.
// Data is stored as a 2-d NumPy array (samples × flattened feature width) next
// to a JSON manifest carrying the per-sample shape, labels and class names.
package features

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
)

const prefix = "bottleneck_features_"

// Manifest describes a cached feature tensor.
type Manifest struct {
	Split     string    `json:"split"`
	Samples   int       `json:"samples"`
	Shape     []int     `json:"shape"`
	Classes   []string  `json:"classes"`
	Labels    []int     `json:"labels"`
	Files     []string  `json:"files,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Width is the flattened per-sample feature length.
func (m Manifest) Width() int {
	w := 1
	for _, d := range m.Shape {
		w *= d
	}
	return w
}

// Tensor is the full feature set for one split.
type Tensor struct {
	Manifest
	Data *mat.Dense
}

// Paths returns the data and manifest paths for a split under dir.
func Paths(dir, split string) (data, manifest string) {
	base := filepath.Join(dir, prefix+split)
	return base + ".npy", base + ".json"
}

// Exists reports whether both artifacts of a split are present.
func Exists(dir, split string) bool {
	data, manifest := Paths(dir, split)
	if _, err := os.Stat(data); err != nil {
		return false
	}
	_, err := os.Stat(manifest)
	return err == nil
}

// Save writes the tensor for t.Split under dir. Each file is written to a
// temporary name and renamed, so a failed write never leaves a truncated
// artifact behind.
func Save(dir string, t *Tensor) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("could not make dir: %s: %w", dir, err)
	}
	dataPath, manifestPath := Paths(dir, t.Split)

	if err := writeAtomic(dataPath, func(f *os.File) error {
		return npyio.Write(f, t.Data)
	}); err != nil {
		return fmt.Errorf("could not save features %s: %w", dataPath, err)
	}
	if err := writeAtomic(manifestPath, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(t.Manifest)
	}); err != nil {
		return fmt.Errorf("could not save manifest %s: %w", manifestPath, err)
	}

	log.Info().
		Str("split", t.Split).
		Int("samples", t.Samples).
		Ints("shape", t.Shape).
		Str("path", dataPath).
		Msg("saved bottleneck features")
	return nil
}

func writeAtomic(path string, write func(f *os.File) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads the tensor of a split from dir.
func Load(dir, split string) (*Tensor, error) {
	dataPath, manifestPath := Paths(dir, split)

	b, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("could not read manifest %s: %w", manifestPath, err)
	}
	t := &Tensor{}
	if err := json.Unmarshal(b, &t.Manifest); err != nil {
		return nil, fmt.Errorf("could not parse manifest %s: %w", manifestPath, err)
	}

	f, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("could not open features %s: %w", dataPath, err)
	}
	defer f.Close()

	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		return nil, fmt.Errorf("could not read features %s: %w", dataPath, err)
	}
	t.Data = &m

	if err := t.check(); err != nil {
		return nil, err
	}
	log.Debug().Str("split", split).Int("samples", t.Samples).Msg("loaded bottleneck features")
	return t, nil
}

func (t *Tensor) check() error {
	if t.Data == nil {
		return config.Errorf("%s features have no data", t.Split)
	}
	r, c := t.Data.Dims()
	if r != t.Samples {
		return config.Errorf("%s features hold %d samples, manifest says %d", t.Split, r, t.Samples)
	}
	if c != t.Width() {
		return config.Errorf("%s features are %d wide, shape %v needs %d", t.Split, c, t.Shape, t.Width())
	}
	if len(t.Labels) != t.Samples {
		return config.Errorf("%s features have %d labels for %d samples", t.Split, len(t.Labels), t.Samples)
	}
	for i, l := range t.Labels {
		if l < 0 || l >= len(t.Classes) {
			return config.Errorf("%s sample %d has label %d outside %d classes", t.Split, i, l, len(t.Classes))
		}
	}
	return nil
}
