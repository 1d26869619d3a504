package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrConfig marks configuration errors: mismatched class counts, missing
// directories, incompatible cached shapes. They are always fatal.
var ErrConfig = errors.New("configuration error")

// Errorf wraps a formatted message with ErrConfig.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

type Augment struct {
	Shear       float64 `yaml:"shear"`
	Zoom        float64 `yaml:"zoom"`
	Rotation    float64 `yaml:"rotation"`
	WidthShift  float64 `yaml:"width_shift"`
	HeightShift float64 `yaml:"height_shift"`
}

// Enabled reports whether any augmentation range is non-zero.
func (a Augment) Enabled() bool {
	return a.Shear != 0 || a.Zoom != 0 || a.Rotation != 0 || a.WidthShift != 0 || a.HeightShift != 0
}

type Backbone struct {
	ModelPath     string `yaml:"model_path"`
	MetadataPath  string `yaml:"metadata_path"`
	SharedLibrary string `yaml:"shared_library"`
}

type Server struct {
	Port      string `yaml:"port"`
	TopK      int    `yaml:"top_k"`
	Grayscale bool   `yaml:"grayscale"`
}

// Config is passed explicitly to every stage of the pipeline.
type Config struct {
	TrainDir      string   `yaml:"train_dir"`
	ValidationDir string   `yaml:"validation_dir"`
	ArtifactDir   string   `yaml:"artifact_dir"`
	WeightsFile   string   `yaml:"weights_file"`
	ClassNames    []string `yaml:"-"`
	ClassPreset   string   `yaml:"-"`

	ImageSize     int     `yaml:"image_size"`
	Interpolation string  `yaml:"interpolation"`
	Epochs        int     `yaml:"epochs"`
	BatchSize     int     `yaml:"batch_size"`
	Dropout       float64 `yaml:"dropout"`
	DenseUnits    int     `yaml:"dense_units"`
	Augment       Augment `yaml:"augment"`
	Seed          uint64  `yaml:"seed"`

	ReuseFeatures bool   `yaml:"reuse_features"`
	LogLevel      string `yaml:"log_level"`

	Backbone Backbone `yaml:"backbone"`
	Server   Server   `yaml:"server"`
}

// Default returns the stock training configuration.
func Default() Config {
	return Config{
		TrainDir:      "dataset/training_set",
		ValidationDir: "dataset/test_set",
		ArtifactDir:   ".",
		WeightsFile:   "bottleneck_fc_model.json",
		ImageSize:     64,
		Interpolation: "nearest",
		Epochs:        40,
		BatchSize:     32,
		Dropout:       0.55,
		DenseUnits:    256,
		Augment: Augment{
			Shear:       0.2,
			Zoom:        0.2,
			Rotation:    30,
			WidthShift:  0.2,
			HeightShift: 0.2,
		},
		Seed:     1,
		LogLevel: "info",
		Backbone: Backbone{
			ModelPath:    filepath.Join("models", "vgg16_notop.onnx"),
			MetadataPath: filepath.Join("models", "vgg16_notop.json"),
		},
		Server: Server{
			Port: "8080",
			TopK: 4,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, c.Validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return c, c.Validate()
}

// UnmarshalYAML accepts class_names either as a preset name or as a list.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	if err := value.Decode((*plain)(c)); err != nil {
		return err
	}
	var raw struct {
		ClassNames yaml.Node `yaml:"class_names"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch raw.ClassNames.Kind {
	case 0:
	case yaml.ScalarNode:
		if raw.ClassNames.Tag == "!!null" {
			break
		}
		names, ok := Presets[raw.ClassNames.Value]
		if !ok {
			return Errorf("unknown class preset %q", raw.ClassNames.Value)
		}
		c.ClassPreset = raw.ClassNames.Value
		c.ClassNames = names
	case yaml.SequenceNode:
		var names []string
		if err := raw.ClassNames.Decode(&names); err != nil {
			return err
		}
		c.ClassNames = names
	default:
		return Errorf("class_names must be a preset name or a list")
	}
	return nil
}

// Validate checks the value ranges every stage relies on.
func (c Config) Validate() error {
	switch {
	case c.ImageSize <= 0:
		return Errorf("image_size must be positive, got %d", c.ImageSize)
	case c.BatchSize <= 0:
		return Errorf("batch_size must be positive, got %d", c.BatchSize)
	case c.Epochs <= 0:
		return Errorf("epochs must be positive, got %d", c.Epochs)
	case c.DenseUnits <= 0:
		return Errorf("dense_units must be positive, got %d", c.DenseUnits)
	case c.Dropout < 0 || c.Dropout >= 1:
		return Errorf("dropout must be in [0, 1), got %g", c.Dropout)
	case c.Augment.Zoom < 0 || c.Augment.Zoom >= 1:
		return Errorf("augment.zoom must be in [0, 1), got %g", c.Augment.Zoom)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// Level returns the parsed log level, defaulting to info.
func (c Config) Level() zerolog.Level {
	l, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// Artifact returns the path of a named artifact under ArtifactDir.
func (c Config) Artifact(name string) string {
	return filepath.Join(c.ArtifactDir, name)
}

// CheckClasses fails when configured class names disagree with the classes
// discovered on disk.
func (c Config) CheckClasses(discovered []string) error {
	if len(c.ClassNames) == 0 {
		return nil
	}
	if len(c.ClassNames) != len(discovered) {
		return Errorf("%d class names configured but %d classes discovered %v",
			len(c.ClassNames), len(discovered), discovered)
	}
	return nil
}

// Labels returns the display names for the discovered classes.
func (c Config) Labels(discovered []string) []string {
	if len(c.ClassNames) == len(discovered) {
		return c.ClassNames
	}
	return discovered
}
