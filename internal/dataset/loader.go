package dataset

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	_ "github.com/lmittmann/ppm"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
)

// Layout is the memory order of an image tensor.
type Layout string

const (
	NHWC Layout = "NHWC"
	NCHW Layout = "NCHW"
)

const channels = 3

// Interpolation maps a config name to a resize function.
func Interpolation(name string) (resize.InterpolationFunction, error) {
	switch strings.ToLower(name) {
	case "", "nearest":
		return resize.NearestNeighbor, nil
	case "bilinear":
		return resize.Bilinear, nil
	case "bicubic":
		return resize.Bicubic, nil
	case "lanczos3":
		return resize.Lanczos3, nil
	default:
		return 0, config.Errorf("unknown interpolation %q", name)
	}
}

// Loader turns image files into rescaled float32 tensors of a fixed square size.
type Loader struct {
	Size      int
	Layout    Layout
	Interp    resize.InterpolationFunction
	Augment   *Augmenter
	Grayscale bool
}

// SampleLen is the number of values one image occupies.
func (l *Loader) SampleLen() int {
	return channels * l.Size * l.Size
}

// Decode reads and decodes one image file.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// Load decodes the image at path and writes it into dst, which must hold
// SampleLen values. index seeds augmentation.
func (l *Loader) Load(path string, index int, dst []float32) error {
	img, err := Decode(path)
	if err != nil {
		return err
	}
	l.Tensor(img, index, dst)
	return nil
}

// Tensor resizes, optionally augments and rescales img into dst.
func (l *Loader) Tensor(img image.Image, index int, dst []float32) {
	size := uint(l.Size)
	resized := resize.Resize(size, size, img, l.Interp)
	if l.Augment != nil {
		resized = l.Augment.Apply(resized, index)
	}

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			rNorm := float32(r) / 65535.0
			gNorm := float32(g) / 65535.0
			bNorm := float32(b) / 65535.0
			if l.Grayscale {
				lum := 0.299*rNorm + 0.587*gNorm + 0.114*bNorm
				rNorm, gNorm, bNorm = lum, lum, lum
			}

			pixelIndex := y*width + x
			if l.Layout == NCHW {
				dst[pixelIndex] = rNorm
				dst[plane+pixelIndex] = gNorm
				dst[2*plane+pixelIndex] = bNorm
			} else {
				dst[pixelIndex*channels] = rNorm
				dst[pixelIndex*channels+1] = gNorm
				dst[pixelIndex*channels+2] = bNorm
			}
		}
	}
}

// LoadBatch fills buf with the samples of batch b. buf must hold
// b.Len()*SampleLen values.
func (l *Loader) LoadBatch(set *Set, b Batch, buf []float32) error {
	n := l.SampleLen()
	for i := b.Start; i < b.End; i++ {
		off := (i - b.Start) * n
		if err := l.Load(set.Samples[i].Path, i, buf[off:off+n]); err != nil {
			return err
		}
	}
	return nil
}
