package dataset

import (
	"image"
	"math"
	"math/rand/v2"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
)

// Augmenter applies a random affine transform (rotation, shear, zoom and
// shift about the image centre) to training images. The transform for a
// sample depends only on the seed and the sample index.
type Augmenter struct {
	cfg  config.Augment
	seed uint64
}

func NewAugmenter(cfg config.Augment, seed uint64) *Augmenter {
	return &Augmenter{cfg: cfg, seed: seed}
}

// Params is one draw of transform parameters. Angles are in degrees, shifts in
// pixels.
type Params struct {
	Rotation, Shear float64
	ZoomX, ZoomY    float64
	ShiftX, ShiftY  float64
}

func uniform(rng *rand.Rand, limit float64) float64 {
	if limit == 0 {
		return 0
	}
	return (2*rng.Float64() - 1) * limit
}

// Params draws the transform for sample index on a w×h image.
func (a *Augmenter) Params(index, w, h int) Params {
	rng := rand.New(rand.NewPCG(a.seed, uint64(index)))
	p := Params{
		Rotation: uniform(rng, a.cfg.Rotation),
		ShiftX:   uniform(rng, a.cfg.WidthShift) * float64(w),
		ShiftY:   uniform(rng, a.cfg.HeightShift) * float64(h),
		Shear:    uniform(rng, a.cfg.Shear),
		ZoomX:    1,
		ZoomY:    1,
	}
	if a.cfg.Zoom != 0 {
		p.ZoomX = 1 + uniform(rng, a.cfg.Zoom)
		p.ZoomY = 1 + uniform(rng, a.cfg.Zoom)
	}
	return p
}

// Matrix returns the source-to-destination affine transform for p, centred on
// a w×h image.
func (p Params) Matrix(w, h int) f64.Aff3 {
	theta := p.Rotation * math.Pi / 180
	shear := p.Shear * math.Pi / 180
	sinT, cosT := math.Sincos(theta)
	sinS, cosS := math.Sincos(shear)

	// rotation * shear * zoom
	a := cosT * p.ZoomX
	b := (-cosT*sinS - sinT*cosS) * p.ZoomY
	d := sinT * p.ZoomX
	e := (-sinT*sinS + cosT*cosS) * p.ZoomY

	cx, cy := float64(w)/2, float64(h)/2
	return f64.Aff3{
		a, b, cx + p.ShiftX - a*cx - b*cy,
		d, e, cy + p.ShiftY - d*cx - e*cy,
	}
}

// Apply returns the augmented copy of img for sample index.
func (a *Augmenter) Apply(img image.Image, index int) image.Image {
	b := img.Bounds()
	return a.Params(index, b.Dx(), b.Dy()).Apply(img)
}

// Apply transforms img by p. Pixels mapped from outside the source take the
// value of the nearest edge pixel, up to one image size away; further out
// they stay black.
func (p Params) Apply(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	margin := max(w, h)
	padded := edgePad(img, margin)

	m := p.Matrix(w, h)
	off := float64(margin)
	m[2] -= (m[0] + m[1]) * off
	m[5] -= (m[3] + m[4]) * off

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Transform(dst, m, padded, padded.Bounds(), draw.Src, nil)
	return dst
}

// edgePad copies img into the centre of a larger canvas and repeats its
// border pixels outwards by margin on every side.
func edgePad(img image.Image, margin int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)

	out := image.NewRGBA(image.Rect(0, 0, w+2*margin, h+2*margin))
	for y := 0; y < h+2*margin; y++ {
		sy := min(max(y-margin, 0), h-1)
		for x := 0; x < w+2*margin; x++ {
			sx := min(max(x-margin, 0), w-1)
			out.SetRGBA(x, y, src.RGBAAt(sx, sy))
		}
	}
	return out
}
