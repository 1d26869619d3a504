// Package report renders confusion matrices and training curves to image files.
package report

import (
	"fmt"
	"image/color"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/Brownie44l1/schisto-cnn/internal/head"
)

// Size of every saved figure.
var (
	Width  = 8 * vg.Inch
	Height = 6 * vg.Inch
)

// grid adapts a square matrix to plotter.GridXYZ. Row 0 is drawn at the top.
type grid struct {
	m *mat.Dense
	n int
}

func (g grid) Dims() (c, r int) { return g.n, g.n }
func (g grid) Z(c, r int) float64 { return g.m.At(g.n-1-r, c) }
func (g grid) X(c int) float64 { return float64(c) }
func (g grid) Y(r int) float64 { return float64(r) }
func (g grid) value(row, col int) float64 { return g.m.At(row, col) }

func classTicks(labels []string, reversed bool) plot.ConstantTicks {
	ticks := make(plot.ConstantTicks, len(labels))
	for i, l := range labels {
		v := i
		if reversed {
			v = len(labels) - 1 - i
		}
		ticks[i] = plot.Tick{Value: float64(v), Label: l}
	}
	return ticks
}

// ConfusionMatrix draws m as an annotated heat map with true classes on the
// vertical axis. Cells are printed as integers, or with two decimals when
// normalized is set.
func ConfusionMatrix(m *mat.Dense, labels []string, title string, normalized bool, path string) error {
	n, c := m.Dims()
	if n != c || n != len(labels) {
		return fmt.Errorf("confusion matrix is %d×%d for %d labels", n, c, len(labels))
	}
	g := grid{m: m, n: n}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Predicted label"
	p.Y.Label.Text = "True label"
	p.X.Tick.Marker = classTicks(labels, false)
	p.Y.Tick.Marker = classTicks(labels, true)
	p.X.Tick.Label.Rotation = 0.8
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Padding, p.Y.Padding = 0, 0

	heat := plotter.NewHeatMap(g, palette.Heat(32, 1))
	if heat.Max == heat.Min {
		heat.Max = heat.Min + 1
	}
	p.Add(heat)

	threshold := (heat.Max + heat.Min) / 2
	var xys plotter.XYs
	var texts []string
	var colors []color.Color
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			v := g.value(row, col)
			xys = append(xys, plotter.XY{X: float64(col), Y: float64(n - 1 - row)})
			if normalized {
				texts = append(texts, strconv.FormatFloat(v, 'f', 2, 64))
			} else {
				texts = append(texts, strconv.Itoa(int(v)))
			}
			if v > threshold {
				colors = append(colors, color.White)
			} else {
				colors = append(colors, color.Black)
			}
		}
	}
	cells, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: texts})
	if err != nil {
		return fmt.Errorf("failed to label cells: %w", err)
	}
	for i := range cells.TextStyle {
		cells.TextStyle[i].Color = colors[i]
		cells.TextStyle[i].XAlign = draw.XCenter
		cells.TextStyle[i].YAlign = draw.YCenter
	}
	p.Add(cells)

	if err := p.Save(Width, Height, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// History draws the per-epoch accuracy and loss curves, train against
// validation, into two files.
func History(history []head.EpochMetrics, accuracyPath, lossPath string) error {
	if len(history) == 0 {
		return fmt.Errorf("no epochs to plot")
	}
	acc, valAcc := make(plotter.XYs, len(history)), make(plotter.XYs, len(history))
	loss, valLoss := make(plotter.XYs, len(history)), make(plotter.XYs, len(history))
	for i, m := range history {
		x := float64(m.Epoch)
		acc[i] = plotter.XY{X: x, Y: m.Accuracy}
		valAcc[i] = plotter.XY{X: x, Y: m.ValAccuracy}
		loss[i] = plotter.XY{X: x, Y: m.Loss}
		valLoss[i] = plotter.XY{X: x, Y: m.ValLoss}
	}
	if err := curves("Model Accuracy", "Accuracy", acc, valAcc, accuracyPath); err != nil {
		return err
	}
	return curves("Model Loss", "Loss", loss, valLoss, lossPath)
}

func curves(title, ylabel string, train, test plotter.XYs, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = ylabel
	p.Legend.Top = true
	p.Legend.Left = false
	p.Add(plotter.NewGrid())

	if err := plotutil.AddLines(p, "train", train, "test", test); err != nil {
		return fmt.Errorf("failed to add %s curves: %w", ylabel, err)
	}
	if err := p.Save(Width, Height, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
