package eval

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Epsilon clips probabilities inside the cross-entropy log.
const Epsilon = 1e-7

// OneHot encodes label as a vector of length classes with a single 1.
func OneHot(label, classes int) []float64 {
	v := make([]float64, classes)
	v[label] = 1
	return v
}

// OneHotMatrix encodes every label as a row.
func OneHotMatrix(labels []int, classes int) *mat.Dense {
	m := mat.NewDense(len(labels), classes, nil)
	for i, l := range labels {
		m.Set(i, l, 1)
	}
	return m
}

// ArgMax returns the index of the largest value, the first one on ties.
func ArgMax(v []float64) int {
	return floats.MaxIdx(v)
}

// ArgMaxRows decodes each row of m.
func ArgMaxRows(m mat.RawMatrixer) []int {
	raw := m.RawMatrix()
	out := make([]int, raw.Rows)
	for i := range out {
		out[i] = ArgMax(raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols])
	}
	return out
}

// CrossEntropy is the mean categorical cross-entropy of probs against one-hot
// targets, with probabilities clipped to [Epsilon, 1-Epsilon].
func CrossEntropy(probs, targets mat.Matrix) float64 {
	r, c := probs.Dims()
	if r == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			y := targets.At(i, j)
			if y == 0 {
				continue
			}
			p := math.Min(math.Max(probs.At(i, j), Epsilon), 1-Epsilon)
			sum -= y * math.Log(p)
		}
	}
	return sum / float64(r)
}

// Accuracy is the percentage of positions where predicted equals truth.
func Accuracy(truth, predicted []int) float64 {
	if len(truth) == 0 {
		return 0
	}
	correct := 0
	for i := range truth {
		if truth[i] == predicted[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(truth)) * 100
}

// ConfusionMatrix counts (true, predicted) pairs; rows are true classes.
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       *mat.Dense
	TotalSamples int
}

func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     mat.NewDense(numClasses, numClasses, nil),
	}
}

// Add records one sample.
func (cm *ConfusionMatrix) Add(trueClass, predClass int) error {
	if trueClass < 0 || trueClass >= cm.NumClasses || predClass < 0 || predClass >= cm.NumClasses {
		return fmt.Errorf("class pair (%d, %d) outside %d classes", trueClass, predClass, cm.NumClasses)
	}
	cm.Matrix.Set(trueClass, predClass, cm.Matrix.At(trueClass, predClass)+1)
	cm.TotalSamples++
	return nil
}

// Confusion builds the matrix for aligned truth and predictions.
func Confusion(truth, predicted []int, numClasses int) (*ConfusionMatrix, error) {
	if len(truth) != len(predicted) {
		return nil, fmt.Errorf("labels length mismatch: %d true, %d predicted", len(truth), len(predicted))
	}
	cm := NewConfusionMatrix(numClasses)
	for i := range truth {
		if err := cm.Add(truth[i], predicted[i]); err != nil {
			return nil, err
		}
	}
	return cm, nil
}

// Count returns the cell (true, predicted).
func (cm *ConfusionMatrix) Count(trueClass, predClass int) int {
	return int(cm.Matrix.At(trueClass, predClass))
}

// Accuracy is trace / total × 100.
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0
	}
	return mat.Trace(cm.Matrix) / float64(cm.TotalSamples) * 100
}

// Normalized divides each row by its sum. Rows without samples stay zero.
func (cm *ConfusionMatrix) Normalized() *mat.Dense {
	n := mat.NewDense(cm.NumClasses, cm.NumClasses, nil)
	for i := 0; i < cm.NumClasses; i++ {
		row := cm.Matrix.RawRowView(i)
		sum := floats.Sum(row)
		if sum == 0 {
			continue
		}
		for j, v := range row {
			n.Set(i, j, v/sum)
		}
	}
	return n
}
