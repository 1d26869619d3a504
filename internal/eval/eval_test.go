package eval

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestOneHot_RoundTrip(t *testing.T) {
	for _, classes := range []int{1, 4, 11} {
		for i := 0; i < classes; i++ {
			v := OneHot(i, classes)
			require.Len(t, v, classes)
			assert.Equal(t, 1.0, floats.Sum(v))
			assert.Equal(t, 1.0, v[i])
			assert.Equal(t, i, ArgMax(v))
		}
	}
}

func TestOneHotMatrix(t *testing.T) {
	labels := []int{2, 0, 1, 2}
	m := OneHotMatrix(labels, 3)
	assert.Equal(t, labels, ArgMaxRows(m))
	r, c := m.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, 4.0, mat.Sum(m))
}

func TestCrossEntropy(t *testing.T) {
	probs := mat.NewDense(2, 2, []float64{0.5, 0.5, 1, 0})
	targets := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	want := (-math.Log(0.5) - math.Log(Epsilon)) / 2
	assert.InDelta(t, want, CrossEntropy(probs, targets), 1e-9)
}

func TestConfusion_Properties(t *testing.T) {
	truth := []int{0, 0, 1, 1, 2, 2, 2, 0, 1}
	pred := []int{0, 1, 1, 1, 2, 0, 2, 0, 2}
	cm, err := Confusion(truth, pred, 4)
	require.NoError(t, err)

	assert.Equal(t, len(truth), cm.TotalSamples)
	assert.Equal(t, float64(len(truth)), mat.Sum(cm.Matrix))
	assert.InDelta(t, Accuracy(truth, pred), cm.Accuracy(), 1e-9)
	assert.InDelta(t, mat.Trace(cm.Matrix)/float64(len(truth))*100, Accuracy(truth, pred), 1e-9)
	assert.Equal(t, 2, cm.Count(0, 0))
	assert.Equal(t, 1, cm.Count(2, 0))

	norm := cm.Normalized()
	for i := 0; i < 4; i++ {
		row := norm.RawRowView(i)
		for _, v := range row {
			assert.False(t, math.IsNaN(v))
		}
		if i == 3 {
			assert.Equal(t, 0.0, floats.Sum(row), "class without samples")
			continue
		}
		assert.InDelta(t, 1.0, floats.Sum(row), 1e-12)
	}
}

func TestConfusion_Identity(t *testing.T) {
	labels := make([]int, 11)
	for i := range labels {
		labels[i] = i
	}
	cm, err := Confusion(labels, labels, 11)
	require.NoError(t, err)
	assert.Equal(t, 100.0, cm.Accuracy())
	assert.Equal(t, 100.0, Accuracy(labels, labels))

	ones := make([]float64, 11)
	floats.AddConst(1, ones)
	eye := mat.NewDiagDense(11, ones)
	assert.True(t, mat.Equal(eye, cm.Matrix))
	assert.True(t, mat.Equal(eye, cm.Normalized()))
}

func TestConfusion_Errors(t *testing.T) {
	_, err := Confusion([]int{0, 1}, []int{0}, 2)
	assert.Error(t, err)
	_, err = Confusion([]int{0, 5}, []int{0, 1}, 2)
	assert.Error(t, err)
}
