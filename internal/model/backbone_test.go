package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillInput_ShortBatch(t *testing.T) {
	// session batch of 4 images, 3 values each
	input := make([]float32, 12)
	for i := range input {
		input[i] = -1
	}
	require.NoError(t, fillInput(input, []float32{1, 2, 3, 4, 5, 6}, 2, 4))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 0, 0, 0, 0, 0, 0}, input)

	full := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	require.NoError(t, fillInput(input, full, 4, 4))
	assert.Equal(t, full, input)
}

func TestFillInput_Errors(t *testing.T) {
	input := make([]float32, 12)
	assert.Error(t, fillInput(input, nil, 0, 4))
	assert.Error(t, fillInput(input, make([]float32, 15), 5, 4))
	assert.Error(t, fillInput(input, make([]float32, 5), 2, 4))
}

func TestFirstRows(t *testing.T) {
	// batch of 4 samples with 2 features each
	output := []float32{1, 2, 3, 4, 9, 9, 9, 9}
	assert.Equal(t, []float32{1, 2, 3, 4}, firstRows(output, 2, 4))
	assert.Equal(t, []float32{1, 2}, firstRows(output, 1, 4))
	assert.Len(t, firstRows(output, 4, 4), 8)

	got := firstRows(output, 1, 4)
	got[0] = 100
	assert.Equal(t, float32(1), output[0])
}
