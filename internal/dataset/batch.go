package dataset

// NumBatches is ceil(samples / size).
func NumBatches(samples, size int) int {
	if size <= 0 || samples <= 0 {
		return 0
	}
	return (samples + size - 1) / size
}

// Batch is a contiguous run of samples, [Start, End).
type Batch struct {
	Index      int
	Start, End int
}

func (b Batch) Len() int { return b.End - b.Start }

// Batches splits n samples into ordered batches of the given size. The last
// batch holds the remainder, so every sample appears exactly once.
func Batches(n, size int) []Batch {
	count := NumBatches(n, size)
	batches := make([]Batch, count)
	for i := range batches {
		start := i * size
		end := start + size
		if end > n {
			end = n
		}
		batches[i] = Batch{Index: i, Start: start, End: end}
	}
	return batches
}
