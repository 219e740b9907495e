package segment

// Chunk is a contiguous, half-open range of dataset rows [Start, End).
type Chunk struct {
	Index int `json:"index"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of rows in the chunk.
func (c Chunk) Len() int { return c.End - c.Start }

// Plan splits rows into ordered, non-overlapping chunks of at most size rows.
// A size of zero or less yields a single chunk covering the whole dataset.
func Plan(rows, size int) []Chunk {
	if rows <= 0 {
		return nil
	}
	if size <= 0 || size >= rows {
		return []Chunk{{Index: 0, Start: 0, End: rows}}
	}
	chunks := make([]Chunk, 0, (rows+size-1)/size)
	for start := 0; start < rows; start += size {
		end := start + size
		if end > rows {
			end = rows
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Start: start, End: end})
	}
	return chunks
}
