package mapping

// Chunking defaults. Adjacent chunks overlap so that any substring of
// length at most (size - overlap) appears wholly in at least one chunk.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// ChunkText splits |text| into overlapping chunks of at most |size|
// characters. A chunk whose last sentence or line boundary falls within its
// final 30% is truncated just after that boundary; otherwise it is cut at
// the hard size.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 || len(text) == 0 {
		return nil
	}
	if overlap >= size {
		overlap = size - 1
	}

	var out []string
	var start = 0
	for start < len(text) {
		var end = start + size
		if end >= len(text) {
			out = append(out, text[start:])
			break
		}

		var cut = end
		if b := lastBoundary(text, start, end); b != -1 && float64(b) > float64(start)+0.7*float64(size) {
			cut = b + 1
		}
		out = append(out, text[start:cut])

		var next = cut - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return out
}

func lastBoundary(text string, start, end int) int {
	for i := end - 1; i > start; i-- {
		if text[i] == '.' || text[i] == '\n' {
			return i
		}
	}
	return -1
}
