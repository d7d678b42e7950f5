package vectorize

import "strings"

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Chunk splits text into windows of at most size runes. Text of L > size
// runes yields at least ceil(L/(size-overlap)) windows: the remaining text is
// spread evenly over the windows still owed, so no window needs more than
// size runes. Each window ends at the last LineSeparator, newline or space it
// contains (in that order of preference) but never earlier than overlap+1
// runes past its start, and the next window starts exactly overlap runes
// before that end.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	r := []rune(text)
	if len(r) <= size {
		return []string{text}
	}
	step := size - overlap
	want := (len(r) + step - 1) / step

	var out []string
	start := 0
	for {
		end := start + windowSpan(len(r)-overlap-start, want-len(out), size, overlap)
		if end >= len(r) {
			out = append(out, string(r[start:]))
			return out
		}
		cut := boundary(r, start+overlap+1, end)
		out = append(out, string(r[start:cut]))
		start = cut - overlap
	}
}

// windowSpan is the longest window that still leaves rest runes of new text
// coverable by owed windows: ceil(rest/owed)+overlap, capped at size.
func windowSpan(rest, owed, size, overlap int) int {
	if owed < 1 {
		owed = 1
	}
	span := (rest+owed-1)/owed + overlap
	if span > size {
		span = size
	}
	if span < overlap+1 {
		span = overlap + 1
	}
	return span
}

var separators = [][]rune{[]rune(LineSeparator), []rune("\n"), []rune(" ")}

// boundary returns the largest p in [lo, end] such that r[:p] ends with a
// separator, trying separators in preference order, or end when none fits.
func boundary(r []rune, lo, end int) int {
	for _, sep := range separators {
		for p := end; p >= lo && p >= len(sep); p-- {
			if hasSuffixAt(r, p, sep) {
				return p
			}
		}
	}
	return end
}

func hasSuffixAt(r []rune, p int, sep []rune) bool {
	for i := range sep {
		if r[p-len(sep)+i] != sep[i] {
			return false
		}
	}
	return true
}
