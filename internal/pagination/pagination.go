// Package pagination slices ordered post sequences into fixed-size pages.
package pagination

import (
	"strconv"

	"example.com/postfeed/internal/models"
)

const DefaultPageSize = 10

// Paginate returns page number n of seq. Out-of-range numbers are clamped
// to the nearest valid page; an empty sequence is page 1 of 1.
// seq must already be materialized and ordered; it is never re-queried.
func Paginate(seq []models.Post, n, size int) models.Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	total := (len(seq) + size - 1) / size
	if total < 1 {
		total = 1
	}
	if n < 1 {
		n = 1
	}
	if n > total {
		n = total
	}

	start := (n - 1) * size
	end := start + size
	if end > len(seq) {
		end = len(seq)
	}
	items := make([]models.Post, end-start)
	copy(items, seq[start:end])

	return models.Page{
		Items:      items,
		Number:     n,
		TotalPages: total,
		Count:      len(seq),
		HasNext:    n < total,
		HasPrev:    n > 1,
	}
}

// ParsePage converts an untrusted query value into a page number.
// Anything that is not an integer is page 1.
func ParsePage(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 1
	}
	return n
}
