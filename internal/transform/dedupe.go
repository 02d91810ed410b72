package transform

import (
	"sort"
	"time"
)

// candidate pairs a parsed staging row with the ingestion metadata of the raw
// row it came from, so duplicates can be resolved deterministically.
type candidate[T any] struct {
	key        string
	ingestedAt time.Time
	seq        int64
	row        T
}

// latestWins resolves duplicate business keys: for each key the candidate
// with the latest ingestion timestamp survives; equal timestamps (one batch
// insert stamps a whole file with the same time) break by the higher
// ingestion sequence. Output is ordered by key so repeated runs over the same
// raw input produce identical batches.
func latestWins[T any](candidates []candidate[T]) []T {
	best := make(map[string]candidate[T], len(candidates))

	for _, c := range candidates {
		current, seen := best[c.key]
		if !seen {
			best[c.key] = c

			continue
		}

		if c.ingestedAt.After(current.ingestedAt) ||
			(c.ingestedAt.Equal(current.ingestedAt) && c.seq > current.seq) {
			best[c.key] = c
		}
	}

	keys := make([]string, 0, len(best))
	for key := range best {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	rows := make([]T, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, best[key].row)
	}

	return rows
}
