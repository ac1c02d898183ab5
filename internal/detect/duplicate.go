package detect

import (
	"context"
	"fmt"
	"math"

	"github.com/Joseda-hg/taskwatch/internal/db"
)

type Searcher interface {
	Search(ctx context.Context, table, text, contextDocument string, topK int) ([]db.SearchMatch, error)
}

// DuplicateChecker compares a candidate against the closest stored task. Every
// stored row counts, including deleted and false-positive ones.
type DuplicateChecker struct {
	searcher  Searcher
	table     string
	threshold float64
}

func NewDuplicateChecker(searcher Searcher, table string, threshold float64) *DuplicateChecker {
	return &DuplicateChecker{searcher: searcher, table: table, threshold: threshold}
}

// IsDuplicate is true iff the nearest neighbour scores strictly above the
// threshold.
func (d *DuplicateChecker) IsDuplicate(ctx context.Context, text, contextDocument string) (bool, error) {
	matches, err := d.searcher.Search(ctx, d.table, text, contextDocument, 1)
	if err != nil {
		return false, fmt.Errorf("duplicate search: %w", err)
	}
	if len(matches) == 0 {
		return false, nil
	}
	return math.Abs(matches[0].CombinedSimilarity) > d.threshold, nil
}
