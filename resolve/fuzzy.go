package resolve

import (
	"sort"
	"strings"

	"github.com/adrg/strutil"

	"coinbot.ai/data"
)

// suggest scores every row of the column against text and returns the
// best limit candidates. Equal scores keep table order. Rows whose value
// repeats an earlier row are skipped, so the first row stands for all.
func suggest(t *data.Table, field Field, text string, limit int, metric strutil.StringMetric) []Candidate {
	query := strings.ToLower(strings.TrimSpace(text))
	if t.Len() == 0 || len(query) == 0 || limit <= 0 {
		return nil
	}

	seen := make(map[string]bool, t.Len())
	candidates := make([]Candidate, 0, t.Len())

	for _, c := range t.Coins() {
		v := strings.ToLower(field.value(c))
		if len(v) == 0 || seen[v] {
			continue
		}
		seen[v] = true

		candidates = append(candidates, Candidate{
			Coin:  c,
			Value: v,
			Score: strutil.Similarity(query, v, metric),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}
