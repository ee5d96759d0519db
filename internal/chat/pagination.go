package chat

import (
	"strings"

	"github.com/samber/lo"
)

const (
	defaultTake          = 20
	maxConversationsTake = 50
	maxMessagesTake      = 100
)

func resolveTake(candidate *int, upper int) int {
	if candidate == nil {
		return defaultTake
	}
	return min(max(*candidate, 1), upper)
}

// paginate trims a take+1 fetch. The extra row, when present, becomes the cursor
// the next page starts at.
func paginate[T any](rows []T, take int, id func(T) string) ([]T, *string, bool) {
	if len(rows) <= take {
		return rows, nil, false
	}
	return rows[:take], lo.ToPtr(id(rows[take])), true
}

func normaliseCursor(cursor *string) *string {
	if cursor == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*cursor)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// collapseWhitespace folds every whitespace run into a single space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
