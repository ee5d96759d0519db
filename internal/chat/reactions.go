package chat

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const maxEmojiLength = 32

func normaliseEmoji(emoji string) (string, error) {
	trimmed := strings.TrimSpace(emoji)
	if trimmed == "" {
		return "", validationError("emoji must not be empty")
	}
	if utf8.RuneCountInString(trimmed) > maxEmojiLength {
		return "", validationError("emoji must be at most 32 characters")
	}
	return trimmed, nil
}

// aggregateReactions folds raw rows into one summary per (message, emoji),
// sorted by emoji. Messages without rows get an empty, non-nil slice.
func aggregateReactions(rows []Reaction, messageIDs []string, viewerID string) map[string][]ReactionSummary {
	type bucket struct {
		count int
		mine  bool
	}
	byMessage := make(map[string]map[string]*bucket, len(messageIDs))
	for _, r := range rows {
		emojis, ok := byMessage[r.MessageID]
		if !ok {
			emojis = make(map[string]*bucket)
			byMessage[r.MessageID] = emojis
		}
		b, ok := emojis[r.Emoji]
		if !ok {
			b = &bucket{}
			emojis[r.Emoji] = b
		}
		b.count++
		if r.UserID == viewerID {
			b.mine = true
		}
	}

	out := make(map[string][]ReactionSummary, len(messageIDs))
	for _, id := range messageIDs {
		summaries := make([]ReactionSummary, 0, len(byMessage[id]))
		for emoji, b := range byMessage[id] {
			summaries = append(summaries, ReactionSummary{Emoji: emoji, Count: b.count, ReactedByCurrentUser: b.mine})
		}
		sort.Slice(summaries, func(i, j int) bool { return summaries[i].Emoji < summaries[j].Emoji })
		out[id] = summaries
	}
	return out
}
