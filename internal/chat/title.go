package chat

import (
	"math/rand/v2"
	"strings"
)

var defaultConversationTitles = []string{
	"Coffee Break",
	"Brainstorm Corner",
	"The Lounge",
	"Weekend Plans",
	"Side Quest",
	"Night Owls",
	"Daily Standup",
	"Water Cooler",
}

// TitleResolver picks the title of a new group conversation.
type TitleResolver struct {
	defaults []string
}

func NewTitleResolver() *TitleResolver {
	return &TitleResolver{defaults: defaultConversationTitles}
}

// Resolve returns the trimmed candidate, or a random default when it is missing or blank.
func (t *TitleResolver) Resolve(candidate *string) string {
	if candidate != nil {
		if title := strings.TrimSpace(*candidate); title != "" {
			return title
		}
	}
	return t.defaults[rand.IntN(len(t.defaults))]
}
