package chat

import (
	"context"
	"sort"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// conversationRows is what one transaction reads for a set of conversations.
// Turning it into views (which needs the Directory) happens after commit.
type conversationRows struct {
	conversations []Conversation
	participants  map[string][]Participant
	previews      map[string]string
}

func loadConversationRows(ctx context.Context, q Queries, conversations []Conversation) (*conversationRows, error) {
	rows := &conversationRows{
		conversations: conversations,
		participants:  map[string][]Participant{},
		previews:      map[string]string{},
	}
	if len(conversations) == 0 {
		return rows, nil
	}

	ids := lo.Map(conversations, func(c Conversation, _ int) string { return c.ID })
	participants, err := q.ListParticipants(ctx, ids)
	if err != nil {
		return nil, err
	}
	rows.participants = participants

	lastMessageIDs := lo.Uniq(lo.FilterMap(conversations, func(c Conversation, _ int) (string, bool) {
		if c.LastMessageID == nil {
			return "", false
		}
		return *c.LastMessageID, true
	}))
	if len(lastMessageIDs) == 0 {
		return rows, nil
	}

	// One batched lookup for the whole page.
	messages, err := q.GetMessagesByIDs(ctx, lastMessageIDs)
	if err != nil {
		return nil, err
	}
	for _, c := range conversations {
		if c.LastMessageID == nil {
			continue
		}
		if m, ok := messages[*c.LastMessageID]; ok {
			rows.previews[c.ID] = collapseWhitespace(m.Content)
		}
	}
	return rows, nil
}

// lookupUsers fetches profiles for display. A directory failure is logged and
// yields no profiles: callers fall back to bare ids, since the rows they decorate
// may already be committed.
func (s *Service) lookupUsers(ctx context.Context, ids []string) map[string]UserSummary {
	if len(ids) == 0 {
		return map[string]UserSummary{}
	}
	users, err := s.directory.FindUsers(ctx, lo.Uniq(ids))
	if err != nil {
		s.log.Warn("user directory lookup failed, projecting bare ids",
			zap.Int("users", len(ids)), zap.Error(err))
		return map[string]UserSummary{}
	}
	return users
}

func (s *Service) project(ctx context.Context, rows *conversationRows) []ConversationView {
	var userIDs []string
	for _, participants := range rows.participants {
		for _, p := range participants {
			userIDs = append(userIDs, p.UserID)
		}
	}
	users := s.lookupUsers(ctx, userIDs)

	views := make([]ConversationView, 0, len(rows.conversations))
	for _, c := range rows.conversations {
		participants := append([]Participant(nil), rows.participants[c.ID]...)
		sort.SliceStable(participants, func(i, j int) bool {
			return participants[i].JoinedAt.Before(participants[j].JoinedAt)
		})

		view := ConversationView{
			ID:            c.ID,
			Title:         c.Title,
			IsGroup:       c.IsGroup,
			LastMessageID: c.LastMessageID,
			CreatedAt:     c.CreatedAt,
			UpdatedAt:     c.UpdatedAt,
			Participants:  make([]ParticipantView, 0, len(participants)),
		}
		if preview, ok := rows.previews[c.ID]; ok {
			view.LastMessagePreview = lo.ToPtr(preview)
		}
		for _, p := range participants {
			user, ok := users[p.UserID]
			if !ok {
				user = UserSummary{ID: p.UserID}
			}
			view.Participants = append(view.Participants, ParticipantView{
				User:       user,
				Role:       p.Role,
				JoinedAt:   p.JoinedAt,
				LastReadAt: p.LastReadAt,
				Muted:      p.Muted,
				Banned:     p.Banned,
			})
		}
		views = append(views, view)
	}
	return views
}

func (s *Service) projectOne(ctx context.Context, rows *conversationRows) *ConversationView {
	return &s.project(ctx, rows)[0]
}
