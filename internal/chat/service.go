package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Service is the conversation manager. It holds no per-call state: every operation
// validates, runs one store transaction and projects the result.
type Service struct {
	store     Store
	directory Directory
	titles    *TitleResolver
	log       *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewService(store Store, directory Directory, titles *TitleResolver, log *zap.Logger) *Service {
	return &Service{
		store:     store,
		directory: directory,
		titles:    titles,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// ---------------------------------------------
// 💬 Lifecycle
// ---------------------------------------------

func (s *Service) CreateConversation(ctx context.Context, creatorID string, req CreateConversationRequest) (*ConversationView, error) {
	participantIDs := normaliseParticipantIDs(req.Participants, creatorID)
	if len(participantIDs) < 2 {
		return nil, validationError("a conversation requires at least two participants")
	}

	isGroup := len(participantIDs) > 2
	if req.IsGroup != nil {
		isGroup = *req.IsGroup
	}
	if !isGroup && len(participantIDs) != 2 {
		return nil, validationError("a direct conversation must include exactly two participants")
	}

	if err := s.assertUsersExist(ctx, participantIDs); err != nil {
		return nil, err
	}

	now := s.now()
	conversation := Conversation{
		ID:        s.newID(),
		IsGroup:   isGroup,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if isGroup {
		conversation.Title = lo.ToPtr(s.titles.Resolve(req.Title))
	} else {
		conversation.DirectKey = lo.ToPtr(directKey(participantIDs))
	}

	participants := make([]Participant, 0, len(participantIDs))
	for i, userID := range participantIDs {
		role := RoleMember
		if isGroup && userID == creatorID {
			role = RoleOwner
		}
		participants = append(participants, Participant{
			ConversationID: conversation.ID,
			UserID:         userID,
			Role:           role,
			JoinedAt:       joinedAt(now, i),
		})
	}

	var snapshot *conversationRows
	err := s.store.InTx(ctx, func(q Queries) error {
		if !isGroup {
			_, err := q.FindDirectConversation(ctx, participantIDs)
			if err == nil {
				return errDirectExists
			}
			if !errors.Is(err, ErrRecordNotFound) {
				return err
			}
		}

		if err := q.InsertConversation(ctx, conversation); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return errDirectExists
			}
			return err
		}
		if _, err := q.InsertParticipants(ctx, participants); err != nil {
			return err
		}

		var err error
		snapshot, err = loadConversationRows(ctx, q, []Conversation{conversation})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("conversation created",
		zap.String("conversation_id", conversation.ID),
		zap.Bool("is_group", isGroup),
		zap.Int("participants", len(participantIDs)))

	return s.projectOne(ctx, snapshot), nil
}

func (s *Service) ListConversations(ctx context.Context, userID string, page PageRequest) (*Page[ConversationView], error) {
	take := resolveTake(page.Take, maxConversationsTake)
	cursor := normaliseCursor(page.Cursor)

	var (
		snapshot   *conversationRows
		nextCursor *string
		hasMore    bool
	)
	err := s.store.InTx(ctx, func(q Queries) error {
		rows, err := q.ListConversationsForUser(ctx, userID, cursor, take+1)
		if err != nil {
			return err
		}
		var items []Conversation
		items, nextCursor, hasMore = paginate(rows, take, func(c Conversation) string { return c.ID })
		snapshot, err = loadConversationRows(ctx, q, items)
		return err
	})
	if err != nil {
		return nil, err
	}

	views := s.project(ctx, snapshot)
	return &Page[ConversationView]{Items: views, NextCursor: nextCursor, HasMore: hasMore}, nil
}

func (s *Service) GetConversation(ctx context.Context, conversationID, userID string) (*ConversationView, error) {
	var snapshot *conversationRows
	err := s.store.InTx(ctx, func(q Queries) error {
		conversation, err := q.GetConversation(ctx, conversationID)
		if err != nil {
			return mapNotFound(err, errConversationNotFound)
		}
		snapshot, err = loadConversationRows(ctx, q, []Conversation{*conversation})
		if err != nil {
			return err
		}
		if findParticipant(snapshot.participants[conversation.ID], userID) == nil {
			return errNoAccess
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.projectOne(ctx, snapshot), nil
}

// ---------------------------------------------
// 👥 Membership
// ---------------------------------------------

func (s *Service) AddParticipants(ctx context.Context, conversationID, requesterID string, candidateIDs []string) (*ConversationView, error) {
	uniqueIDs := extractParticipantIDs(candidateIDs)
	if len(uniqueIDs) == 0 {
		return nil, validationError("provide at least one participant to add")
	}

	// Existence is resolved up front so no directory call runs while the transaction holds a connection.
	existing, err := s.directory.FindExisting(ctx, uniqueIDs)
	if err != nil {
		return nil, err
	}

	var snapshot *conversationRows
	var added []string
	err = s.store.InTx(ctx, func(q Queries) error {
		conversation, participants, requester, err := loadGroupForAction(ctx, q, conversationID, requesterID,
			"cannot add participants to a direct conversation")
		if err != nil {
			return err
		}
		if requester.Role != RoleOwner {
			return forbiddenError("only owners can add participants")
		}

		present := lo.SliceToMap(participants, func(p Participant) (string, bool) { return p.UserID, true })
		added = lo.Filter(uniqueIDs, func(id string, _ int) bool { return !present[id] })
		if len(added) == 0 {
			return conflictError("all supplied participants already belong to the conversation")
		}
		if lo.SomeBy(added, func(id string) bool { return !existing[id] }) {
			return notFoundError("one or more participants could not be found")
		}

		now := s.now()
		rows := lo.Map(added, func(userID string, i int) Participant {
			return Participant{
				ConversationID: conversation.ID,
				UserID:         userID,
				Role:           RoleMember,
				JoinedAt:       joinedAt(now, i),
			}
		})
		if _, err := q.InsertParticipants(ctx, rows); err != nil {
			return err
		}
		if err := q.TouchConversation(ctx, conversation.ID, now); err != nil {
			return err
		}

		refreshed, err := q.GetConversation(ctx, conversation.ID)
		if err != nil {
			return err
		}
		snapshot, err = loadConversationRows(ctx, q, []Conversation{*refreshed})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("participants added",
		zap.String("conversation_id", conversationID),
		zap.String("requester_id", requesterID),
		zap.Strings("added", added))

	return s.projectOne(ctx, snapshot), nil
}

func (s *Service) RemoveParticipant(ctx context.Context, conversationID, requesterID, targetID string) (*ConversationView, error) {
	targetID = strings.TrimSpace(targetID)

	var snapshot *conversationRows
	var promoted string
	err := s.store.InTx(ctx, func(q Queries) error {
		conversation, participants, requester, err := loadGroupForAction(ctx, q, conversationID, requesterID,
			"cannot remove participants from a direct conversation")
		if err != nil {
			return err
		}

		removingSelf := targetID == requester.UserID
		if !removingSelf && requester.Role != RoleOwner {
			return forbiddenError("only owners can remove other participants")
		}

		target := findParticipant(participants, targetID)
		if target == nil {
			return notFoundError("participant not found")
		}

		if target.Role == RoleOwner {
			promoted = resolveNextOwner(participants, targetID)
		}

		if err := q.DeleteParticipant(ctx, conversation.ID, targetID); err != nil {
			return err
		}
		if promoted != "" {
			if err := q.SetParticipantRole(ctx, conversation.ID, promoted, RoleOwner); err != nil {
				return err
			}
		}

		now := s.now()
		if err := q.TouchConversation(ctx, conversation.ID, now); err != nil {
			return err
		}

		refreshed, err := q.GetConversation(ctx, conversation.ID)
		if err != nil {
			return err
		}
		snapshot, err = loadConversationRows(ctx, q, []Conversation{*refreshed})
		return err
	})
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("conversation_id", conversationID),
		zap.String("requester_id", requesterID),
		zap.String("target_id", targetID),
	}
	if promoted != "" {
		fields = append(fields, zap.String("promoted_owner", promoted))
	}
	s.log.Info("participant removed", fields...)

	return s.projectOne(ctx, snapshot), nil
}

// ---------------------------------------------
// ✉️ Messaging
// ---------------------------------------------

func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, content string) (*MessageView, error) {
	var message Message
	err := s.store.InTx(ctx, func(q Queries) error {
		conversation, err := q.GetConversation(ctx, conversationID)
		if err != nil {
			return mapNotFound(err, errConversationNotFound)
		}
		if err := assertParticipant(ctx, q, conversation.ID, senderID); err != nil {
			return err
		}

		trimmed := strings.TrimSpace(content)
		if trimmed == "" {
			return validationError("message content must not be empty")
		}

		now := s.now()
		message = Message{
			ID:             s.newID(),
			ConversationID: conversation.ID,
			SenderID:       senderID,
			Content:        trimmed,
			CreatedAt:      now,
		}
		if err := q.InsertMessage(ctx, message); err != nil {
			return err
		}
		return q.SetLastMessage(ctx, conversation.ID, message.ID, now)
	})
	if err != nil {
		return nil, err
	}

	view := toMessageView(message, nil)
	view.Sender = s.lookupSender(ctx, senderID)
	return &view, nil
}

func (s *Service) ListMessages(ctx context.Context, conversationID, userID string, page PageRequest) (*Page[MessageView], error) {
	take := resolveTake(page.Take, maxMessagesTake)
	cursor := normaliseCursor(page.Cursor)

	var (
		messages   []Message
		reactions  map[string][]ReactionSummary
		nextCursor *string
		hasMore    bool
	)
	err := s.store.InTx(ctx, func(q Queries) error {
		conversation, err := q.GetConversation(ctx, conversationID)
		if err != nil {
			return mapNotFound(err, errConversationNotFound)
		}
		if err := assertParticipant(ctx, q, conversation.ID, userID); err != nil {
			return err
		}

		rows, err := q.ListMessages(ctx, conversation.ID, cursor, take+1)
		if err != nil {
			return err
		}
		messages, nextCursor, hasMore = paginate(rows, take, func(m Message) string { return m.ID })

		ids := lo.Map(messages, func(m Message, _ int) string { return m.ID })
		reactionRows, err := q.ListReactions(ctx, ids)
		if err != nil {
			return err
		}
		reactions = aggregateReactions(reactionRows, ids, userID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	senderIDs := lo.Uniq(lo.Map(messages, func(m Message, _ int) string { return m.SenderID }))
	senders := s.lookupUsers(ctx, senderIDs)

	items := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		view := toMessageView(m, reactions[m.ID])
		if sender, ok := senders[m.SenderID]; ok {
			view.Sender = &sender
		}
		items = append(items, view)
	}
	return &Page[MessageView]{Items: items, NextCursor: nextCursor, HasMore: hasMore}, nil
}

// ---------------------------------------------
// 👍 Reactions
// ---------------------------------------------

// ToggleReaction adds the caller's emoji or removes it if already present. The
// unique (message, user, emoji) constraint arbitrates concurrent toggles: an insert
// that loses the race turns into the delete.
func (s *Service) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (*ToggleReactionResult, error) {
	result := &ToggleReactionResult{MessageID: messageID}
	err := s.store.InTx(ctx, func(q Queries) error {
		message, err := q.GetMessage(ctx, messageID)
		if err != nil {
			return mapNotFound(err, errMessageNotFound)
		}
		if err := assertParticipant(ctx, q, message.ConversationID, userID); err != nil {
			return err
		}

		normalised, err := normaliseEmoji(emoji)
		if err != nil {
			return err
		}
		result.Emoji = normalised

		result.Action, err = toggleReaction(ctx, q, Reaction{
			MessageID: message.ID,
			UserID:    userID,
			Emoji:     normalised,
			CreatedAt: s.now(),
		})
		if err != nil {
			return err
		}

		rows, err := q.ListReactions(ctx, []string{message.ID})
		if err != nil {
			return err
		}
		result.Reactions = aggregateReactions(rows, []string{message.ID}, userID)[message.ID]
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("reaction toggled",
		zap.String("message_id", messageID),
		zap.String("user_id", userID),
		zap.String("action", string(result.Action)))

	return result, nil
}

// ---------------------------------------------
// 🔧 Helpers
// ---------------------------------------------

var errDirectExists = conflictError("a direct conversation between these users already exists")

// lookupSender resolves the profile shown with a message that is already stored.
func (s *Service) lookupSender(ctx context.Context, senderID string) *UserSummary {
	sender, err := s.directory.FindUser(ctx, senderID)
	if err != nil {
		s.log.Warn("sender lookup failed, projecting bare id",
			zap.String("sender_id", senderID), zap.Error(err))
		return &UserSummary{ID: senderID}
	}
	return sender
}

func (s *Service) assertUsersExist(ctx context.Context, ids []string) error {
	existing, err := s.directory.FindExisting(ctx, ids)
	if err != nil {
		return err
	}
	if lo.SomeBy(ids, func(id string) bool { return !existing[id] }) {
		return notFoundError("one or more participants could not be found")
	}
	return nil
}

func loadGroupForAction(ctx context.Context, q Queries, conversationID, requesterID, directMessage string) (*Conversation, []Participant, *Participant, error) {
	conversation, err := q.LockConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, nil, mapNotFound(err, errConversationNotFound)
	}
	if !conversation.IsGroup {
		return nil, nil, nil, validationError(directMessage)
	}

	byConversation, err := q.ListParticipants(ctx, []string{conversation.ID})
	if err != nil {
		return nil, nil, nil, err
	}
	participants := byConversation[conversation.ID]

	requester := findParticipant(participants, requesterID)
	if requester == nil {
		return nil, nil, nil, errNoAccess
	}
	return conversation, participants, requester, nil
}

func assertParticipant(ctx context.Context, q Queries, conversationID, userID string) error {
	if _, err := q.GetParticipant(ctx, conversationID, userID); err != nil {
		return mapNotFound(err, errNotParticipant)
	}
	return nil
}

func mapNotFound(err, replacement error) error {
	if errors.Is(err, ErrRecordNotFound) {
		return replacement
	}
	return err
}

func findParticipant(participants []Participant, userID string) *Participant {
	for i := range participants {
		if participants[i].UserID == userID {
			return &participants[i]
		}
	}
	return nil
}

// resolveNextOwner returns the longest-tenured remaining participant, or "" when an
// owner remains or nobody is left.
func resolveNextOwner(participants []Participant, departingUserID string) string {
	remaining := lo.Filter(participants, func(p Participant, _ int) bool { return p.UserID != departingUserID })
	if len(remaining) == 0 || lo.SomeBy(remaining, func(p Participant) bool { return p.Role == RoleOwner }) {
		return ""
	}
	next := lo.MinBy(remaining, func(a, b Participant) bool {
		if a.JoinedAt.Equal(b.JoinedAt) {
			return a.UserID < b.UserID
		}
		return a.JoinedAt.Before(b.JoinedAt)
	})
	return next.UserID
}

// normaliseParticipantIDs trims and dedupes ids and makes sure the creator is a member.
// The creator is placed first so it is also the longest-tenured participant.
func normaliseParticipantIDs(participants []string, creatorID string) []string {
	ids := extractParticipantIDs(participants)
	ids = lo.Without(ids, creatorID)
	return append([]string{creatorID}, ids...)
}

func extractParticipantIDs(participants []string) []string {
	trimmed := lo.FilterMap(participants, func(id string, _ int) (string, bool) {
		id = strings.TrimSpace(id)
		return id, id != ""
	})
	return lo.Uniq(trimmed)
}

// toggleReaction flips one (message, user, emoji) row. A delete that finds nothing
// means a concurrent toggle removed the row first, so the insert is tried again.
func toggleReaction(ctx context.Context, q Queries, r Reaction) (ReactionAction, error) {
	for range maxToggleAttempts {
		err := q.InsertReaction(ctx, r)
		if err == nil {
			return ReactionAdded, nil
		}
		if !errors.Is(err, ErrDuplicate) {
			return "", err
		}
		deleted, err := q.DeleteReaction(ctx, r.MessageID, r.UserID, r.Emoji)
		if err != nil {
			return "", err
		}
		if deleted {
			return ReactionRemoved, nil
		}
	}
	return "", fmt.Errorf("reaction on message %s did not settle after %d attempts", r.MessageID, maxToggleAttempts)
}

const maxToggleAttempts = 5

// directKey identifies the pair of a direct conversation. Each id is length
// prefixed so ids containing the separator cannot collide.
func directKey(userIDs []string) string {
	sorted := append([]string(nil), userIDs...)
	sort.Strings(sorted)
	var b strings.Builder
	for _, id := range sorted {
		b.WriteString(strconv.Itoa(len(id)))
		b.WriteByte(':')
		b.WriteString(id)
	}
	return b.String()
}

// joinedAt spaces rows inserted together by one microsecond so their tenure order
// survives the store's timestamp precision.
func joinedAt(base time.Time, index int) time.Time {
	return base.Add(time.Duration(index) * time.Microsecond)
}

func toMessageView(m Message, reactions []ReactionSummary) MessageView {
	if reactions == nil {
		reactions = []ReactionSummary{}
	}
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		ReadAt:         m.ReadAt,
		Reactions:      reactions,
	}
}
