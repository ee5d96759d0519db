package chat

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"
)

type reactionKey struct {
	messageID, userID, emoji string
}

// memStore is an in-memory Store. InTx serialises transactions and restores the
// previous state when fn fails, which is enough to observe commit/rollback.
type memStore struct {
	mu            sync.Mutex
	conversations map[string]Conversation
	participants  map[string]map[string]Participant
	messages      map[string]Message
	reactions     map[reactionKey]Reaction

	insertReactionErr    error
	setRoleErr           error
	reactionGoneOnDelete int
	txCount              int
}

func newMemStore() *memStore {
	return &memStore{
		conversations: map[string]Conversation{},
		participants:  map[string]map[string]Participant{},
		messages:      map[string]Message{},
		reactions:     map[reactionKey]Reaction{},
	}
}

type memState struct {
	conversations map[string]Conversation
	participants  map[string]map[string]Participant
	messages      map[string]Message
	reactions     map[reactionKey]Reaction
}

func (s *memStore) snapshot() memState {
	participants := make(map[string]map[string]Participant, len(s.participants))
	for id, members := range s.participants {
		participants[id] = maps.Clone(members)
	}
	return memState{
		conversations: maps.Clone(s.conversations),
		participants:  participants,
		messages:      maps.Clone(s.messages),
		reactions:     maps.Clone(s.reactions),
	}
}

func (s *memStore) restore(state memState) {
	s.conversations = state.conversations
	s.participants = state.participants
	s.messages = state.messages
	s.reactions = state.reactions
}

func (s *memStore) InTx(_ context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	before := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(before)
		return err
	}
	return nil
}

func (s *memStore) InsertConversation(_ context.Context, c Conversation) error {
	if _, ok := s.conversations[c.ID]; ok {
		return fmt.Errorf("%w: conversations_pkey", ErrDuplicate)
	}
	if c.DirectKey != nil {
		for _, existing := range s.conversations {
			if existing.DirectKey != nil && *existing.DirectKey == *c.DirectKey {
				return fmt.Errorf("%w: conversations_direct_key_key", ErrDuplicate)
			}
		}
	}
	s.conversations[c.ID] = c
	return nil
}

func (s *memStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &c, nil
}

func (s *memStore) LockConversation(ctx context.Context, id string) (*Conversation, error) {
	return s.GetConversation(ctx, id)
}

func (s *memStore) FindDirectConversation(_ context.Context, userIDs []string) (*Conversation, error) {
	want := slices.Clone(userIDs)
	sort.Strings(want)
	for _, c := range s.conversations {
		if c.IsGroup {
			continue
		}
		members := slices.Sorted(maps.Keys(s.participants[c.ID]))
		if slices.Equal(members, want) {
			return &c, nil
		}
	}
	return nil, ErrRecordNotFound
}

func conversationBefore(a, b Conversation) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID > b.ID
}

func (s *memStore) ListConversationsForUser(_ context.Context, userID string, cursor *string, limit int) ([]Conversation, error) {
	var rows []Conversation
	for id, members := range s.participants {
		if _, ok := members[userID]; ok {
			rows = append(rows, s.conversations[id])
		}
	}
	sort.Slice(rows, func(i, j int) bool { return conversationBefore(rows[i], rows[j]) })

	if cursor != nil {
		anchor, ok := s.conversations[*cursor]
		if !ok {
			return nil, nil
		}
		rows = slices.DeleteFunc(rows, func(c Conversation) bool { return conversationBefore(c, anchor) })
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *memStore) TouchConversation(_ context.Context, id string, at time.Time) error {
	c, ok := s.conversations[id]
	if !ok {
		return ErrRecordNotFound
	}
	c.UpdatedAt = at
	s.conversations[id] = c
	return nil
}

func (s *memStore) SetLastMessage(_ context.Context, conversationID, messageID string, at time.Time) error {
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrRecordNotFound
	}
	c.LastMessageID = &messageID
	c.UpdatedAt = at
	s.conversations[conversationID] = c
	return nil
}

func (s *memStore) InsertParticipants(_ context.Context, participants []Participant) (int, error) {
	inserted := 0
	for _, p := range participants {
		members, ok := s.participants[p.ConversationID]
		if !ok {
			members = map[string]Participant{}
			s.participants[p.ConversationID] = members
		}
		if _, exists := members[p.UserID]; exists {
			continue
		}
		members[p.UserID] = p
		inserted++
	}
	return inserted, nil
}

func (s *memStore) ListParticipants(_ context.Context, conversationIDs []string) (map[string][]Participant, error) {
	out := map[string][]Participant{}
	for _, id := range conversationIDs {
		rows := slices.Collect(maps.Values(s.participants[id]))
		sort.Slice(rows, func(i, j int) bool {
			if !rows[i].JoinedAt.Equal(rows[j].JoinedAt) {
				return rows[i].JoinedAt.Before(rows[j].JoinedAt)
			}
			return rows[i].UserID < rows[j].UserID
		})
		if len(rows) > 0 {
			out[id] = rows
		}
	}
	return out, nil
}

func (s *memStore) GetParticipant(_ context.Context, conversationID, userID string) (*Participant, error) {
	p, ok := s.participants[conversationID][userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &p, nil
}

func (s *memStore) DeleteParticipant(_ context.Context, conversationID, userID string) error {
	if _, ok := s.participants[conversationID][userID]; !ok {
		return ErrRecordNotFound
	}
	delete(s.participants[conversationID], userID)
	return nil
}

func (s *memStore) SetParticipantRole(_ context.Context, conversationID, userID string, role Role) error {
	if s.setRoleErr != nil {
		return s.setRoleErr
	}
	p, ok := s.participants[conversationID][userID]
	if !ok {
		return ErrRecordNotFound
	}
	p.Role = role
	s.participants[conversationID][userID] = p
	return nil
}

func (s *memStore) InsertMessage(_ context.Context, m Message) error {
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return fmt.Errorf("foreign key violation: conversation %s", m.ConversationID)
	}
	s.messages[m.ID] = m
	return nil
}

func (s *memStore) GetMessage(_ context.Context, id string) (*Message, error) {
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &m, nil
}

func (s *memStore) GetMessagesByIDs(_ context.Context, ids []string) (map[string]Message, error) {
	out := map[string]Message{}
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func messageBefore(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (s *memStore) ListMessages(_ context.Context, conversationID string, cursor *string, limit int) ([]Message, error) {
	var rows []Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			rows = append(rows, m)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return messageBefore(rows[i], rows[j]) })

	if cursor != nil {
		anchor, ok := s.messages[*cursor]
		if !ok || anchor.ConversationID != conversationID {
			return nil, nil
		}
		rows = slices.DeleteFunc(rows, func(m Message) bool { return messageBefore(m, anchor) })
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *memStore) InsertReaction(_ context.Context, r Reaction) error {
	if s.insertReactionErr != nil {
		return s.insertReactionErr
	}
	key := reactionKey{r.MessageID, r.UserID, r.Emoji}
	if _, ok := s.reactions[key]; ok {
		return fmt.Errorf("%w: reactions_message_id_user_id_emoji_key", ErrDuplicate)
	}
	s.reactions[key] = r
	return nil
}

func (s *memStore) DeleteReaction(_ context.Context, messageID, userID, emoji string) (bool, error) {
	key := reactionKey{messageID, userID, emoji}
	_, ok := s.reactions[key]
	delete(s.reactions, key)
	if s.reactionGoneOnDelete > 0 {
		// Another transaction got there first.
		s.reactionGoneOnDelete--
		return false, nil
	}
	return ok, nil
}

func (s *memStore) ListReactions(_ context.Context, messageIDs []string) ([]Reaction, error) {
	var out []Reaction
	for _, r := range s.reactions {
		if slices.Contains(messageIDs, r.MessageID) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ---------------------------------------------
// Directory fake
// ---------------------------------------------

type fakeDirectory struct {
	users map[string]UserSummary
}

func newFakeDirectory(ids ...string) *fakeDirectory {
	d := &fakeDirectory{users: map[string]UserSummary{}}
	for _, id := range ids {
		name := "name-" + id
		d.users[id] = UserSummary{ID: id, Username: &name}
	}
	return d
}

func (d *fakeDirectory) FindExisting(_ context.Context, ids []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, id := range ids {
		if _, ok := d.users[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (d *fakeDirectory) FindUser(_ context.Context, id string) (*UserSummary, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (d *fakeDirectory) FindUsers(_ context.Context, ids []string) (map[string]UserSummary, error) {
	out := map[string]UserSummary{}
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}
