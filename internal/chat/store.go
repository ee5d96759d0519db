package chat

import (
	"context"
	"time"
)

// Queries is everything the Service asks of persistence. Implementations return
// ErrRecordNotFound for missing single rows and ErrDuplicate for unique violations.
type Queries interface {
	InsertConversation(ctx context.Context, c Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// LockConversation reads the row and holds it until the transaction ends.
	LockConversation(ctx context.Context, id string) (*Conversation, error)
	FindDirectConversation(ctx context.Context, userIDs []string) (*Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string, cursor *string, limit int) ([]Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
	SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error

	// InsertParticipants skips rows that already exist and reports how many were written.
	InsertParticipants(ctx context.Context, participants []Participant) (int, error)
	ListParticipants(ctx context.Context, conversationIDs []string) (map[string][]Participant, error)
	GetParticipant(ctx context.Context, conversationID, userID string) (*Participant, error)
	DeleteParticipant(ctx context.Context, conversationID, userID string) error
	SetParticipantRole(ctx context.Context, conversationID, userID string, role Role) error

	InsertMessage(ctx context.Context, m Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetMessagesByIDs(ctx context.Context, ids []string) (map[string]Message, error)
	ListMessages(ctx context.Context, conversationID string, cursor *string, limit int) ([]Message, error)

	InsertReaction(ctx context.Context, r Reaction) error
	// DeleteReaction reports whether a row was removed.
	DeleteReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	ListReactions(ctx context.Context, messageIDs []string) ([]Reaction, error)
}

// Store runs fn inside one transaction: fn's writes commit together or not at all.
type Store interface {
	InTx(ctx context.Context, fn func(q Queries) error) error
}

//go:generate go run go.uber.org/mock/mockgen -destination=mock_directory_test.go -package=chat -self_package=go-chat/internal/chat go-chat/internal/chat Directory

// Directory answers user-existence and profile questions.
type Directory interface {
	FindExisting(ctx context.Context, ids []string) (map[string]bool, error)
	FindUser(ctx context.Context, id string) (*UserSummary, error)
	FindUsers(ctx context.Context, ids []string) (map[string]UserSummary, error)
}
