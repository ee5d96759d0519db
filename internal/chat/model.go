package chat

import "time"

// ---------------------------------------------
// 🗄️ Database Models
// ---------------------------------------------

// Role is the participant's standing inside a group conversation.
// Only the two declared values are ever persisted.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleMember
}

type Conversation struct {
	ID            string
	Title         *string
	IsGroup       bool
	DirectKey     *string // sorted "a:b" pair, only set for direct conversations
	LastMessageID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Participant struct {
	ConversationID string
	UserID         string
	Role           Role
	JoinedAt       time.Time
	LastReadAt     *time.Time
	Muted          bool
	Banned         bool
}

type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
	ReadAt         *time.Time
}

type Reaction struct {
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt time.Time
}

// ---------------------------------------------
// 📦 API Views
// ---------------------------------------------

// UserSummary is the profile slice the Directory hands back for projections.
type UserSummary struct {
	ID        string  `json:"id"`
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	AvatarURL *string `json:"avatarUrl"`
}

type ParticipantView struct {
	User       UserSummary `json:"user"`
	Role       Role        `json:"role"`
	JoinedAt   time.Time   `json:"joinedAt"`
	LastReadAt *time.Time  `json:"lastReadAt"`
	Muted      bool        `json:"muted"`
	Banned     bool        `json:"banned"`
}

type ConversationView struct {
	ID                 string            `json:"id"`
	Title              *string           `json:"title"`
	IsGroup            bool              `json:"isGroup"`
	LastMessageID      *string           `json:"lastMessageId"`
	LastMessagePreview *string           `json:"lastMessagePreview"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
	Participants       []ParticipantView `json:"participants"`
}

// ReactionSummary is one emoji bucket of a message, always recomputed from stored rows.
type ReactionSummary struct {
	Emoji                string `json:"emoji"`
	Count                int    `json:"count"`
	ReactedByCurrentUser bool   `json:"reactedByCurrentUser"`
}

type MessageView struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	SenderID       string            `json:"senderId"`
	Sender         *UserSummary      `json:"sender,omitempty"`
	Content        string            `json:"content"`
	CreatedAt      time.Time         `json:"createdAt"`
	ReadAt         *time.Time        `json:"readAt"`
	Reactions      []ReactionSummary `json:"reactions"`
}

type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"nextCursor"`
	HasMore    bool    `json:"hasMore"`
}

type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionRemoved ReactionAction = "removed"
)

type ToggleReactionResult struct {
	Action    ReactionAction    `json:"action"`
	MessageID string            `json:"messageId"`
	Emoji     string            `json:"emoji"`
	Reactions []ReactionSummary `json:"reactions"`
}

// ---------------------------------------------
// 📨 Requests
// ---------------------------------------------

type CreateConversationRequest struct {
	Participants []string `json:"participants" validate:"omitempty,dive,max=64"`
	Title        *string  `json:"title" validate:"omitempty,max=120"`
	IsGroup      *bool    `json:"isGroup"`
}

type PageRequest struct {
	Cursor *string
	Take   *int
}

type AddParticipantsRequest struct {
	ParticipantIDs []string `json:"participantIds" validate:"omitempty,dive,max=64"`
}

type SendMessageRequest struct {
	Content string `json:"content" validate:"max=4000"`
}

type ToggleReactionRequest struct {
	Emoji string `json:"emoji"`
}
