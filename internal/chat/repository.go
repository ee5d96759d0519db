package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) InTx(ctx context.Context, fn func(q Queries) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&pgQueries{tx: tx})
	})
}

type pgQueries struct {
	tx pgx.Tx
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRecordNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func expectOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ---------------------------------------------
// Conversations
// ---------------------------------------------

const conversationColumns = `c.id, c.title, c.is_group, c.direct_key, c.last_message_id, c.created_at, c.updated_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	c := &Conversation{}
	if err := row.Scan(&c.ID, &c.Title, &c.IsGroup, &c.DirectKey, &c.LastMessageID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	return c, nil
}

func collectConversations(rows pgx.Rows) ([]Conversation, error) {
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (q *pgQueries) InsertConversation(ctx context.Context, c Conversation) error {
	_, err := q.tx.Exec(ctx, `
		INSERT INTO conversations (id, title, is_group, direct_key, last_message_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.Title, c.IsGroup, c.DirectKey, c.LastMessageID, c.CreatedAt, c.UpdatedAt)
	return translate(err)
}

func (q *pgQueries) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return scanConversation(q.tx.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, id))
}

func (q *pgQueries) LockConversation(ctx context.Context, id string) (*Conversation, error) {
	return scanConversation(q.tx.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1 FOR UPDATE`, id))
}

// FindDirectConversation matches a direct conversation whose participant set is exactly userIDs.
func (q *pgQueries) FindDirectConversation(ctx context.Context, userIDs []string) (*Conversation, error) {
	return scanConversation(q.tx.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		WHERE c.is_group = false
		  AND (SELECT count(*) FROM participants p WHERE p.conversation_id = c.id) = $2
		  AND NOT EXISTS (
		      SELECT 1 FROM participants p
		      WHERE p.conversation_id = c.id AND p.user_id <> ALL($1)
		  )
		LIMIT 1
	`, userIDs, len(userIDs)))
}

func (q *pgQueries) ListConversationsForUser(ctx context.Context, userID string, cursor *string, limit int) ([]Conversation, error) {
	rows, err := q.tx.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id AND p.user_id = $1
		WHERE $2::text IS NULL
		   OR (c.updated_at, c.id) <= (SELECT updated_at, id FROM conversations WHERE id = $2)
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT $3
	`, userID, cursor, limit)
	if err != nil {
		return nil, translate(err)
	}
	return collectConversations(rows)
}

func (q *pgQueries) TouchConversation(ctx context.Context, id string, at time.Time) error {
	return expectOne(q.tx.Exec(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, id, at))
}

func (q *pgQueries) SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	return expectOne(q.tx.Exec(ctx,
		`UPDATE conversations SET last_message_id = $2, updated_at = $3 WHERE id = $1`,
		conversationID, messageID, at))
}

// ---------------------------------------------
// Participants
// ---------------------------------------------

const participantColumns = `conversation_id, user_id, role, joined_at, last_read_at, muted, banned`

func scanParticipant(row pgx.Row) (*Participant, error) {
	p := &Participant{}
	var role string
	if err := row.Scan(&p.ConversationID, &p.UserID, &role, &p.JoinedAt, &p.LastReadAt, &p.Muted, &p.Banned); err != nil {
		return nil, translate(err)
	}
	p.Role = Role(role)
	if !p.Role.Valid() {
		return nil, fmt.Errorf("participant %s/%s has unknown role %q", p.ConversationID, p.UserID, role)
	}
	return p, nil
}

func (q *pgQueries) InsertParticipants(ctx context.Context, participants []Participant) (int, error) {
	batch := &pgx.Batch{}
	for _, p := range participants {
		batch.Queue(`
			INSERT INTO participants (conversation_id, user_id, role, joined_at, last_read_at, muted, banned)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (conversation_id, user_id) DO NOTHING
		`, p.ConversationID, p.UserID, string(p.Role), p.JoinedAt, p.LastReadAt, p.Muted, p.Banned)
	}
	results := q.tx.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range participants {
		tag, err := results.Exec()
		if err != nil {
			return inserted, translate(err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (q *pgQueries) ListParticipants(ctx context.Context, conversationIDs []string) (map[string][]Participant, error) {
	rows, err := q.tx.Query(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE conversation_id = ANY($1)
		ORDER BY joined_at ASC, user_id ASC
	`, conversationIDs)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	out := make(map[string][]Participant, len(conversationIDs))
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out[p.ConversationID] = append(out[p.ConversationID], *p)
	}
	return out, rows.Err()
}

func (q *pgQueries) GetParticipant(ctx context.Context, conversationID, userID string) (*Participant, error) {
	return scanParticipant(q.tx.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID))
}

func (q *pgQueries) DeleteParticipant(ctx context.Context, conversationID, userID string) error {
	return expectOne(q.tx.Exec(ctx,
		`DELETE FROM participants WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID))
}

func (q *pgQueries) SetParticipantRole(ctx context.Context, conversationID, userID string, role Role) error {
	return expectOne(q.tx.Exec(ctx,
		`UPDATE participants SET role = $3 WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID, string(role)))
}

// ---------------------------------------------
// Messages
// ---------------------------------------------

const messageColumns = `id, conversation_id, sender_id, content, created_at, read_at`

func scanMessage(row pgx.Row) (*Message, error) {
	m := &Message{}
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt, &m.ReadAt); err != nil {
		return nil, translate(err)
	}
	return m, nil
}

func (q *pgQueries) InsertMessage(ctx context.Context, m Message) error {
	_, err := q.tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at, read_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.ConversationID, m.SenderID, m.Content, m.CreatedAt, m.ReadAt)
	return translate(err)
}

func (q *pgQueries) GetMessage(ctx context.Context, id string) (*Message, error) {
	return scanMessage(q.tx.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

func (q *pgQueries) GetMessagesByIDs(ctx context.Context, ids []string) (map[string]Message, error) {
	rows, err := q.tx.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	out := make(map[string]Message, len(ids))
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out[m.ID] = *m
	}
	return out, rows.Err()
}

func (q *pgQueries) ListMessages(ctx context.Context, conversationID string, cursor *string, limit int) ([]Message, error) {
	rows, err := q.tx.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		  AND ($2::text IS NULL
		       OR (created_at, id) <= (SELECT created_at, id FROM messages WHERE id = $2 AND conversation_id = $1))
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, conversationID, cursor, limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ---------------------------------------------
// Reactions
// ---------------------------------------------

// InsertReaction runs inside a savepoint so a unique violation does not abort the
// surrounding transaction and the caller can still issue the compensating delete.
func (q *pgQueries) InsertReaction(ctx context.Context, r Reaction) error {
	savepoint, err := q.tx.Begin(ctx)
	if err != nil {
		return err
	}
	_, err = savepoint.Exec(ctx, `
		INSERT INTO reactions (message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, $4)
	`, r.MessageID, r.UserID, r.Emoji, r.CreatedAt)
	if err != nil {
		_ = savepoint.Rollback(ctx)
		return translate(err)
	}
	return savepoint.Commit(ctx)
}

func (q *pgQueries) DeleteReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	tag, err := q.tx.Exec(ctx,
		`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji)
	if err != nil {
		return false, translate(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *pgQueries) ListReactions(ctx context.Context, messageIDs []string) ([]Reaction, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	rows, err := q.tx.Query(ctx, `
		SELECT message_id, user_id, emoji, created_at
		FROM reactions
		WHERE message_id = ANY($1)
		ORDER BY emoji ASC, created_at ASC
	`, messageIDs)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
