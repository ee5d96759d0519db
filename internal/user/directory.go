package user

import (
	"context"

	"go-chat/internal/chat"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

type lookup interface {
	FindByIDs(ctx context.Context, ids []string) ([]User, error)
}

type summaryCache interface {
	GetMany(ctx context.Context, ids []string) (map[string]chat.UserSummary, []string, error)
	SetMany(ctx context.Context, summaries []chat.UserSummary) error
}

// Directory answers the chat engine's user questions from the users table, with an
// optional read-through cache in front. Cache failures degrade to the table.
type Directory struct {
	users lookup
	cache summaryCache
	log   *zap.Logger
}

var _ chat.Directory = (*Directory)(nil)

func NewDirectory(users lookup, cache summaryCache, log *zap.Logger) *Directory {
	return &Directory{users: users, cache: cache, log: log}
}

func (d *Directory) FindExisting(ctx context.Context, ids []string) (map[string]bool, error) {
	summaries, err := d.FindUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	return lo.MapValues(summaries, func(_ chat.UserSummary, _ string) bool { return true }), nil
}

func (d *Directory) FindUser(ctx context.Context, id string) (*chat.UserSummary, error) {
	summaries, err := d.FindUsers(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	summary, ok := summaries[id]
	if !ok {
		return nil, nil
	}
	return &summary, nil
}

func (d *Directory) FindUsers(ctx context.Context, ids []string) (map[string]chat.UserSummary, error) {
	ids = lo.Uniq(ids)
	found := make(map[string]chat.UserSummary, len(ids))
	missing := ids

	if d.cache != nil {
		cached, notCached, err := d.cache.GetMany(ctx, ids)
		if err != nil {
			d.log.Warn("user summary cache read failed", zap.Error(err))
		} else {
			found = cached
			missing = notCached
		}
	}
	if len(missing) == 0 {
		return found, nil
	}

	users, err := d.users.FindByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	fresh := lo.Map(users, func(u User, _ int) chat.UserSummary { return toSummary(u) })
	for _, s := range fresh {
		found[s.ID] = s
	}

	if d.cache != nil {
		if err := d.cache.SetMany(ctx, fresh); err != nil {
			d.log.Warn("user summary cache write failed", zap.Error(err))
		}
	}
	return found, nil
}

func toSummary(u User) chat.UserSummary {
	return chat.UserSummary{
		ID:        u.ID,
		Username:  lo.ToPtr(u.Username),
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
	}
}
