package chat

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func Test_TitleResolver(t *testing.T) {
	resolver := NewTitleResolver()

	t.Run("should keep a trimmed title", func(t *testing.T) {
		require.Equal(t, "Ops", resolver.Resolve(lo.ToPtr("  Ops ")))
	})

	t.Run("should fall back to a default for missing or blank titles", func(t *testing.T) {
		req := require.New(t)
		for _, candidate := range []*string{nil, lo.ToPtr(""), lo.ToPtr(" \t ")} {
			for range 20 {
				req.Contains(defaultConversationTitles, resolver.Resolve(candidate))
			}
		}
	})
}
