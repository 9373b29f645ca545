package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-assistant-go/internal/model"
)

// storeFactory 返回一个空的 Store，hMax 为历史上限。
type storeFactory func(t *testing.T, hMax int) Store

func runStoreSuite(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("defaults for unseen user", func(t *testing.T) {
		s := newStore(t, DefaultHistoryMax)
		h, err := s.History(ctx, "new-user")
		require.NoError(t, err)
		assert.NotNil(t, h)
		assert.Empty(t, h)

		m, err := s.Mode(ctx, "new-user")
		require.NoError(t, err)
		assert.Equal(t, model.ModeText, m)

		st, err := s.Stats(ctx, "new-user")
		require.NoError(t, err)
		assert.Equal(t, model.Stats{}, st)
	})

	t.Run("history is capped and counts user turns", func(t *testing.T) {
		s := newStore(t, 20)
		for i := 1; i <= 25; i++ {
			role := model.RoleUser
			if i%2 == 0 {
				role = model.RoleAssistant
			}
			require.NoError(t, s.AddMessage(ctx, "u1", role, fmt.Sprintf("turn %d", i)))
		}

		h, err := s.History(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, h, 20)
		assert.Equal(t, "turn 6", h[0].Content)
		assert.Equal(t, "turn 25", h[19].Content)
		assert.Equal(t, model.RoleUser, h[19].Role)

		st, err := s.Stats(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(13), st.Messages)
	})

	t.Run("cap holds for every prefix", func(t *testing.T) {
		for _, hMax := range []int{0, 1, 3} {
			s := newStore(t, hMax)
			for i := 0; i < 7; i++ {
				require.NoError(t, s.AddMessage(ctx, "u", model.RoleUser, fmt.Sprint(i)))
				h, err := s.History(ctx, "u")
				require.NoError(t, err)
				assert.LessOrEqual(t, len(h), hMax)
				if hMax > 0 {
					assert.Equal(t, fmt.Sprint(i), h[len(h)-1].Content)
				}
			}
		}
	})

	t.Run("empty content is accepted", func(t *testing.T) {
		s := newStore(t, DefaultHistoryMax)
		require.NoError(t, s.AddMessage(ctx, "u", model.RoleUser, ""))
		h, err := s.History(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, []model.Turn{{Role: model.RoleUser, Content: ""}}, h)
	})

	t.Run("invalid role rejected", func(t *testing.T) {
		s := newStore(t, DefaultHistoryMax)
		err := s.AddMessage(ctx, "u", model.Role("system"), "x")
		assert.True(t, errors.Is(err, ErrInvalidRole))
		h, _ := s.History(ctx, "u")
		assert.Empty(t, h)
	})

	t.Run("clear keeps mode and stats", func(t *testing.T) {
		s := newStore(t, DefaultHistoryMax)
		require.NoError(t, s.SetMode(ctx, "u", model.ModeRAG))
		require.NoError(t, s.AddMessage(ctx, "u", model.RoleUser, "hi"))
		require.NoError(t, s.AddMessage(ctx, "u", model.RoleAssistant, "hello"))
		require.NoError(t, s.IncrementStat(ctx, "u", model.StatDocuments))

		require.NoError(t, s.ClearHistory(ctx, "u"))

		h, _ := s.History(ctx, "u")
		assert.Empty(t, h)
		m, _ := s.Mode(ctx, "u")
		assert.Equal(t, model.ModeRAG, m)
		st, _ := s.Stats(ctx, "u")
		assert.Equal(t, model.Stats{Messages: 1, Documents: 1}, st)
	})

	t.Run("invalid mode leaves mode unchanged", func(t *testing.T) {
		s := newStore(t, DefaultHistoryMax)
		require.NoError(t, s.SetMode(ctx, "u", model.ModeVoice))
		err := s.SetMode(ctx, "u", model.Mode("video"))
		assert.True(t, errors.Is(err, ErrInvalidMode))
		m, _ := s.Mode(ctx, "u")
		assert.Equal(t, model.ModeVoice, m)
	})

	t.Run("unknown stat key is ignored", func(t *testing.T) {
		s := newStore(t, DefaultHistoryMax)
		require.NoError(t, s.IncrementStat(ctx, "u", model.StatKey("stickers")))
		require.NoError(t, s.IncrementStat(ctx, "u", model.StatVoice))
		require.NoError(t, s.IncrementStat(ctx, "u", model.StatImages))
		st, _ := s.Stats(ctx, "u")
		assert.Equal(t, model.Stats{Voice: 1, Images: 1}, st)
	})

	t.Run("assistant turns do not count as messages", func(t *testing.T) {
		s := newStore(t, DefaultHistoryMax)
		require.NoError(t, s.AddMessage(ctx, "u", model.RoleAssistant, "a"))
		st, _ := s.Stats(ctx, "u")
		assert.Equal(t, int64(0), st.Messages)
	})

	t.Run("users are isolated", func(t *testing.T) {
		s := newStore(t, DefaultHistoryMax)
		require.NoError(t, s.AddMessage(ctx, "a", model.RoleUser, "from a"))
		require.NoError(t, s.SetMode(ctx, "a", model.ModeRAG))
		h, _ := s.History(ctx, "b")
		assert.Empty(t, h)
		m, _ := s.Mode(ctx, "b")
		assert.Equal(t, model.ModeText, m)
	})

	t.Run("concurrent writers for one user", func(t *testing.T) {
		s := newStore(t, 1000)
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					_ = s.AddMessage(ctx, "shared", model.RoleUser, fmt.Sprintf("%d-%d", w, i))
				}
			}(w)
		}
		wg.Wait()

		h, err := s.History(ctx, "shared")
		require.NoError(t, err)
		assert.Len(t, h, 200)
		st, _ := s.Stats(ctx, "shared")
		assert.Equal(t, int64(200), st.Messages)
	})
}
