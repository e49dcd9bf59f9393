package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	store, err := NewStoreAt(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)

	t.Run("save and load", func(t *testing.T) {
		in := &Session{ID: "abc", Distribution: "wayneos", Status: "running", StartedAt: time.Now().UTC()}
		require.NoError(t, store.Save(in))

		out, err := store.Load("abc")
		require.NoError(t, err)
		assert.Equal(t, in.ID, out.ID)
		assert.Equal(t, in.Status, out.Status)
		assert.True(t, in.StartedAt.Equal(out.StartedAt))
	})

	t.Run("save overwrites", func(t *testing.T) {
		require.NoError(t, store.Save(&Session{ID: "abc", Status: StatusClosed}))

		out, err := store.Load("abc")
		require.NoError(t, err)
		assert.True(t, out.Closed())
	})

	t.Run("load missing", func(t *testing.T) {
		_, err := store.Load("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list skips junk and sorts by start", func(t *testing.T) {
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, store.Save(&Session{ID: "late", StartedAt: base.Add(time.Hour)}))
		require.NoError(t, store.Save(&Session{ID: "early", StartedAt: base}))
		require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "broken.json"), []byte("{"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "notes.txt"), []byte("x"), 0644))

		sessions, err := store.List()
		require.NoError(t, err)

		ids := make([]string, 0, len(sessions))
		for _, s := range sessions {
			ids = append(ids, s.ID)
		}
		// "abc" was last saved without a start time, so it sorts first.
		assert.Equal(t, []string{"abc", "early", "late"}, ids)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, store.Delete("early"))
		require.NoError(t, store.Delete("early"))

		_, err := store.Load("early")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
