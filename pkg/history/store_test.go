package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest runs the same contract tests against both implementations.
func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(":memory:", 20)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(20),
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save("title-a", "ep-1", 340, 1400))

			got, ok := store.Get("title-a")
			require.True(t, ok)
			assert.Equal(t, "ep-1", got.EpisodeID)
			assert.Equal(t, 340.0, got.Position)
			assert.Equal(t, 1400.0, got.Duration)

			_, ok = store.Get("title-b")
			assert.False(t, ok)
		})
	}
}

func TestStore_OneRecordPerTitle(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save("title-a", "ep-1", 100, 1400))
			require.NoError(t, store.Save("title-a", "ep-2", 50, 1400))

			got, ok := store.Get("title-a")
			require.True(t, ok)
			assert.Equal(t, "ep-2", got.EpisodeID)
			assert.Equal(t, 50.0, got.Position)

			list, err := store.List()
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestStore_RemoveAndClear(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save("title-a", "ep-1", 100, 1400))
			require.NoError(t, store.Save("title-b", "ep-1", 200, 1400))

			require.NoError(t, store.Remove("title-a"))
			_, ok := store.Get("title-a")
			assert.False(t, ok)
			_, ok = store.Get("title-b")
			assert.True(t, ok)

			require.NoError(t, store.Clear())
			list, err := store.List()
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestStore_RetentionLimit(t *testing.T) {
	sqlite, err := OpenSQLite(":memory:", 5)
	require.NoError(t, err)
	defer sqlite.Close()

	stores := map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(5),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 8; i++ {
				require.NoError(t, store.Save(fmt.Sprintf("title-%d", i), "ep-1", float64(i), 1400))
			}

			list, err := store.List()
			require.NoError(t, err)
			assert.Len(t, list, 5)

			// The oldest writes were evicted.
			_, ok := store.Get("title-0")
			assert.False(t, ok)
			_, ok = store.Get("title-7")
			assert.True(t, ok)
		})
	}
}
