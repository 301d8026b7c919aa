package entkv

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// exerciseDriver runs the backend contract against one Driver instance.
func exerciseDriver(t *testing.T, drv Driver) {
	t.Run("values", func(t *testing.T) {
		_, ok, err := drv.GetValue("Article:1:author")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, drv.SetValue("Article:1:author", "ann"))
		v, ok, err := drv.GetValue("Article:1:author")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "ann", v)

		require.NoError(t, drv.SetValue("Article:1:author", "bob"))
		v, _, err = drv.GetValue("Article:1:author")
		require.NoError(t, err)
		require.Equal(t, "bob", v)

		require.NoError(t, drv.ClearValue("Article:1:author"))
		_, ok, err = drv.GetValue("Article:1:author")
		require.NoError(t, err)
		require.False(t, ok)

		// Clearing an absent key is not an error.
		require.NoError(t, drv.ClearValue("Article:1:author"))
	})

	t.Run("sets", func(t *testing.T) {
		ids, err := drv.GetSet("Author:1:articles")
		require.NoError(t, err)
		require.Empty(t, ids)

		require.NoError(t, drv.AddSet("Author:1:articles", "5", "6"))
		require.NoError(t, drv.AddSet("Author:1:articles", "6", "7")) // re-add is a no-op
		ids, err = drv.GetSet("Author:1:articles")
		require.NoError(t, err)
		sort.Strings(ids)
		require.Equal(t, []string{"5", "6", "7"}, ids)

		require.NoError(t, drv.RemoveSet("Author:1:articles", "6", "9"))
		ids, err = drv.GetSet("Author:1:articles")
		require.NoError(t, err)
		sort.Strings(ids)
		require.Equal(t, []string{"5", "7"}, ids)

		require.NoError(t, drv.ClearSet("Author:1:articles"))
		ids, err = drv.GetSet("Author:1:articles")
		require.NoError(t, err)
		require.Empty(t, ids)
		require.NoError(t, drv.ClearSet("Author:1:articles"))
	})

	t.Run("sorted", func(t *testing.T) {
		key := "Author:1:articles:Words"
		require.NoError(t, drv.AddSorted(key, "5", 300))
		require.NoError(t, drv.AddSorted(key, "6", 100))
		require.NoError(t, drv.AddSorted(key, "7", 200))
		require.NoError(t, drv.AddSorted(key, "8", 200))

		scored, err := drv.GetSorted(key)
		require.NoError(t, err)
		require.Equal(t, []ScoredMember{{"6", 100}, {"7", 200}, {"8", 200}, {"5", 300}}, scored)

		ids, err := drv.RangeSorted(key, 150, 250)
		require.NoError(t, err)
		require.Equal(t, []string{"7", "8"}, ids)

		ids, err = drv.RangeSorted(key, 400, 500)
		require.NoError(t, err)
		require.Empty(t, ids)

		// Re-adding a member replaces its score.
		require.NoError(t, drv.AddSorted(key, "6", 900))
		ids, err = drv.RangeSorted(key, 0, 1000)
		require.NoError(t, err)
		require.Equal(t, []string{"7", "8", "5", "6"}, ids)

		require.NoError(t, drv.RemoveSorted(key, "7", "8"))
		scored, err = drv.GetSorted(key)
		require.NoError(t, err)
		require.Equal(t, []ScoredMember{{"5", 300}, {"6", 900}}, scored)

		require.NoError(t, drv.ClearSorted(key))
		scored, err = drv.GetSorted(key)
		require.NoError(t, err)
		require.Empty(t, scored)
		require.NoError(t, drv.ClearSorted(key))
	})

	t.Run("bodies", func(t *testing.T) {
		body, err := drv.GetBody("Article:5")
		require.NoError(t, err)
		require.Nil(t, body)

		require.NoError(t, drv.SetBody("Article:5", []byte("payload")))
		body, err = drv.GetBody("Article:5")
		require.NoError(t, err)
		require.Equal(t, []byte("payload"), body)

		require.NoError(t, drv.DeleteBody("Article:5"))
		body, err = drv.GetBody("Article:5")
		require.NoError(t, err)
		require.Nil(t, body)
		require.NoError(t, drv.DeleteBody("Article:5"))
	})

	t.Run("isolation", func(t *testing.T) {
		// Same text in different roles must address different state.
		require.NoError(t, drv.SetValue("k", "scalar"))
		require.NoError(t, drv.AddSet("k", "member"))
		require.NoError(t, drv.AddSorted("k", "member", 1))
		require.NoError(t, drv.SetBody("k", []byte("body")))

		v, ok, err := drv.GetValue("k")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "scalar", v)

		ids, err := drv.GetSet("k")
		require.NoError(t, err)
		require.Equal(t, []string{"member"}, ids)

		scored, err := drv.GetSorted("k")
		require.NoError(t, err)
		require.Equal(t, []ScoredMember{{"member", 1}}, scored)

		body, err := drv.GetBody("k")
		require.NoError(t, err)
		require.Equal(t, []byte("body"), body)
	})
}

func TestMemDriver(t *testing.T) {
	drv := NewMemDriver(nil)
	t.Cleanup(func() { require.NoError(t, drv.Close()) })
	exerciseDriver(t, drv)
}

func TestBoltDriver(t *testing.T) {
	drv, err := OpenBoltDriver(filepath.Join(t.TempDir(), "entkv.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, drv.Close()) })
	exerciseDriver(t, drv)
}

func TestBadgerDriver(t *testing.T) {
	drv, err := OpenBadgerDriver("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, drv.Close()) })
	exerciseDriver(t, drv)
}

func TestBoltDriverReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entkv.db")

	drv, err := OpenBoltDriver(path, nil)
	require.NoError(t, err)
	require.NoError(t, drv.SetValue("Article:5:author", "1"))
	require.NoError(t, drv.AddSet("Author:1:articles", "5"))
	require.NoError(t, drv.SetBody("Article:5", []byte("payload")))
	require.NoError(t, drv.Close())

	drv, err = OpenBoltDriver(path, nil)
	require.NoError(t, err)
	defer drv.Close()

	v, ok, err := drv.GetValue("Article:5:author")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)

	ids, err := drv.GetSet("Author:1:articles")
	require.NoError(t, err)
	require.Equal(t, []string{"5"}, ids)

	body, err := drv.GetBody("Article:5")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), body)
}

func TestBadgerDriverOnDisk(t *testing.T) {
	dir := t.TempDir()

	drv, err := OpenBadgerDriver(dir, nil)
	require.NoError(t, err)
	require.NoError(t, drv.AddSorted("Author:1:articles:Words", "5", 300))
	require.NoError(t, drv.Close())

	drv, err = OpenBadgerDriver(dir, nil)
	require.NoError(t, err)
	defer drv.Close()

	scored, err := drv.GetSorted("Author:1:articles:Words")
	require.NoError(t, err)
	require.Equal(t, []ScoredMember{{"5", 300}}, scored)
}
