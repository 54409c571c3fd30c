// Package storetest checks that a replicache.Store behaves the way
// transactions expect it to.
package storetest

import (
	"testing"

	"github.com/airheartdev/replicache/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// OpenFn returns an empty store. The store is owned by the test.
type OpenFn func(t *testing.T) replicache.Store[string]

func Run(t *testing.T, open OpenFn) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store replicache.Store[string])
	}{
		{
			name: "put_get",
			fn:   testPutGet,
		},
		{
			name: "not_found",
			fn:   testNotFound,
		},
		{
			name: "delete",
			fn:   testDelete,
		},
		{
			name: "range_from_key",
			fn:   testRangeFromKey,
		},
		{
			name: "utf8_order",
			fn:   testUTF8Order,
		},
		{
			name: "transaction_round_trip",
			fn:   testTransactionRoundTrip,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

// Collect drains the entries with key >= fromKey.
func Collect(t *testing.T, store replicache.Store[string], fromKey string) []replicache.Entry[string] {
	t.Helper()

	it, err := store.GetEntries(fromKey)
	require.NoError(t, err)
	defer it.Close() //nolint:errcheck

	entries := []replicache.Entry[string]{}
	for it.Next() {
		entries = append(entries, it.Entry())
	}
	require.NoError(t, it.Err())
	return entries
}

func keys(entries []replicache.Entry[string]) []string {
	ks := make([]string, len(entries))
	for i, e := range entries {
		ks[i] = e.Key
	}
	return ks
}

func testPutGet(t *testing.T, store replicache.Store[string]) {
	require.NoError(t, store.PutEntry("todo/1", "Hello World"))

	val, err := store.GetEntry("todo/1")
	require.NoError(t, err)
	assert.Equal(t, "Hello World", val)

	has, err := store.HasEntry("todo/1")
	require.NoError(t, err)
	assert.True(t, has)

	// Overwrite
	require.NoError(t, store.PutEntry("todo/1", "Another World"))
	val, err = store.GetEntry("todo/1")
	require.NoError(t, err)
	assert.Equal(t, "Another World", val)
}

func testNotFound(t *testing.T, store replicache.Store[string]) {
	_, err := store.GetEntry("missing")
	assert.ErrorIs(t, err, replicache.ErrNotFound)

	has, err := store.HasEntry("missing")
	require.NoError(t, err)
	assert.False(t, has)
}

func testDelete(t *testing.T, store replicache.Store[string]) {
	require.NoError(t, store.PutEntry("delete-test", "to-be-deleted"))
	require.NoError(t, store.DelEntry("delete-test"))

	_, err := store.GetEntry("delete-test")
	assert.ErrorIs(t, err, replicache.ErrNotFound)
	assert.Empty(t, Collect(t, store, ""))

	// Deleting a missing key is not an error
	assert.NoError(t, store.DelEntry("non-existent"))
}

func testRangeFromKey(t *testing.T, store replicache.Store[string]) {
	for _, k := range []string{"d", "a", "c", "b"} {
		require.NoError(t, store.PutEntry(k, "value-"+k))
	}

	all := Collect(t, store, "")
	assert.Equal(t, []string{"a", "b", "c", "d"}, keys(all))
	assert.Equal(t, "value-a", all[0].Value)

	assert.Equal(t, []string{"b", "c", "d"}, keys(Collect(t, store, "b")))
	assert.Equal(t, []string{"c", "d"}, keys(Collect(t, store, "bb")))
	assert.Empty(t, Collect(t, store, "e"))
}

func testUTF8Order(t *testing.T, store replicache.Store[string]) {
	for _, k := range []string{"\U0001D655", "Ｚ", "Z"} {
		require.NoError(t, store.PutEntry(k, k))
	}

	assert.Equal(t, []string{"Z", "Ｚ", "\U0001D655"}, keys(Collect(t, store, "")))
}

func testTransactionRoundTrip(t *testing.T, store replicache.Store[string]) {
	require.NoError(t, store.PutEntry("b", "b"))
	require.NoError(t, store.PutEntry("c", "c"))

	tx := replicache.NewTransaction[string](store, "c1", 1)
	require.NoError(t, tx.Put("a", "a"))
	existed, err := tx.Del("b")
	require.NoError(t, err)
	assert.True(t, existed)

	ks, err := mustScan(t, tx).Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ks)

	require.NoError(t, tx.Flush())
	assert.Equal(t, []string{"a", "c"}, keys(Collect(t, store, "")))

	tx2 := replicache.NewTransaction[string](store, "c1", 2)
	has, err := tx2.Has("b")
	require.NoError(t, err)
	assert.False(t, has)
}

func mustScan(t *testing.T, tx *replicache.Transaction[string]) *replicache.ScanResult[string] {
	t.Helper()
	res, err := tx.Scan(replicache.ScanOptions{})
	require.NoError(t, err)
	return res
}
