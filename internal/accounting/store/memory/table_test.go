package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
)

func TestTableForkLeavesParentUntouched(t *testing.T) {
	parent := newTable[int64, string]()
	for i := int64(1); i <= 1000; i++ {
		parent.put(i, "v")
	}

	child := parent.fork()
	child.put(7, "changed")
	child.put(2000, "new")
	child.del(8)

	v, ok := parent.get(7)
	require.True(t, ok)
	require.Equal(t, "v", v)
	_, ok = parent.get(2000)
	require.False(t, ok)
	_, ok = parent.get(8)
	require.True(t, ok)
	require.Equal(t, 1000, parent.len())

	v, _ = child.get(7)
	require.Equal(t, "changed", v)
	_, ok = child.get(8)
	require.False(t, ok)
	require.Equal(t, 1000, child.len())

	seen := 0
	for range child.all() {
		seen++
	}
	require.Equal(t, 1000, seen)

	// untouched shards stay shared
	shared := 0
	for i := range shardCount {
		if parent.shards[i] != nil && !child.owned[i] {
			shared++
		}
	}
	require.Greater(t, shared, shardCount/2)
}

func TestLastDigestTracksHighestSequence(t *testing.T) {
	l := New()
	ctx := context.Background()
	repo := l.Journals()

	var digest string
	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx journals.TxRepository) error {
		digest, _ = tx.LastDigest(ctx)
		return nil
	}))
	require.Empty(t, digest)

	insert := func(status journals.JournalStatus, seq int64, d string) {
		require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx journals.TxRepository) error {
			_, err := tx.InsertEntry(ctx, journals.JournalEntry{Status: status, Sequence: seq, Digest: d})
			return err
		}))
	}
	insert(journals.JournalStatusPosted, 1, "d1")
	insert(journals.JournalStatusPosted, 2, "d2")
	insert(journals.JournalStatusDraft, 0, "")

	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx journals.TxRepository) error {
		digest, _ = tx.LastDigest(ctx)
		return nil
	}))
	require.Equal(t, "d2", digest)

	posted, err := repo.List(ctx, journals.ListFilter{Status: journals.JournalStatusPosted, AfterSequence: 1})
	require.NoError(t, err)
	require.Len(t, posted, 1)
	require.Equal(t, int64(2), posted[0].Sequence)
}
