package slotengine

import (
	"bytes"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flaneur2020/amberio/pkg/errs"
	"github.com/flaneur2020/amberio/pkg/metastore"
	"github.com/flaneur2020/amberio/pkg/partstore"
	"github.com/flaneur2020/amberio/pkg/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	meta, err := metastore.Open(dir, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })
	parts := partstore.New(dir, 0)

	e, err := New(0, meta, parts)
	require.NoError(t, err)
	return e
}

func TestCommitHeadAppliesFirstWrite(t *testing.T) {
	e := newTestEngine(t)
	head := types.Head{Kind: types.HeadKindMeta, Meta: &types.MetaHead{Path: "a", Generation: 1}}

	result, err := e.CommitHead("a", head, nil)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, uint64(1), result.Generation)
}

func TestCommitHeadIsIdempotentOnStaleGeneration(t *testing.T) {
	e := newTestEngine(t)
	head1 := types.Head{Kind: types.HeadKindMeta, Meta: &types.MetaHead{Path: "a", Generation: 1}}
	_, err := e.CommitHead("a", head1, nil)
	require.NoError(t, err)

	result, err := e.CommitHead("a", head1, nil)
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, uint64(1), result.Generation)
}

func TestCommitHeadAcceptsHigherGeneration(t *testing.T) {
	e := newTestEngine(t)
	head1 := types.Head{Kind: types.HeadKindMeta, Meta: &types.MetaHead{Path: "a", Generation: 1}}
	head2 := types.Head{Kind: types.HeadKindMeta, Meta: &types.MetaHead{Path: "a", Generation: 2}}
	_, err := e.CommitHead("a", head1, nil)
	require.NoError(t, err)

	result, err := e.CommitHead("a", head2, nil)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, uint64(2), result.Generation)
}

func TestApplyPartRejectsDigestMismatch(t *testing.T) {
	e := newTestEngine(t)
	body := []byte("hello")
	wrongSHA := sha256.Sum256([]byte("not hello"))

	_, err := e.ApplyPart("a", wrongSHA, uint64(len(body)), bytes.NewReader(body))
	assert.ErrorIs(t, err, errs.ErrDigestMismatch)
}

func TestLookupWriteFastPathThenDurable(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.RecordWrite("x", "w1", 1, "etag1", time.Hour))

	gen, etag, ok, err := e.LookupWrite("x", "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), gen)
	assert.Equal(t, "etag1", etag)

	// Fresh engine over the same durable store: LRU is cold, must hit bbolt.
	e2, err := New(0, e.meta, e.parts)
	require.NoError(t, err)
	gen2, etag2, ok2, err := e2.LookupWrite("x", "w1")
	require.NoError(t, err)
	require.True(t, ok2)
	assert.Equal(t, gen, gen2)
	assert.Equal(t, etag, etag2)
}
