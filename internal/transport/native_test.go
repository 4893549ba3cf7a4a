package transport

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/core/objects"
	"github.com/libravcs/libra/internal/pack"
	"github.com/libravcs/libra/internal/protocol"
	"github.com/libravcs/libra/internal/protocol/sideband"
	"github.com/libravcs/libra/internal/store"
)

// remoteFixture is a populated native remote: two commits on main, each with
// one file under a subdirectory.
type remoteFixture struct {
	dbPath  string
	root    hash.Hash
	tip     hash.Hash
	blobTip hash.Hash
}

func buildRemote(t *testing.T) *remoteFixture {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, store.DBName)
	s, err := store.Init(dbPath, hash.SHA1)
	require.NoError(t, err)
	defer s.Close()

	sig := objects.Signature{Name: "t", Email: "t@example.com", When: time.Unix(1700000000, 0).UTC()}

	commitWith := func(contents string, when time.Time, parents ...hash.Hash) (hash.Hash, hash.Hash) {
		blobID, err := s.PutObject(objects.TypeBlob, []byte(contents))
		require.NoError(t, err)

		sub := objects.NewTree(hash.SHA1)
		require.NoError(t, sub.AddEntry(objects.ModeBlob, "file.txt", blobID))
		subData, err := sub.Serialize()
		require.NoError(t, err)
		subID, err := s.PutObject(objects.TypeTree, subData)
		require.NoError(t, err)

		top := objects.NewTree(hash.SHA1)
		require.NoError(t, top.AddEntry(objects.ModeTree, "docs", subID))
		topData, err := top.Serialize()
		require.NoError(t, err)
		topID, err := s.PutObject(objects.TypeTree, topData)
		require.NoError(t, err)

		csig := sig
		csig.When = when
		c := objects.NewCommit(hash.SHA1, topID, parents, csig, csig, "add "+contents+"\n")
		cData, err := c.Serialize()
		require.NoError(t, err)
		cID, err := s.PutObject(objects.TypeCommit, cData)
		require.NoError(t, err)
		return cID, blobID
	}

	root, _ := commitWith("one", time.Unix(1700000000, 0).UTC())
	tip, blobTip := commitWith("two", time.Unix(1700001000, 0).UTC(), root)

	require.NoError(t, s.SetRef("refs/heads/main", tip))

	return &remoteFixture{dbPath: dbPath, root: root, tip: tip, blobTip: blobTip}
}

func fetchAndScan(t *testing.T, c Client, want, have []hash.Hash, depth int) []pack.Entry {
	t.Helper()
	stream, err := c.FetchObjects(context.Background(), want, have, depth)
	require.NoError(t, err)
	defer stream.Close()

	packBytes, err := sideband.Demux(stream, hash.SHA1, io.Discard, io.Discard)
	require.NoError(t, err)
	if packBytes == nil {
		return nil
	}

	entries, _, err := pack.Scan(packBytes, hash.SHA1)
	require.NoError(t, err)
	return entries
}

func countTypes(entries []pack.Entry) map[objects.ObjectType]int {
	counts := make(map[objects.ObjectType]int)
	for _, e := range entries {
		counts[e.Type]++
	}
	return counts
}

func TestNativeDiscover(t *testing.T) {
	fx := buildRemote(t)
	c, err := NewNativeClient(fx.dbPath, hash.SHA1)
	require.NoError(t, err)
	defer c.Close()

	d, err := c.Discover(context.Background(), protocol.UploadPackService)
	require.NoError(t, err)

	assert.Contains(t, d.Capabilities, "side-band-64k")
	assert.Contains(t, d.Capabilities, "object-format=sha1")

	require.Len(t, d.Refs, 2)
	assert.Equal(t, "HEAD", d.Refs[0].Name)
	assert.Equal(t, fx.tip, d.Refs[0].Hash)
	assert.Equal(t, "refs/heads/main", d.Refs[1].Name)
	assert.Equal(t, fx.tip, d.Refs[1].Hash)
}

func TestNativeFetchFullClosure(t *testing.T) {
	fx := buildRemote(t)
	c, err := NewNativeClient(fx.dbPath, hash.SHA1)
	require.NoError(t, err)
	defer c.Close()

	entries := fetchAndScan(t, c, []hash.Hash{fx.tip}, nil, 0)

	counts := countTypes(entries)
	assert.Equal(t, 2, counts[objects.TypeCommit])
	assert.Equal(t, 4, counts[objects.TypeTree])
	assert.Equal(t, 2, counts[objects.TypeBlob])

	// commits first, then trees, then blobs
	assert.Equal(t, objects.TypeCommit, entries[0].Type)
	assert.Equal(t, fx.tip, entries[0].ID)

	ids := make(map[hash.Hash]bool)
	for _, e := range entries {
		ids[e.ID] = true
	}
	assert.True(t, ids[fx.root])
	assert.True(t, ids[fx.blobTip])
}

func TestNativeFetchDepthOne(t *testing.T) {
	fx := buildRemote(t)
	c, err := NewNativeClient(fx.dbPath, hash.SHA1)
	require.NoError(t, err)
	defer c.Close()

	entries := fetchAndScan(t, c, []hash.Hash{fx.tip}, nil, 1)

	counts := countTypes(entries)
	assert.Equal(t, 1, counts[objects.TypeCommit])
	assert.Equal(t, 2, counts[objects.TypeTree])
	assert.Equal(t, 1, counts[objects.TypeBlob])
}

func TestNativeFetchPrunesHaves(t *testing.T) {
	fx := buildRemote(t)
	c, err := NewNativeClient(fx.dbPath, hash.SHA1)
	require.NoError(t, err)
	defer c.Close()

	entries := fetchAndScan(t, c, []hash.Hash{fx.tip}, []hash.Hash{fx.root}, 0)

	counts := countTypes(entries)
	assert.Equal(t, 1, counts[objects.TypeCommit])

	for _, e := range entries {
		assert.NotEqual(t, fx.root, e.ID, "pruned commit leaked into the pack")
	}
}

func TestNativeFetchEverythingPruned(t *testing.T) {
	fx := buildRemote(t)
	c, err := NewNativeClient(fx.dbPath, hash.SHA1)
	require.NoError(t, err)
	defer c.Close()

	entries := fetchAndScan(t, c, []hash.Hash{fx.tip}, []hash.Hash{fx.tip}, 0)
	assert.Empty(t, entries)
}

func TestNativeFetchUnknownWant(t *testing.T) {
	fx := buildRemote(t)
	c, err := NewNativeClient(fx.dbPath, hash.SHA1)
	require.NoError(t, err)
	defer c.Close()

	missing := hash.Sum(hash.SHA1, []byte("not in the remote"))
	_, err = c.FetchObjects(context.Background(), []hash.Hash{missing}, nil, 0)
	assert.ErrorIs(t, err, protocol.ErrReference)
}

func TestNativeFetchWantIsNotACommit(t *testing.T) {
	fx := buildRemote(t)
	c, err := NewNativeClient(fx.dbPath, hash.SHA1)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.FetchObjects(context.Background(), []hash.Hash{fx.blobTip}, nil, 0)
	assert.ErrorIs(t, err, protocol.ErrReference)
}

func TestNativeKindMismatch(t *testing.T) {
	fx := buildRemote(t)
	_, err := NewNativeClient(fx.dbPath, hash.SHA256)
	assert.ErrorIs(t, err, protocol.ErrProtocol)
}
