package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/core/objects"
	"github.com/libravcs/libra/internal/pack"
	"github.com/libravcs/libra/internal/protocol"
	"github.com/libravcs/libra/internal/protocol/pktline"
	"github.com/libravcs/libra/internal/store"
)

// NativeClient serves a database-backed remote without a subprocess: it is
// a miniature in-process upload-pack that computes the requested object set
// itself and wraps the encoded pack exactly as the external program would,
// so callers observe an identical wire shape.
type NativeClient struct {
	st   *store.Store
	kind hash.Kind
}

// NewNativeClient opens the remote's database and checks its object format
// against the local repository's.
func NewNativeClient(dbPath string, kind hash.Kind) (*NativeClient, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrReference, err)
	}
	if st.Kind() != kind {
		st.Close()
		return nil, fmt.Errorf("%w: object format mismatch: remote uses %s, repository uses %s", protocol.ErrProtocol, st.Kind(), kind)
	}
	return &NativeClient{st: st, kind: kind}, nil
}

// Close releases the remote database handle.
func (c *NativeClient) Close() error {
	return c.st.Close()
}

// Discover lists every ref in the database plus a synthetic HEAD.
func (c *NativeClient) Discover(ctx context.Context, service string) (*Discovery, error) {
	if err := checkService(service); err != nil {
		return nil, err
	}

	var refs []Ref
	err := c.st.ForEachRef(func(name string, id hash.Hash) error {
		refs = append(refs, Ref{Name: name, Hash: id})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrTransport, err)
	}
	if head, _, err := c.st.HEAD(); err == nil && !head.IsZero() {
		refs = append(refs, Ref{Name: "HEAD", Hash: head})
	}
	sortRefs(refs)
	return &Discovery{
		Refs:         refs,
		Capabilities: []string{"side-band-64k", "object-format=" + c.kind.String()},
		Kind:         c.kind,
	}, nil
}

// FetchObjects computes the commit, tree and blob closure reachable from
// want, bounded by depth and pruned by have, encodes it as a pack and wraps
// it as upload-pack would: a NAK pkt-line, channel-1 side-band frames of at
// most MaxSidebandData payload bytes each, and a terminating flush-pkt.
func (c *NativeClient) FetchObjects(ctx context.Context, want, have []hash.Hash, depth int) (io.ReadCloser, error) {
	objs, err := c.collect(want, have, depth)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	if err := w.WriteString("NAK\n"); err != nil {
		return nil, err
	}

	if len(objs) > 0 {
		packBytes, err := pack.Encode(c.kind, objs)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to encode pack: %v", protocol.ErrTransport, err)
		}
		for len(packBytes) > 0 {
			n := len(packBytes)
			if n > protocol.MaxSidebandData {
				n = protocol.MaxSidebandData
			}
			frame := make([]byte, 0, n+1)
			frame = append(frame, protocol.ChannelPack)
			frame = append(frame, packBytes[:n]...)
			if err := w.WritePacket(frame); err != nil {
				return nil, err
			}
			packBytes = packBytes[n:]
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

// collect walks from each want toward its ancestors, stopping at haves and
// at the depth bound, then pulls in every tree and blob of the surviving
// commits. Objects are emitted commits first, then trees, then blobs.
func (c *NativeClient) collect(want, have []hash.Hash, depth int) ([]pack.Object, error) {
	pruned := make(map[uint64]struct{}, len(have))
	for _, id := range have {
		pruned[xxhash.Sum64(id.Bytes())] = struct{}{}
	}
	visited := make(map[uint64]struct{})
	seen := func(set map[uint64]struct{}, id hash.Hash) bool {
		fp := xxhash.Sum64(id.Bytes())
		if _, ok := set[fp]; ok {
			return true
		}
		set[fp] = struct{}{}
		return false
	}

	type frame struct {
		id  hash.Hash
		gen int
	}
	var (
		queue   []frame
		commits []pack.Object
		trees   []pack.Object
		blobs   []pack.Object
	)
	for _, id := range want {
		if !c.st.HasObject(id) {
			return nil, fmt.Errorf("%w: not our ref: %s", protocol.ErrReference, id)
		}
		queue = append(queue, frame{id: id, gen: 1})
	}

	var addTree func(id hash.Hash) error
	addTree = func(id hash.Hash) error {
		if seen(visited, id) {
			return nil
		}
		objType, data, err := c.st.GetObject(id)
		if err != nil {
			return fmt.Errorf("%w: %v", protocol.ErrTransport, err)
		}
		if objType != objects.TypeTree {
			return fmt.Errorf("%w: %s is not a tree", protocol.ErrCorruptPack, id)
		}
		trees = append(trees, pack.Object{Type: objects.TypeTree, Data: data})
		tree, err := objects.ParseTree(id, data)
		if err != nil {
			return fmt.Errorf("%w: %v", protocol.ErrCorruptPack, err)
		}
		for _, entry := range tree.Entries() {
			if entry.Mode == objects.ModeTree {
				if err := addTree(entry.ID); err != nil {
					return err
				}
				continue
			}
			if entry.Mode == objects.ModeCommit {
				continue // submodules live in another repository
			}
			if seen(visited, entry.ID) {
				continue
			}
			_, blobData, err := c.st.GetObject(entry.ID)
			if err != nil {
				return fmt.Errorf("%w: %v", protocol.ErrTransport, err)
			}
			blobs = append(blobs, pack.Object{Type: objects.TypeBlob, Data: blobData})
		}
		return nil
	}

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if _, ok := pruned[xxhash.Sum64(f.id.Bytes())]; ok {
			continue
		}
		if seen(visited, f.id) {
			continue
		}

		objType, data, err := c.st.GetObject(f.id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrTransport, err)
		}
		if objType != objects.TypeCommit {
			return nil, fmt.Errorf("%w: want %s is not a commit", protocol.ErrReference, f.id)
		}
		commits = append(commits, pack.Object{Type: objects.TypeCommit, Data: data})

		commit, err := objects.ParseCommit(f.id, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrCorruptPack, err)
		}
		if err := addTree(commit.Tree()); err != nil {
			return nil, err
		}
		if depth > 0 && f.gen >= depth {
			continue
		}
		for _, parent := range commit.Parents() {
			queue = append(queue, frame{id: parent, gen: f.gen + 1})
		}
	}

	objs := make([]pack.Object, 0, len(commits)+len(trees)+len(blobs))
	objs = append(objs, commits...)
	objs = append(objs, trees...)
	objs = append(objs, blobs...)
	return objs, nil
}
