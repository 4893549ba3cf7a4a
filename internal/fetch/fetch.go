// Package fetch composes discovery, negotiation, transfer, indexing and ref
// updates into the fetch pipeline. One call is one sequential pipeline;
// distinct remotes run as independent concurrent pipelines sharing nothing.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/negotiate"
	"github.com/libravcs/libra/internal/pack"
	"github.com/libravcs/libra/internal/packidx"
	"github.com/libravcs/libra/internal/protocol"
	"github.com/libravcs/libra/internal/protocol/sideband"
	"github.com/libravcs/libra/internal/store"
	"github.com/libravcs/libra/internal/transport"
	"github.com/libravcs/libra/pkg/libra"
)

// Options tune one fetch.
type Options struct {
	// Refspec selects a single remote branch; empty fetches all heads.
	Refspec string
	// Depth bounds the requested history; 0 means unlimited.
	Depth int
	// IndexVersion selects the pack index layout (1 or 2).
	IndexVersion int
	// Progress receives server status and channel-2 progress text.
	Progress io.Writer
	// ErrOut receives channel-3 error text.
	ErrOut io.Writer
}

// Result describes what one fetch did.
type Result struct {
	Remote    string
	PackPath  string
	IndexPath string
	Updated   map[string]hash.Hash // remote-tracking ref name -> new tip
	UpToDate  bool
}

// Fetch runs the whole pipeline against one remote. Ref updates happen only
// after the pack and its index are fully written and checksum-verified, in
// one atomic transaction on the ref store.
func Fetch(ctx context.Context, repo *libra.Repository, remoteName, remoteURL string, opts Options) (*Result, error) {
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}
	if opts.ErrOut == nil {
		opts.ErrOut = io.Discard
	}
	if opts.IndexVersion == 0 {
		opts.IndexVersion = 2
	}
	kind := repo.HashKind()

	client, err := transport.New(remoteURL, kind)
	if err != nil {
		return nil, err
	}
	if closer, ok := client.(io.Closer); ok {
		defer closer.Close()
	}

	disc, err := client.Discover(ctx, protocol.UploadPackService)
	if err != nil {
		return nil, err
	}
	slog.Debug("discovered remote refs", "remote", remoteName, "refs", len(disc.Refs))

	targets, err := selectBranches(disc, opts.Refspec)
	if err != nil {
		return nil, err
	}

	result := &Result{Remote: remoteName, Updated: make(map[string]hash.Hash)}

	var want []hash.Hash
	wantSeen := make(map[hash.Hash]struct{})
	for _, t := range targets {
		if repo.Store().HasObject(t.Hash) {
			continue
		}
		if _, ok := wantSeen[t.Hash]; ok {
			continue
		}
		wantSeen[t.Hash] = struct{}{}
		want = append(want, t.Hash)
	}

	if len(want) > 0 {
		tips, err := repo.BranchTips()
		if err != nil {
			return nil, err
		}
		have, err := negotiate.BuildHaves(repo, tips)
		if err != nil {
			return nil, err
		}
		slog.Debug("negotiated", "remote", remoteName, "want", len(want), "have", len(have))

		stream, err := client.FetchObjects(ctx, want, have, opts.Depth)
		if err != nil {
			return nil, err
		}
		packBytes, demuxErr := sideband.Demux(stream, kind, opts.Progress, opts.ErrOut)
		if closeErr := stream.Close(); demuxErr == nil {
			demuxErr = closeErr
		}
		if demuxErr != nil {
			return nil, demuxErr
		}

		if len(packBytes) > 0 {
			if err := indexAndImport(ctx, repo, packBytes, opts.IndexVersion, result); err != nil {
				return nil, err
			}
		}

		// Refs must never move past objects we did not receive.
		for _, id := range want {
			if !repo.Store().HasObject(id) {
				return nil, fmt.Errorf("%w: remote did not send object %s", protocol.ErrCorruptPack, id.Short())
			}
		}
	}

	if err := updateRefs(repo, remoteName, remoteURL, targets, result); err != nil {
		return nil, err
	}
	result.UpToDate = result.PackPath == ""
	return result, nil
}

// target pairs a remote branch with its advertised tip.
type target struct {
	Branch string // short name, e.g. "main"
	Hash   hash.Hash
}

// selectBranches resolves the refspec against the advertisement. An empty
// refspec selects every head; no match is a reference error.
func selectBranches(disc *transport.Discovery, refspec string) ([]target, error) {
	var targets []target
	for _, ref := range disc.Refs {
		branch, ok := strings.CutPrefix(ref.Name, "refs/heads/")
		if !ok {
			continue
		}
		if refspec != "" && branch != refspec && ref.Name != refspec {
			continue
		}
		targets = append(targets, target{Branch: branch, Hash: ref.Hash})
	}
	if len(targets) == 0 {
		if refspec != "" {
			return nil, fmt.Errorf("%w: no matching remote branch for %q", protocol.ErrReference, refspec)
		}
		return nil, nil // empty remote
	}
	return targets, nil
}

// indexAndImport verifies and persists the pack: scan it once for per-object
// metadata, write pack and index files, then import the objects into the
// database so later negotiations and native serving see them.
func indexAndImport(ctx context.Context, repo *libra.Repository, packBytes []byte, indexVersion int, result *Result) error {
	kind := repo.HashKind()
	entries, checksum, err := pack.Scan(packBytes, kind)
	if err != nil {
		return err
	}

	base := filepath.Join(repo.PackDir(), "pack-"+checksum.String())
	if err := writeFileAtomic(base+".pack", func(w io.Writer) error {
		_, err := w.Write(packBytes)
		return err
	}); err != nil {
		return fmt.Errorf("failed to write pack file: %w", err)
	}

	idxEntries := make([]packidx.Entry, len(entries))
	for i, e := range entries {
		idxEntries[i] = packidx.Entry{Hash: e.ID, Offset: e.Offset, CRC32: e.CRC32}
	}
	err = writeFileAtomic(base+".idx", func(w io.Writer) error {
		if indexVersion == 1 {
			return packidx.WriteV1(w, idxEntries, checksum, kind)
		}
		return packidx.WriteV2(ctx, w, idxEntries, checksum, kind)
	})
	if err != nil {
		os.Remove(base + ".pack")
		return err
	}

	for _, e := range entries {
		if _, err := repo.Store().PutObject(e.Type, e.Data); err != nil {
			return fmt.Errorf("failed to import object %s: %w", e.ID.Short(), err)
		}
	}

	result.PackPath = base + ".pack"
	result.IndexPath = base + ".idx"
	slog.Debug("indexed pack", "objects", len(entries), "pack", result.PackPath)
	return nil
}

// updateRefs commits every remote-tracking ref in one all-or-nothing
// transaction and records FETCH_HEAD.
func updateRefs(repo *libra.Repository, remoteName, remoteURL string, targets []target, result *Result) error {
	if len(targets) == 0 {
		return nil
	}
	err := repo.Store().UpdateRefs(func(tx *store.RefTx) error {
		for _, t := range targets {
			name := fmt.Sprintf("refs/remotes/%s/%s", remoteName, t.Branch)
			if err := tx.Set(name, t.Hash); err != nil {
				return err
			}
			result.Updated[name] = t.Hash
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update remote-tracking refs: %w", err)
	}

	var fetchHead strings.Builder
	for _, t := range targets {
		fmt.Fprintf(&fetchHead, "%s\t\tbranch '%s' of %s\n", t.Hash, t.Branch, remoteURL)
	}
	path := filepath.Join(repo.ControlPath(), "FETCH_HEAD")
	if err := os.WriteFile(path, []byte(fetchHead.String()), 0644); err != nil {
		return fmt.Errorf("failed to update FETCH_HEAD: %w", err)
	}
	return nil
}

// writeFileAtomic writes via a temp file and rename so a crash mid-write
// leaves an orphan, never a half-written file under the final name.
func writeFileAtomic(path string, fill func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
