package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/protocol"
	"github.com/libravcs/libra/internal/protocol/pktline"
	"github.com/libravcs/libra/internal/store"
)

// uploadPackBin is the external program serving plain directory remotes.
const uploadPackBin = "git-upload-pack"

// newLocalClient resolves a filesystem path to either a plain
// directory-based remote (HEAD file present, served by spawning
// git-upload-pack) or a database-backed native remote (libra.db present,
// served in-process). Finding both or neither is a reference error.
func newLocalClient(path string, kind hash.Kind) (Client, error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: not a repository path: %s", protocol.ErrReference, path)
	}

	dbPath, native := store.Detect(path)
	gitDir, plain := detectPlain(path)

	switch {
	case native && plain:
		return nil, fmt.Errorf("%w: ambiguous local repository at %s: both %s and a HEAD file present", protocol.ErrReference, path, store.DBName)
	case native:
		return NewNativeClient(dbPath, kind)
	case plain:
		return &LocalClient{path: path, gitDir: gitDir, kind: kind}, nil
	default:
		return nil, fmt.Errorf("%w: %s is neither a plain nor a native repository", protocol.ErrReference, path)
	}
}

// detectPlain finds the control directory of a plain directory remote:
// either the path itself (bare layout) or its .git subdirectory.
func detectPlain(path string) (string, bool) {
	if fileExists(filepath.Join(path, "HEAD")) {
		return path, true
	}
	if fileExists(filepath.Join(path, ".git", "HEAD")) {
		return filepath.Join(path, ".git"), true
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// LocalClient serves a plain directory remote: discovery reads the remote's
// ref files directly, fetch relays the external upload-pack program.
type LocalClient struct {
	path   string
	gitDir string
	kind   hash.Kind
}

// Discover lists every ref of the remote plus a synthetic HEAD pseudo-ref.
func (c *LocalClient) Discover(ctx context.Context, service string) (*Discovery, error) {
	if err := checkService(service); err != nil {
		return nil, err
	}

	refs, err := readRefDir(c.gitDir, c.kind)
	if err != nil {
		return nil, err
	}
	if head, ok := resolveHead(c.gitDir, refs, c.kind); ok {
		refs = append(refs, Ref{Name: "HEAD", Hash: head})
	}
	sortRefs(refs)
	return &Discovery{Refs: refs, Kind: c.kind}, nil
}

// FetchObjects spawns the upload-pack program, discards its advertisement,
// writes the request body and relays the response stream lazily.
func (c *LocalClient) FetchObjects(ctx context.Context, want, have []hash.Hash, depth int) (io.ReadCloser, error) {
	body, err := buildRequest(want, have, depth)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, uploadPackBin, c.path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrTransport, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrTransport, err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to spawn %s: %v", protocol.ErrTransport, uploadPackBin, err)
	}

	out := bufio.NewReader(stdout)
	// The subprocess speaks the stateful protocol: it advertises its refs
	// before reading the request.
	if err := discardAdvertisement(out); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, err
	}
	if _, err := stdin.Write(body); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("%w: failed to write upload-pack request: %v", protocol.ErrTransport, err)
	}
	stdin.Close()

	return &processStream{r: out, cmd: cmd}, nil
}

// processStream relays subprocess output and reaps the process on close.
type processStream struct {
	r   io.Reader
	cmd *exec.Cmd
}

func (s *processStream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *processStream) Close() error {
	// A consumer that aborted mid-stream leaves the subprocess blocked
	// writing into a full pipe; drain it so Wait can return.
	io.Copy(io.Discard, s.r)
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("%w: %s: %v", protocol.ErrTransport, uploadPackBin, err)
	}
	return nil
}

func discardAdvertisement(r io.Reader) error {
	pktr := pktline.NewReader(r)
	for {
		_, flush, err := pktr.ReadPacket()
		if err != nil {
			return fmt.Errorf("%w: bad upload-pack advertisement: %v", protocol.ErrTransport, err)
		}
		if flush {
			return nil
		}
	}
}

// readRefDir collects loose refs under refs/ plus any packed-refs entries,
// loose refs winning on conflict.
func readRefDir(gitDir string, kind hash.Kind) ([]Ref, error) {
	found := make(map[string]hash.Hash)

	packed := filepath.Join(gitDir, "packed-refs")
	if data, err := os.ReadFile(packed); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "^") {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) != 2 {
				continue
			}
			if id, err := hash.FromHex(kind, fields[0]); err == nil {
				found[fields[1]] = id
			}
		}
	}

	refsDir := filepath.Join(gitDir, "refs")
	err := filepath.Walk(refsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(gitDir, path)
		if err != nil {
			return err
		}
		id, err := hash.FromHex(kind, strings.TrimSpace(string(data)))
		if err != nil {
			return nil // skip symbolic and malformed refs
		}
		found[filepath.ToSlash(rel)] = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read remote refs: %v", protocol.ErrTransport, err)
	}

	refs := make([]Ref, 0, len(found))
	for name, id := range found {
		refs = append(refs, Ref{Name: name, Hash: id})
	}
	return refs, nil
}

// resolveHead produces the synthetic HEAD pseudo-ref, if the remote has one.
func resolveHead(gitDir string, refs []Ref, kind hash.Kind) (hash.Hash, bool) {
	data, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return hash.Hash{}, false
	}
	content := strings.TrimSpace(string(data))
	if target, ok := strings.CutPrefix(content, "ref: "); ok {
		for _, r := range refs {
			if r.Name == target {
				return r.Hash, true
			}
		}
		return hash.Hash{}, false
	}
	id, err := hash.FromHex(kind, content)
	return id, err == nil
}
