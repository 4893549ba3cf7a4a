// Package transport implements the protocol clients used to talk to a
// remote repository: local filesystem (plain directory or database-backed
// native), smart HTTP(S) and the git daemon. All variants expose the same
// two capabilities, ref discovery and object fetch, and produce an
// identical wire shape for the fetch response.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/protocol"
)

// Ref is one advertised reference.
type Ref struct {
	Name string
	Hash hash.Hash
}

// Discovery is the result of ref discovery.
type Discovery struct {
	Refs         []Ref
	Capabilities []string
	Kind         hash.Kind
}

// Lookup returns the hash advertised for a ref name.
func (d *Discovery) Lookup(name string) (hash.Hash, bool) {
	for _, r := range d.Refs {
		if r.Name == name {
			return r.Hash, true
		}
	}
	return hash.Hash{}, false
}

// Client is a protocol client bound to one remote. The returned fetch
// stream is a raw pkt-line response that may fail mid-stream; callers feed
// it to the side-band demultiplexer.
type Client interface {
	// Discover lists the remote's refs and capabilities for a service.
	Discover(ctx context.Context, service string) (*Discovery, error)
	// FetchObjects requests a pack bridging have and want. depth > 0
	// limits the history to that many generations below the wants.
	FetchObjects(ctx context.Context, want, have []hash.Hash, depth int) (io.ReadCloser, error)
}

// New resolves a remote URL or path to the matching client variant. The
// variant set is closed: plain/native local paths, http(s) and git.
func New(rawURL string, kind hash.Kind) (Client, error) {
	if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" {
		switch u.Scheme {
		case "http", "https":
			return NewHTTPClient(rawURL, kind), nil
		case "git":
			return NewGitClient(u, kind)
		case "file":
			return newLocalClient(u.Path, kind)
		default:
			return nil, fmt.Errorf("%w: unsupported scheme %q", protocol.ErrProtocol, u.Scheme)
		}
	}
	return newLocalClient(rawURL, kind)
}

// checkService rejects anything but the upload-pack service; this client
// never pushes.
func checkService(service string) error {
	if service != protocol.UploadPackService {
		return fmt.Errorf("%w: unsupported service %q", protocol.ErrProtocol, service)
	}
	return nil
}

// negotiateKind maps the advertised object-format capability (defaulting to
// sha1) and fails fatally when it differs from the local repository's.
func negotiateKind(caps []string, local hash.Kind) (hash.Kind, error) {
	remote := hash.SHA1
	for _, c := range caps {
		if name, ok := strings.CutPrefix(c, "object-format="); ok {
			k, err := hash.KindFromName(name)
			if err != nil {
				return local, fmt.Errorf("%w: %v", protocol.ErrProtocol, err)
			}
			remote = k
		}
	}
	if remote != local {
		return local, fmt.Errorf("%w: object format mismatch: remote uses %s, repository uses %s", protocol.ErrProtocol, remote, local)
	}
	return remote, nil
}
