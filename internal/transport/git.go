package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/protocol"
	"github.com/libravcs/libra/internal/protocol/pktline"
)

// gitDefaultPort is the well-known git daemon port.
const gitDefaultPort = "9418"

// GitClient speaks the anonymous git daemon protocol over TCP.
type GitClient struct {
	host string // host:port
	path string
	kind hash.Kind
}

// NewGitClient creates a client from a git:// URL.
func NewGitClient(u *url.URL, kind hash.Kind) (*GitClient, error) {
	if u.Host == "" || u.Path == "" {
		return nil, fmt.Errorf("%w: malformed git URL %q", protocol.ErrProtocol, u)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), gitDefaultPort)
	}
	return &GitClient{host: host, path: u.Path, kind: kind}, nil
}

// dial connects and sends the daemon's service request line:
// "git-upload-pack <path>\0host=<host>\0".
func (c *GitClient) dial(ctx context.Context, service string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrTransport, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	w := pktline.NewWriter(conn)
	request := fmt.Sprintf("%s %s\x00host=%s\x00", service, c.path, c.host)
	if err := w.WriteString(request); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Discover connects to the daemon and parses its ref advertisement.
func (c *GitClient) Discover(ctx context.Context, service string) (*Discovery, error) {
	if err := checkService(service); err != nil {
		return nil, err
	}
	conn, err := c.dial(ctx, service)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return parseAdvertisement(conn, c.kind)
}

// FetchObjects runs the full dialogue on one connection: advertisement,
// request body, then the response stream.
func (c *GitClient) FetchObjects(ctx context.Context, want, have []hash.Hash, depth int) (io.ReadCloser, error) {
	body, err := buildRequest(want, have, depth)
	if err != nil {
		return nil, err
	}
	conn, err := c.dial(ctx, protocol.UploadPackService)
	if err != nil {
		return nil, err
	}
	if err := discardAdvertisement(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(body); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to write upload-pack request: %v", protocol.ErrTransport, err)
	}
	return conn, nil
}
