package transport

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/protocol"
	"github.com/libravcs/libra/internal/protocol/pktline"
)

// agent is the capability string sent on the first want line.
const agent = "side-band-64k agent=libra/1.0"

// buildRequest assembles an upload-pack request body: want lines (the first
// carrying the capability list), an optional deepen line, a flush, have
// lines and a terminating done line.
func buildRequest(want, have []hash.Hash, depth int) ([]byte, error) {
	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)

	for i, id := range want {
		line := fmt.Sprintf("want %s\n", id)
		if i == 0 {
			line = fmt.Sprintf("want %s %s\n", id, agent)
		}
		if err := w.WriteString(line); err != nil {
			return nil, err
		}
	}
	if depth > 0 {
		if err := w.WriteString(fmt.Sprintf("deepen %d\n", depth)); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	for _, id := range have {
		if err := w.WriteString(fmt.Sprintf("have %s\n", id)); err != nil {
			return nil, err
		}
	}
	if err := w.WriteString("done\n"); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parseAdvertisement reads a pkt-line ref advertisement up to its
// terminating flush. Smart HTTP prepends a "# service=..." line followed by
// its own flush; that flush does not end the ref list. The first ref line
// carries the capability list after a NUL byte. The advertised object format
// must match the local repository's.
func parseAdvertisement(r io.Reader, local hash.Kind) (*Discovery, error) {
	pktr := pktline.NewReader(r)
	d := &Discovery{Kind: local}
	first := true
	afterService := false

	for {
		payload, flush, err := pktr.ReadPacket()
		if err == io.EOF {
			break
		}
		if flush {
			if afterService && first {
				// The flush terminating the service header; refs follow.
				afterService = false
				continue
			}
			break
		}
		if err != nil {
			return nil, err
		}
		line := strings.TrimSuffix(string(payload), "\n")
		if strings.HasPrefix(line, "#") {
			afterService = true
			continue
		}
		if line == "" {
			continue
		}

		if first {
			if nul := strings.IndexByte(line, 0); nul >= 0 {
				d.Capabilities = strings.Fields(line[nul+1:])
				line = line[:nul]
			}
			first = false
			if _, err := negotiateKind(d.Capabilities, local); err != nil {
				return nil, err
			}
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: malformed ref advertisement line %q", protocol.ErrProtocol, line)
		}
		id, err := hash.FromHex(local, fields[0])
		if err != nil {
			return nil, fmt.Errorf("%w: bad ref hash: %v", protocol.ErrProtocol, err)
		}
		// An empty repository advertises a zero capabilities^{} ref.
		if fields[1] == "capabilities^{}" {
			continue
		}
		d.Refs = append(d.Refs, Ref{Name: fields[1], Hash: id})
	}

	sortRefs(d.Refs)
	return d, nil
}

// sortRefs orders refs by name, keeping the synthetic HEAD first the way
// upload-pack advertises it.
func sortRefs(refs []Ref) {
	sort.SliceStable(refs, func(i, j int) bool {
		if (refs[i].Name == "HEAD") != (refs[j].Name == "HEAD") {
			return refs[i].Name == "HEAD"
		}
		return refs[i].Name < refs[j].Name
	})
}
