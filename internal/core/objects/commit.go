package objects

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/libravcs/libra/internal/core/hash"
)

// Commit represents a commit object
type Commit struct {
	id        hash.Hash
	tree      hash.Hash
	parents   []hash.Hash
	author    Signature
	committer Signature
	message   string
}

// NewCommit creates a new commit object
func NewCommit(kind hash.Kind, tree hash.Hash, parents []hash.Hash, author, committer Signature, message string) *Commit {
	c := &Commit{
		tree:      tree,
		parents:   parents,
		author:    author,
		committer: committer,
		message:   message,
	}
	data, _ := c.Serialize()
	c.id = ComputeID(kind, TypeCommit, data)
	return c
}

// Type returns the object type
func (c *Commit) Type() ObjectType {
	return TypeCommit
}

// ID returns the object id
func (c *Commit) ID() hash.Hash {
	return c.id
}

// Tree returns the root tree id
func (c *Commit) Tree() hash.Hash {
	return c.tree
}

// Parents returns the parent commit ids
func (c *Commit) Parents() []hash.Hash {
	return c.parents
}

// Author returns the author signature
func (c *Commit) Author() Signature {
	return c.author
}

// Committer returns the committer signature
func (c *Commit) Committer() Signature {
	return c.committer
}

// Message returns the commit message
func (c *Commit) Message() string {
	return c.message
}

// Serialize serializes the commit object
func (c *Commit) Serialize() ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "tree %s\n", c.tree)
	for _, parent := range c.parents {
		fmt.Fprintf(&buf, "parent %s\n", parent)
	}
	fmt.Fprintf(&buf, "author %s\n", c.author)
	fmt.Fprintf(&buf, "committer %s\n", c.committer)
	buf.WriteByte('\n')
	buf.WriteString(c.message)

	return buf.Bytes(), nil
}

// ParseCommit parses a commit from raw object data
func ParseCommit(id hash.Hash, data []byte) (*Commit, error) {
	kind := id.Kind()
	commit := &Commit{id: id}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	inHeaders := true
	var messageLines []string

	for scanner.Scan() {
		line := scanner.Text()

		if !inHeaders {
			messageLines = append(messageLines, line)
			continue
		}
		if line == "" {
			inHeaders = false
			continue
		}

		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid commit header: %s", line)
		}
		key, value := parts[0], parts[1]

		switch key {
		case "tree":
			tree, err := hash.FromHex(kind, value)
			if err != nil {
				return nil, fmt.Errorf("invalid tree id: %w", err)
			}
			commit.tree = tree
		case "parent":
			parent, err := hash.FromHex(kind, value)
			if err != nil {
				return nil, fmt.Errorf("invalid parent id: %w", err)
			}
			commit.parents = append(commit.parents, parent)
		case "author":
			sig, err := parseSignatureLine(value)
			if err != nil {
				return nil, fmt.Errorf("invalid author: %w", err)
			}
			commit.author = *sig
		case "committer":
			sig, err := parseSignatureLine(value)
			if err != nil {
				return nil, fmt.Errorf("invalid committer: %w", err)
			}
			commit.committer = *sig
		default:
			// Ignore unknown headers
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error parsing commit: %w", err)
	}

	commit.message = strings.Join(messageLines, "\n")
	if len(messageLines) > 0 && !strings.HasSuffix(commit.message, "\n") {
		commit.message += "\n"
	}

	return commit, nil
}

// parseSignatureLine parses a signature from a line like "Name <email> timestamp timezone"
func parseSignatureLine(line string) (*Signature, error) {
	emailStart := strings.IndexByte(line, '<')
	emailEnd := strings.IndexByte(line, '>')
	if emailStart == -1 || emailEnd == -1 || emailStart >= emailEnd {
		return nil, fmt.Errorf("invalid signature format")
	}

	name := strings.TrimSpace(line[:emailStart])
	email := line[emailStart+1 : emailEnd]

	timeStr := strings.TrimSpace(line[emailEnd+1:])
	parts := strings.Fields(timeStr)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid timestamp format")
	}

	when, err := parseUnixTimestamp(parts[0], parts[1])
	if err != nil {
		return nil, err
	}

	return &Signature{Name: name, Email: email, When: when}, nil
}

// parseUnixTimestamp parses a unix timestamp with a "+hhmm" timezone offset
func parseUnixTimestamp(unixStr, tzStr string) (time.Time, error) {
	var unix int64
	if n, err := fmt.Sscanf(unixStr, "%d", &unix); err != nil || n != 1 {
		return time.Time{}, fmt.Errorf("invalid timestamp")
	}

	var tzOffset int
	if n, err := fmt.Sscanf(tzStr, "%d", &tzOffset); err != nil || n != 1 {
		return time.Time{}, fmt.Errorf("invalid timezone")
	}

	hours := tzOffset / 100
	minutes := tzOffset % 100
	location := time.FixedZone("", hours*3600+minutes*60)

	return time.Unix(unix, 0).In(location), nil
}
