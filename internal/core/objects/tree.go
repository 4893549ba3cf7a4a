package objects

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/libravcs/libra/internal/core/hash"
)

// FileMode represents the mode of a tree entry
type FileMode uint32

const (
	ModeTree    FileMode = 0040000
	ModeBlob    FileMode = 0100644
	ModeExec    FileMode = 0100755
	ModeSymlink FileMode = 0120000
	ModeCommit  FileMode = 0160000 // Submodule
)

// TreeEntry represents an entry in a tree object
type TreeEntry struct {
	Mode FileMode
	Name string
	ID   hash.Hash
}

// Tree represents a tree object (directory listing)
type Tree struct {
	id      hash.Hash
	kind    hash.Kind
	entries []TreeEntry
}

// NewTree creates an empty tree object
func NewTree(kind hash.Kind) *Tree {
	return &Tree{kind: kind, id: hash.Zero(kind)}
}

// AddEntry adds an entry to the tree
func (t *Tree) AddEntry(mode FileMode, name string, id hash.Hash) error {
	if name == "" {
		return fmt.Errorf("entry name cannot be empty")
	}
	for _, e := range t.entries {
		if e.Name == name {
			return fmt.Errorf("duplicate entry name: %s", name)
		}
	}

	t.entries = append(t.entries, TreeEntry{Mode: mode, Name: name, ID: id})

	// Recompute hash after modification
	data, _ := t.Serialize()
	t.id = ComputeID(t.kind, TypeTree, data)
	return nil
}

// Entries returns all tree entries
func (t *Tree) Entries() []TreeEntry {
	return t.entries
}

// Type returns the object type
func (t *Tree) Type() ObjectType {
	return TypeTree
}

// ID returns the object id
func (t *Tree) ID() hash.Hash {
	return t.id
}

// Serialize serializes the tree object
func (t *Tree) Serialize() ([]byte, error) {
	// Sort entries by name for consistent hashing
	sorted := make([]TreeEntry, len(t.entries))
	copy(sorted, t.entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	var buf bytes.Buffer
	for _, entry := range sorted {
		fmt.Fprintf(&buf, "%o %s\x00", entry.Mode, entry.Name)
		buf.Write(entry.ID.Bytes())
	}

	return buf.Bytes(), nil
}

// ParseTree parses a tree from raw object data
func ParseTree(id hash.Hash, data []byte) (*Tree, error) {
	kind := id.Kind()
	tree := &Tree{id: id, kind: kind}
	hashSize := kind.Size()

	for len(data) > 0 {
		spaceIdx := bytes.IndexByte(data, ' ')
		if spaceIdx == -1 {
			return nil, fmt.Errorf("invalid tree format: no space found")
		}

		modeStr := string(data[:spaceIdx])
		mode, err := strconv.ParseUint(modeStr, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid file mode: %s", modeStr)
		}
		data = data[spaceIdx+1:]

		nullIdx := bytes.IndexByte(data, 0)
		if nullIdx == -1 {
			return nil, fmt.Errorf("invalid tree format: no null byte found")
		}
		name := string(data[:nullIdx])
		data = data[nullIdx+1:]

		if len(data) < hashSize {
			return nil, fmt.Errorf("invalid tree format: insufficient data for hash")
		}
		entryID, err := hash.FromBytes(kind, data[:hashSize])
		if err != nil {
			return nil, err
		}
		data = data[hashSize:]

		tree.entries = append(tree.entries, TreeEntry{
			Mode: FileMode(mode),
			Name: name,
			ID:   entryID,
		})
	}

	return tree, nil
}
