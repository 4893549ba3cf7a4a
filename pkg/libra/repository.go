// Package libra exposes the repository facade used by the CLI and by
// embedders: opening and initializing repositories and creating the core
// object types.
package libra

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/core/objects"
	"github.com/libravcs/libra/internal/store"
)

// ControlDir is the repository control directory.
const ControlDir = ".libra"

// Repository is an open libra repository.
type Repository struct {
	path    string
	ctrlDir string
	st      *store.Store
}

// Init initializes a new repository at path with the given object format.
func Init(path string, kind hash.Kind) (*Repository, error) {
	ctrlDir := filepath.Join(path, ControlDir)
	if _, ok := store.Detect(path); ok {
		return nil, fmt.Errorf("repository already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Join(ctrlDir, "objects", "pack"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}
	st, err := store.Init(filepath.Join(ctrlDir, store.DBName), kind)
	if err != nil {
		return nil, err
	}
	return &Repository{path: path, ctrlDir: ctrlDir, st: st}, nil
}

// Open opens an existing repository rooted at or above path's control dir.
func Open(path string) (*Repository, error) {
	dbPath, ok := store.Detect(path)
	if !ok {
		return nil, fmt.Errorf("not a libra repository: %s", path)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	ctrlDir := filepath.Dir(dbPath)
	if filepath.Base(ctrlDir) != ControlDir {
		ctrlDir = filepath.Join(path, ControlDir)
	}
	return &Repository{path: path, ctrlDir: ctrlDir, st: st}, nil
}

// Close releases the repository database.
func (r *Repository) Close() error {
	return r.st.Close()
}

// Path returns the repository root path.
func (r *Repository) Path() string {
	return r.path
}

// ControlPath returns the path of the control directory.
func (r *Repository) ControlPath() string {
	return r.ctrlDir
}

// PackDir returns the directory where fetched packs and indexes land.
func (r *Repository) PackDir() string {
	return filepath.Join(r.ctrlDir, "objects", "pack")
}

// Store exposes the underlying object and ref database.
func (r *Repository) Store() *store.Store {
	return r.st
}

// HashKind returns the repository's object format.
func (r *Repository) HashKind() hash.Kind {
	return r.st.Kind()
}

// CreateBlob writes a blob and returns its id.
func (r *Repository) CreateBlob(data []byte) (hash.Hash, error) {
	return r.st.PutObject(objects.TypeBlob, data)
}

// CreateTree writes a tree built from entries and returns its id.
func (r *Repository) CreateTree(entries []objects.TreeEntry) (hash.Hash, error) {
	tree := objects.NewTree(r.HashKind())
	for _, entry := range entries {
		if err := tree.AddEntry(entry.Mode, entry.Name, entry.ID); err != nil {
			return hash.Zero(r.HashKind()), err
		}
	}
	data, err := tree.Serialize()
	if err != nil {
		return hash.Zero(r.HashKind()), err
	}
	return r.st.PutObject(objects.TypeTree, data)
}

// CreateCommit writes a commit and returns its id.
func (r *Repository) CreateCommit(tree hash.Hash, parents []hash.Hash, author, committer objects.Signature, message string) (hash.Hash, error) {
	commit := objects.NewCommit(r.HashKind(), tree, parents, author, committer, message)
	data, err := commit.Serialize()
	if err != nil {
		return hash.Zero(r.HashKind()), err
	}
	return r.st.PutObject(objects.TypeCommit, data)
}

// Commit loads and parses a commit object.
func (r *Repository) Commit(id hash.Hash) (*objects.Commit, error) {
	objType, data, err := r.st.GetObject(id)
	if err != nil {
		return nil, err
	}
	if objType != objects.TypeCommit {
		return nil, fmt.Errorf("object %s is a %s, not a commit", id.Short(), objType)
	}
	return objects.ParseCommit(id, data)
}

// SetBranch points refs/heads/<name> at a commit.
func (r *Repository) SetBranch(name string, id hash.Hash) error {
	return r.st.SetRef("refs/heads/"+name, id)
}

// BranchTips returns the tip of every local and remote-tracking branch,
// deduplicated. These seed fetch negotiation.
func (r *Repository) BranchTips() ([]hash.Hash, error) {
	var tips []hash.Hash
	seen := make(map[hash.Hash]struct{})
	err := r.st.ForEachRef(func(name string, id hash.Hash) error {
		if !strings.HasPrefix(name, "refs/heads/") && !strings.HasPrefix(name, "refs/remotes/") {
			return nil
		}
		if _, ok := seen[id]; ok {
			return nil
		}
		seen[id] = struct{}{}
		tips = append(tips, id)
		return nil
	})
	return tips, err
}
