package objects

import (
	"fmt"
	"time"

	"github.com/libravcs/libra/internal/core/hash"
)

// ObjectType represents the type of a repository object
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
	TypeTag    ObjectType = "tag"
)

// IsValid returns true if the object type is valid
func (t ObjectType) IsValid() bool {
	switch t {
	case TypeBlob, TypeTree, TypeCommit, TypeTag:
		return true
	default:
		return false
	}
}

// Object is the base interface for all repository objects
type Object interface {
	Type() ObjectType
	ID() hash.Hash
	Serialize() ([]byte, error)
}

// ComputeID calculates an object id over the type-and-size framed payload,
// using the repository's hash kind.
func ComputeID(kind hash.Kind, objectType ObjectType, data []byte) hash.Hash {
	h := kind.New()
	fmt.Fprintf(h, "%s %d\x00", objectType, len(data))
	h.Write(data)
	id, _ := hash.FromBytes(kind, h.Sum(nil))
	return id
}

// Signature represents author/committer information
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// String returns the signature in wire format
func (s Signature) String() string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.When.Unix(), s.When.Format("-0700"))
}
