package objects

import "github.com/libravcs/libra/internal/core/hash"

// Blob represents a file-content object
type Blob struct {
	id   hash.Hash
	data []byte
}

// NewBlob creates a blob from raw content
func NewBlob(kind hash.Kind, data []byte) *Blob {
	return &Blob{
		id:   ComputeID(kind, TypeBlob, data),
		data: data,
	}
}

// ParseBlob wraps already-stored blob content
func ParseBlob(id hash.Hash, data []byte) *Blob {
	return &Blob{id: id, data: data}
}

// Type returns the object type
func (b *Blob) Type() ObjectType {
	return TypeBlob
}

// ID returns the object id
func (b *Blob) ID() hash.Hash {
	return b.id
}

// Data returns the blob content
func (b *Blob) Data() []byte {
	return b.data
}

// Serialize returns the blob content verbatim
func (b *Blob) Serialize() ([]byte, error) {
	return b.data, nil
}
