// Package store implements the repository database: a single-file bbolt
// store ("libra.db") holding objects, refs and repository metadata.
package store

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zlib"
	bolt "go.etcd.io/bbolt"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/core/objects"
)

// DBName is the database file name, looked for both at the repository root
// and under the .libra control directory.
const DBName = "libra.db"

var (
	bucketObjects = []byte("objects")
	bucketRefs    = []byte("refs")
	bucketMeta    = []byte("meta")

	keyFormat = []byte("format")
	keyHEAD   = "HEAD"
)

// Store is a handle on an open repository database.
type Store struct {
	db   *bolt.DB
	kind hash.Kind
}

// Detect resolves the database file under dir, if any. It checks
// dir/libra.db and dir/.libra/libra.db, in that order.
func Detect(dir string) (string, bool) {
	for _, p := range []string{filepath.Join(dir, DBName), filepath.Join(dir, ".libra", DBName)} {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// Init creates a fresh database at path with the given object format.
func Init(path string, kind hash.Kind) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketObjects, bucketRefs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyFormat, []byte(kind.String())); err != nil {
			return err
		}
		refs := tx.Bucket(bucketRefs)
		return refs.Put([]byte(keyHEAD), []byte("ref: refs/heads/main"))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &Store{db: db, kind: kind}, nil
}

// Open opens an existing database and reads its object format.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("not a libra repository: %w", err)
	}
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db, kind: hash.SHA1}
	err = db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return fmt.Errorf("missing meta bucket")
		}
		name := meta.Get(keyFormat)
		if name == nil {
			return fmt.Errorf("missing object format")
		}
		kind, err := hash.KindFromName(string(name))
		if err != nil {
			return err
		}
		s.kind = kind
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid repository database: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Kind returns the repository's object format.
func (s *Store) Kind() hash.Kind {
	return s.kind
}

// PutObject stores a typed payload and returns its id. Writing an object
// that already exists is a no-op.
func (s *Store) PutObject(objType objects.ObjectType, data []byte) (hash.Hash, error) {
	id := objects.ComputeID(s.kind, objType, data)
	if s.HasObject(id) {
		return id, nil
	}
	record, err := compressRecord(objType, data)
	if err != nil {
		return id, fmt.Errorf("failed to compress object: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjects).Put(id.Bytes(), record)
	})
	if err != nil {
		return id, fmt.Errorf("failed to write object: %w", err)
	}
	return id, nil
}

// GetObject loads a typed payload by id.
func (s *Store) GetObject(id hash.Hash) (objects.ObjectType, []byte, error) {
	var record []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketObjects).Get(id.Bytes())
		if v == nil {
			return fmt.Errorf("object not found: %s", id)
		}
		record = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return decompressRecord(record)
}

// HasObject reports whether an object exists.
func (s *Store) HasObject(id hash.Hash) bool {
	exists := false
	s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketObjects).Get(id.Bytes()) != nil
		return nil
	})
	return exists
}

// GetRef resolves a ref name to an object id, following symbolic refs.
func (s *Store) GetRef(name string) (hash.Hash, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRefs).Get([]byte(name))
		if v == nil {
			return fmt.Errorf("reference not found: %s", name)
		}
		value = string(v)
		return nil
	})
	if err != nil {
		return hash.Zero(s.kind), err
	}
	if target, ok := symrefTarget(value); ok {
		return s.GetRef(target)
	}
	return hash.FromHex(s.kind, value)
}

// SetRef points a ref at an object id.
func (s *Store) SetRef(name string, id hash.Hash) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRefs).Put([]byte(name), []byte(id.String()))
	})
}

// SetSymbolicRef points a ref at another ref.
func (s *Store) SetSymbolicRef(name, target string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRefs).Put([]byte(name), []byte("ref: "+target))
	})
}

// HEAD resolves the HEAD pseudo-ref. The returned name is empty when HEAD
// is detached.
func (s *Store) HEAD() (hash.Hash, string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRefs).Get([]byte(keyHEAD))
		if v == nil {
			return fmt.Errorf("missing HEAD")
		}
		value = string(v)
		return nil
	})
	if err != nil {
		return hash.Zero(s.kind), "", err
	}
	if target, ok := symrefTarget(value); ok {
		id, err := s.GetRef(target)
		return id, target, err
	}
	id, err := hash.FromHex(s.kind, value)
	return id, "", err
}

// ForEachRef visits every non-symbolic ref in lexical name order.
func (s *Store) ForEachRef(fn func(name string, id hash.Hash) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRefs).ForEach(func(k, v []byte) error {
			if _, ok := symrefTarget(string(v)); ok {
				return nil
			}
			id, err := hash.FromHex(s.kind, string(v))
			if err != nil {
				return fmt.Errorf("corrupt ref %s: %w", k, err)
			}
			return fn(string(k), id)
		})
	})
}

// RefTx mutates refs inside one atomic transaction.
type RefTx struct {
	bucket *bolt.Bucket
}

// Set points a ref at an object id within the transaction.
func (tx *RefTx) Set(name string, id hash.Hash) error {
	return tx.bucket.Put([]byte(name), []byte(id.String()))
}

// UpdateRefs applies fn inside one all-or-nothing database transaction.
// If fn returns an error no ref is changed.
func (s *Store) UpdateRefs(fn func(tx *RefTx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&RefTx{bucket: tx.Bucket(bucketRefs)})
	})
}

func symrefTarget(value string) (string, bool) {
	const prefix = "ref: "
	if len(value) > len(prefix) && value[:len(prefix)] == prefix {
		return value[len(prefix):], true
	}
	return "", false
}

// compressRecord frames and zlib-compresses an object payload, mirroring the
// loose-object encoding so ids stay stable across storage backends.
func compressRecord(objType objects.ObjectType, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := fmt.Fprintf(w, "%s %d\x00", objType, len(data)); err != nil {
		w.Close()
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressRecord(record []byte) (objects.ObjectType, []byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(record))
	if err != nil {
		return "", nil, fmt.Errorf("failed to decompress object: %w", err)
	}
	defer r.Close()
	full, err := io.ReadAll(r)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decompress object: %w", err)
	}

	nullIdx := bytes.IndexByte(full, 0)
	if nullIdx == -1 {
		return "", nil, fmt.Errorf("invalid object record: no null byte")
	}
	var objType string
	var size int
	if _, err := fmt.Sscanf(string(full[:nullIdx]), "%s %d", &objType, &size); err != nil {
		return "", nil, fmt.Errorf("invalid object header: %s", full[:nullIdx])
	}
	data := full[nullIdx+1:]
	if len(data) != size {
		return "", nil, fmt.Errorf("object size mismatch: expected %d, got %d", size, len(data))
	}
	return objects.ObjectType(objType), data, nil
}
