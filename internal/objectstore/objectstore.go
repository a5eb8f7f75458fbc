// Package objectstore implements the Communitas core's content-addressed
// object store (C1): chunking, manifest construction, content addressing,
// and local persistence of opaque bytes. Encryption and key selection
// are the policy/key layers' job (C3/C4); this package only ever sees
// the final bytes it is told to persist under a given policy salt.
package objectstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/saorsalabs/communitas/internal/blake3x"
	"github.com/saorsalabs/communitas/internal/errkind"
)

const ChunkSize = 1 << 20 // 1 MiB

var bucketManifests = []byte("manifests")

// ChunkMeta describes one chunk of an object.
type ChunkMeta struct {
	Index int          `json:"index"`
	Total int          `json:"total"`
	Size  int          `json:"size"`
	Hash  [32]byte     `json:"-"`
	HashHex string     `json:"hash"`
}

// Manifest is the canonical description of an object's chunk layout.
type Manifest struct {
	Size      int64       `json:"size"`
	PolicyTag string      `json:"policy_tag"`
	Chunks    []ChunkMeta `json:"chunks"`
}

func canonicalize(m Manifest) []byte {
	// encoding/json with a struct (not a map) gives a stable field order,
	// which wire-stable encoding requires.
	b, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("objectstore: manifest must marshal: %v", err))
	}
	return b
}

func buildManifest(data []byte, policyTag string) Manifest {
	total := (len(data) + ChunkSize - 1) / ChunkSize
	if total == 0 {
		total = 1
	}
	chunks := make([]ChunkMeta, 0, total)
	for i := 0; i < total; i++ {
		start := i * ChunkSize
		end := start + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		h := blake3x.Sum(data[start:end])
		chunks = append(chunks, ChunkMeta{
			Index: i, Total: total, Size: end - start,
			Hash: h, HashHex: blake3x.Hex(h),
		})
	}
	return Manifest{Size: int64(len(data)), PolicyTag: policyTag, Chunks: chunks}
}

// OID computes the object id for bytes under a given policy tag and
// salt: BLAKE3(manifest || salt). Passing a random salt (PrivateMax)
// defeats dedup; passing a scope-deterministic salt (everything else)
// makes identical bytes under the same scope collapse to the same oid.
func OID(data []byte, policyTag string, salt []byte) ([32]byte, Manifest) {
	m := buildManifest(data, policyTag)
	canon := canonicalize(m)
	return blake3x.SumMulti(canon, salt), m
}

// Store persists objects for one identity under <data_root>/personal/<id_hex>/.
type Store struct {
	dir string
	db  *bolt.DB
}

func Open(dataRoot, identityHex string) (*Store, error) {
	dir := filepath.Join(dataRoot, "personal", identityHex)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errkind.New(errkind.Internal, "objectstore.open", err)
	}
	db, err := bolt.Open(filepath.Join(dir, "manifests.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errkind.New(errkind.Internal, "objectstore.open", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketManifests)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errkind.New(errkind.Internal, "objectstore.open", err)
	}
	return &Store{dir: dir, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) objectPath(oidHex string) string {
	return filepath.Join(s.dir, oidHex+".data")
}

// PutObject persists data under its content address. Re-putting
// byte-identical data that produces the same oid is a no-op: the file
// is not rewritten and the manifest is not re-derived.
func (s *Store) PutObject(data []byte, policyTag string, salt []byte) (oidHex string, manifest Manifest, err error) {
	oid, m := OID(data, policyTag, salt)
	oidHex = blake3x.Hex(oid)
	path := s.objectPath(oidHex)

	if _, statErr := os.Stat(path); statErr == nil {
		return oidHex, m, nil // idempotent: object already stored
	}

	if err := writeFileAtomic(path, data); err != nil {
		return "", Manifest{}, errkind.New(errkind.Internal, "objectstore.put_object", err)
	}

	mb := canonicalize(m)
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketManifests).Put(oid[:], mb)
	}); err != nil {
		return "", Manifest{}, errkind.New(errkind.Internal, "objectstore.put_object", err)
	}
	return oidHex, m, nil
}

// HasObject reports whether oidHex is stored locally.
func (s *Store) HasObject(oidHex string) bool {
	_, err := os.Stat(s.objectPath(oidHex))
	return err == nil
}

// Manifest returns the stored manifest for oidHex, if any.
func (s *Store) Manifest(oidHex string) (Manifest, bool, error) {
	oid, err := blake3x.FromHex(oidHex)
	if err != nil {
		return Manifest{}, false, errkind.New(errkind.Validation, "objectstore.manifest", err)
	}
	var out Manifest
	found := false
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketManifests).Get(oid[:])
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &out)
	})
	if err != nil {
		return Manifest{}, false, errkind.New(errkind.Internal, "objectstore.manifest", err)
	}
	return out, found, nil
}

// Reconstruct is called by GetObject when the local blob is missing; it
// lets a caller (the container, which owns the shard distributor) supply
// reconstructed bytes from FEC shards instead.
type Reconstruct func(oidHex string, manifest Manifest) ([]byte, error)

// GetObject reads data back, verifying every chunk hash against the
// stored manifest. A missing local blob falls back to reconstruct, if
// provided; a chunk hash mismatch is always an Integrity failure.
func (s *Store) GetObject(oidHex string, reconstruct Reconstruct) ([]byte, error) {
	manifest, found, err := s.Manifest(oidHex)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errkind.Newf(errkind.NotFound, "objectstore.get_object", "no manifest for %s", oidHex)
	}

	data, err := os.ReadFile(s.objectPath(oidHex))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errkind.New(errkind.Internal, "objectstore.get_object", err)
		}
		if reconstruct == nil {
			return nil, errkind.Newf(errkind.NotFound, "objectstore.get_object", "object %s missing locally", oidHex)
		}
		data, err = reconstruct(oidHex, manifest)
		if err != nil {
			return nil, errkind.New(errkind.NotFound, "objectstore.get_object", err)
		}
	}

	if err := verifyChunks(data, manifest); err != nil {
		return nil, errkind.New(errkind.Integrity, "objectstore.get_object", err)
	}
	return data, nil
}

func verifyChunks(data []byte, m Manifest) error {
	if int64(len(data)) != m.Size {
		return fmt.Errorf("size mismatch: have %d want %d", len(data), m.Size)
	}
	for _, c := range m.Chunks {
		start := c.Index * ChunkSize
		end := start + c.Size
		if end > len(data) || start > end {
			return fmt.Errorf("chunk %d out of range", c.Index)
		}
		got := blake3x.Sum(data[start:end])
		if !bytes.Equal(got[:], c.Hash[:]) && blake3x.Hex(got) != c.HashHex {
			return fmt.Errorf("chunk %d hash mismatch", c.Index)
		}
	}
	return nil
}

// GC removes every stored object whose oid is not referenced according
// to referenced.
func (s *Store) GC(referenced func(oidHex string) bool) (removed int, err error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, errkind.New(errkind.Internal, "objectstore.gc", err)
	}
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".data" {
			continue
		}
		oidHex := name[:len(name)-len(".data")]
		if referenced(oidHex) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return removed, errkind.New(errkind.Internal, "objectstore.gc", err)
		}
		oid, parseErr := blake3x.FromHex(oidHex)
		if parseErr == nil {
			_ = s.db.Update(func(tx *bolt.Tx) error {
				return tx.Bucket(bucketManifests).Delete(oid[:])
			})
		}
		removed++
	}
	return removed, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	f, err := os.OpenFile(tmp, os.O_RDWR, 0o600)
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
