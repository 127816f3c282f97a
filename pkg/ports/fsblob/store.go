// Package fsblob is a filesystem-backed BlobStorePort, used for the
// curriculum download staging area, the telemetry upload queue, and backup
// snapshots when no cloud object store is configured (spec §6: "Blob store:
// telemetry queue directory, backup directory, VKP download staging").
package fsblob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/ports"
)

// Store is the production BlobStorePort.
type Store struct {
	root string
}

// New roots a Store at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, edgeerr.Wrap(edgeerr.Internal, "creating blob store root", err)
	}
	return &Store{root: dir}, nil
}

// List returns every object whose key has prefix, sorted lexically.
func (s *Store) List(ctx context.Context, prefix string) ([]ports.BlobObject, error) {
	var out []ports.BlobObject
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		key, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		key = filepath.ToSlash(key)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, ports.BlobObject{Key: key, ETag: etagFor(path), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, edgeerr.Wrap(edgeerr.DependencyUnavailable, "listing blob store", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Get reads key's bytes and a content-hash etag.
func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", edgeerr.Wrap(edgeerr.BadRequest, "blob key not found", err)
		}
		return nil, "", edgeerr.Wrap(edgeerr.DependencyUnavailable, "reading blob", err)
	}
	return data, etagBytes(data), nil
}

// Put writes data under key, creating any parent directories, then
// atomically renames into place so a concurrent List/Get never observes a
// partially written file.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return edgeerr.Wrap(edgeerr.Internal, "creating blob parent dir", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return edgeerr.Wrap(edgeerr.Internal, "creating temp blob file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return edgeerr.Wrap(edgeerr.Internal, "writing temp blob file", err)
	}
	if err := tmp.Close(); err != nil {
		return edgeerr.Wrap(edgeerr.Internal, "closing temp blob file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return edgeerr.Wrap(edgeerr.Internal, "finalizing blob write", err)
	}
	return nil
}

// Delete removes key. Used by callers that maintain a local queue on top of
// the base BlobStorePort (the telemetry upload queue, the backup retention
// sweep) — not part of ports.BlobStorePort itself, since most callers only
// ever list/get/put.
func (s *Store) Delete(ctx context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return edgeerr.Wrap(edgeerr.Internal, "deleting blob", err)
	}
	return nil
}

func (s *Store) resolve(key string) (string, error) {
	if rel := filepath.ToSlash(filepath.Clean(key)); rel == ".." || strings.HasPrefix(rel, "../") {
		return "", edgeerr.New(edgeerr.BadRequest, "invalid blob key")
	}
	cleaned := filepath.Clean("/" + key)[1:]
	if cleaned == "" || strings.HasPrefix(cleaned, "..") {
		return "", edgeerr.New(edgeerr.BadRequest, "invalid blob key")
	}
	return filepath.Join(s.root, cleaned), nil
}

func etagFor(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return etagBytes(data)
}

func etagBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
