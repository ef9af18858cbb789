// Package blob keeps raw instance bytes addressable after the HTTP response
// has been consumed, so the render path can reopen them without a refetch.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/memfs"
	"github.com/go-git/go-billy/v6/osfs"
	"github.com/google/uuid"
)

// Ref points at a stored blob.
type Ref struct {
	URL       string
	Name      string
	MediaType string
	Size      int64
}

// Store writes blobs into a billy filesystem under unique names.
type Store struct {
	fs     billy.Filesystem
	scheme string
	dir    string
}

// NewFileStore keeps blobs in dir on the local disk.
func NewFileStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving blob directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory %s: %w", abs, err)
	}
	return &Store{fs: osfs.New(abs), scheme: "file", dir: abs}, nil
}

// NewMemoryStore keeps blobs in memory for the lifetime of the process.
func NewMemoryStore() *Store {
	return &Store{fs: memfs.New(), scheme: "mem"}
}

// Put stores data and returns a reference to it. The write goes to a
// temporary name first so a reader never sees a partial blob.
func (s *Store) Put(data []byte, mediaType string) (Ref, error) {
	name := uuid.NewString() + ".dcm"
	tmp := name + ".part"

	f, err := s.fs.Create(tmp)
	if err != nil {
		return Ref{}, fmt.Errorf("creating blob: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return Ref{}, s.abandon(tmp, fmt.Errorf("writing blob: %w", err))
	}
	if err := f.Close(); err != nil {
		return Ref{}, s.abandon(tmp, fmt.Errorf("closing blob: %w", err))
	}
	if err := s.fs.Rename(tmp, name); err != nil {
		return Ref{}, s.abandon(tmp, fmt.Errorf("finalizing blob: %w", err))
	}

	return Ref{
		URL:       s.url(name),
		Name:      name,
		MediaType: mediaType,
		Size:      int64(len(data)),
	}, nil
}

// abandon removes a temporary file after a failed Put. A failed removal is
// joined to err so the leftover file can be traced.
func (s *Store) abandon(tmp string, err error) error {
	if rmErr := s.fs.Remove(tmp); rmErr != nil {
		return errors.Join(err, fmt.Errorf("removing %s: %w", tmp, rmErr))
	}
	return err
}

// Open returns a reader for a blob previously returned by Put.
func (s *Store) Open(ref Ref) (io.ReadCloser, error) {
	f, err := s.fs.Open(ref.Name)
	if err != nil {
		return nil, fmt.Errorf("opening blob %s: %w", ref.Name, err)
	}
	return f, nil
}

// Remove deletes a blob.
func (s *Store) Remove(ref Ref) error {
	return s.fs.Remove(ref.Name)
}

// RefFromURL rebuilds a reference from a URL returned by Put, for blobs
// whose Ref was only kept as its URL.
func RefFromURL(u string) Ref {
	name := u
	if i := strings.LastIndexAny(u, "/:"); i >= 0 {
		name = u[i+1:]
	}
	return Ref{URL: u, Name: name}
}

func (s *Store) url(name string) string {
	if s.scheme == "file" {
		return "file://" + filepath.ToSlash(filepath.Join(s.dir, name))
	}
	return s.scheme + ":" + name
}
