// Package blob stores uploaded artifacts on an afero filesystem.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dkeye/Telecare/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var ErrBadKey = errors.New("invalid blob key")

// Store writes objects below root and serves them under baseURL.
type Store struct {
	fs      afero.Fs
	root    string
	baseURL string
	log     zerolog.Logger
}

func New(fs afero.Fs, root, baseURL string) (*Store, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{
		fs:      fs,
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.With().Str("module", "adapters.blob").Logger(),
	}, nil
}

// Dir is a read-only view of the stored objects for serving over HTTP.
func (s *Store) Dir() afero.Fs {
	return afero.NewReadOnlyFs(afero.NewBasePathFs(s.fs, s.root))
}

func (s *Store) pathOf(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || clean != "/"+key {
		return "", fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put writes r under key. If r holds more than maxBytes the partial object
// is removed and domain.ErrFileTooLarge returned.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, maxBytes int64) (string, int64, error) {
	p, err := s.pathOf(key)
	if err != nil {
		return "", 0, err
	}
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", 0, fmt.Errorf("create blob dir: %w", err)
	}
	f, err := s.fs.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create blob: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(&ctxReader{ctx: ctx, r: r}, maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxBytes {
		err = fmt.Errorf("object exceeds %d bytes: %w", maxBytes, domain.ErrFileTooLarge)
	}
	if err != nil {
		if rerr := s.fs.Remove(p); rerr != nil {
			s.log.Warn().Err(rerr).Str("key", key).Msg("partial blob not removed")
		}
		return "", 0, fmt.Errorf("write blob %s: %w", key, err)
	}
	s.log.Debug().Str("key", key).Int64("size", n).Msg("blob stored")
	return s.baseURL + "/" + key, n, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	p, err := s.pathOf(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
