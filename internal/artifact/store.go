// Package artifact persists exported captures and snapshots to disk.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zsiec/camview/internal/logger"
	"github.com/zsiec/camview/internal/player/media"
)

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrInvalidName = errors.New("invalid artifact name")
)

// Info describes one stored artifact.
type Info struct {
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// DirStore keeps artifacts as files in one directory.
type DirStore struct {
	dir    string
	logger logger.Logger
}

// NewDirStore creates dir if needed.
func NewDirStore(dir string, log logger.Logger) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &DirStore{
		dir:    dir,
		logger: logger.WithComponent(logger.OrNull(log), "artifact"),
	}, nil
}

func (s *DirStore) Dir() string {
	return s.dir
}

// Save writes a to a temporary file and renames it into place, so readers
// never see a partial artifact.
func (s *DirStore) Save(ctx context.Context, a media.Artifact) error {
	if err := validName(a.Name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(a.Data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close artifact: %w", err)
	}

	dst := filepath.Join(s.dir, a.Name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to store artifact: %w", err)
	}
	if !a.CreatedAt.IsZero() {
		_ = os.Chtimes(dst, a.CreatedAt, a.CreatedAt)
	}

	s.logger.WithFields(map[string]interface{}{
		"artifact": a.Name,
		"bytes":    len(a.Data),
	}).Info("Artifact saved")
	return nil
}

// Open returns a reader for the named artifact. The caller closes it.
func (s *DirStore) Open(name string) (io.ReadSeekCloser, Info, error) {
	if err := validName(name); err != nil {
		return nil, Info{}, err
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Info{}, ErrNotFound
		}
		return nil, Info{}, fmt.Errorf("failed to open artifact: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Info{}, fmt.Errorf("failed to stat artifact: %w", err)
	}
	return f, info(st), nil
}

// List returns stored artifacts, newest first.
func (s *DirStore) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, info(st))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name > out[j].Name
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *DirStore) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

func info(st os.FileInfo) Info {
	return Info{
		Name:        st.Name(),
		ContentType: ContentType(st.Name()),
		Size:        st.Size(),
		CreatedAt:   st.ModTime(),
	}
}

// ContentType derives the MIME type from the artifact extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".h264":
		return media.ContentTypeH264
	case ".jpeg", ".jpg":
		return media.ContentTypeJPEG
	default:
		return "application/octet-stream"
	}
}

func validName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
