package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	dberrors "github.com/leengari/burpdb/internal/domain/errors"
)

// DefaultExtension is appended to table names when none is configured
const DefaultExtension = ".json"

const (
	dirPerm  fs.FileMode = 0755
	filePerm fs.FileMode = 0644
)

// Options configures a Store
type Options struct {
	// Root is the directory holding one folder per database ("" = working directory)
	Root string
	// AtomicWrites replaces snapshots through a temp file + rename.
	// When false the target is truncated and written in place.
	AtomicWrites bool
	Logger       *slog.Logger
}

// Store maps (database, table) pairs to snapshot files and performs all file I/O
type Store struct {
	root   string
	atomic bool
	logger *slog.Logger
}

// New creates a Store rooted at opts.Root
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root := opts.Root
	if root == "" {
		root = "."
	}
	return &Store{
		root:   root,
		atomic: opts.AtomicWrites,
		logger: logger,
	}
}

// Root returns the directory databases live in
func (s *Store) Root() string {
	return s.root
}

// AtomicWrites reports whether snapshots are replaced via rename
func (s *Store) AtomicWrites() bool {
	return s.atomic
}

// ValidateName rejects database and table names that would escape their folder
func ValidateName(kind, name string) error {
	switch {
	case name == "":
		return dberrors.NewInvalidArgument("validate_name", name, kind+" name must not be empty")
	case name == "." || name == "..":
		return dberrors.NewInvalidArgument("validate_name", name, kind+" name is reserved")
	case strings.HasPrefix(name, "."):
		return dberrors.NewInvalidArgument("validate_name", name, kind+" name must not start with '.'")
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return dberrors.NewInvalidArgument("validate_name", name, kind+" name must not contain path separators")
	}
	return nil
}

// NormalizeExtension returns ext with a leading dot, or DefaultExtension when empty
func NormalizeExtension(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" {
		return DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// DatabasePath returns <root>/<db>
func (s *Store) DatabasePath(db string) string {
	return filepath.Join(s.root, db)
}

// TablePath returns <root>/<db>/<table><ext>
func (s *Store) TablePath(db, table, ext string) string {
	return filepath.Join(s.root, db, table+NormalizeExtension(ext))
}

// Exists reports whether a file or folder exists at path
func (s *Store) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, dberrors.NewIO("stat", path, err)
}

// Read returns the full contents of the snapshot at path
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dberrors.NewNotFound("read", path, err)
		}
		return nil, dberrors.NewIO("read", path, err)
	}
	return data, nil
}

// Write replaces the file at path with data, creating parent folders as needed
func (s *Store) Write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return dberrors.NewIO("write", path, fmt.Errorf("failed to create directory: %w", err))
	}

	var err error
	if s.atomic {
		err = writeAtomic(path, data)
	} else {
		err = writeInPlace(path, data)
	}
	if err != nil {
		return dberrors.NewIO("write", path, err)
	}

	s.logger.Debug("snapshot written",
		slog.String("path", path),
		slog.Int("bytes", len(data)),
		slog.Bool("atomic", s.atomic),
	)
	return nil
}

// Remove deletes the file at path. A file that is already gone is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return dberrors.NewIO("remove", path, err)
	}
	return nil
}
