package storage

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	dberrors "github.com/leengari/burpdb/internal/domain/errors"
)

// CreateDatabase creates the database folder and its metadata file.
// It fails with AlreadyExists if the folder is already on disk.
func (s *Store) CreateDatabase(meta DatabaseMeta) error {
	if err := ValidateName("database", meta.Name); err != nil {
		return err
	}
	dbPath := s.DatabasePath(meta.Name)

	exists, err := s.Exists(dbPath)
	if err != nil {
		return err
	}
	if exists {
		return dberrors.NewAlreadyExists("create_database", meta.Name)
	}

	if err := os.MkdirAll(dbPath, dirPerm); err != nil {
		return dberrors.NewIO("create_database", dbPath, err)
	}

	if meta.Version == 0 {
		meta.Version = MetaVersion
	}
	if err := s.WriteMeta(meta); err != nil {
		return err
	}

	s.logger.Info("database created",
		slog.String("name", meta.Name),
		slog.String("path", dbPath),
		slog.String("encoding", meta.Encoding),
	)
	return nil
}

// WriteMeta persists the metadata file of a database
func (s *Store) WriteMeta(meta DatabaseMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return dberrors.NewIO("write_meta", meta.Name, err)
	}
	return s.Write(filepath.Join(s.DatabasePath(meta.Name), MetaFileName), data)
}

// ReadMeta loads the metadata of a database.
// ok is false when the database folder carries no metadata file.
func (s *Store) ReadMeta(db string) (meta DatabaseMeta, ok bool, err error) {
	path := filepath.Join(s.DatabasePath(db), MetaFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DatabaseMeta{}, false, nil
		}
		return DatabaseMeta{}, false, dberrors.NewIO("read_meta", path, err)
	}

	if err := json.Unmarshal(data, &meta); err != nil {
		return DatabaseMeta{}, false, dberrors.NewDecode("read_meta", path, err)
	}
	return meta, true, nil
}

// ListDatabases returns the names of all database folders under the root
func (s *Store) ListDatabases() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, dberrors.NewIO("list_databases", s.root, err)
	}

	var databases []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		// Only folders carrying our metadata file count as databases
		metaPath := filepath.Join(s.root, entry.Name(), MetaFileName)
		if _, err := os.Stat(metaPath); err == nil {
			databases = append(databases, entry.Name())
		}
	}

	sort.Strings(databases)
	return databases, nil
}

// ListTables returns the table names of a database that have a snapshot with extension ext
func (s *Store) ListTables(db, ext string) ([]string, error) {
	dbPath := s.DatabasePath(db)
	ext = NormalizeExtension(ext)

	entries, err := os.ReadDir(dbPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dberrors.NewNotFound("list_tables", db, err)
		}
		return nil, dberrors.NewIO("list_tables", dbPath, err)
	}

	var tables []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		tables = append(tables, strings.TrimSuffix(name, ext))
	}

	sort.Strings(tables)
	return tables, nil
}
