package manager

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/leengari/burpdb/internal/codec"
	dberrors "github.com/leengari/burpdb/internal/domain/errors"
	"github.com/leengari/burpdb/internal/domain/record"
	"github.com/leengari/burpdb/internal/engine"
	"github.com/leengari/burpdb/internal/storage"
)

// Save modes accepted by CreateDatabase.
// Persistence always happens on an explicit SaveSnapshot; the mode is recorded as metadata.
const (
	SaveAuto   = "auto"
	SaveManual = "manual"
)

// Options configures a Registry
type Options struct {
	DataDir      string // folder holding one sub-folder per database
	Extension    string // default snapshot extension
	Encoding     string // default text encoding for new databases
	Indent       int    // pretty-print snapshots with this many spaces (0 = compact)
	KeySize      int    // bytes of generated encryption keys
	AtomicWrites bool
}

// Info describes the active database
type Info struct {
	Name        string
	Path        string
	Encoding    string
	Save        string
	ActiveTable string
	Tables      []string // registered in memory
}

// database is the active database and its table namespace
type database struct {
	name   string
	save   string
	codec  *codec.Codec // carries the database encoding
	tables map[string]*engine.Table
	active *engine.Table
}

// Registry owns zero or one active database and routes every record
// operation to its active table. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	opts      Options
	store     *storage.Store
	logger    *slog.Logger
	db        *database
	observers []engine.Observer
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		opts: opts,
		store: storage.New(storage.Options{
			Root:         opts.DataDir,
			AtomicWrites: opts.AtomicWrites,
			Logger:       logger,
		}),
		logger: logger,
	}
}

// LoadDatabase is the entry point for working on an existing database:
// it builds a fresh registry and loads one table into it.
func LoadDatabase(opts Options, logger *slog.Logger, db, table string, load engine.LoadOptions) (*Registry, error) {
	r := NewRegistry(opts, logger)
	if err := r.LoadData(db, table, load); err != nil {
		return nil, err
	}
	return r, nil
}

// Store exposes the snapshot store the registry persists through
func (r *Registry) Store() *storage.Store {
	return r.store
}

// AddObserver registers an observer on every table created or loaded afterwards
// and on the tables already registered.
func (r *Registry) AddObserver(observer engine.Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.observers = append(r.observers, observer)
	if r.db != nil {
		for _, t := range r.db.tables {
			t.AddObserver(observer)
		}
	}
}

func (r *Registry) deps(db *database) engine.Deps {
	return engine.Deps{
		Store:     r.store,
		Codec:     db.codec,
		KeySize:   r.opts.KeySize,
		Logger:    r.logger,
		Observers: r.observers,
	}
}

func (r *Registry) newDatabase(op, name, encoding, save string) (*database, error) {
	if encoding == "" {
		encoding = r.opts.Encoding
	}
	if encoding == "" {
		encoding = codec.DefaultEncoding
	}
	if !codec.ValidEncoding(encoding) {
		return nil, dberrors.NewInvalidEncoding(op, encoding)
	}

	if save == "" {
		save = SaveAuto
	}
	if save != SaveAuto && save != SaveManual {
		return nil, dberrors.NewInvalidArgument(op, save, "save mode must be auto or manual")
	}

	c, err := codec.New(encoding, r.opts.Indent)
	if err != nil {
		return nil, dberrors.New(op, dberrors.KindInvalidEncoding, encoding, err)
	}

	return &database{
		name:   name,
		save:   save,
		codec:  c,
		tables: make(map[string]*engine.Table),
	}, nil
}

// CreateDatabase makes name the active database and creates its folder.
// It fails with AlreadyExists if a database is already active or the folder exists on disk.
func (r *Registry) CreateDatabase(name, encoding, save string) error {
	const op = "create_database"

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		return dberrors.NewAlreadyExists(op, r.db.name)
	}
	if err := storage.ValidateName("database", name); err != nil {
		return err
	}

	db, err := r.newDatabase(op, name, encoding, save)
	if err != nil {
		return err
	}

	err = r.store.CreateDatabase(storage.DatabaseMeta{
		Name:     name,
		Encoding: db.codec.Encoding(),
		Save:     db.save,
	})
	if err != nil {
		return err
	}

	r.db = db
	return nil
}

// CreateTable creates a table in the active database and makes it the active table
func (r *Registry) CreateTable(name string, opts engine.TableOptions) error {
	const op = "create_table"

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return dberrors.NewNoActiveDatabase(op)
	}
	if opts.Extension == "" {
		opts.Extension = r.opts.Extension
	}

	if _, ok := r.db.tables[name]; ok {
		return dberrors.NewAlreadyExists(op, name)
	}

	t, err := engine.Create(r.deps(r.db), r.db.name, name, opts)
	if err != nil {
		return err
	}

	r.db.tables[name] = t
	r.db.active = t
	return nil
}

// LoadData loads a table snapshot and makes it the active table.
// With no active database, db becomes the active one.
func (r *Registry) LoadData(db, table string, opts engine.LoadOptions) error {
	const op = "load_data"

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := storage.ValidateName("database", db); err != nil {
		return err
	}

	target := r.db
	if target != nil && target.name != db {
		return dberrors.NewAlreadyExists(op, target.name)
	}

	if target == nil {
		exists, err := r.store.Exists(r.store.DatabasePath(db))
		if err != nil {
			return err
		}
		if !exists {
			return dberrors.NewNotFound(op, db, nil)
		}

		meta, ok, err := r.store.ReadMeta(db)
		if err != nil {
			return err
		}
		var encoding, save string
		if ok {
			encoding, save = meta.Encoding, meta.Save
		}
		target, err = r.newDatabase(op, db, encoding, save)
		if err != nil {
			return err
		}
	}

	if opts.Extension == "" {
		opts.Extension = r.opts.Extension
	}

	t, err := engine.Load(r.deps(target), db, table, opts)
	if err != nil {
		return err
	}

	target.tables[table] = t
	target.active = t
	r.db = target
	return nil
}

// active returns the active table or a NoActiveTable/NoActiveDatabase error
func (r *Registry) active(op string) (*engine.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.db == nil {
		return nil, dberrors.NewNoActiveDatabase(op)
	}
	if r.db.active == nil {
		return nil, dberrors.NewNoActiveTable(op)
	}
	return r.db.active, nil
}

// ActiveTable returns the table record operations are routed to
func (r *Registry) ActiveTable() (*engine.Table, error) {
	return r.active("active_table")
}

// Insert adds rec to the active table and returns its id
func (r *Registry) Insert(rec record.Record) (record.ID, error) {
	t, err := r.active("insert")
	if err != nil {
		return 0, err
	}
	return t.Insert(rec)
}

// InsertWithID adds rec under a caller-supplied id
func (r *Registry) InsertWithID(id record.ID, rec record.Record) error {
	t, err := r.active("insert")
	if err != nil {
		return err
	}
	return t.InsertWithID(id, rec)
}

// Get returns the record stored under id in the active table
func (r *Registry) Get(id record.ID) (record.Record, error) {
	t, err := r.active("get")
	if err != nil {
		return nil, dberrors.NewNotFound("get", id.String(), err)
	}
	return t.Get(id)
}

// GetAll returns the full mapping of the active table
func (r *Registry) GetAll() (map[record.ID]record.Record, error) {
	t, err := r.active("get_all")
	if err != nil {
		return nil, dberrors.NewNotFound("get_all", "", err)
	}
	return t.All()
}

// Update merges partial into the record under id
func (r *Registry) Update(id record.ID, partial record.Record) (record.Record, error) {
	t, err := r.active("update")
	if err != nil {
		return nil, err
	}
	return t.Update(id, partial)
}

// Delete removes the record under id
func (r *Registry) Delete(id record.ID) error {
	t, err := r.active("delete")
	if err != nil {
		return err
	}
	return t.Delete(id)
}

// SaveSnapshot writes the active table to disk
func (r *Registry) SaveSnapshot() error {
	t, err := r.active("save_snapshot")
	if err != nil {
		return err
	}
	return t.Save()
}

// DeleteTable drops the active table: its snapshot, its records and its registration
func (r *Registry) DeleteTable() error {
	const op = "delete_table"

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return dberrors.NewNoActiveDatabase(op)
	}
	t := r.db.active
	if t == nil {
		return dberrors.NewNoActiveTable(op)
	}

	if err := t.Drop(); err != nil {
		return err
	}
	delete(r.db.tables, t.Name())
	r.db.active = nil
	return nil
}

// EncryptionKey returns the key of the active table; ok is false when it is unencrypted
func (r *Registry) EncryptionKey() (key string, ok bool, err error) {
	t, err := r.active("get_key")
	if err != nil {
		return "", false, err
	}
	key, ok = t.EncryptionKey()
	return key, ok, nil
}

// Database describes the active database; ok is false when none is active
func (r *Registry) Database() (info Info, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.db == nil {
		return Info{}, false
	}

	info = Info{
		Name:     r.db.name,
		Path:     r.store.DatabasePath(r.db.name),
		Encoding: r.db.codec.Encoding(),
		Save:     r.db.save,
	}
	if r.db.active != nil {
		info.ActiveTable = r.db.active.Name()
	}
	for name := range r.db.tables {
		info.Tables = append(info.Tables, name)
	}
	sort.Strings(info.Tables)
	return info, true
}

// ListTables returns the tables of the active database that have a snapshot on disk
func (r *Registry) ListTables() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.db == nil {
		return nil, dberrors.NewNoActiveDatabase("list_tables")
	}
	return r.store.ListTables(r.db.name, r.opts.Extension)
}

// ListDatabases returns every database folder under the data directory
func (r *Registry) ListDatabases() ([]string, error) {
	return r.store.ListDatabases()
}
