package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leengari/burpdb/internal/codec"
	dberrors "github.com/leengari/burpdb/internal/domain/errors"
	"github.com/leengari/burpdb/internal/domain/record"
	"github.com/leengari/burpdb/internal/envelope"
	"github.com/leengari/burpdb/internal/storage"
)

// the largest id the cursor can move past
const maxID = record.ID(math.MaxUint64)

// Deps are the collaborators a Table persists through
type Deps struct {
	Store     *storage.Store
	Codec     *codec.Codec
	KeySize   int // bytes of generated encryption keys (0 = envelope.DefaultKeySize)
	Logger    *slog.Logger
	Observers []Observer
}

// TableOptions configures a new table
type TableOptions struct {
	Extension     string // snapshot file extension ("" = storage.DefaultExtension)
	AutoIncrement bool
	Encrypt       bool
}

// DefaultTableOptions matches the defaults of the createTable operation
func DefaultTableOptions() TableOptions {
	return TableOptions{AutoIncrement: true}
}

// LoadOptions configures loading a table from its snapshot
type LoadOptions struct {
	Extension string
	Encrypt   bool
	Key       string // required when Encrypt is set
}

// Table is an in-memory record collection backed by one snapshot file
type Table struct {
	mu sync.RWMutex

	name      string
	database  string
	extension string
	path      string

	records       map[record.ID]record.Record
	nextID        record.ID // auto-increment cursor
	autoIncrement bool

	key    string // encoded encryption key, "" when unencrypted
	cipher *envelope.Cipher

	dirty   bool // memory diverged from the snapshot since the last save/load
	dropped bool

	store     *storage.Store
	codec     *codec.Codec
	logger    *slog.Logger
	observers []Observer
}

func newTable(deps Deps, db, name, ext string) *Table {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ext = storage.NormalizeExtension(ext)
	return &Table{
		name:      name,
		database:  db,
		extension: ext,
		path:      deps.Store.TablePath(db, name, ext),
		records:   make(map[record.ID]record.Record),
		store:     deps.Store,
		codec:     deps.Codec,
		logger:    logger.With(slog.String("database", db), slog.String("table", name)),
		observers: append([]Observer(nil), deps.Observers...),
	}
}

// Create registers a new, empty table and materializes its snapshot immediately.
// It fails with AlreadyExists when a snapshot with this name is already on disk.
func Create(deps Deps, db, name string, opts TableOptions) (*Table, error) {
	const op = "create_table"

	if err := storage.ValidateName("table", name); err != nil {
		return nil, err
	}

	t := newTable(deps, db, name, opts.Extension)

	exists, err := t.store.Exists(t.path)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, dberrors.NewAlreadyExists(op, name)
	}

	t.autoIncrement = opts.AutoIncrement

	if opts.Encrypt {
		key, err := envelope.GenerateKey(deps.KeySize)
		if err != nil {
			return nil, dberrors.New(op, dberrors.KindInvalidArgument, name, err)
		}
		if err := t.setKey(op, key); err != nil {
			return nil, err
		}
	}

	// The empty snapshot goes through the same pipeline as every later save,
	// so an encrypted table can be reloaded with its key right away.
	if err := t.persist(op); err != nil {
		return nil, err
	}

	t.logger.Info("table created",
		slog.String("path", t.path),
		slog.Bool("auto_increment", t.autoIncrement),
		slog.Bool("encrypted", t.cipher != nil),
	)
	t.notify(Event{Type: EventTableCreated, Data: t.path})
	return t, nil
}

// Load reads a table back from its snapshot.
// Any failure is terminal: nothing is partially loaded and nothing is retried.
func Load(deps Deps, db, name string, opts LoadOptions) (*Table, error) {
	const op = "load_data"

	if err := storage.ValidateName("table", name); err != nil {
		return nil, err
	}

	t := newTable(deps, db, name, opts.Extension)

	data, err := t.store.Read(t.path)
	if err != nil {
		return nil, err
	}

	if opts.Encrypt {
		if err := t.setKey(op, opts.Key); err != nil {
			return nil, err
		}
		data, err = t.cipher.Open(data)
		if err != nil {
			return nil, dberrors.NewDecryption(op, name, err)
		}
	}

	records, err := t.codec.Decode(data)
	if err != nil {
		return nil, dberrors.NewDecode(op, t.path, err)
	}

	t.records = records
	t.autoIncrement = true
	if highest, ok := codec.MaxID(records); ok {
		if highest == maxID {
			return nil, dberrors.NewDecode(op, t.path, fmt.Errorf("record id %s leaves no room for the auto-increment cursor", highest))
		}
		t.nextID = highest + 1
	}

	t.logger.Info("table loaded",
		slog.String("path", t.path),
		slog.Int("records", len(records)),
		slog.Uint64("next_id", uint64(t.nextID)),
		slog.Bool("encrypted", t.cipher != nil),
	)
	t.notify(Event{Type: EventTableLoaded, Records: len(records), Data: t.path})
	return t, nil
}

// setKey installs the encryption context. Bad keys are reported as decryption
// failures: the system cannot tell a malformed key from a lost one.
func (t *Table) setKey(op, key string) error {
	c, err := envelope.NewCipher(key)
	if err != nil {
		if errors.Is(err, envelope.ErrInvalidKey) {
			return dberrors.NewDecryption(op, t.name, err)
		}
		return dberrors.New(op, dberrors.KindInvalidArgument, t.name, err)
	}
	t.key = key
	t.cipher = c
	return nil
}

// Name returns the table name
func (t *Table) Name() string { return t.name }

// Database returns the name of the owning database
func (t *Table) Database() string { return t.database }

// Path returns the snapshot file path
func (t *Table) Path() string { return t.path }

// Extension returns the snapshot file extension
func (t *Table) Extension() string { return t.extension }

// AddObserver registers an observer to receive lifecycle events
func (t *Table) AddObserver(observer Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, observer)
}

// Insert stores rec under the next auto-increment id and returns that id.
// Memory only; call Save to persist.
func (t *Table) Insert(rec record.Record) (record.ID, error) {
	const op = "insert"

	t.mu.Lock()
	if t.dropped {
		t.mu.Unlock()
		return 0, dberrors.NewNoActiveTable(op)
	}
	if !t.autoIncrement {
		t.mu.Unlock()
		return 0, dberrors.NewInvalidArgument(op, t.name, "auto-increment is disabled, supply an id")
	}

	id := t.nextID
	t.records[id] = cloneOrEmpty(rec)
	t.nextID++
	t.dirty = true
	n := len(t.records)
	t.mu.Unlock()

	t.notify(Event{Type: EventRecordInserted, RecordID: &id, Records: n})
	return id, nil
}

// InsertWithID stores rec under a caller-supplied id.
// The cursor is moved past id so auto-increment never hands it out again.
func (t *Table) InsertWithID(id record.ID, rec record.Record) error {
	const op = "insert"

	t.mu.Lock()
	if t.dropped {
		t.mu.Unlock()
		return dberrors.NewNoActiveTable(op)
	}
	if _, exists := t.records[id]; exists {
		t.mu.Unlock()
		return dberrors.NewAlreadyExists(op, id.String())
	}
	if id == maxID {
		t.mu.Unlock()
		return dberrors.NewInvalidArgument(op, id.String(), "id leaves no room for the auto-increment cursor")
	}

	t.records[id] = cloneOrEmpty(rec)
	if id >= t.nextID {
		t.nextID = id + 1
	}
	t.dirty = true
	n := len(t.records)
	t.mu.Unlock()

	t.notify(Event{Type: EventRecordInserted, RecordID: &id, Records: n})
	return nil
}

// Get returns a copy of the record stored under id
func (t *Table) Get(id record.ID) (record.Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.dropped {
		return nil, dberrors.NewNoActiveTable("get")
	}
	rec, ok := t.records[id]
	if !ok {
		return nil, dberrors.NewNotFound("get", id.String(), nil)
	}
	return rec.Clone(), nil
}

// All returns a copy of the whole mapping
func (t *Table) All() (map[record.ID]record.Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.dropped {
		return nil, dberrors.NewNoActiveTable("get_all")
	}
	out := make(map[record.ID]record.Record, len(t.records))
	for id, rec := range t.records {
		out[id] = rec.Clone()
	}
	return out, nil
}

// Update merges partial into the record under id and returns the result.
// Keys in partial overwrite or extend; unmentioned keys are kept.
func (t *Table) Update(id record.ID, partial record.Record) (record.Record, error) {
	const op = "update"

	t.mu.Lock()
	if t.dropped {
		t.mu.Unlock()
		return nil, dberrors.NewNoActiveTable(op)
	}
	rec, ok := t.records[id]
	if !ok {
		t.mu.Unlock()
		return nil, dberrors.NewNotFound(op, id.String(), nil)
	}

	rec.Merge(partial)
	t.dirty = true
	merged := rec.Clone()
	n := len(t.records)
	t.mu.Unlock()

	t.notify(Event{Type: EventRecordUpdated, RecordID: &id, Records: n})
	return merged, nil
}

// Delete removes the record under id. The id is never reused.
func (t *Table) Delete(id record.ID) error {
	const op = "delete"

	t.mu.Lock()
	if t.dropped {
		t.mu.Unlock()
		return dberrors.NewNoActiveTable(op)
	}
	if _, ok := t.records[id]; !ok {
		t.mu.Unlock()
		return dberrors.NewNotFound(op, id.String(), nil)
	}

	delete(t.records, id)
	t.dirty = true
	n := len(t.records)
	t.mu.Unlock()

	t.notify(Event{Type: EventRecordDeleted, RecordID: &id, Records: n})
	return nil
}

// Save overwrites the snapshot with the full current mapping
func (t *Table) Save() error {
	const op = "save_snapshot"

	t.mu.Lock()
	if t.dropped {
		t.mu.Unlock()
		return dberrors.NewNoActiveTable(op)
	}
	if err := t.persist(op); err != nil {
		t.mu.Unlock()
		t.logger.Error("failed to save snapshot", slog.String("path", t.path), slog.Any("error", err))
		return err
	}
	n := len(t.records)
	t.mu.Unlock()

	t.logger.Info("snapshot saved", slog.String("path", t.path), slog.Int("records", n))
	t.notify(Event{Type: EventSnapshotSaved, Records: n, Data: t.path})
	return nil
}

// persist encodes, optionally encrypts and writes the mapping. Caller holds t.mu.
func (t *Table) persist(op string) error {
	data, err := t.codec.Encode(t.records)
	if err != nil {
		// a record holding characters the database encoding cannot represent
		return dberrors.New(op, dberrors.KindInvalidEncoding, t.path, fmt.Errorf("failed to encode snapshot: %w", err))
	}

	if t.cipher != nil {
		data, err = t.cipher.Seal(data)
		if err != nil {
			return dberrors.NewIO(op, t.path, err)
		}
	}

	if err := t.store.Write(t.path, data); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// Drop removes the snapshot and resets the table. Every later call fails with NoActiveTable.
func (t *Table) Drop() error {
	const op = "delete_table"

	t.mu.Lock()
	if t.dropped {
		t.mu.Unlock()
		return dberrors.NewNoActiveTable(op)
	}
	if err := t.store.Remove(t.path); err != nil {
		t.mu.Unlock()
		return err
	}

	t.records = make(map[record.ID]record.Record)
	t.nextID = 0
	t.autoIncrement = false
	t.key = ""
	t.cipher = nil
	t.dirty = false
	t.dropped = true
	t.mu.Unlock()

	t.logger.Info("table dropped", slog.String("path", t.path))
	t.notify(Event{Type: EventTableDropped, Data: t.path})
	return nil
}

// EncryptionKey returns the encoded key and whether the table is encrypted
func (t *Table) EncryptionKey() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.key, t.cipher != nil
}

// Encrypted reports whether snapshots of this table are encrypted
func (t *Table) Encrypted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cipher != nil
}

// AutoIncrement reports whether Insert assigns ids
func (t *Table) AutoIncrement() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.autoIncrement
}

// NextID returns the auto-increment cursor
func (t *Table) NextID() record.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextID
}

// Len returns the number of records in memory
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Dirty reports whether memory diverged from the snapshot since the last save or load
func (t *Table) Dirty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dirty
}

// Dropped reports whether Drop was called
func (t *Table) Dropped() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dropped
}

func cloneOrEmpty(rec record.Record) record.Record {
	if rec == nil {
		return record.Record{}
	}
	return rec.Clone()
}

// notify sends an event to all registered observers. Must not be called with t.mu held.
func (t *Table) notify(event Event) {
	t.mu.RLock()
	observers := t.observers
	t.mu.RUnlock()

	if len(observers) == 0 {
		return
	}

	event.OpID = uuid.NewString()
	event.Database = t.database
	event.Table = t.name
	event.Timestamp = time.Now()
	for _, observer := range observers {
		observer.OnEvent(event)
	}
}
