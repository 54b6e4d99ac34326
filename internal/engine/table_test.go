package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/leengari/burpdb/internal/codec"
	dberrors "github.com/leengari/burpdb/internal/domain/errors"
	"github.com/leengari/burpdb/internal/domain/record"
	"github.com/leengari/burpdb/internal/storage"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	c, err := codec.New(codec.UTF8, 0)
	assert.NilError(t, err)
	return Deps{
		Store: storage.New(storage.Options{Root: t.TempDir(), AtomicWrites: true}),
		Codec: c,
	}
}

func mustCreate(t *testing.T, deps Deps, name string, opts TableOptions) *Table {
	t.Helper()
	tbl, err := Create(deps, "shop", name, opts)
	assert.NilError(t, err)
	return tbl
}

func mustInsert(t *testing.T, tbl *Table, js string) record.ID {
	t.Helper()
	id, err := tbl.Insert(record.MustParse(js))
	assert.NilError(t, err)
	return id
}

func TestCreateMaterializesEmptySnapshot(t *testing.T) {
	deps := newTestDeps(t)
	tbl := mustCreate(t, deps, "orders", DefaultTableOptions())

	data, err := os.ReadFile(tbl.Path())
	assert.NilError(t, err)
	assert.Equal(t, string(data), "{}")
	assert.Equal(t, tbl.NextID(), record.ID(0))
	assert.Assert(t, !tbl.Dirty())
	assert.Assert(t, tbl.AutoIncrement())
	assert.Equal(t, tbl.Extension(), ".json")
	assert.Equal(t, tbl.Database(), "shop")
}

func TestCreateFailsWhenSnapshotOnDisk(t *testing.T) {
	deps := newTestDeps(t)
	assert.NilError(t, deps.Store.Write(deps.Store.TablePath("shop", "orders", ""), []byte(`{"0":{}}`)))

	_, err := Create(deps, "shop", "orders", DefaultTableOptions())
	assert.ErrorIs(t, err, dberrors.ErrAlreadyExists)

	// the existing snapshot is untouched
	data, err := os.ReadFile(deps.Store.TablePath("shop", "orders", ""))
	assert.NilError(t, err)
	assert.Equal(t, string(data), `{"0":{}}`)
}

func TestCreateRejectsBadNames(t *testing.T) {
	_, err := Create(newTestDeps(t), "shop", "../escape", DefaultTableOptions())
	assert.ErrorIs(t, err, dberrors.ErrInvalidArgument)
}

func TestInsertIDsStrictlyIncreasing(t *testing.T) {
	tbl := mustCreate(t, newTestDeps(t), "orders", DefaultTableOptions())

	var ids []record.ID
	for i := 0; i < 10; i++ {
		ids = append(ids, mustInsert(t, tbl, fmt.Sprintf(`{"n":%d}`, i)))
		if i%3 == 0 {
			assert.NilError(t, tbl.Delete(ids[len(ids)-1]))
		}
	}

	for i, id := range ids {
		assert.Equal(t, id, record.ID(i))
	}
	assert.Equal(t, tbl.NextID(), record.ID(10))
	assert.Equal(t, tbl.Len(), 6)
}

func TestOrdersScenario(t *testing.T) {
	tbl := mustCreate(t, newTestDeps(t), "orders", DefaultTableOptions())

	assert.Equal(t, mustInsert(t, tbl, `{"item":"pen"}`), record.ID(0))
	assert.Equal(t, mustInsert(t, tbl, `{"item":"cup"}`), record.ID(1))

	merged, err := tbl.Update(0, record.MustParse(`{"qty":3}`))
	assert.NilError(t, err)
	assert.DeepEqual(t, merged, record.MustParse(`{"item":"pen","qty":3}`))

	assert.NilError(t, tbl.Save())
	data, err := os.ReadFile(tbl.Path())
	assert.NilError(t, err)
	assert.Equal(t, string(data), `{"0":{"item":"pen","qty":3},"1":{"item":"cup"}}`)

	assert.NilError(t, tbl.Delete(1))
	all, err := tbl.All()
	assert.NilError(t, err)
	assert.DeepEqual(t, all, map[record.ID]record.Record{
		0: record.MustParse(`{"item":"pen","qty":3}`),
	})
}

func TestMissingRecords(t *testing.T) {
	tbl := mustCreate(t, newTestDeps(t), "orders", DefaultTableOptions())
	mustInsert(t, tbl, `{"item":"pen"}`)

	_, err := tbl.Get(42)
	assert.ErrorIs(t, err, dberrors.ErrNotFound)

	_, err = tbl.Update(42, record.MustParse(`{"qty":1}`))
	assert.ErrorIs(t, err, dberrors.ErrNotFound)

	err = tbl.Delete(42)
	assert.ErrorIs(t, err, dberrors.ErrNotFound)

	assert.NilError(t, tbl.Delete(0))
	err = tbl.Delete(0)
	assert.ErrorIs(t, err, dberrors.ErrNotFound)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	tbl := mustCreate(t, newTestDeps(t), "orders", DefaultTableOptions())
	rec := record.MustParse(`{"item":"pen"}`)
	id, err := tbl.Insert(rec)
	assert.NilError(t, err)

	rec["item"] = "changed by caller"
	got, err := tbl.Get(id)
	assert.NilError(t, err)
	got["item"] = "changed again"

	got, err = tbl.Get(id)
	assert.NilError(t, err)
	assert.Equal(t, got["item"], "pen")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	deps := newTestDeps(t)
	tbl := mustCreate(t, deps, "orders", DefaultTableOptions())

	for i := 0; i < 12; i++ {
		mustInsert(t, tbl, fmt.Sprintf(`{"n":%d,"price":%d.5,"tags":["a","b"]}`, i, i))
	}
	_, err := tbl.Update(3, record.MustParse(`{"n":"three","extra":{"deep":true}}`))
	assert.NilError(t, err)
	assert.NilError(t, tbl.Delete(11))
	assert.NilError(t, tbl.Delete(5))
	assert.NilError(t, tbl.Save())

	want, err := tbl.All()
	assert.NilError(t, err)

	loaded, err := Load(deps, "shop", "orders", LoadOptions{})
	assert.NilError(t, err)

	got, err := loaded.All()
	assert.NilError(t, err)
	assert.DeepEqual(t, got, want)

	// max id present is 10, so the cursor resumes at 11
	assert.Equal(t, loaded.NextID(), record.ID(11))
	assert.Assert(t, loaded.AutoIncrement())
	assert.Assert(t, !loaded.Dirty())
	assert.Equal(t, mustInsert(t, loaded, `{}`), record.ID(11))
}

func TestLoadEmptySnapshotStartsAtZero(t *testing.T) {
	deps := newTestDeps(t)
	mustCreate(t, deps, "orders", DefaultTableOptions())

	loaded, err := Load(deps, "shop", "orders", LoadOptions{})
	assert.NilError(t, err)
	assert.Equal(t, loaded.Len(), 0)
	assert.Equal(t, loaded.NextID(), record.ID(0))
}

func TestLoadMissingSnapshot(t *testing.T) {
	_, err := Load(newTestDeps(t), "shop", "ghost", LoadOptions{})
	assert.ErrorIs(t, err, dberrors.ErrNotFound)
}

func TestLoadCorruptedSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ``},
		{"truncated", `{"0":{"item":"pen","qty":3},"1":{"it`},
		{"not json", `orders: pen, cup`},
		{"bad key", `{"zero":{"item":"pen"}}`},
		{"cursor overflow", `{"18446744073709551615":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestDeps(t)
			path := deps.Store.TablePath("shop", "orders", "")
			assert.NilError(t, deps.Store.Write(path, []byte(tt.content)))

			_, err := Load(deps, "shop", "orders", LoadOptions{})
			assert.ErrorIs(t, err, dberrors.ErrDecode)
		})
	}
}

// A crash between truncate and write in in-place mode leaves a short file;
// the next load must report it instead of coming back empty.
func TestInPlaceCrashIsDetected(t *testing.T) {
	deps := newTestDeps(t)
	deps.Store = storage.New(storage.Options{Root: deps.Store.Root(), AtomicWrites: false})

	tbl := mustCreate(t, deps, "orders", DefaultTableOptions())
	mustInsert(t, tbl, `{"item":"pen"}`)
	assert.NilError(t, tbl.Save())

	data, err := os.ReadFile(tbl.Path())
	assert.NilError(t, err)
	assert.NilError(t, os.WriteFile(tbl.Path(), data[:len(data)/2], 0644))

	_, err = Load(deps, "shop", "orders", LoadOptions{})
	assert.ErrorIs(t, err, dberrors.ErrDecode)
}

func TestEncryptedRoundTrip(t *testing.T) {
	deps := newTestDeps(t)
	tbl := mustCreate(t, deps, "secrets", TableOptions{AutoIncrement: true, Encrypt: true})

	key, ok := tbl.EncryptionKey()
	assert.Assert(t, ok)
	assert.Assert(t, key != "")
	assert.Assert(t, tbl.Encrypted())

	mustInsert(t, tbl, `{"v":1}`)
	assert.NilError(t, tbl.Save())

	data, err := os.ReadFile(tbl.Path())
	assert.NilError(t, err)
	assert.Assert(t, !json.Valid(data), "encrypted snapshot must not be plaintext JSON")

	loaded, err := Load(deps, "shop", "secrets", LoadOptions{Encrypt: true, Key: key})
	assert.NilError(t, err)
	all, err := loaded.All()
	assert.NilError(t, err)
	assert.DeepEqual(t, all, map[record.ID]record.Record{0: record.MustParse(`{"v":1}`)})

	got, ok := loaded.EncryptionKey()
	assert.Assert(t, ok)
	assert.Equal(t, got, key)
}

func TestEncryptedEmptyTableLoads(t *testing.T) {
	deps := newTestDeps(t)
	tbl := mustCreate(t, deps, "secrets", TableOptions{AutoIncrement: true, Encrypt: true})
	key, _ := tbl.EncryptionKey()

	loaded, err := Load(deps, "shop", "secrets", LoadOptions{Encrypt: true, Key: key})
	assert.NilError(t, err)
	assert.Equal(t, loaded.Len(), 0)
}

func TestEncryptedLoadFailures(t *testing.T) {
	deps := newTestDeps(t)
	tbl := mustCreate(t, deps, "secrets", TableOptions{AutoIncrement: true, Encrypt: true})
	mustInsert(t, tbl, `{"v":1}`)
	assert.NilError(t, tbl.Save())

	other := mustCreate(t, deps, "other", TableOptions{AutoIncrement: true, Encrypt: true})
	wrongKey, _ := other.EncryptionKey()

	_, err := Load(deps, "shop", "secrets", LoadOptions{Encrypt: true, Key: wrongKey})
	assert.ErrorIs(t, err, dberrors.ErrDecryption)

	_, err = Load(deps, "shop", "secrets", LoadOptions{Encrypt: true})
	assert.ErrorIs(t, err, dberrors.ErrDecryption)

	_, err = Load(deps, "shop", "secrets", LoadOptions{Encrypt: true, Key: "%%%"})
	assert.ErrorIs(t, err, dberrors.ErrDecryption)

	// reading ciphertext as plaintext is a decode failure
	_, err = Load(deps, "shop", "secrets", LoadOptions{})
	assert.ErrorIs(t, err, dberrors.ErrDecode)
}

func TestDirtyFlag(t *testing.T) {
	tbl := mustCreate(t, newTestDeps(t), "orders", DefaultTableOptions())
	assert.Assert(t, !tbl.Dirty())

	id := mustInsert(t, tbl, `{"item":"pen"}`)
	assert.Assert(t, tbl.Dirty())

	assert.NilError(t, tbl.Save())
	assert.Assert(t, !tbl.Dirty())

	_, err := tbl.Update(id, record.MustParse(`{"qty":1}`))
	assert.NilError(t, err)
	assert.Assert(t, tbl.Dirty())

	assert.NilError(t, tbl.Save())
	assert.NilError(t, tbl.Delete(id))
	assert.Assert(t, tbl.Dirty())
}

func TestDropResetsTable(t *testing.T) {
	deps := newTestDeps(t)
	tbl := mustCreate(t, deps, "orders", TableOptions{AutoIncrement: true, Encrypt: true})
	mustInsert(t, tbl, `{"item":"pen"}`)
	mustInsert(t, tbl, `{"item":"cup"}`)
	assert.NilError(t, tbl.Save())

	assert.NilError(t, tbl.Drop())
	_, err := os.Stat(tbl.Path())
	assert.Assert(t, os.IsNotExist(err))

	assert.Assert(t, tbl.Dropped())
	assert.Equal(t, tbl.Len(), 0)
	assert.Equal(t, tbl.NextID(), record.ID(0))
	assert.Assert(t, !tbl.AutoIncrement())
	_, ok := tbl.EncryptionKey()
	assert.Assert(t, !ok)

	_, err = tbl.Insert(record.MustParse(`{}`))
	assert.ErrorIs(t, err, dberrors.ErrNoActiveTable)
	_, err = tbl.Get(0)
	assert.ErrorIs(t, err, dberrors.ErrNoActiveTable)
	_, err = tbl.All()
	assert.ErrorIs(t, err, dberrors.ErrNoActiveTable)
	assert.ErrorIs(t, tbl.Save(), dberrors.ErrNoActiveTable)
	assert.ErrorIs(t, tbl.Drop(), dberrors.ErrNoActiveTable)

	again := mustCreate(t, deps, "orders", DefaultTableOptions())
	assert.Equal(t, again.Len(), 0)
	assert.Equal(t, again.NextID(), record.ID(0))
	assert.Equal(t, mustInsert(t, again, `{}`), record.ID(0))
}

func TestDropToleratesMissingFile(t *testing.T) {
	tbl := mustCreate(t, newTestDeps(t), "orders", DefaultTableOptions())
	assert.NilError(t, os.Remove(tbl.Path()))
	assert.NilError(t, tbl.Drop())
}

func TestAutoIncrementDisabled(t *testing.T) {
	tbl := mustCreate(t, newTestDeps(t), "manual", TableOptions{})
	assert.Assert(t, !tbl.AutoIncrement())

	_, err := tbl.Insert(record.MustParse(`{"item":"pen"}`))
	assert.ErrorIs(t, err, dberrors.ErrInvalidArgument)

	assert.NilError(t, tbl.InsertWithID(7, record.MustParse(`{"item":"pen"}`)))
	err = tbl.InsertWithID(7, record.MustParse(`{"item":"cup"}`))
	assert.ErrorIs(t, err, dberrors.ErrAlreadyExists)

	assert.Equal(t, tbl.NextID(), record.ID(8))

	err = tbl.InsertWithID(maxID, record.MustParse(`{}`))
	assert.ErrorIs(t, err, dberrors.ErrInvalidArgument)
}

func TestInsertWithIDKeepsCursorAhead(t *testing.T) {
	tbl := mustCreate(t, newTestDeps(t), "orders", DefaultTableOptions())

	mustInsert(t, tbl, `{}`)
	assert.NilError(t, tbl.InsertWithID(5, record.MustParse(`{}`)))
	assert.Equal(t, mustInsert(t, tbl, `{}`), record.ID(6))

	// an id below the cursor does not move it back
	assert.NilError(t, tbl.InsertWithID(2, record.MustParse(`{}`)))
	assert.Equal(t, mustInsert(t, tbl, `{}`), record.ID(7))
}

func TestSaveFailsWithUnrepresentableCharacters(t *testing.T) {
	deps := newTestDeps(t)
	latin1, err := codec.New(codec.Latin1, 0)
	assert.NilError(t, err)
	deps.Codec = latin1

	tbl := mustCreate(t, deps, "orders", DefaultTableOptions())
	mustInsert(t, tbl, `{"v":"日本"}`)

	err = tbl.Save()
	assert.ErrorIs(t, err, dberrors.ErrInvalidEncoding)
	assert.Assert(t, tbl.Dirty())
}

func TestConcurrentMutations(t *testing.T) {
	tbl := mustCreate(t, newTestDeps(t), "orders", DefaultTableOptions())

	const workers, perWorker = 16, 25
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[record.ID]bool)
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := tbl.Insert(record.Record{"worker": w, "i": i})
				if err != nil {
					t.Error(err)
					return
				}
				if _, err := tbl.Update(id, record.Record{"seen": true}); err != nil {
					t.Error(err)
				}
				_, _ = tbl.All()
				if i%5 == 0 {
					if err := tbl.Save(); err != nil {
						t.Error(err)
					}
				}

				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	assert.Check(t, is.Len(seen, workers*perWorker))
	assert.Equal(t, tbl.Len(), workers*perWorker)
	assert.Equal(t, tbl.NextID(), record.ID(workers*perWorker))
}
