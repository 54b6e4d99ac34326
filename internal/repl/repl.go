package repl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	dberrors "github.com/leengari/burpdb/internal/domain/errors"
	"github.com/leengari/burpdb/internal/domain/record"
	"github.com/leengari/burpdb/internal/engine"
	"github.com/leengari/burpdb/internal/storage/manager"
)

const helpText = `Commands:
  createdb <name> [encoding] [auto|manual]
  createtable <name> [--ext=.json] [--encrypt] [--no-autoinc]
  load <database> <table> [key] [--ext=.json]
  insert [id] <json>
  get <id>
  all
  update <id> <json>
  delete <id>
  save
  droptable
  key
  tables
  ls
  help
  exit | \q`

// Result is what one command produced
type Result struct {
	Message string
	Columns []string
	Rows    [][]string
	Error   string
}

// Shell executes line commands against a registry
type Shell struct {
	registry *manager.Registry
}

// New creates a shell over registry
func New(registry *manager.Registry) *Shell {
	return &Shell{registry: registry}
}

// Run reads commands from in until EOF or exit, writing results to out
func Run(in io.Reader, out io.Writer, registry *manager.Registry) error {
	sh := New(registry)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Fprintln(out, "Welcome to burpdb")
	fmt.Fprintln(out, "Type 'help' for commands, 'exit' or '\\q' to quit.")

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "\\q" {
			return nil
		}

		PrintResult(out, sh.Execute(line))
	}
}

// Execute runs one command line
func (s *Shell) Execute(line string) *Result {
	cmd, rest := splitWord(line)
	res, err := s.dispatch(strings.ToLower(cmd), rest)
	if err != nil {
		return &Result{Error: err.Error()}
	}
	return res
}

func (s *Shell) dispatch(cmd, rest string) (*Result, error) {
	switch cmd {
	case "help":
		return &Result{Message: helpText}, nil
	case "createdb":
		return s.createDatabase(rest)
	case "createtable":
		return s.createTable(rest)
	case "load":
		return s.load(rest)
	case "insert":
		return s.insert(rest)
	case "get":
		return s.get(rest)
	case "all":
		return s.all()
	case "update":
		return s.update(rest)
	case "delete":
		id, err := parseID("delete", rest)
		if err != nil {
			return nil, err
		}
		if err := s.registry.Delete(id); err != nil {
			return nil, err
		}
		return &Result{Message: "deleted " + id.String()}, nil
	case "save":
		if err := s.registry.SaveSnapshot(); err != nil {
			return nil, err
		}
		return &Result{Message: "snapshot saved"}, nil
	case "droptable":
		if err := s.registry.DeleteTable(); err != nil {
			return nil, err
		}
		return &Result{Message: "table dropped"}, nil
	case "key":
		key, ok, err := s.registry.EncryptionKey()
		if err != nil {
			return nil, err
		}
		if !ok {
			return &Result{Message: "table is not encrypted"}, nil
		}
		return &Result{Message: key}, nil
	case "tables":
		return s.tables()
	case "ls", "list":
		dbs, err := s.registry.ListDatabases()
		if err != nil {
			return nil, err
		}
		return listResult("database", dbs), nil
	default:
		return nil, fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
}

func (s *Shell) createDatabase(rest string) (*Result, error) {
	args := strings.Fields(rest)
	if len(args) == 0 || len(args) > 3 {
		return nil, usage("createdb <name> [encoding] [auto|manual]")
	}
	args = append(args, "", "")
	if err := s.registry.CreateDatabase(args[0], args[1], args[2]); err != nil {
		return nil, err
	}
	return &Result{Message: "database " + args[0] + " created"}, nil
}

func (s *Shell) createTable(rest string) (*Result, error) {
	args := strings.Fields(rest)
	if len(args) == 0 {
		return nil, usage("createtable <name> [--ext=.json] [--encrypt] [--no-autoinc]")
	}

	opts := engine.DefaultTableOptions()
	for _, flag := range args[1:] {
		switch {
		case flag == "--encrypt":
			opts.Encrypt = true
		case flag == "--no-autoinc":
			opts.AutoIncrement = false
		case strings.HasPrefix(flag, "--ext="):
			opts.Extension = strings.TrimPrefix(flag, "--ext=")
		default:
			return nil, fmt.Errorf("unknown option %q", flag)
		}
	}

	if err := s.registry.CreateTable(args[0], opts); err != nil {
		return nil, err
	}
	msg := "table " + args[0] + " created"
	if opts.Encrypt {
		key, _, _ := s.registry.EncryptionKey()
		msg += "\nkey: " + key
	}
	return &Result{Message: msg}, nil
}

func (s *Shell) load(rest string) (*Result, error) {
	var positional []string
	var opts engine.LoadOptions
	for _, arg := range strings.Fields(rest) {
		if strings.HasPrefix(arg, "--ext=") {
			opts.Extension = strings.TrimPrefix(arg, "--ext=")
			continue
		}
		positional = append(positional, arg)
	}
	if len(positional) < 2 || len(positional) > 3 {
		return nil, usage("load <database> <table> [key] [--ext=.json]")
	}
	if len(positional) == 3 {
		opts.Encrypt = true
		opts.Key = positional[2]
	}

	if err := s.registry.LoadData(positional[0], positional[1], opts); err != nil {
		return nil, err
	}
	t, err := s.registry.ActiveTable()
	if err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("loaded %s/%s (%d records)", positional[0], positional[1], t.Len())}, nil
}

// insert accepts "insert <json>" or "insert <id> <json>"
func (s *Shell) insert(rest string) (*Result, error) {
	first, tail := splitWord(rest)
	if first == "" {
		return nil, usage("insert [id] <json>")
	}

	if !strings.HasPrefix(first, "{") {
		id, err := parseID("insert", first)
		if err != nil {
			return nil, err
		}
		rec, err := parseRecord("insert", tail)
		if err != nil {
			return nil, err
		}
		if err := s.registry.InsertWithID(id, rec); err != nil {
			return nil, err
		}
		return &Result{Message: "inserted " + id.String()}, nil
	}

	rec, err := parseRecord("insert", rest)
	if err != nil {
		return nil, err
	}
	id, err := s.registry.Insert(rec)
	if err != nil {
		return nil, err
	}
	return &Result{Message: "inserted " + id.String()}, nil
}

func (s *Shell) get(rest string) (*Result, error) {
	id, err := parseID("get", rest)
	if err != nil {
		return nil, err
	}
	rec, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return recordsResult(map[record.ID]record.Record{id: rec})
}

func (s *Shell) all() (*Result, error) {
	all, err := s.registry.GetAll()
	if err != nil {
		return nil, err
	}
	res, err := recordsResult(all)
	if err != nil {
		return nil, err
	}
	res.Message = fmt.Sprintf("(%d records)", len(all))
	return res, nil
}

func (s *Shell) update(rest string) (*Result, error) {
	first, tail := splitWord(rest)
	id, err := parseID("update", first)
	if err != nil {
		return nil, err
	}
	partial, err := parseRecord("update", tail)
	if err != nil {
		return nil, err
	}
	merged, err := s.registry.Update(id, partial)
	if err != nil {
		return nil, err
	}
	return recordsResult(map[record.ID]record.Record{id: merged})
}

func (s *Shell) tables() (*Result, error) {
	names, err := s.registry.ListTables()
	if err != nil {
		return nil, err
	}
	res := listResult("table", names)
	if info, ok := s.registry.Database(); ok && info.ActiveTable != "" {
		res.Message = "active: " + info.ActiveTable
	}
	return res, nil
}

func splitWord(s string) (word, rest string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

func usage(u string) error {
	return fmt.Errorf("usage: %s", u)
}

func parseID(op, s string) (record.ID, error) {
	id, err := record.ParseID(strings.TrimSpace(s))
	if err != nil {
		return 0, dberrors.NewInvalidArgument(op, s, err.Error())
	}
	return id, nil
}

func parseRecord(op, s string) (record.Record, error) {
	rec, err := record.Parse([]byte(s))
	if err != nil {
		return nil, dberrors.NewInvalidArgument(op, "record", err.Error())
	}
	return rec, nil
}

func listResult(column string, names []string) *Result {
	res := &Result{Columns: []string{column}}
	for _, n := range names {
		res.Rows = append(res.Rows, []string{n})
	}
	return res
}

func recordsResult(records map[record.ID]record.Record) (*Result, error) {
	ids := make([]record.ID, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	res := &Result{Columns: []string{"id", "record"}}
	for _, id := range ids {
		data, err := json.Marshal(records[id])
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, []string{id.String(), string(data)})
	}
	return res, nil
}

// PrintResult renders a result as a message followed by an aligned table
func PrintResult(w io.Writer, res *Result) {
	if res.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", res.Error)
		return
	}

	if len(res.Columns) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))

		sep := make([]string, len(res.Columns))
		for i := range sep {
			sep[i] = "---"
		}
		fmt.Fprintln(tw, strings.Join(sep, "\t"))

		for _, row := range res.Rows {
			fmt.Fprintln(tw, strings.Join(row, "\t"))
		}
		tw.Flush()
	}

	if res.Message != "" {
		fmt.Fprintln(w, res.Message)
	}
}
