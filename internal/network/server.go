package network

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/leengari/burpdb/internal/codec"
	dberrors "github.com/leengari/burpdb/internal/domain/errors"
	"github.com/leengari/burpdb/internal/domain/record"
	"github.com/leengari/burpdb/internal/engine"
	"github.com/leengari/burpdb/internal/metrics"
	"github.com/leengari/burpdb/internal/storage/manager"
)

// Options configures the HTTP server
type Options struct {
	MetricsPath string // empty disables the exposition route
}

// Server exposes a Registry over HTTP
type Server struct {
	registry *manager.Registry
	metrics  *metrics.Collector
	logger   *slog.Logger
	app      *fiber.App
}

// New builds the server and its routes. A nil collector disables metrics.
func New(registry *manager.Registry, collector *metrics.Collector, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry: registry,
		metrics:  collector,
		logger:   logger,
	}
	// Immutable: names and keys from query strings outlive the request inside the registry
	s.app = fiber.New(fiber.Config{
		AppName:               "burpdb",
		DisableStartupMessage: true,
		Immutable:             true,
		ErrorHandler:          s.handleError,
	})

	if collector != nil {
		registry.AddObserver(collector)
		s.app.Use(s.timeRequest)
		if opts.MetricsPath != "" {
			s.app.Get(opts.MetricsPath, adaptor.HTTPHandler(collector.Handler()))
		}
	}

	s.app.Get("/", s.home)
	s.app.Get("/createDatabase", s.createDatabase)
	s.app.Get("/createTable", s.createTable)
	s.app.Post("/addData", s.addData)
	s.app.Get("/getSingle", s.getSingle)
	s.app.Get("/getAll", s.getAll)
	s.app.Get("/saveSnapshot", s.saveSnapshot)
	s.app.Post("/updateData", s.updateData)
	s.app.Delete("/deleteData", s.deleteData)
	s.app.Get("/loadData", s.loadData)
	s.app.Delete("/deleteTable", s.deleteTable)
	s.app.Get("/getKey", s.getKey)

	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", slog.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) timeRequest(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.metrics.ObserveRequest(c.Method()+" "+c.Route().Path, time.Since(start).Seconds())
	return err
}

// statusFor maps an error kind to its HTTP status
func statusFor(kind dberrors.Kind) int {
	switch kind {
	case dberrors.KindNotFound:
		return http.StatusNotFound
	case dberrors.KindAlreadyExists:
		return http.StatusConflict
	case dberrors.KindInvalidEncoding, dberrors.KindInvalidArgument:
		return http.StatusBadRequest
	case dberrors.KindNoActiveTable, dberrors.KindNoActiveDatabase:
		return http.StatusPreconditionFailed
	case dberrors.KindDecode, dberrors.KindDecryption:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "kind": "http"})
	}

	kind := dberrors.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Any("error", err),
		)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error(), "kind": kind})
}

func message(c *fiber.Ctx, msg string) error {
	return c.JSON(fiber.Map{"message": msg})
}

func requireQuery(c *fiber.Ctx, op, key string) (string, error) {
	v := c.Query(key)
	if v == "" {
		return "", dberrors.NewInvalidArgument(op, key, "query parameter is required")
	}
	return v, nil
}

func queryBool(c *fiber.Ctx, op, key string, def bool) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, dberrors.NewInvalidArgument(op, key, "expected true or false")
	}
	return v, nil
}

func queryID(c *fiber.Ctx, op string) (record.ID, error) {
	raw, err := requireQuery(c, op, "id")
	if err != nil {
		return 0, err
	}
	id, err := record.ParseID(raw)
	if err != nil {
		return 0, dberrors.NewInvalidArgument(op, raw, err.Error())
	}
	return id, nil
}

func bodyRecord(c *fiber.Ctx, op string) (record.Record, error) {
	rec, err := record.Parse(c.Body())
	if err != nil {
		return nil, dberrors.NewInvalidArgument(op, "body", err.Error())
	}
	return rec, nil
}

func (s *Server) home(c *fiber.Ctx) error {
	res := fiber.Map{
		"name":        "burpdb",
		"go_version":  runtime.Version(),
		"cpu_threads": runtime.NumCPU(),
	}
	if info, ok := s.registry.Database(); ok {
		res["database"] = info.Name
		res["encoding"] = info.Encoding
		res["active_table"] = info.ActiveTable
	}
	return c.JSON(res)
}

func (s *Server) createDatabase(c *fiber.Ctx) error {
	name, err := requireQuery(c, "create_database", "database_name")
	if err != nil {
		return err
	}
	if err := s.registry.CreateDatabase(name, c.Query("encoding"), c.Query("save")); err != nil {
		return err
	}
	return message(c, "Database created with name: "+name)
}

func (s *Server) createTable(c *fiber.Ctx) error {
	const op = "create_table"

	name, err := requireQuery(c, op, "table_name")
	if err != nil {
		return err
	}
	opts := engine.TableOptions{Extension: c.Query("extension")}
	if opts.AutoIncrement, err = queryBool(c, op, "auto_increment", true); err != nil {
		return err
	}
	if opts.Encrypt, err = queryBool(c, op, "encrypt", false); err != nil {
		return err
	}

	if err := s.registry.CreateTable(name, opts); err != nil {
		return err
	}
	return message(c, "The table with name : "+name+" is created.")
}

// addData inserts the JSON body. An explicit ?id= stores it under that id.
func (s *Server) addData(c *fiber.Ctx) error {
	const op = "insert"

	rec, err := bodyRecord(c, op)
	if err != nil {
		return err
	}

	if c.Query("id") != "" {
		id, err := queryID(c, op)
		if err != nil {
			return err
		}
		if err := s.registry.InsertWithID(id, rec); err != nil {
			return err
		}
		return c.Status(http.StatusCreated).JSON(id)
	}

	id, err := s.registry.Insert(rec)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(id)
}

func (s *Server) getSingle(c *fiber.Ctx) error {
	id, err := queryID(c, "get")
	if err != nil {
		return err
	}
	rec, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) getAll(c *fiber.Ctx) error {
	all, err := s.registry.GetAll()
	if err != nil {
		return err
	}
	body, err := codec.MarshalRecords(all)
	if err != nil {
		return dberrors.New("get_all", dberrors.KindIO, "", err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

func (s *Server) saveSnapshot(c *fiber.Ctx) error {
	if err := s.registry.SaveSnapshot(); err != nil {
		return err
	}
	return message(c, "Snapshot saved")
}

func (s *Server) updateData(c *fiber.Ctx) error {
	const op = "update"

	id, err := queryID(c, op)
	if err != nil {
		return err
	}
	partial, err := bodyRecord(c, op)
	if err != nil {
		return err
	}
	merged, err := s.registry.Update(id, partial)
	if err != nil {
		return err
	}
	return c.JSON(merged)
}

func (s *Server) deleteData(c *fiber.Ctx) error {
	id, err := queryID(c, "delete")
	if err != nil {
		return err
	}
	if err := s.registry.Delete(id); err != nil {
		return err
	}
	return message(c, "Deleted record "+id.String())
}

func (s *Server) loadData(c *fiber.Ctx) error {
	const op = "load_data"

	db, err := requireQuery(c, op, "database_name")
	if err != nil {
		return err
	}
	table, err := requireQuery(c, op, "table_name")
	if err != nil {
		return err
	}
	opts := engine.LoadOptions{
		Extension: c.Query("extension"),
		Key:       c.Query("key"),
	}
	if opts.Encrypt, err = queryBool(c, op, "encrypt", opts.Key != ""); err != nil {
		return err
	}

	if err := s.registry.LoadData(db, table, opts); err != nil {
		return err
	}
	return message(c, "Loaded "+db+"/"+table)
}

func (s *Server) deleteTable(c *fiber.Ctx) error {
	info, _ := s.registry.Database()
	if err := s.registry.DeleteTable(); err != nil {
		return err
	}
	return message(c, "Deleted table "+info.ActiveTable)
}

func (s *Server) getKey(c *fiber.Ctx) error {
	key, ok, err := s.registry.EncryptionKey()
	if err != nil {
		return err
	}
	if !ok {
		return c.JSON(fiber.Map{"key": nil})
	}
	return c.JSON(fiber.Map{"key": key})
}
