// Package datarecording persists the event log and the summary of runs into
// SQLite databases.
package datarecording

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DataRecorder is a backend that can record and store data. It is safe for
// concurrent use.
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of
	// sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry of the type the table was created with.
	InsertData(tableName string, entry any)

	// ListTables returns the names of the created tables.
	ListTables() []string

	// Flush writes every buffered entry into the database.
	Flush()

	// Close flushes, records the end of the execution and closes the
	// database.
	Close() error
}

// DefaultBatchSize is the number of buffered entries that triggers a flush.
const DefaultBatchSize = 100000

// New creates a DataRecorder writing to path + ".sqlite3". An empty path
// picks a unique name. It panics if the file already exists.
func New(path string) DataRecorder {
	if path == "" {
		path = "rtloop_" + xid.New().String()
	}

	filename := path + ".sqlite3"
	if _, err := os.Stat(filename); err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	return newWriter(db)
}

// NewWithDB creates a DataRecorder on an open database.
func NewWithDB(db *sql.DB) DataRecorder {
	return newWriter(db)
}

func newWriter(db *sql.DB) *sqliteWriter {
	w := &sqliteWriter{
		db:        db,
		batchSize: DefaultBatchSize,
		tables:    make(map[string]*table),
	}

	w.exec = newExecRecorder(w)
	w.exec.Start()

	atexit.Register(func() { _ = w.Close() })

	return w
}

type table struct {
	name       string
	structType reflect.Type
	insertSQL  string
	entries    []any
}

type sqliteWriter struct {
	mu sync.Mutex
	db *sql.DB

	tables     map[string]*table
	order      []string
	batchSize  int
	entryCount int

	exec      *execRecorder
	closeOnce sync.Once
	closed    bool
	closeErr  error
}

var errUnsupportedField = errors.New("entry is invalid")

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func checkStructFields(entry any) error {
	t := reflect.TypeOf(entry)
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("%w: %T is not a struct", errUnsupportedField, entry)
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if !field.IsExported() || !isAllowedKind(field.Type.Kind()) {
			return fmt.Errorf("%w: field %s of %s",
				errUnsupportedField, field.Name, t.Name())
		}
	}

	return nil
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) {
	if err := checkStructFields(sampleEntry); err != nil {
		panic(err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.tables[tableName]; exists {
		panic(fmt.Sprintf("table %s already exists", tableName))
	}

	names := structs.Names(sampleEntry)
	w.mustExecute(`CREATE TABLE ` + tableName +
		` (` + "\n\t" + strings.Join(names, ", \n\t") + "\n" + `);`)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")

	w.tables[tableName] = &table{
		name:       tableName,
		structType: reflect.TypeOf(sampleEntry),
		insertSQL: "INSERT INTO " + tableName +
			" VALUES (" + placeholders + ")",
	}
	w.order = append(w.order, tableName)
}

func (w *sqliteWriter) InsertData(tableName string, entry any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, exists := w.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != t.structType {
		panic(fmt.Sprintf("table %s expects %s, got %T",
			tableName, t.structType, entry))
	}

	t.entries = append(t.entries, entry)

	w.entryCount++
	if w.entryCount >= w.batchSize {
		w.flushLocked()
	}
}

func (w *sqliteWriter) ListTables() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]string(nil), w.order...)
}

func (w *sqliteWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.flushLocked()
}

func (w *sqliteWriter) flushLocked() {
	if w.entryCount == 0 || w.closed {
		return
	}

	tx, err := w.db.Begin()
	if err != nil {
		panic(err)
	}

	for _, name := range w.order {
		t := w.tables[name]
		if len(t.entries) == 0 {
			continue
		}

		stmt, err := tx.Prepare(t.insertSQL)
		if err != nil {
			panic(err)
		}

		for _, entry := range t.entries {
			if _, err := stmt.Exec(structs.Values(entry)...); err != nil {
				panic(err)
			}
		}

		stmt.Close()
		t.entries = nil
	}

	if err := tx.Commit(); err != nil {
		panic(err)
	}

	w.entryCount = 0
}

func (w *sqliteWriter) Close() error {
	w.closeOnce.Do(func() {
		w.exec.End()

		w.mu.Lock()
		defer w.mu.Unlock()

		w.flushLocked()
		w.closed = true
		w.closeErr = w.db.Close()
	})

	return w.closeErr
}

func (w *sqliteWriter) mustExecute(query string) sql.Result {
	res, err := w.db.Exec(query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute: %s\n", query)
		panic(err)
	}

	return res
}
