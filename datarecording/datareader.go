package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"slices"
)

// QueryParams encapsulates all query parameters
type QueryParams struct {
	// Where holds the WHERE clause without the "WHERE" keyword
	// Example: "Stage = ? AND DeadlineMissed = 1"
	Where string

	// Args holds the arguments for the placeholders in Where
	Args []any

	// Limit is the maximum number of records to return. Zero means no limit.
	Limit int

	// Offset is the number of records to skip.
	Offset int

	// OrderBy specifies sorting, without the "ORDER BY" keywords
	OrderBy string
}

// DataReader reads the tables written by a DataRecorder.
type DataReader interface {
	// MapTable maps a table to the struct type of its rows. A table must be
	// mapped before it is queried.
	MapTable(tableName string, sampleEntry any)

	// ListTables returns the mapped tables.
	ListTables() []string

	// Query returns the matching rows as pointers to the mapped type, plus
	// the number of rows matching params.Where regardless of pagination.
	Query(ctx context.Context, tableName string, params QueryParams) (
		results []any,
		totalCount int,
		err error,
	)

	// Close closes the reader
	Close() error
}

type sqliteReader struct {
	db      *sql.DB
	typeMap map[string]reflect.Type
}

// NewReader opens a database written by a DataRecorder.
func NewReader(dbFilename string) (DataReader, error) {
	db, err := sql.Open("sqlite3", dbFilename)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return NewReaderWithDB(db), nil
}

// NewReaderWithDB creates a DataReader on an open database.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{
		db:      db,
		typeMap: make(map[string]reflect.Type),
	}
}

func (r *sqliteReader) MapTable(tableName string, sampleEntry any) {
	r.typeMap[tableName] = reflect.TypeOf(sampleEntry)
}

func (r *sqliteReader) ListTables() []string {
	tables := make([]string, 0, len(r.typeMap))
	for table := range r.typeMap {
		tables = append(tables, table)
	}

	slices.Sort(tables)

	return tables
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	params QueryParams,
) ([]any, int, error) {
	structType, ok := r.typeMap[tableName]
	if !ok {
		return nil, 0, fmt.Errorf("no mapping found for table: %s", tableName)
	}

	where := ""
	if params.Where != "" {
		where = " WHERE " + params.Where
	}

	var totalCount int

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+tableName+where, params.Args...).
		Scan(&totalCount)
	if err != nil {
		return nil, 0, err
	}

	query := "SELECT * FROM " + tableName + where

	if params.OrderBy != "" {
		query += " ORDER BY " + params.OrderBy
	}

	if params.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", params.Limit)
		if params.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", params.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, params.Args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results, err := scanRows(rows, structType)
	if err != nil {
		return nil, 0, err
	}

	return results, totalCount, nil
}

// scanRows scans every row into a new value of structType. Columns without
// a field of the same name are skipped.
func scanRows(rows *sql.Rows, structType reflect.Type) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	fieldMap := make(map[string]int, structType.NumField())
	for i := 0; i < structType.NumField(); i++ {
		fieldMap[structType.Field(i).Name] = i
	}

	var results []any

	for rows.Next() {
		structPtr := reflect.New(structType)
		structVal := structPtr.Elem()
		scanTargets := make([]any, len(columns))

		for i, colName := range columns {
			if fieldIdx, ok := fieldMap[colName]; ok {
				scanTargets[i] = structVal.Field(fieldIdx).Addr().Interface()
				continue
			}

			var placeholder any
			scanTargets[i] = &placeholder
		}

		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}

		results = append(results, structPtr.Interface())
	}

	return results, rows.Err()
}

func (r *sqliteReader) Close() error {
	return r.db.Close()
}
