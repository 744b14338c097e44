package dbloader

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"reflect"
	"time"

	_ "github.com/lib/pq"
)

type logRow struct {
	sessionID string
	ts        time.Time
	module    string
	level     string
	message   string
}

type PGLoader struct {
	db          *sql.DB
	tx          *sql.Tx
	schema      string
	logger      *log.Logger
	pendingLogs []logRow
}

func NewPGLoader(schema string, logger *log.Logger) *PGLoader {
	return &PGLoader{db: nil, tx: nil, schema: schema, logger: logger}
}

func (loader *PGLoader) Connect(host string, port string, user string, password string, dbname string) error {
	var err error
	connectionString := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
	if loader.db, err = sql.Open("postgres", connectionString); err != nil {
		return errors.New("Failed to connect to database " + dbname + " with user " + user + ". Error: " + err.Error())
	}
	if err = loader.db.Ping(); err != nil {
		return errors.New("Failed to ping database " + dbname + ". Error: " + err.Error())
	}
	// One shared connection so that only one transaction can ever be
	// open against this loader.
	loader.db.SetMaxOpenConns(1)
	loader.logger.Println("Connected to database " + dbname)
	return nil
}

func (loader *PGLoader) Disconnect() {
	if loader.tx != nil {
		loader.tx.Rollback()
		loader.tx = nil
	}
	loader.flushPendingLogs()
	if loader.db != nil {
		loader.db.Close()
	}
}

func (loader *PGLoader) CreateSchema(schema string) error {
	createSchemaSQL := "CREATE SCHEMA IF NOT EXISTS " + schema
	if _, err := loader.db.Exec(createSchemaSQL); err != nil {
		return errors.New("Failed to execute [" + createSchemaSQL + "]. Error: " + err.Error())
	}
	setPathSQL := "SET search_path TO " + schema
	if _, err := loader.db.Exec(setPathSQL); err != nil {
		return errors.New("Failed to execute [" + setPathSQL + "]. Error: " + err.Error())
	}
	loader.logger.Println("Schema " + schema + " created")
	return nil
}

func (loader *PGLoader) DropSchema(schema string) error {
	dropSchemaSQL := "DROP SCHEMA IF EXISTS " + schema + " CASCADE"
	if _, err := loader.db.Exec(dropSchemaSQL); err != nil {
		return errors.New("Failed to execute [" + dropSchemaSQL + "]. Error: " + err.Error())
	}
	loader.logger.Println("Schema " + schema + " dropped")
	return nil
}

func (loader *PGLoader) Begin() error {
	if loader.tx != nil {
		return errors.New("A transaction is already open against this connection")
	}
	tx, err := loader.db.Begin()
	if err != nil {
		return errors.New("Failed to begin transaction. Error: " + err.Error())
	}
	loader.tx = tx
	return nil
}

func (loader *PGLoader) Commit() error {
	if loader.tx == nil {
		return errors.New("No open transaction to commit")
	}
	err := loader.tx.Commit()
	loader.tx = nil
	loader.flushPendingLogs()
	if err != nil {
		return errors.New("Failed to commit transaction. Error: " + err.Error())
	}
	return nil
}

func (loader *PGLoader) Rollback() error {
	if loader.tx == nil {
		return errors.New("No open transaction to roll back")
	}
	err := loader.tx.Rollback()
	loader.tx = nil
	loader.flushPendingLogs()
	if err != nil {
		return errors.New("Failed to roll back transaction. Error: " + err.Error())
	}
	return nil
}

// Exec runs a parameterized statement, inside the open transaction when
// there is one.
func (loader *PGLoader) Exec(sqlText string, args ...any) error {
	var err error
	if loader.tx != nil {
		_, err = loader.tx.Exec(sqlText, args...)
	} else {
		_, err = loader.db.Exec(sqlText, args...)
	}
	if err != nil {
		return NewExecError(err, "Failed to execute ["+sqlText+"]")
	}
	return nil
}

// RunQuery runs a query and scans every row into a new value of
// structType, positionally. Returns a slice of structType values.
func (loader *PGLoader) RunQuery(sqlText string, structType reflect.Type, args ...any) (interface{}, error) {
	var rows *sql.Rows
	var err error
	if loader.tx != nil {
		rows, err = loader.tx.Query(sqlText, args...)
	} else {
		rows, err = loader.db.Query(sqlText, args...)
	}
	if err != nil {
		return nil, errors.New("Failed to run query [" + sqlText + "]. Error: " + err.Error())
	}
	defer rows.Close()

	sliceType := reflect.SliceOf(structType)
	results := reflect.MakeSlice(sliceType, 0, 0)
	for rows.Next() {
		row := reflect.New(structType).Elem()
		fields := make([]any, structType.NumField())
		for idx := 0; idx < structType.NumField(); idx++ {
			fields[idx] = row.Field(idx).Addr().Interface()
		}
		if err := rows.Scan(fields...); err != nil {
			return nil, errors.New("Failed to scan row for query [" + sqlText + "]. Error: " + err.Error())
		}
		results = reflect.Append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New("Failed to read rows for query [" + sqlText + "]. Error: " + err.Error())
	}

	return results.Interface(), nil
}

// InsertLogEntry writes one row to the logs table through the base
// connection so that it survives a rolled back transaction. While a
// transaction is open it holds the pool's only connection, so rows are
// buffered and flushed once the transaction closes instead of blocking
// on the pool.
func (loader *PGLoader) InsertLogEntry(sessionID string, ts time.Time, module string, level string, message string) error {
	row := logRow{sessionID: sessionID, ts: ts, module: module, level: level, message: message}
	if loader.tx != nil {
		loader.pendingLogs = append(loader.pendingLogs, row)
		return nil
	}
	return loader.insertLogRow(row)
}

func (loader *PGLoader) insertLogRow(row logRow) error {
	insertSQL := `INSERT INTO logs (session_id, timestamp, module, log_level, message)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := loader.db.Exec(insertSQL, row.sessionID, row.ts, row.module, row.level, row.message); err != nil {
		return errors.New("Failed to insert log entry. Error: " + err.Error())
	}
	return nil
}

// flushPendingLogs drains rows buffered while a transaction held the
// connection. A row that fails to write is reported on the fallback
// logger and dropped, log persistence never fails the caller.
func (loader *PGLoader) flushPendingLogs() {
	rows := loader.pendingLogs
	loader.pendingLogs = nil
	for _, row := range rows {
		if err := loader.insertLogRow(row); err != nil {
			loader.logger.Println(err.Error())
		}
	}
}
