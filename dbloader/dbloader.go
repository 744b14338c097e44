package dbloader

import (
	"reflect"
	"time"
)

type DBLoader interface {
	Connect(host string, port string, user string, password string, dbname string) error
	Disconnect()
	CreateSchema(schema string) error
	DropSchema(schema string) error
	Begin() error
	Commit() error
	Rollback() error
	Exec(sql string, args ...any) error
	RunQuery(sql string, structType reflect.Type, args ...any) (interface{}, error)
	InsertLogEntry(sessionID string, ts time.Time, module string, level string, message string) error
}
