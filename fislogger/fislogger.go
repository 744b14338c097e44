package fislogger

import (
	"log"
	"os"
	"time"
)

const LOG_FILE = "logs/fis.log"

const LevelInfo = "INFO"
const LevelWarning = "WARNING"
const LevelError = "ERROR"

// LogStore persists log records, normally into the logs table of the
// shared database. dbloader.PGLoader satisfies this.
type LogStore interface {
	InsertLogEntry(sessionID string, ts time.Time, module string, level string, message string) error
}

type FISLogger struct {
	log.Logger
	sessionID string
	store     LogStore
}

func NewFISLoggerByLogName(logFile string, sessionID string) *FISLogger {
	file, _ := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	return &FISLogger{
		Logger:    *log.New(file, "FIS ", log.Ldate|log.Ltime),
		sessionID: sessionID,
	}
}

func NewFISLoggerByFile(file *os.File, sessionID string) *FISLogger {
	return &FISLogger{
		Logger:    *log.New(file, "FIS ", log.Ldate|log.Ltime),
		sessionID: sessionID,
	}
}

// AttachStore enables duplication of every record into the logs table.
// The logger works without one so that setup code can log before the
// database connection exists.
func (l *FISLogger) AttachStore(store LogStore) {
	l.store = store
}

func (l *FISLogger) SessionID() string {
	return l.sessionID
}

// Log writes one record to the log file and, when a store is attached,
// to the logs table. Secret key material and full response bodies must
// never be passed in the message.
func (l *FISLogger) Log(module string, message string, level string) {
	l.Printf("[%s] %s: %s", module, level, message)

	if l.store == nil {
		return
	}
	if err := l.store.InsertLogEntry(l.sessionID, time.Now().UTC(), module, level, message); err != nil {
		l.Printf("[Logger] %s: failed to store log record: %s", LevelError, err.Error())
	}
}

func (l *FISLogger) Info(module string, message string) {
	l.Log(module, message, LevelInfo)
}

func (l *FISLogger) Warning(module string, message string) {
	l.Log(module, message, LevelWarning)
}

func (l *FISLogger) Error(module string, message string) {
	l.Log(module, message, LevelError)
}

var FISLoggerInstance *FISLogger = NewFISLoggerByLogName(LOG_FILE, "bootstrap")
