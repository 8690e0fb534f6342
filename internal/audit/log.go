package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tablegate/internal/store"
)

var insertColumns = []string{"entity", "operation", "role", "user_id", "status", "sub_status", "message", "method", "path"}

// Log collects events in memory and periodically flushes them to the
// _audit_log table in a batch insert.
type Log struct {
	mu      sync.Mutex
	events  []Event
	db      *sql.DB
	dialect store.Dialect
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
}

// NewLog creates a recorder that flushes on a timer or when the buffer fills.
func NewLog(db *sql.DB, dialect store.Dialect, maxSize, flushIntervalMs int) *Log {
	l := &Log{
		db:      db,
		dialect: dialect,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	l.ticker = time.NewTicker(time.Duration(flushIntervalMs) * time.Millisecond)
	go l.run()
	return l
}

func (l *Log) run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.ticker.C:
			l.Flush()
		}
	}
}

// Record adds an event to the buffer. A full buffer triggers an asynchronous
// flush; the request path never waits on the database.
func (l *Log) Record(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	shouldFlush := len(l.events) >= l.maxSize
	l.mu.Unlock()
	if shouldFlush {
		go l.Flush()
	}
}

// Flush writes all buffered events to the database in a single batch insert.
func (l *Log) Flush() {
	l.mu.Lock()
	if len(l.events) == 0 {
		l.mu.Unlock()
		return
	}
	batch := l.events
	l.events = nil
	l.mu.Unlock()

	pb := l.dialect.NewParamBuilder()
	placeholders := make([]string, 0, len(batch))
	for _, e := range batch {
		ph := []string{
			pb.Add(e.Entity), pb.Add(e.Operation), pb.Add(e.Role), pb.Add(e.UserID),
			pb.Add(e.Status), pb.Add(e.SubStatus), pb.Add(e.Message), pb.Add(e.Method), pb.Add(e.Path),
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
	}

	sqlStr := fmt.Sprintf("INSERT INTO _audit_log (%s) VALUES %s",
		strings.Join(insertColumns, ","), strings.Join(placeholders, ","))
	if _, err := l.db.ExecContext(context.Background(), sqlStr, pb.Params()...); err != nil {
		log.Printf("ERROR: audit log insert: %v", err)
	}
}

// Stop halts the background ticker and flushes remaining events.
func (l *Log) Stop() {
	if l.ticker != nil {
		l.ticker.Stop()
	}
	close(l.done)
	l.Flush()
}

// Cleanup deletes audit records older than retentionDays.
func Cleanup(ctx context.Context, db *sql.DB, dialect store.Dialect, retentionDays int) {
	pb := dialect.NewParamBuilder()
	whereExpr := dialect.IntervalDeleteExpr("created_at", pb, fmt.Sprintf("%d", retentionDays))
	sqlStr := "DELETE FROM _audit_log WHERE " + whereExpr
	result, err := db.ExecContext(ctx, sqlStr, pb.Params()...)
	if err != nil {
		log.Printf("ERROR: audit cleanup: %v", err)
		return
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		log.Printf("Audit cleanup: deleted %d old records", n)
	}
}
