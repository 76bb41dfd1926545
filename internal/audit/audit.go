// Package audit writes append-only audit records. Writes are fire and
// forget: Log never blocks the caller, never returns an error, and a
// failing sink never fails the operation being audited.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// MetadataByteBudget caps serialized metadata. Oversized payloads
	// are replaced with a marker, not rejected.
	MetadataByteBudget = 4096

	// UserAgentMaxLen caps stored user-agent strings.
	UserAgentMaxLen = 512

	defaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

// Entry is one audit record. Records are write-once; nothing in this
// package updates or deletes them.
type Entry struct {
	Scope      string
	Action     string
	UserID     string
	TenantID   string
	TargetType string
	TargetID   string
	Metadata   map[string]any
	IP         string
	UserAgent  string
	CreatedAt  time.Time
}

// Sink is the slice of a pgx pool the writer needs.
type Sink interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Writer struct {
	sink    Sink
	log     *zap.Logger
	queue   chan Entry
	dropLog *rate.Sometimes
	wg      sync.WaitGroup

	closeOnce sync.Once
}

func NewWriter(sink Sink, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Writer{
		sink:    sink,
		log:     log,
		queue:   make(chan Entry, defaultQueueSize),
		dropLog: &rate.Sometimes{First: 5, Interval: time.Minute},
	}
	w.wg.Add(1)
	go w.drain()
	return w
}

// Log enqueues one record. When the queue is full the record is dropped
// with an internal warning; back-pressure never reaches the caller.
func (w *Writer) Log(e Entry) {
	defer func() {
		// A closed queue during shutdown must not panic the caller.
		_ = recover()
	}()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.UserAgent = truncateUserAgent(e.UserAgent)

	select {
	case w.queue <- e:
	default:
		w.dropLog.Do(func() {
			w.log.Warn("audit queue full, record dropped",
				zap.String("scope", e.Scope),
				zap.String("action", e.Action))
		})
	}
}

// Close stops accepting records and drains what was already queued.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.queue)
		w.wg.Wait()
	})
}

func (w *Writer) drain() {
	defer w.wg.Done()
	for e := range w.queue {
		if err := w.write(e); err != nil {
			w.dropLog.Do(func() {
				w.log.Warn("audit write failed", zap.Error(err))
			})
		}
	}
}

func (w *Writer) write(e Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	id, err := uuid.NewV7()
	if err != nil {
		return err
	}

	metadata, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	_, err = w.sink.Exec(ctx, `
INSERT INTO audit.logs (id, scope, action, user_id, tenant_id, target_type, target_id, metadata, ip, user_agent, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, '')::uuid, NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), NULLIF($10, ''), $11)
`, id, e.Scope, e.Action, e.UserID, e.TenantID, e.TargetType, e.TargetID, metadata, e.IP, e.UserAgent, e.CreatedAt)
	return err
}

// truncateUserAgent caps the stored string without splitting a rune:
// an invalid UTF-8 tail would make Postgres reject the whole row.
func truncateUserAgent(ua string) string {
	if len(ua) <= UserAgentMaxLen {
		return ua
	}
	cut := UserAgentMaxLen
	for cut > 0 && !utf8.RuneStart(ua[cut]) {
		cut--
	}
	return ua[:cut]
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if len(b) > MetadataByteBudget {
		return fmt.Appendf(nil, `{"truncated":true,"size":%d}`, len(b)), nil
	}
	return b, nil
}
