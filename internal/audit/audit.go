package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// Entry represents one administrative action.
type Entry struct {
	ID            string
	Actor         string
	Role          string
	Action        string
	ResourceID    string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LogWriter records audit entries to a process logger when no database is configured.
type LogWriter struct {
	logger *log.Logger
}

// NewLogWriter constructs a log-backed audit writer.
func NewLogWriter(logger *log.Logger) *LogWriter {
	if logger == nil {
		logger = log.Default()
	}
	return &LogWriter{logger: logger}
}

// Log writes entry as a single log line.
func (w *LogWriter) Log(_ context.Context, entry Entry) error {
	entry = normalize(entry)
	w.logger.Printf("audit: id=%s actor=%s role=%s action=%s resource=%s ip=%s digest=%s",
		entry.ID, entry.Actor, entry.Role, entry.Action, entry.ResourceID, entry.IP, entry.PayloadDigest)
	return nil
}

func normalize(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	return entry
}
