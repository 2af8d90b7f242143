package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"strings"
	"testing"
)

func TestLogWriterFillsDefaults(t *testing.T) {
	var buf bytes.Buffer
	writer := NewLogWriter(log.New(&buf, "", 0))
	metadata := json.RawMessage(`{"armed":false}`)
	if err := writer.Log(context.Background(), Entry{Actor: "user-1", Role: "operator", Action: "toggle_alarm", ResourceID: "sensor-1", Metadata: metadata}); err != nil {
		t.Fatalf("log: %v", err)
	}
	line := buf.String()
	for _, want := range []string{"audit: id=audit-", "actor=user-1", "action=toggle_alarm", "resource=sensor-1", "digest=" + DigestJSON(metadata)} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestDigestJSON(t *testing.T) {
	if DigestJSON(nil) != "" {
		t.Fatalf("expected empty digest for empty payload")
	}
	if got := DigestJSON([]byte("{}")); len(got) != 64 {
		t.Fatalf("expected sha256 hex digest, got %q", got)
	}
}

func TestRepositoryNilDB(t *testing.T) {
	if repo := NewRepository(nil); repo != nil {
		t.Fatalf("expected nil repository without db")
	}
	var repo *Repository
	if err := repo.Log(context.Background(), Entry{}); err == nil {
		t.Fatalf("expected error for nil repository")
	}
}
