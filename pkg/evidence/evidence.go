package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zen-systems/supportgate/pkg/config"
)

// QueryRecord captures one query from receipt to terminal state.
type QueryRecord struct {
	QueryID       string          `json:"query_id"`
	ReceivedAt    time.Time       `json:"received_at"`
	Text          string          `json:"text"`
	Intent        string          `json:"intent,omitempty"`
	Confidence    float64         `json:"confidence"`
	Keywords      []string        `json:"keywords,omitempty"`
	Reasoning     string          `json:"reasoning,omitempty"`
	ChosenBackend string          `json:"chosen_backend,omitempty"`
	Reason        string          `json:"routing_reason,omitempty"`
	ModelUsed     string          `json:"model_used,omitempty"`
	State         string          `json:"state"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	Error         string          `json:"error,omitempty"`
	Succeeded     bool            `json:"succeeded"`
	TokenCount    int             `json:"token_count"`
	Streamed      bool            `json:"streamed,omitempty"`
	ElapsedMillis int64           `json:"elapsed_ms"`
	Attempts      []AttemptRecord `json:"attempts,omitempty"`
}

// AttemptRecord captures a single backend invocation.
type AttemptRecord struct {
	BackendID      string `json:"backend_id"`
	ModelUsed      string `json:"model_used,omitempty"`
	Succeeded      bool   `json:"succeeded"`
	ErrorKind      string `json:"error_kind,omitempty"`
	Error          string `json:"error,omitempty"`
	TokenCount     int    `json:"token_count"`
	DurationMillis int64  `json:"duration_ms"`
}

// Sink persists query records.
type Sink interface {
	Write(record QueryRecord) error
	Recent(limit int) ([]QueryRecord, error)
	Close() error
}

// Open returns the sink selected by cfg, or nil when evidence is disabled.
func Open(cfg config.EvidenceConfig) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Sink)) {
	case "", "none":
		return nil, nil
	case "file":
		w, err := NewWriter(cfg.Path)
		if err != nil {
			return nil, err
		}
		return w, nil
	case "sqlite":
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown evidence sink %q", cfg.Sink)
	}
}

// Writer writes one JSON file per query under baseDir/queries.
type Writer struct {
	baseDir string
	mu      sync.Mutex
}

// NewWriter creates a new evidence writer rooted at baseDir.
func NewWriter(baseDir string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "queries"), 0700); err != nil {
		return nil, err
	}
	return &Writer{baseDir: baseDir}, nil
}

// Dir returns the directory holding query records.
func (w *Writer) Dir() string {
	return filepath.Join(w.baseDir, "queries")
}

// Write writes record to queries/<query_id>.json.
func (w *Writer) Write(record QueryRecord) error {
	if record.QueryID == "" {
		return fmt.Errorf("query ID is required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	path := filepath.Join(w.Dir(), fmt.Sprintf("%s.json", record.QueryID))
	return writeJSON(path, record)
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (w *Writer) Recent(limit int) ([]QueryRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := os.ReadDir(w.Dir())
	if err != nil {
		return nil, err
	}
	var records []QueryRecord
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(w.Dir(), entry.Name()))
		if err != nil {
			return nil, err
		}
		var rec QueryRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ReceivedAt.After(records[j].ReceivedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Close is a no-op for the file writer.
func (w *Writer) Close() error {
	return nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
