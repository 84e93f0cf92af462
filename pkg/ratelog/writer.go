// Package ratelog persists retiring MinuteBucket records as a
// line-delimited JSON stream, one file per monitor-start epoch second, and
// reads them back for replay.
package ratelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TicketRecord is the persisted form of a ratelimiter.Ticket.
type TicketRecord struct {
	RequestID            int64                 `json:"request_id"`
	InitialRequestSecond int64                 `json:"initial_request_second"`
	CorrelationID        string                `json:"correlation_id"`
	Model                string                `json:"model"`
	Issued               bool                  `json:"issued"`
	IssuedNumber         int64                 `json:"issued_number"`
	IssuedSecond         int64                 `json:"issued_second"`
	Events               []RateLimitEventRecord `json:"events"`
	Finished             bool                  `json:"finished"`
	FinishedSecond       int64                 `json:"finished_second"`
}

// RateLimitEventRecord is the persisted form of a ratelimiter.RateLimitEvent.
type RateLimitEventRecord struct {
	IssuedSecond   int64 `json:"issued_second"`
	LimitedSecond  int64 `json:"limited_second"`
	Reissued       bool  `json:"reissued"`
	ReissuedSecond int64 `json:"reissued_second"`
}

// SecondBucketRecord is the persisted form of a ratelimiter.SecondBucket.
type SecondBucketRecord struct {
	BucketID             int64          `json:"bucket_id"`
	TicketCount          int64          `json:"ticket_count"`
	IssuedCount          int64          `json:"issued_count"`
	SecondRequestedCount int64          `json:"second_requested_count"`
	Issued               []TicketRecord `json:"issued"`
	Overflow             []TicketRecord `json:"overflow"`
	RateLimited          []TicketRecord `json:"rate_limited"`
	Finished             []TicketRecord `json:"finished"`
}

// MinuteBucketRecord is the persisted, self-describing form of one
// retiring ratelimiter.MinuteBucket.
type MinuteBucketRecord struct {
	LimiterName    string               `json:"limiter_name"`
	StartISO       string               `json:"start_iso"`
	StartEpoch     int64                `json:"start_epoch"`
	MaxPerSecond   int64                `json:"max_per_second"`
	StartRamp      int64                `json:"start_ramp"`
	Delta          int64                `json:"delta"`
	RequestedCount int64                `json:"requested_count"`
	FinishedCount  int64                `json:"finished_count"`
	CurrentIndex   int                  `json:"current_index"`
	Seconds        []SecondBucketRecord `json:"seconds"`
}

// Writer appends MinuteBucketRecords to a single-per-run JSONL file under
// a log directory, one file per monitor-start epoch second.
type Writer struct {
	logDir      string
	startEpoch  int64
	currentFile *os.File
	mu          sync.Mutex
}

// NewWriter creates the log directory if needed and opens (or creates) the
// file for the given monitor-start epoch second.
func NewWriter(logDir string, startEpoch int64) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &Writer{logDir: logDir, startEpoch: startEpoch}
	if err := w.open(); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}
	return w, nil
}

func (w *Writer) open() error {
	path := w.path()
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	w.currentFile = file
	return nil
}

func (w *Writer) path() string {
	return filepath.Join(w.logDir, fmt.Sprintf("ratellmiter-%d.jsonl", w.startEpoch))
}

// WriteRecord appends rec as one JSON line, syncing to disk before
// returning. Callers (the Monitor) are expected to log and swallow any
// error rather than let it propagate to an admission caller.
func (w *Writer) WriteRecord(rec MinuteBucketRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	jsonData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize minute bucket record: %w", err)
	}
	if _, err := w.currentFile.Write(jsonData); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if _, err := w.currentFile.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

// Close closes the writer's file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	if err != nil {
		return fmt.Errorf("failed to close ratellmiter log file: %w", err)
	}
	return nil
}

// CurrentLogFile returns the path of this writer's active log file.
func (w *Writer) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path()
}

// ReadRecords reads and parses every MinuteBucketRecord from a single log
// file, in the order they were written.
func ReadRecords(logFilePath string) ([]MinuteBucketRecord, error) {
	data, err := os.ReadFile(logFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	var records []MinuteBucketRecord
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var rec MinuteBucketRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadRecordsStreaming reads a log file one line at a time via
// bufio.Scanner rather than slurping it whole, for logs too large to hold
// in memory twice over.
func ReadRecordsStreaming(logFilePath string) ([]MinuteBucketRecord, error) {
	f, err := os.Open(logFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	var records []MinuteBucketRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var rec MinuteBucketRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse record: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan log file: %w", err)
	}
	return records, nil
}

// SanitizeName makes a limiter or model name safe for use in a file name
// or listener label. Model names routinely contain slashes (e.g.
// "meta/llama-3"), which would otherwise read as path separators.
func SanitizeName(name string) string {
	return strings.ReplaceAll(name, "/", "-")
}

// ListLogFiles returns every ratellmiter log file in dir.
func ListLogFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "ratellmiter-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	return files, nil
}
