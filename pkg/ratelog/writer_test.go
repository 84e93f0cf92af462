package ratelog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func sampleRecord(startEpoch int64) MinuteBucketRecord {
	return MinuteBucketRecord{
		LimiterName:    "claude-sonnet",
		StartISO:       "2026-07-29T00:00:00Z",
		StartEpoch:     startEpoch,
		MaxPerSecond:   10,
		StartRamp:      3,
		Delta:          1,
		RequestedCount: 2,
		FinishedCount:  1,
		CurrentIndex:   0,
		Seconds: []SecondBucketRecord{
			{
				BucketID:             startEpoch,
				TicketCount:          3,
				IssuedCount:          1,
				SecondRequestedCount: 2,
				Issued: []TicketRecord{
					{RequestID: 1, InitialRequestSecond: startEpoch, Issued: true, IssuedNumber: 1, IssuedSecond: startEpoch},
				},
				Overflow: []TicketRecord{
					{RequestID: 2, InitialRequestSecond: startEpoch},
				},
				Finished: []TicketRecord{
					{RequestID: 1, InitialRequestSecond: startEpoch, Issued: true, IssuedNumber: 1, IssuedSecond: startEpoch, Finished: true, FinishedSecond: startEpoch},
				},
			},
		},
	}
}

func TestNewWriter(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir, 1700000000)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	if _, err := os.Stat(tmpDir); os.IsNotExist(err) {
		t.Error("Log directory was not created")
	}

	currentFile := writer.CurrentLogFile()
	if currentFile == "" {
		t.Error("No current log file set")
	}
	if _, err := os.Stat(currentFile); os.IsNotExist(err) {
		t.Error("Current log file does not exist")
	}
}

func TestWriteRecord(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir, 1700000000)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	rec := sampleRecord(1700000000)
	if err := writer.WriteRecord(rec); err != nil {
		t.Fatalf("Failed to write record: %v", err)
	}

	data, err := os.ReadFile(writer.CurrentLogFile())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Log file is empty")
	}
	if data[len(data)-1] != '\n' {
		t.Error("Log line should end with newline")
	}
}

func TestWriteAndReadMultipleRecords(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir, 1700000000)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	for i := int64(0); i < 3; i++ {
		rec := sampleRecord(1700000000 + i*60)
		if err := writer.WriteRecord(rec); err != nil {
			t.Fatalf("Failed to write record %d: %v", i, err)
		}
	}

	records, err := ReadRecords(writer.CurrentLogFile())
	if err != nil {
		t.Fatalf("Failed to read records: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}

	for i, rec := range records {
		wantEpoch := int64(1700000000) + int64(i)*60
		if rec.StartEpoch != wantEpoch {
			t.Errorf("record %d: expected StartEpoch %d, got %d", i, wantEpoch, rec.StartEpoch)
		}
		if rec.LimiterName != "claude-sonnet" {
			t.Errorf("record %d: expected limiter name claude-sonnet, got %s", i, rec.LimiterName)
		}
	}
}

func TestReadRecordsStreamingMatchesReadRecords(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir, 1700000000)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	for i := int64(0); i < 5; i++ {
		if err := writer.WriteRecord(sampleRecord(1700000000 + i*60)); err != nil {
			t.Fatalf("Failed to write record %d: %v", i, err)
		}
	}

	slurped, err := ReadRecords(writer.CurrentLogFile())
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}
	streamed, err := ReadRecordsStreaming(writer.CurrentLogFile())
	if err != nil {
		t.Fatalf("ReadRecordsStreaming failed: %v", err)
	}

	if len(slurped) != len(streamed) {
		t.Fatalf("record count mismatch: slurped=%d streamed=%d", len(slurped), len(streamed))
	}
	for i := range slurped {
		if slurped[i].StartEpoch != streamed[i].StartEpoch {
			t.Errorf("record %d: epoch mismatch %d vs %d", i, slurped[i].StartEpoch, streamed[i].StartEpoch)
		}
	}
}

func TestRoundTripPreservesTicketDetail(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir, 1700000000)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	original := sampleRecord(1700000000)
	original.Seconds[0].RateLimited = []TicketRecord{
		{
			RequestID:            3,
			InitialRequestSecond: 1700000000,
			Events: []RateLimitEventRecord{
				{IssuedSecond: 1700000000, LimitedSecond: 1700000000, Reissued: true, ReissuedSecond: 1700000002},
			},
			Finished: true,
		},
	}

	if err := writer.WriteRecord(original); err != nil {
		t.Fatalf("Failed to write record: %v", err)
	}

	records, err := ReadRecords(writer.CurrentLogFile())
	if err != nil {
		t.Fatalf("Failed to read records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}

	got := records[0].Seconds[0].RateLimited[0]
	want := original.Seconds[0].RateLimited[0]
	if got.RequestID != want.RequestID {
		t.Errorf("RequestID mismatch: got %d want %d", got.RequestID, want.RequestID)
	}
	if len(got.Events) != 1 || got.Events[0] != want.Events[0] {
		t.Errorf("RateLimitEvent mismatch: got %+v want %+v", got.Events, want.Events)
	}
}

func TestReadEmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "empty.jsonl")

	file, err := os.Create(logFile)
	if err != nil {
		t.Fatalf("Failed to create empty file: %v", err)
	}
	file.Close()

	records, err := ReadRecords(logFile)
	if err != nil {
		t.Fatalf("Failed to read empty file: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected 0 records from empty file, got %d", len(records))
	}
}

func TestListLogFiles(t *testing.T) {
	tmpDir := t.TempDir()

	testFiles := []string{
		"ratellmiter-1700000000.jsonl",
		"ratellmiter-1700000060.jsonl",
		"ratellmiter-1700000120.jsonl",
		"other-file.txt",
	}
	for _, filename := range testFiles {
		f, err := os.Create(filepath.Join(tmpDir, filename))
		if err != nil {
			t.Fatalf("Failed to create test file %s: %v", filename, err)
		}
		f.Close()
	}

	logFiles, err := ListLogFiles(tmpDir)
	if err != nil {
		t.Fatalf("Failed to list log files: %v", err)
	}
	if len(logFiles) != 3 {
		t.Errorf("Expected 3 log files, got %d", len(logFiles))
	}
}

func TestWriterClose(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir, 1700000000)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}

	if err := writer.WriteRecord(sampleRecord(1700000000)); err != nil {
		t.Fatalf("Failed to write record: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	// Re-opening after close should work by creating a fresh handle.
	if err := writer.open(); err != nil {
		t.Fatalf("Failed to reopen writer: %v", err)
	}
	defer writer.Close()
	if err := writer.WriteRecord(sampleRecord(1700000000)); err != nil {
		t.Fatalf("Writing after reopen should work, got error: %v", err)
	}
}

func TestConcurrentWrites(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir, 1700000000)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := writer.WriteRecord(sampleRecord(1700000000 + id)); err != nil {
				t.Errorf("Failed to write record %d: %v", id, err)
			}
		}(int64(i))
	}
	wg.Wait()

	records, err := ReadRecords(writer.CurrentLogFile())
	if err != nil {
		t.Fatalf("Failed to read records: %v", err)
	}
	if len(records) != 10 {
		t.Errorf("Expected 10 records, got %d", len(records))
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"claude-sonnet": "claude-sonnet",
		"meta/llama-3":  "meta-llama-3",
		"a/b/c":         "a-b-c",
		"":              "",
	}
	for in, want := range cases {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q): expected %q, got %q", in, want, got)
		}
	}
}
