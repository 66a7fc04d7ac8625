package reader

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/GabrielNunesIT/azmon-sink/internal/model"
	"github.com/GabrielNunesIT/azmon-sink/internal/testutil"
)

func collect(t *testing.T, input string) []*model.LogRecord {
	t.Helper()

	r := NewStdinReaderWith(bytes.NewBufferString(input), testutil.NewTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var records []*model.LogRecord
	if err := r.Run(ctx, func(rec *model.LogRecord) {
		records = append(records, rec)
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return records
}

func TestStdinReader_JSONLines(t *testing.T) {
	input := `{"timestamp":"2026-03-14T09:30:00Z","level":"Warning","message":"disk pressure","disk":"sda1"}` + "\n" +
		`{"level":"Information","message":"second"}` + "\n"

	records := collect(t, input)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	expected := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	if !first.Timestamp.Equal(expected) {
		t.Errorf("expected timestamp %v, got %v", expected, first.Timestamp)
	}
	if first.Level != "Warning" {
		t.Errorf("expected level Warning, got %q", first.Level)
	}
	if first.Message != "disk pressure" {
		t.Errorf("expected message 'disk pressure', got %q", first.Message)
	}
	if first.Properties["disk"] != "sda1" {
		t.Errorf("expected disk property sda1, got %v", first.Properties["disk"])
	}

	second := records[1]
	if second.Message != "second" {
		t.Errorf("expected message 'second', got %q", second.Message)
	}
	if second.Timestamp.IsZero() {
		t.Error("records without a timestamp should get the ingestion time")
	}
}

func TestStdinReader_NonJSONLineBecomesMessage(t *testing.T) {
	records := collect(t, "plain text line\n")

	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Message != "plain text line" {
		t.Errorf("expected raw line as message, got %q", records[0].Message)
	}
}

func TestStdinReader_EmptyLinesSkipped(t *testing.T) {
	input := `{"message":"one"}` + "\n\n" + `{"message":"two"}` + "\n"

	records := collect(t, input)
	if len(records) != 2 {
		t.Fatalf("expected 2 records (empty lines skipped), got %d", len(records))
	}
}

func TestStdinReader_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewStdinReaderWith(bytes.NewBufferString("line\n"), testutil.NewTestLogger())
	err := r.Run(ctx, func(rec *model.LogRecord) {
		t.Error("no records expected after cancellation")
	})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
