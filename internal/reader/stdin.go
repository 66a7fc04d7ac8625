// Package reader turns input streams into log records for the sink.
package reader

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/GabrielNunesIT/azmon-sink/internal/model"
	"github.com/GabrielNunesIT/go-libs/logger"
)

// StdinReader reads JSON-lines log records from standard input. Each line
// is decoded into a LogRecord; lines that are not valid JSON become records
// carrying the raw line as their message.
type StdinReader struct {
	reader io.Reader // Allows injection for testing
	logger logger.ILogger
}

// NewStdinReader creates a reader consuming os.Stdin.
func NewStdinReader(log logger.ILogger) *StdinReader {
	return &StdinReader{
		reader: os.Stdin,
		logger: log.SubLogger("StdinReader"),
	}
}

// NewStdinReaderWith creates a reader with a custom source (for testing).
func NewStdinReaderWith(r io.Reader, log logger.ILogger) *StdinReader {
	return &StdinReader{
		reader: r,
		logger: log.SubLogger("StdinReader"),
	}
}

// Run reads records until EOF or context cancellation, handing each one to
// emit in arrival order.
func (s *StdinReader) Run(ctx context.Context, emit func(*model.LogRecord)) error {
	s.logger.Info("reading records from stdin")

	scanner := bufio.NewScanner(s.reader)
	// Increase buffer for long lines
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	count := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			s.logger.Debugf("stdin reader stopped: records_read=%d", count)
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue // Skip empty lines
		}

		emit(parseLine(line))
		count++
	}

	if err := scanner.Err(); err != nil {
		s.logger.Errorf("stdin read error: %v", err)
		return err
	}

	s.logger.Infof("EOF reached: records_read=%d", count)
	return nil
}

// parseLine decodes one JSON line into a record. Well-known keys map onto
// the record's own fields; everything else lands in Properties.
func parseLine(line []byte) *model.LogRecord {
	var fields map[string]any
	if err := json.Unmarshal(line, &fields); err != nil {
		return model.NewLogRecord("", string(line))
	}

	rec := model.NewLogRecord("", "")
	for k, v := range fields {
		switch strings.ToLower(k) {
		case "timestamp", "@timestamp", "time":
			if str, ok := v.(string); ok {
				if ts, err := time.Parse(time.RFC3339Nano, str); err == nil {
					rec.Timestamp = ts
					continue
				}
			}
			rec.Properties[k] = v
		case "level", "severity":
			if str, ok := v.(string); ok {
				rec.Level = str
				continue
			}
			rec.Properties[k] = v
		case "message", "msg":
			if str, ok := v.(string); ok {
				rec.Message = str
				continue
			}
			rec.Properties[k] = v
		default:
			rec.Properties[k] = v
		}
	}
	return rec
}
