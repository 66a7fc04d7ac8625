package buffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/GabrielNunesIT/azmon-sink/internal/model"
	"github.com/GabrielNunesIT/azmon-sink/internal/testutil"
)

func record(msg string) *model.LogRecord {
	return model.NewLogRecord("Information", msg)
}

func TestBatchBuffer_NoReleaseBelowThreshold(t *testing.T) {
	buf := New(3, 4, testutil.NewTestLogger())

	buf.Push(record("a"))
	buf.Push(record("b"))

	select {
	case batch := <-buf.Ready():
		t.Fatalf("expected no released batch below threshold, got %d records", len(batch))
	default:
	}

	if buf.Pending() != 2 {
		t.Errorf("expected 2 pending records, got %d", buf.Pending())
	}
}

func TestBatchBuffer_ReleasesAtThreshold(t *testing.T) {
	buf := New(3, 4, testutil.NewTestLogger())

	for i := 0; i < 3; i++ {
		buf.Push(record(fmt.Sprintf("msg-%d", i)))
	}

	select {
	case batch := <-buf.Ready():
		if len(batch) != 3 {
			t.Fatalf("expected batch of 3, got %d", len(batch))
		}
		for i, rec := range batch {
			expected := fmt.Sprintf("msg-%d", i)
			if rec.Message != expected {
				t.Errorf("record %d: expected %q, got %q (arrival order must be preserved)", i, expected, rec.Message)
			}
		}
	default:
		t.Fatal("expected a released batch at threshold")
	}

	if buf.Pending() != 0 {
		t.Errorf("expected empty live batch after release, got %d", buf.Pending())
	}
}

func TestBatchBuffer_SevenRecordsBatchSizeThree(t *testing.T) {
	buf := New(3, 4, testutil.NewTestLogger())

	for i := 0; i < 7; i++ {
		buf.Push(record(fmt.Sprintf("msg-%d", i)))
	}

	// Two full batches released, one record still pending.
	var released [][]*model.LogRecord
	for {
		select {
		case batch := <-buf.Ready():
			released = append(released, batch)
			continue
		default:
		}
		break
	}

	if len(released) != 2 {
		t.Fatalf("expected 2 released batches, got %d", len(released))
	}
	for i, batch := range released {
		if len(batch) != 3 {
			t.Errorf("batch %d: expected 3 records, got %d", i, len(batch))
		}
	}
	if buf.Pending() != 1 {
		t.Errorf("expected 1 pending record, got %d", buf.Pending())
	}

	// The pending record is released only by an explicit flush.
	buf.Flush()
	select {
	case batch := <-buf.Ready():
		if len(batch) != 1 {
			t.Fatalf("expected flushed batch of 1, got %d", len(batch))
		}
		if batch[0].Message != "msg-6" {
			t.Errorf("expected final record msg-6, got %q", batch[0].Message)
		}
	default:
		t.Fatal("expected flush to release the partial batch")
	}
}

func TestBatchBuffer_FlushEmptyIsNoop(t *testing.T) {
	buf := New(3, 4, testutil.NewTestLogger())

	buf.Flush()

	select {
	case <-buf.Ready():
		t.Fatal("flush of an empty buffer must not release a batch")
	default:
	}
}

func TestBatchBuffer_OverflowDropsOldest(t *testing.T) {
	// Capacity of 2 queued batches; release 3 full batches without a consumer.
	buf := New(2, 2, testutil.NewTestLogger())

	for i := 0; i < 6; i++ {
		buf.Push(record(fmt.Sprintf("msg-%d", i)))
	}

	if buf.Dropped() != 2 {
		t.Fatalf("expected 2 dropped records, got %d", buf.Dropped())
	}

	// The oldest batch (msg-0, msg-1) was dropped; the remaining two survive.
	first := <-buf.Ready()
	if first[0].Message != "msg-2" {
		t.Errorf("expected oldest surviving record msg-2, got %q", first[0].Message)
	}
	second := <-buf.Ready()
	if second[0].Message != "msg-4" {
		t.Errorf("expected next surviving record msg-4, got %q", second[0].Message)
	}
}

func TestBatchBuffer_ConcurrentPushLosesNothing(t *testing.T) {
	const producers = 8
	const perProducer = 250

	buf := New(10, producers*perProducer, testutil.NewTestLogger())

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				buf.Push(record(fmt.Sprintf("p%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()
	buf.Flush()

	total := 0
	for {
		select {
		case batch := <-buf.Ready():
			total += len(batch)
			continue
		default:
		}
		break
	}

	if total != producers*perProducer {
		t.Errorf("expected %d records across batches, got %d", producers*perProducer, total)
	}
}
