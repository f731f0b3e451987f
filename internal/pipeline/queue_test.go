package pipeline

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"shelfmark/internal/models"
)

func testDocument(id int) models.Document {
	return models.Document{
		ID:      id,
		Title:   fmt.Sprintf("Scan_%03d.pdf", id),
		Content: fmt.Sprintf("document %d body text", id),
	}
}

func waitForQueueIdle(t *testing.T, q *Queue) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if q.Idle() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("queue never went idle")
}

func waitForCalls(t *testing.T, c *fakeCompleter, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.callCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("completer never reached %d calls", want)
}

func TestQueueProcessesInArrivalOrder(t *testing.T) {
	tp := newTestPipeline(t, pipelineConfig())
	for id := 1; id <= 3; id++ {
		tp.backend.addDocument(testDocument(id))
	}

	q := NewQueue(tp.processor, 8)
	for id := 1; id <= 3; id++ {
		receipt, err := q.Enqueue(id, "")
		if err != nil {
			t.Fatalf("Enqueue(%d): %v", id, err)
		}
		if receipt == "" {
			t.Fatal("empty receipt id")
		}
	}
	waitForQueueIdle(t, q)

	if got := tp.backend.order(); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Errorf("processing order = %v", got)
	}
}

func TestQueueRejectsWhenFull(t *testing.T) {
	tp := newTestPipeline(t, pipelineConfig())
	for id := 1; id <= 3; id++ {
		tp.backend.addDocument(testDocument(id))
	}
	gate := make(chan struct{})
	tp.completer.gate = gate

	q := NewQueue(tp.processor, 1)
	if _, err := q.Enqueue(1, ""); err != nil {
		t.Fatalf("Enqueue(1): %v", err)
	}
	// Once the completer blocks, item 1 is out of the buffer and in flight.
	waitForCalls(t, tp.completer, 1)

	if _, err := q.Enqueue(2, ""); err != nil {
		t.Fatalf("Enqueue(2): %v", err)
	}
	if _, err := q.Enqueue(3, ""); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue(3) = %v, want queue full", err)
	}

	close(gate)
	waitForQueueIdle(t, q)
	if got := tp.backend.order(); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("processing order = %v", got)
	}
}

func TestQueueRejectsAfterClose(t *testing.T) {
	tp := newTestPipeline(t, pipelineConfig())
	q := NewQueue(tp.processor, 4)
	q.Close()
	if _, err := q.Enqueue(1, ""); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Enqueue after Close = %v, want queue closed", err)
	}
}
