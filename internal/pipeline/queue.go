package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"shelfmark/internal/metrics"
)

// ErrQueueFull is returned when the webhook buffer has no room left.
var ErrQueueFull = errors.New("queue is full")

// ErrQueueClosed is returned once shutdown has begun.
var ErrQueueClosed = errors.New("queue is closed")

// QueueItem is one webhook delivery waiting for the pipeline.
type QueueItem struct {
	ReceiptID  string
	DocumentID int
	Prompt     string // optional per-request system prompt override
	EnqueuedAt time.Time
}

// Queue feeds webhook deliveries to the processor one at a time in arrival
// order. Enqueue never blocks the HTTP handler; the drain goroutine starts
// lazily on the first item and parks itself once the queue stays empty.
type Queue struct {
	processor *Processor
	items     chan QueueItem

	mu       sync.Mutex
	draining bool

	closed atomic.Bool
}

// NewQueue creates a queue with the given buffer capacity (256 when zero).
func NewQueue(processor *Processor, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{
		processor: processor,
		items:     make(chan QueueItem, capacity),
	}
}

// Enqueue adds one document and wakes the drain goroutine if none is
// running. Returns the receipt id identifying this delivery in the logs.
func (q *Queue) Enqueue(documentID int, prompt string) (string, error) {
	if q.closed.Load() {
		return "", ErrQueueClosed
	}

	item := QueueItem{
		ReceiptID:  uuid.NewString(),
		DocumentID: documentID,
		Prompt:     prompt,
		EnqueuedAt: time.Now(),
	}
	select {
	case q.items <- item:
	default:
		return "", ErrQueueFull
	}

	metrics.SetQueueDepth(len(q.items))
	log.Printf("📥 [QUEUE] Document %d queued (receipt %s, depth %d)", documentID, item.ReceiptID, len(q.items))
	q.startDrain()
	return item.ReceiptID, nil
}

// Depth reports how many items are waiting.
func (q *Queue) Depth() int {
	return len(q.items)
}

// Idle reports whether the queue is empty with no drain goroutine active.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.draining && len(q.items) == 0
}

// Close stops intake. The drain goroutine finishes what it is working on and
// parks; anything still buffered is safe to lose because no processing record
// exists for it yet, so the next scan picks those documents up.
func (q *Queue) Close() {
	q.closed.Store(true)
}

func (q *Queue) startDrain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.draining {
		return
	}
	q.draining = true
	go q.drain()
}

func (q *Queue) drain() {
	for {
		item, ok := q.next()
		if !ok {
			return
		}
		q.work(item)
	}
}

// next pops the head of the queue, or flips the drain flag off when the
// queue stays empty. The flag flip and the final emptiness check share one
// lock with startDrain, so a concurrent Enqueue either sees draining still
// set and leaves its item for this goroutine, or starts the next one itself.
func (q *Queue) next() (QueueItem, bool) {
	select {
	case item := <-q.items:
		return item, true
	default:
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case item := <-q.items:
		return item, true
	default:
		q.draining = false
		return QueueItem{}, false
	}
}

func (q *Queue) work(item QueueItem) {
	metrics.SetQueueDepth(len(q.items))

	_, err := q.processor.Process(context.Background(), item.DocumentID, item.Prompt)
	if err != nil {
		log.Printf("⚠️ [QUEUE] Receipt %s: document %d failed: %v", item.ReceiptID, item.DocumentID, err)
	}
}
