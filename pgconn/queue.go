package pgconn

import (
	"context"
	"sync"

	"github.com/pgmux/pgmux/pgproto3"
)

// writeLock is a single-permit asynchronous mutex: Acquire/Release behave
// like a mutex, but Acquire takes a context so a caller can give up while
// waiting for the permit. Unlike sync.Mutex, the
// zero value is not usable: newWriteLock creates the channel with its
// single permit already in it.
type writeLock chan struct{}

func newWriteLock() writeLock {
	wl := make(writeLock, 1)
	wl <- struct{}{}
	return wl
}

func (wl writeLock) Acquire(ctx context.Context) error {
	select {
	case <-wl:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire attempts to acquire the permit without blocking.
func (wl writeLock) TryAcquire() bool {
	select {
	case <-wl:
		return true
	default:
		return false
	}
}

func (wl writeLock) Release() {
	select {
	case wl <- struct{}{}:
	default:
		panic("pgconn: write lock released without being held")
	}
}

// slot is one entry in the per-connection operation queue. Each
// submitted command gets its own slot; slots are linked in submission
// order so the session can propagate a terminal error to every pending
// slot in FIFO order when it breaks.
type slot struct {
	readReady chan struct{} // closed once this slot may begin consuming messages
	messages  chan pgproto3.BackendMessage
	errCh     chan error // receives exactly one value: nil on success, else the terminal error

	next *slot
}

func newSlot() *slot {
	return &slot{
		readReady: make(chan struct{}),
		messages:  make(chan pgproto3.BackendMessage, 16),
		errCh:     make(chan error, 1),
	}
}

func (s *slot) signalReadReady() {
	close(s.readReady)
}

// opQueue is the per-connection operation queue: a FIFO linked list of
// slots, guarded by a plain mutex because enqueue/dequeue are brief,
// non-blocking bookkeeping operations.
type opQueue struct {
	mu   sync.Mutex
	head *slot
	tail *slot
	n    int
	wake chan struct{} // lazily created; closed when an enqueue fills an empty queue
}

// enqueue appends a new slot, pre-signaling read_ready if it becomes the
// new head (i.e. the session was idle).
func (q *opQueue) enqueue() *slot {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := newSlot()
	if q.tail == nil {
		q.head = s
		q.tail = s
		s.signalReadReady()
		if q.wake != nil {
			close(q.wake)
			q.wake = nil
		}
	} else {
		q.tail.next = s
		q.tail = s
	}
	q.n++
	return s
}

// waitChan returns a channel that closes the next time enqueue fills an
// empty queue, or nil if the queue is already non-empty.
func (q *opQueue) waitChan() chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head != nil {
		return nil
	}
	if q.wake == nil {
		q.wake = make(chan struct{})
	}
	return q.wake
}

// completeHead is called by the session's read loop once the head slot's
// response sequence has reached its terminal message. It advances the
// queue and signals the new head, if any.
func (q *opQueue) completeHead(err error) {
	q.mu.Lock()
	head := q.head
	if head == nil {
		q.mu.Unlock()
		return
	}
	q.head = head.next
	if q.head == nil {
		q.tail = nil
	}
	next := q.head
	q.n--
	q.mu.Unlock()

	head.errCh <- err
	close(head.messages)
	if next != nil {
		next.signalReadReady()
	}
}

// breakAll walks the remaining queue and completes every slot with err, as
// the session transitions to Broken.
func (q *opQueue) breakAll(err error) {
	q.mu.Lock()
	head := q.head
	q.head = nil
	q.tail = nil
	q.n = 0
	q.mu.Unlock()

	for s := head; s != nil; {
		next := s.next
		select {
		case <-s.readReady:
		default:
			s.signalReadReady()
		}
		select {
		case s.errCh <- err:
		default:
		}
		close(s.messages)
		s = next
	}
}

// Len reports the number of pending slots, used by the dispatcher's
// session-selection policy.
func (q *opQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

func (q *opQueue) isIdle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head == nil
}
