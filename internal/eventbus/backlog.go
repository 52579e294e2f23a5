package eventbus

import "sync"

// backlog is an ordered, bounded queue that feeds a subscription channel
// from its own goroutine. It keeps lifecycle events in publish order when
// the consumer is slower than the producer.
type backlog struct {
	mu      sync.Mutex
	queue   []Envelope
	limit   int
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

func newBacklog(limit int) *backlog {
	if limit <= 0 {
		limit = defaultBacklog
	}
	return &backlog{
		limit:   limit,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// enqueue appends env and reports false when the backlog is full.
func (q *backlog) enqueue(env Envelope) bool {
	q.mu.Lock()
	if len(q.queue) >= q.limit {
		q.mu.Unlock()
		return false
	}
	q.queue = append(q.queue, env)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *backlog) next() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return Envelope{}, false
	}
	env := q.queue[0]
	q.queue[0] = Envelope{}
	q.queue = q.queue[1:]
	if len(q.queue) == 0 {
		q.queue = nil
	}
	return env, true
}

func (q *backlog) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// pump forwards queued envelopes to out until halt is called.
func (q *backlog) pump(out chan<- Envelope) {
	defer close(q.stopped)
	for {
		for env, ok := q.next(); ok; env, ok = q.next() {
			select {
			case out <- env:
			case <-q.stop:
				return
			}
		}
		select {
		case <-q.wake:
		case <-q.stop:
			return
		}
	}
}

// halt stops the pump and waits for it to return.
func (q *backlog) halt() {
	select {
	case <-q.stop:
	default:
		close(q.stop)
	}
	<-q.stopped
}
