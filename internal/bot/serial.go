package bot

import "sync"

// chatQueue runs jobs one at a time per key, in submission order. Jobs for
// different keys run concurrently.
type chatQueue struct {
	mu      sync.Mutex
	pending map[string][]func()
	wg      sync.WaitGroup
}

func newChatQueue() *chatQueue {
	return &chatQueue{pending: make(map[string][]func())}
}

// Go schedules job behind any queued work for key.
func (q *chatQueue) Go(key string, job func()) {
	q.wg.Add(1)
	q.mu.Lock()
	if queued, busy := q.pending[key]; busy {
		q.pending[key] = append(queued, job)
		q.mu.Unlock()
		return
	}
	q.pending[key] = nil
	q.mu.Unlock()
	go q.drain(key, job)
}

func (q *chatQueue) drain(key string, job func()) {
	for {
		job()
		q.wg.Done()

		q.mu.Lock()
		queued := q.pending[key]
		if len(queued) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		job = queued[0]
		q.pending[key] = queued[1:]
		q.mu.Unlock()
	}
}

// Wait blocks until every scheduled job has finished.
func (q *chatQueue) Wait() {
	q.wg.Wait()
}
