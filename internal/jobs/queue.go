package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrQueueClosed = errors.New("job queue is closed")
)

// Job выполняется воркером очереди. ctx отменяется при остановке сервиса.
type Job func(ctx context.Context)

// Queue - фиксированный пул воркеров поверх буферизованного канала.
type Queue struct {
	jobs    chan Job
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closing int32
}

func New(ctx context.Context, capacity, workers int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	if workers < 1 {
		workers = 1
	}
	q := &Queue{jobs: make(chan Job, capacity)}
	q.start(ctx, workers)
	return q
}

func (q *Queue) start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case job, ok := <-q.jobs:
					if !ok {
						return
					}
					job(ctx)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// Enqueue не блокируется: при заполненной очереди возвращает ErrQueueFull.
func (q *Queue) Enqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if atomic.LoadInt32(&q.closing) == 1 {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown закрывает очередь и ждёт, пока воркеры доработают принятые задания.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if !atomic.CompareAndSwapInt32(&q.closing, 0, 1) {
		q.mu.Unlock()
		return
	}
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}
