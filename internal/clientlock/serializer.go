package clientlock

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Serializer is a FIFO mutex guarding the shared chain client.
// The lock is handed directly to the oldest waiter on release so no caller can barge in.
// It is not reentrant: an op must never call Do on the same Serializer.
type Serializer struct {
	mu      sync.Mutex
	held    bool
	waiters *list.List // of chan struct{}
	idle    *list.List // of func(context.Context)

	logger *log.Entry
}

func NewSerializer() *Serializer {
	return &Serializer{
		waiters: list.New(),
		idle:    list.New(),
		logger: log.WithFields(log.Fields{
			"module": "clientlock",
		}),
	}
}

// Do runs op while holding the lock.
// An error or panic from op is returned to this caller only and the lock is always released.
func (s *Serializer) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return runGuarded(ctx, op)
}

// With runs op under s and returns its value
func With[T any](ctx context.Context, s *Serializer, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := s.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// RunWhenIdle queues a low priority op, it runs under the lock once no regular caller is waiting.
// Errors are logged.
func (s *Serializer) RunWhenIdle(op func(ctx context.Context)) {
	s.mu.Lock()
	s.idle.PushBack(op)
	start := !s.held && s.waiters.Len() == 0
	if start {
		s.held = true
	}
	s.mu.Unlock()

	if start {
		go s.runIdle()
	}
}

// Pending returns the number of callers waiting for the lock
func (s *Serializer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

func (s *Serializer) acquire(ctx context.Context) error {
	s.mu.Lock()
	if !s.held && s.waiters.Len() == 0 {
		s.held = true
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	elem := s.waiters.PushBack(ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-ch:
			// handed off while cancelling, pass it on
			s.mu.Unlock()
			s.release()
		default:
			s.waiters.Remove(elem)
			s.mu.Unlock()
		}
		return ctx.Err()
	}
}

func (s *Serializer) release() {
	s.mu.Lock()
	if front := s.waiters.Front(); front != nil {
		s.waiters.Remove(front)
		s.mu.Unlock()
		close(front.Value.(chan struct{}))
		return
	}
	if s.idle.Len() > 0 {
		s.mu.Unlock()
		go s.runIdle()
		return
	}
	s.held = false
	s.mu.Unlock()
}

// runIdle runs one idle op, the lock must already be held by the caller.
// A regular caller that queued since the hand-off goes first and the op stays queued.
func (s *Serializer) runIdle() {
	s.mu.Lock()
	front := s.idle.Front()
	if front == nil || s.waiters.Len() > 0 {
		s.mu.Unlock()
		s.release()
		return
	}
	s.idle.Remove(front)
	s.mu.Unlock()

	op := front.Value.(func(context.Context))
	err := runGuarded(context.Background(), func(ctx context.Context) error {
		op(ctx)
		return nil
	})
	if err != nil {
		s.logger.Errorf("Serializer idle task failed: %v", err)
	}
	s.release()
}

func runGuarded(ctx context.Context, op func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("client operation panic: %v", r)
		}
	}()
	return op(ctx)
}
