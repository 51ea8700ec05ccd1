package bus

import (
	"context"
	"sync"
)

// A broadcasting signal bus keyed by topic. Every waiter registered on a
// topic receives the next message emitted on it, after which the topic
// is drained. Messages emitted to topics nobody waits on are dropped.
type SignalBus[T any] struct {
	channels map[int64][]chan T
	lock     sync.Mutex
}

func NewSignalBus[T any]() *SignalBus[T] {
	return &SignalBus[T]{
		channels: make(map[int64][]chan T),
	}
}

// Emit a message on a topic. It never blocks.
func (s *SignalBus[T]) Emit(topic int64, message T) {
	channels := func() []chan T {
		s.lock.Lock()
		defer s.lock.Unlock()

		channels := s.channels[topic]
		delete(s.channels, topic)
		return channels
	}()

	// Each channel has room for exactly one message, so this does not
	// race with a waiter that registered but is not receiving yet.
	for _, channel := range channels {
		channel <- message
		close(channel)
	}
}

// Wait for a message on the topic. Returns the message and a bool flag
// that indicates if the wait was aborted, either because the topic was
// cleaned up or because the context is done.
func (s *SignalBus[T]) Wait(ctx context.Context, topic int64) (T, bool) {
	channel := make(chan T, 1)

	s.lock.Lock()
	s.channels[topic] = append(s.channels[topic], channel)
	s.lock.Unlock()

	var zero T
	select {
	case value, ok := <-channel:
		if !ok {
			return zero, true
		}
		return value, false

	case <-ctx.Done():
		s.forget(topic, channel)
		return zero, true
	}
}

func (s *SignalBus[T]) forget(topic int64, channel chan T) {
	s.lock.Lock()
	defer s.lock.Unlock()

	channels := s.channels[topic]
	for index, candidate := range channels {
		if candidate == channel {
			s.channels[topic] = append(channels[:index], channels[index+1:]...)
			break
		}
	}
	if len(s.channels[topic]) == 0 {
		delete(s.channels, topic)
	}
}

// Number of waiters currently registered on a topic.
func (s *SignalBus[T]) Waiting(topic int64) int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.channels[topic])
}

// Clean up a topic on the bus. All pending waits will resolve
// with a done flag.
func (s *SignalBus[T]) CleanUp(topic int64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if channels, ok := s.channels[topic]; ok {
		for _, channel := range channels {
			close(channel)
		}
		delete(s.channels, topic)
	}
}
