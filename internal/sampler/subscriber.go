package sampler

import (
	"sync"

	"github.com/l473n7dR34m/hotdiag/internal/model"
)

type subscriber struct {
	ch     chan model.Sample
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch: make(chan model.Sample, 1),
	}
}

func (s *subscriber) channel() <-chan model.Sample {
	return s.ch
}

func (s *subscriber) send(sample model.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- sample:
		return
	default:
		// Drop oldest to make room for new sample.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- sample:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
