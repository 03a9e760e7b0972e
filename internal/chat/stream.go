package chat

import (
	"sync"

	"github.com/docuchat/docuchat-core/internal/domain"
)

// Stream delivers an answer incrementally. Deltas() closes when generation
// finishes; Err() and Text() are valid once it has closed. An abandoned
// stream must be Closed so the producer can unwind instead of blocking on
// a full delta buffer.
type Stream struct {
	deltas  chan string
	done    chan struct{}
	sources []domain.RetrievedChunk

	closeOnce sync.Once

	mu   sync.Mutex
	text string
	err  error
}

func newStream(sources []domain.RetrievedChunk) *Stream {
	return &Stream{
		deltas:  make(chan string, 16),
		done:    make(chan struct{}),
		sources: sources,
	}
}

// Deltas is the ordered sequence of answer fragments. Concatenating every
// delta yields Text().
func (s *Stream) Deltas() <-chan string { return s.deltas }

// Sources are the retrieved chunks the answer was grounded on. Available
// immediately, before the first delta.
func (s *Stream) Sources() []domain.RetrievedChunk { return s.sources }

// Close abandons the stream: remaining deltas are dropped and the producer
// is released. Safe to call more than once and after a full drain.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) emit(delta string) {
	select {
	case s.deltas <- delta:
	case <-s.done:
	}
}

func (s *Stream) finish(text string, err error) {
	s.mu.Lock()
	s.text = text
	s.err = err
	s.mu.Unlock()
	close(s.deltas)
}
