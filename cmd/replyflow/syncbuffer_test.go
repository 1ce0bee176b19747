package main

import (
	"bytes"
	"sync"
)

// syncBuffer serialises writes from the loop and the controller goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}
