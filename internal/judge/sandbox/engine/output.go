package engine

import (
	"bytes"
	"sync"
)

// cappedBuffer keeps the first limit bytes written to it and reports the
// first write that goes past the limit.
type cappedBuffer struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	limit      int64
	overflowed bool
	onOverflow func()
}

func newCappedBuffer(limit int64, onOverflow func()) *cappedBuffer {
	return &cappedBuffer{limit: limit, onOverflow: onOverflow}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	if b.overflowed {
		b.mu.Unlock()
		return len(p), nil
	}
	room := b.limit - int64(b.buf.Len())
	if int64(len(p)) <= room {
		b.buf.Write(p)
		b.mu.Unlock()
		return len(p), nil
	}
	if room > 0 {
		b.buf.Write(p[:room])
	}
	b.overflowed = true
	notify := b.onOverflow
	b.mu.Unlock()
	if notify != nil {
		notify()
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflowed
}
