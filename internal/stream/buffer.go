package stream

import "sync"

const (
	// FrameSize is one 20ms frame of s16le stereo PCM at 48kHz:
	// 960 samples * 2 channels * 2 bytes.
	FrameSize = 3840

	// FrameDuration is the decode quantum in seconds.
	FrameDuration = 0.02
)

// Frame is one decoded PCM frame plus the running frame counter at the time
// it was produced. A Frame with empty Data is the end-of-stream sentinel.
type Frame struct {
	Data    []byte
	Counter int64
}

// FrameBuffer is a bounded blocking queue of decoded frames. The pump
// goroutine of a Reader produces into it; the playback driver consumes.
// Put blocks when full, Get blocks when empty.
type FrameBuffer struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	frames   []Frame
	capacity int
	closed   bool
}

func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	fb := &FrameBuffer{capacity: capacity}
	fb.notEmpty = sync.NewCond(&fb.mu)
	fb.notFull = sync.NewCond(&fb.mu)
	return fb
}

// Put appends a frame, blocking while the buffer is full. It returns false
// once the buffer has been closed.
func (fb *FrameBuffer) Put(data []byte, counter int64) bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for len(fb.frames) >= fb.capacity && !fb.closed {
		fb.notFull.Wait()
	}
	if fb.closed {
		return false
	}
	fb.frames = append(fb.frames, Frame{Data: data, Counter: counter})
	fb.notEmpty.Signal()
	return true
}

// Get pops the head frame, blocking while the buffer is empty. After Close it
// returns an empty frame, which consumers treat as end of stream.
func (fb *FrameBuffer) Get() Frame {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for len(fb.frames) == 0 && !fb.closed {
		fb.notEmpty.Wait()
	}
	if len(fb.frames) == 0 {
		return Frame{}
	}
	f := fb.frames[0]
	fb.frames = fb.frames[1:]
	fb.notFull.Signal()
	return f
}

// Discard pops up to n frames and returns the counter of the last one popped
// (0 if none were). If the end-of-stream sentinel is among the popped frames
// it is re-queued at the tail so a later Get still observes end of stream.
func (fb *FrameBuffer) Discard(n int) int64 {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	var last int64
	if n > len(fb.frames) {
		n = len(fb.frames)
	}
	for i := 0; i < n; i++ {
		f := fb.frames[0]
		fb.frames = fb.frames[1:]
		last = f.Counter
		if len(f.Data) == 0 {
			fb.frames = append(fb.frames, Frame{Counter: f.Counter})
			break
		}
	}
	fb.notFull.Signal()
	return last
}

// Len reports the number of buffered frames.
func (fb *FrameBuffer) Len() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.frames)
}

// Close unblocks all producers and consumers. Pending frames are dropped.
func (fb *FrameBuffer) Close() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.closed = true
	fb.frames = nil
	fb.notEmpty.Broadcast()
	fb.notFull.Broadcast()
}
