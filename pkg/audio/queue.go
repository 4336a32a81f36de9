package audio

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultQueueCapacity holds 32 s of 0.5 s frames, several censorship holds
// worth of audio.
const DefaultQueueCapacity = 64

// FrameQueue is a bounded FIFO hand-off between the capture and recognition
// stages. Push blocks while the queue is full instead of dropping audio; Pop
// waits at most a caller-supplied timeout so the consumer can observe
// cancellation between polls.
//
// FrameQueue is safe for concurrent use by one producer and one consumer (any
// number of either works, but ordering is only meaningful with one of each).
type FrameQueue struct {
	frames chan AudioFrame
	stalls atomic.Int64
}

// NewFrameQueue returns a queue holding at most capacity frames. A capacity
// below 1 is replaced with [DefaultQueueCapacity].
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	return &FrameQueue{frames: make(chan AudioFrame, capacity)}
}

// Push appends f, blocking while the queue is full. It returns ctx.Err() only
// if ctx is cancelled before the frame could be enqueued; in that case the
// frame is not enqueued.
func (q *FrameQueue) Push(ctx context.Context, f AudioFrame) error {
	select {
	case q.frames <- f:
		return nil
	default:
	}

	// Full: this push is now applying backpressure to the producer.
	q.stalls.Add(1)
	select {
	case q.frames <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes and returns the oldest frame. It reports false if no frame
// arrived within timeout.
func (q *FrameQueue) Pop(timeout time.Duration) (AudioFrame, bool) {
	select {
	case f := <-q.frames:
		return f, true
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f := <-q.frames:
		return f, true
	case <-t.C:
		return AudioFrame{}, false
	}
}

// Len returns the number of frames currently queued.
func (q *FrameQueue) Len() int { return len(q.frames) }

// Cap returns the queue bound.
func (q *FrameQueue) Cap() int { return cap(q.frames) }

// Stalls returns how many Push calls found the queue full and had to block.
func (q *FrameQueue) Stalls() int64 { return q.stalls.Load() }
