package printer

import (
	"tomgalvin.uk/niimprint/internal/protocol"
)

// Queue holds the frames waiting to be written to the printer, in the order
// they must be transmitted. It's owned by the controller's event loop and is
// not safe for concurrent use.
type Queue struct {
	frames []protocol.Frame
	head   int
}

func (q *Queue) Enqueue(f protocol.Frame) {
	q.frames = append(q.frames, f)
}

// Dequeue removes and returns the frame at the head of the queue. The second
// return value is false if the queue was empty.
func (q *Queue) Dequeue() (protocol.Frame, bool) {
	if q.head >= len(q.frames) {
		return protocol.Frame{}, false
	}

	f := q.frames[q.head]
	q.frames[q.head] = protocol.Frame{}
	q.head++

	if q.head == len(q.frames) {
		// reuse the backing array once everything has been drained
		q.frames = q.frames[:0]
		q.head = 0
	}
	return f, true
}

func (q *Queue) Len() int {
	return len(q.frames) - q.head
}

func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// Clear drops every pending frame.
func (q *Queue) Clear() {
	clear(q.frames)
	q.frames = q.frames[:0]
	q.head = 0
}
