package domain

// DefaultLogRingSize is used when a ring is created with a non-positive size.
const DefaultLogRingSize = 200

// LogRing keeps the most recent diagnostic lines of a job.
type LogRing struct {
	buf  []string
	next int
	full bool
}

// NewLogRing creates a ring holding at most size lines.
func NewLogRing(size int) LogRing {
	if size <= 0 {
		size = DefaultLogRingSize
	}
	return LogRing{buf: make([]string, size)}
}

// Append adds a line, evicting the oldest one when the ring is full.
func (r *LogRing) Append(line string) {
	if len(r.buf) == 0 {
		r.buf = make([]string, DefaultLogRingSize)
	}
	r.buf[r.next] = line
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// Lines returns the retained lines, oldest first.
func (r LogRing) Lines() []string {
	if !r.full {
		return append([]string(nil), r.buf[:r.next]...)
	}
	out := make([]string, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Len returns the number of retained lines.
func (r LogRing) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Clone returns an independent copy of the ring.
func (r LogRing) Clone() LogRing {
	c := r
	c.buf = append([]string(nil), r.buf...)
	return c
}
