package stream

// DefaultBufferSize is the initial payload buffer handed to each FrameReader.
const DefaultBufferSize = 64 * 1024

// Purpose: Return a buffer with length >= needed, reusing buf when it is big enough.
// Key aspects: Grows capacity by 1.5x steps from the current capacity so that
// repeated larger frames amortize allocations; contents are not preserved.
// Upstream: FrameReader.ReadFrame.
// Downstream: make.
func Grow(buf []byte, needed int) []byte {
	if needed <= len(buf) {
		return buf
	}
	if needed <= cap(buf) {
		return buf[:cap(buf)]
	}
	next := cap(buf)
	if next <= 0 {
		next = needed
	}
	for next < needed {
		grown := next * 3 / 2
		if grown <= next {
			// 1*1.5 truncates back to 1; step by one so small buffers still grow.
			grown = next + 1
		}
		next = grown
	}
	return make([]byte, next)
}
