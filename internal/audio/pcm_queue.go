package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

// pcmQueue buffers signed 16-bit little-endian PCM between a line and a
// server that pulls or pushes samples from its own goroutine. The gain is
// applied in software as samples cross the queue.
type pcmQueue struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	frameSize int
	gain      float64
	moved     int64 // bytes handed to or taken from the server
}

func newPCMQueue(limit, frameSize int) *pcmQueue {
	limit -= limit % frameSize
	return &pcmQueue{limit: limit, frameSize: frameSize, gain: 1}
}

func (q *pcmQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *pcmQueue) free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit - len(q.buf)
}

// frames returns the whole frames that crossed to or from the server.
func (q *pcmQueue) frames() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.moved / int64(q.frameSize)
}

// push queues whole frames of p for playback and returns the bytes taken.
func (q *pcmQueue) push(p []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(len(p), q.limit-len(q.buf))
	n -= n % q.frameSize
	if n > 0 {
		q.buf = append(q.buf, p[:n]...)
	}
	return n
}

// pull moves captured whole frames into p.
func (q *pcmQueue) pull(p []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(len(p), len(q.buf))
	n -= n % q.frameSize
	copy(p, q.buf[:n])
	q.buf = q.buf[n:]
	return n
}

func (q *pcmQueue) reset() {
	q.mu.Lock()
	q.buf = nil
	q.mu.Unlock()
}

func (q *pcmQueue) setGain(v float64) {
	q.mu.Lock()
	q.gain = v
	q.mu.Unlock()
}

func (q *pcmQueue) gainValue() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gain
}

// render fills out with queued samples and silence after them. It returns
// how many samples came from the queue.
func (q *pcmQueue) render(out []int16) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	perFrame := q.frameSize / 2
	n := min(len(out), len(q.buf)/2)
	n -= n % perFrame
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(q.buf[2*i:]))
		out[i] = scaleSample(s, q.gain)
	}
	clear(out[n:])
	q.buf = q.buf[2*n:]
	q.moved += int64(2 * n)
	return n
}

// capture appends whole frames of in and drops what does not fit. It
// returns how many samples were kept.
func (q *pcmQueue) capture(in []int16) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	perFrame := q.frameSize / 2
	n := min(len(in), (q.limit-len(q.buf))/2)
	n -= n % perFrame
	for _, s := range in[:n] {
		q.buf = binary.LittleEndian.AppendUint16(q.buf, uint16(scaleSample(s, q.gain)))
	}
	q.moved += int64(2 * n)
	return n
}

func scaleSample(s int16, gain float64) int16 {
	if gain == 1 {
		return s
	}
	v := math.Round(float64(s) * gain)
	return int16(max(math.MinInt16, min(math.MaxInt16, v)))
}
