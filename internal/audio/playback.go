package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Meter smoothing coefficients: the loudness display reacts quickly to rising
// audio and decays more slowly.
const (
	meterRise = 0.35
	meterFall = 0.15
)

// PlaybackQueue is the sample-chunk FIFO drained by the render callback. It is
// the only structure shared between the control domain and the realtime audio
// pull; all access goes through Push/Clear/ReadBlock under its own lock and
// ReadBlock never blocks.
type PlaybackQueue struct {
	mu         sync.Mutex
	chunks     [][]float32
	readOff    int
	queued     int
	sampleRate int
	level      float64
	sinceMeter int
	onMeter    func(level float64)
}

// NewPlaybackQueue creates a queue for the given sample rate. onMeter (may be
// nil) receives the smoothed loudness roughly every 50ms of rendered audio and
// must not block.
func NewPlaybackQueue(sampleRate int, onMeter func(float64)) *PlaybackQueue {
	return &PlaybackQueue{sampleRate: sampleRate, onMeter: onMeter}
}

// Push appends a chunk to the queue tail.
func (q *PlaybackQueue) Push(chunk []float32) {
	if len(chunk) == 0 {
		return
	}
	q.mu.Lock()
	q.chunks = append(q.chunks, chunk)
	q.queued += len(chunk)
	q.mu.Unlock()
}

// Clear drops all buffered audio, resets the read offset and meter, and emits
// a zero-meter notification immediately.
func (q *PlaybackQueue) Clear() {
	q.mu.Lock()
	q.chunks = nil
	q.readOff = 0
	q.queued = 0
	q.level = 0
	q.sinceMeter = 0
	emit := q.onMeter
	q.mu.Unlock()
	if emit != nil {
		emit(0)
	}
}

// QueuedSamples reports how many samples are waiting to be rendered.
func (q *PlaybackQueue) QueuedSamples() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued
}

// QueuedDuration reports the buffered audio length.
func (q *PlaybackQueue) QueuedDuration() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sampleRate <= 0 {
		return 0
	}
	return time.Duration(q.queued) * time.Second / time.Duration(q.sampleRate)
}

// ReadBlock fills dst by draining queued chunks front-to-back. If the queue
// empties mid-block the remainder is silence; starvation is the normal idle
// state, not an error.
func (q *PlaybackQueue) ReadBlock(dst []float32) {
	q.mu.Lock()
	n := 0
	for n < len(dst) && len(q.chunks) > 0 {
		head := q.chunks[0]
		c := copy(dst[n:], head[q.readOff:])
		n += c
		q.readOff += c
		q.queued -= c
		if q.readOff >= len(head) {
			q.chunks = q.chunks[1:]
			q.readOff = 0
		}
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}

	q.level = smooth(q.level, rms(dst), meterRise, meterFall)
	q.sinceMeter += len(dst)
	var emit func(float64)
	var level float64
	if interval := q.sampleRate / 20; interval > 0 && q.sinceMeter >= interval {
		q.sinceMeter = 0
		emit = q.onMeter
		level = q.level
	}
	q.mu.Unlock()
	if emit != nil {
		emit(level)
	}
}

// Level returns the current smoothed loudness.
func (q *PlaybackQueue) Level() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.level
}

// Player renders a PlaybackQueue through the system audio device. The oto
// player pulls samples via Read on its own realtime goroutine.
type Player struct {
	queue  *PlaybackQueue
	otoCtx *oto.Context
	player *oto.Player

	mu        sync.Mutex
	suspended bool
	closed    bool

	scratch []float32
}

// NewPlayer opens the playback device at the given rate and starts rendering
// from the queue. A device init failure leaves playback disabled for the
// session; the caller logs and carries on.
func NewPlayer(sampleRate int, queue *PlaybackQueue) (*Player, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	<-ready

	p := &Player{queue: queue, otoCtx: otoCtx}
	p.player = otoCtx.NewPlayer(p)
	p.player.Play()
	return p, nil
}

// Read implements io.Reader for the oto pull callback. It must never block:
// the queue zero-fills on starvation.
func (p *Player) Read(b []byte) (int, error) {
	n := len(b) / 2
	if cap(p.scratch) < n {
		p.scratch = make([]float32, n)
	}
	block := p.scratch[:n]
	p.queue.ReadBlock(block)
	for i, s := range block {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := uint16(int16(s * 32767))
		b[2*i] = byte(v)
		b[2*i+1] = byte(v >> 8)
	}
	return n * 2, nil
}

// Suspend pauses the device without dropping queued audio.
func (p *Player) Suspend() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.suspended {
		return
	}
	p.suspended = true
	p.player.Pause()
}

// Resume restarts a suspended device.
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.suspended {
		return
	}
	p.suspended = false
	p.player.Play()
}

// Playing reports whether agent audio is currently audible: the device is
// running and samples remain queued.
func (p *Player) Playing() bool {
	p.mu.Lock()
	suspended := p.suspended
	closed := p.closed
	p.mu.Unlock()
	return !suspended && !closed && p.queue.QueuedSamples() > 0
}

// Close releases the playback device.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	_ = p.player.Close()
}
