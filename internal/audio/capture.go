package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// Capture level smoothing: slightly snappier rise and slower fall than the
// playback meter so the local mic indicator feels responsive.
const (
	captureRise = 0.32
	captureFall = 0.18
)

// Sender is where encoded capture blocks are written, normally the
// conversation socket. Blocks sent while the socket is closed are dropped;
// audio is ephemeral, not guaranteed-delivery.
type Sender interface {
	SendBinary(data []byte) error
	Open() bool
}

// Capture owns the microphone device and the periodic block callback that
// meters, mute-gates, encodes and ships audio.
type Capture struct {
	sampleRate int
	sender     Sender
	onLevel    func(level float64)

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	muted   bool
	level   float64
	started bool
}

// NewCapture builds a capture pipeline at the given target rate. onLevel (may
// be nil) receives the smoothed mic loudness once per block.
func NewCapture(sampleRate int, sender Sender, onLevel func(float64)) *Capture {
	return &Capture{sampleRate: sampleRate, sender: sender, onLevel: onLevel}
}

// Start requests the microphone and begins the periodic capture callback.
// A device or permission failure is returned once; capture stays disabled for
// the session and the caller does not retry.
func (c *Capture) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ctxCfg := malgo.ContextConfig{}
	ctxCfg.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, ctxCfg, nil)
	if err != nil {
		return fmt.Errorf("init capture context: %w", err)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = 1
	devCfg.SampleRate = uint32(c.sampleRate)
	devCfg.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			block := decodeF32(input)
			if len(block) == 0 {
				return
			}
			c.handleBlock(block)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, devCfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		return fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		return fmt.Errorf("start microphone: %w", err)
	}

	c.mu.Lock()
	c.ctx = mctx
	c.device = device
	c.started = true
	c.mu.Unlock()
	return nil
}

// Stop disconnects the capture graph and releases the microphone. Safe to
// call when already stopped.
func (c *Capture) Stop() {
	c.mu.Lock()
	device := c.device
	mctx := c.ctx
	c.device = nil
	c.ctx = nil
	c.started = false
	c.mu.Unlock()

	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	if mctx != nil {
		_ = mctx.Uninit()
	}
}

// SetMuted toggles the mute flag. While muted the pipeline keeps its cadence
// on the wire by sending all-zero blocks.
func (c *Capture) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
}

// Muted reports the mute flag.
func (c *Capture) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Level returns the current smoothed mic loudness.
func (c *Capture) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// handleBlock processes one capture block: meter, mute-gate, encode, send.
// Factored out of the device callback so the block contract is testable
// without a microphone.
func (c *Capture) handleBlock(block []float32) {
	encoded, level := c.processBlock(block)
	if c.onLevel != nil {
		c.onLevel(level)
	}
	if c.sender != nil && c.sender.Open() {
		_ = c.sender.SendBinary(encoded)
	}
}

// processBlock returns the encoded wire block and the updated loudness level.
// Muted blocks encode as all-zero data of the same length with a loudness
// target of 0.
func (c *Capture) processBlock(block []float32) ([]byte, float64) {
	c.mu.Lock()
	muted := c.muted
	target := 0.0
	if muted {
		block = make([]float32, len(block))
	} else {
		target = math.Min(1, rms(block)*10)
	}
	c.level = smooth(c.level, target, captureRise, captureFall)
	level := c.level
	c.mu.Unlock()
	return EncodePCM16(block), level
}

// decodeF32 reinterprets the device's raw byte buffer as float32 samples.
func decodeF32(raw []byte) []float32 {
	n := len(raw) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
