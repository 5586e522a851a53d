package audio

import (
	"context"
	"os"
	"sync"
	"time"
)

const (
	// FakeSegment is the capture cadence of the fake device.
	FakeSegment       = 100 * time.Millisecond
	fakeSampleRate    = 16000
	fakeBytesPerFrame = 2 // 16-bit mono
	fakeFrameSize     = fakeSampleRate * int(FakeSegment/time.Millisecond) / 1000
)

type FakeContext struct {
	pcm      []byte
	realtime bool
	startErr error
	player   *FakePlayer
	devices  []DeviceInfo
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContextPCM(data, realtime), nil
}

// NewFakeContextPCM serves raw PCM16 mono instead of a WAV file.
func NewFakeContextPCM(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime, player: &FakePlayer{}}
}

// FailStart makes every capture created afterwards fail Start with err,
// as a device with denied permission would.
func (f *FakeContext) FailStart(err error) { f.startErr = err }

// SetDevices replaces the single "fake" device reported by Devices.
func (f *FakeContext) SetDevices(devices []DeviceInfo) { f.devices = devices }

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	if f.devices != nil {
		return f.devices, nil
	}
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}
func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &FakeCapture{pcm: f.pcm, realtime: f.realtime, startErr: f.startErr, audioDone: make(chan struct{})}, nil
}

func (f *FakeContext) NewPlayer(_ CaptureConfig) (Player, error) {
	return f.player, nil
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	startErr  error
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	started  bool
	stops    int
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

// Started reports whether the device is currently held.
func (f *FakeCapture) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// HasCallback reports whether a data callback is installed.
func (f *FakeCapture) HasCallback() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb != nil
}

// Emit delivers one segment to the installed callback, as a device would.
func (f *FakeCapture) Emit(data []byte) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(data, uint32(len(data)/fakeBytesPerFrame))
	}
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()

	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	// audioDone is NOT recreated here -- callers may already be waiting on it.
	// It's reset in Stop() for replay.

	chunkBytes := fakeFrameSize * fakeBytesPerFrame

	if !f.realtime {
		f.mu.Lock()
		cb := f.cb
		f.mu.Unlock()
		if cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
		}
		close(f.audioDone)
		close(f.feedDone)
		return nil
	}

	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]byte, chunkBytes)
		audioFinished := false

		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			f.mu.Lock()
			cb := f.cb
			f.mu.Unlock()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if pos < len(f.pcm) {
				pos = f.feedChunk(cb, pos, chunkBytes)
			} else {
				if !audioFinished {
					audioFinished = true
					close(f.audioDone)
				}
				cb(silence, uint32(fakeFrameSize))
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(FakeSegment):
			}
		}
	}()

	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	if f.feedDone != nil {
		<-f.feedDone
	}
	f.mu.Lock()
	f.started = false
	f.stops++
	f.mu.Unlock()
	f.audioDone = make(chan struct{}) // reset for replay
}

func (f *FakeCapture) Close() { f.Stop() }

// FakePlayer records what it was asked to play. Play drains pcm or returns
// when ctx is cancelled.
type FakePlayer struct {
	mu     sync.Mutex
	played [][]byte
	err    error
}

func (p *FakePlayer) Play(ctx context.Context, pcm <-chan []byte) error {
	var buf []byte
	defer func() {
		p.mu.Lock()
		p.played = append(p.played, buf)
		p.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-pcm:
			if !ok {
				p.mu.Lock()
				err := p.err
				p.mu.Unlock()
				return err
			}
			buf = append(buf, chunk...)
		}
	}
}

// FailPlay makes subsequent plays return err after draining.
func (p *FakePlayer) FailPlay(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Played returns a copy of every completed or cancelled play.
func (p *FakePlayer) Played() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.played))
	copy(out, p.played)
	return out
}

func (p *FakePlayer) Close() {}
