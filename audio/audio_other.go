//go:build !linux

package audio

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: %w", err)
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID.Pointer()[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate
	deviceConfig.Alsa.NoMMap = 1

	if device != nil {
		idBytes, err := hex.DecodeString(device.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	c := &malgoCapture{device: device}
	bytesPerFrame := malgo.SampleSizeInBytes(malgo.FormatS16) * int(config.Channels)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(data) < n {
				return
			}
			cb := c.callback.Load()
			if cb == nil {
				return
			}
			pcm := make([]byte, n)
			copy(pcm, data[:n])
			(*cb)(pcm, frameCount)
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("malgo capture: %w", err)
	}
	c.dev = dev
	return c, nil
}

func (m *malgoContext) NewPlayer(config CaptureConfig) (Player, error) {
	return &malgoPlayer{ctx: m.ctx, config: config}, nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	dev      *malgo.Device
	device   *DeviceInfo
	callback atomic.Pointer[DataCallback]
}

func (c *malgoCapture) Start() error {
	if c.dev.IsStarted() {
		return nil
	}
	return c.dev.Start()
}

func (c *malgoCapture) Stop() {
	if c.dev.IsStarted() {
		c.dev.Stop()
	}
}

func (c *malgoCapture) Close() {
	c.dev.Uninit()
}

func (c *malgoCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *malgoCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *malgoCapture) DeviceName() string {
	if c.device != nil {
		return c.device.Name
	}
	return "system default"
}

type malgoPlayer struct {
	ctx    *malgo.AllocatedContext
	config CaptureConfig
	mu     sync.Mutex
}

func (p *malgoPlayer) Play(ctx context.Context, pcm <-chan []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var bufMu sync.Mutex
	var pending []byte
	var finished atomic.Bool

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = p.config.Channels
	cfg.SampleRate = p.config.SampleRate
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInFrames = p.config.SampleRate / 10 // ~100ms of audio
	cfg.Periods = 4

	dev, err := malgo.InitDevice(p.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			bufMu.Lock()
			n := copy(out, pending)
			pending = pending[n:]
			bufMu.Unlock()
			clear(out[n:])
		},
	})
	if err != nil {
		return fmt.Errorf("malgo playback: %w", err)
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return fmt.Errorf("malgo playback start: %w", err)
	}
	defer dev.Stop()

	go func() {
		defer finished.Store(true)
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-pcm:
				if !ok {
					return
				}
				bufMu.Lock()
				pending = append(pending, chunk...)
				bufMu.Unlock()
			}
		}
	}()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			bufMu.Lock()
			drained := len(pending) == 0
			bufMu.Unlock()
			if drained && finished.Load() {
				return nil
			}
		}
	}
}

func (p *malgoPlayer) Close() {}
