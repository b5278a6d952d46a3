package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// Factory builds an Engine, accelerated or not. Building is expensive
// (model loading), so the Provider arranges for it to happen at most once
// per backend per process.
type Factory func(accelerated bool) (Engine, error)

// Handle wraps an Engine with a mutex. The underlying engine is not
// assumed thread-safe, so every call is funneled through the lock. The
// lock wraps individual detect/swap calls, not whole-frame work.
type Handle struct {
	mu  sync.Mutex
	eng Engine
}

// DetectAll calls Engine.DetectAll under the handle lock.
func (h *Handle) DetectAll(img gocv.Mat) ([]Detection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eng.DetectAll(img)
}

// DetectOne calls Engine.DetectOne under the handle lock.
func (h *Handle) DetectOne(img gocv.Mat) (*Face, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eng.DetectOne(img)
}

// Swap calls Engine.Swap under the handle lock.
func (h *Handle) Swap(frame gocv.Mat, reference, destination *Face) (gocv.Mat, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eng.Swap(frame, reference, destination)
}

// Provider owns the CPU and accelerated engine instances and decides which
// one a job gets.
type Provider struct {
	factory Factory
	logger  *slog.Logger

	cpuOnce sync.Once
	cpu     *Handle
	cpuErr  error

	// accelReady is the double-checked fast path: once true, accel and
	// accelOK are immutable.
	accelReady atomic.Bool
	accelMu    sync.Mutex
	accel      *Handle
	accelOK    bool
}

// NewProvider creates a Provider that builds engines through factory.
func NewProvider(factory Factory, logger *slog.Logger) *Provider {
	return &Provider{factory: factory, logger: logger}
}

// Select returns the handle a job should use. When preferAccelerated is
// set it attempts the one-time accelerated initialization; on failure the
// accelerated backend is marked permanently unavailable and the CPU handle
// is returned. The bool reports whether the returned handle is the
// accelerated one. An error is only returned when even the CPU engine
// cannot be built.
func (p *Provider) Select(preferAccelerated bool) (*Handle, bool, error) {
	if preferAccelerated {
		if h := p.selectAccelerated(); h != nil {
			return h, true, nil
		}
		p.logger.Warn("accelerated backend unavailable, falling back to cpu")
	}
	h, err := p.selectCPU()
	return h, false, err
}

func (p *Provider) selectCPU() (*Handle, error) {
	p.cpuOnce.Do(func() {
		eng, err := p.factory(false)
		if err != nil {
			p.cpuErr = err
			return
		}
		p.cpu = &Handle{eng: eng}
	})
	return p.cpu, p.cpuErr
}

func (p *Provider) selectAccelerated() *Handle {
	// Fast unlocked check: after the first attempt the outcome is fixed
	// for the process lifetime, success or not.
	if p.accelReady.Load() {
		if p.accelOK {
			return p.accel
		}
		return nil
	}

	p.accelMu.Lock()
	defer p.accelMu.Unlock()
	if p.accelReady.Load() {
		if p.accelOK {
			return p.accel
		}
		return nil
	}

	eng, err := p.factory(true)
	if err != nil {
		p.logger.Error("accelerated engine initialization failed", "error", err)
	} else {
		p.accel = &Handle{eng: eng}
		p.accelOK = true
		p.logger.Info("accelerated engine initialized")
	}
	p.accelReady.Store(true)

	if p.accelOK {
		return p.accel
	}
	return nil
}

// Close releases whichever engines were built.
func (p *Provider) Close() error {
	var first error
	if p.cpu != nil {
		if err := p.cpu.eng.Close(); err != nil {
			first = err
		}
	}
	if p.accel != nil {
		if err := p.accel.eng.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
