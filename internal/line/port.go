package line

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/soundlines/internal/audio"
	"github.com/audiolibrelab/soundlines/internal/event"
)

// Port is a hardware port of the sound server. It only opens, closes and
// exposes a volume control; an open port reports the Stopped state.
type Port struct {
	base
	native audio.PortHandle
}

func NewPort(opts Options) *Port {
	p := &Port{}
	p.init(opts, p)
	return p
}

func (p *Port) Open() error {
	p.mu.Lock()
	if p.state != Closed {
		p.mu.Unlock()
		return fmt.Errorf("%w: port %s is already open", audio.ErrIllegalState, p.info.Name)
	}
	if err := p.admit(); err != nil {
		p.mu.Unlock()
		return err
	}
	h, err := p.driver.OpenPort(p.info.Name)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("open port %s: %w", p.info.Name, err)
	}
	if err := p.register(); err != nil {
		h.Close()
		p.mu.Unlock()
		return err
	}
	p.native = h
	p.volume.bind(h)
	p.state = Stopped
	p.post(event.Open, 0)
	p.mu.Unlock()

	p.flush()
	p.logTransition("port opened")
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	if p.state == Closed {
		p.mu.Unlock()
		return fmt.Errorf("%w: port %s is not open", audio.ErrIllegalState, p.info.Name)
	}
	h := p.native
	p.native = nil
	p.volume.unbind()
	p.state = Closed
	p.deregister()
	p.post(event.Close, 0)
	p.mu.Unlock()

	if err := h.Close(); err != nil {
		slog.Warn("Failed to release port", "port", p.info.Name, "error", err)
	}
	p.flush()
	p.logTransition("port closed")
	return nil
}

var _ Line = (*Port)(nil)
