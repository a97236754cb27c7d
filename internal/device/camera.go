package device

import "sync"

// Camera allows one active decoder at a time. Starting a scan stops the
// previous one first.
type Camera struct {
	dec    Decoder
	mu     sync.Mutex
	active Handle
	on     bool
}

func NewCamera(dec Decoder) *Camera {
	return &Camera{dec: dec}
}

func (c *Camera) Start(constraints CameraConstraints, onDecode func(string), onFrameError func(error)) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.on {
		// the camera is released even if the old decoder reports an error
		_ = c.dec.Stop(c.active)
		c.on = false
	}

	h, err := c.dec.Start(constraints, onDecode, onFrameError)
	if err != nil {
		return 0, err
	}
	c.active = h
	c.on = true
	return h, nil
}

// Stop tears down h if it is still the active decoder.
func (c *Camera) Stop(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.on || c.active != h {
		return nil
	}
	c.on = false
	return c.dec.Stop(h)
}

func (c *Camera) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.on
}
