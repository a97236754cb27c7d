package device

import (
	"context"
	"sync"
	"time"

	"github.com/mr1hm/go-green-corridor/internal/heading"
)

// Remote groups the relay adapters for one connected browser.
type Remote struct {
	Decoder     *RemoteDecoder
	Geolocator  *RemoteGeolocator
	Orientation *RemoteOrientation
}

func NewRemote() *Remote {
	return &Remote{
		Decoder:     NewRemoteDecoder(),
		Geolocator:  NewRemoteGeolocator(),
		Orientation: NewRemoteOrientation(false),
	}
}

type scan struct {
	constraints  CameraConstraints
	onDecode     func(string)
	onFrameError func(error)
}

// RemoteDecoder is a Decoder whose frames are decoded by the browser and
// relayed with Feed and Fault.
type RemoteDecoder struct {
	mu    sync.Mutex
	next  Handle
	scans map[Handle]scan
}

var _ Decoder = (*RemoteDecoder)(nil)

func NewRemoteDecoder() *RemoteDecoder {
	return &RemoteDecoder{scans: make(map[Handle]scan)}
}

func (d *RemoteDecoder) Start(c CameraConstraints, onDecode func(string), onFrameError func(error)) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.next++
	d.scans[d.next] = scan{constraints: c, onDecode: onDecode, onFrameError: onFrameError}
	return d.next, nil
}

func (d *RemoteDecoder) Stop(h Handle) error {
	d.mu.Lock()
	delete(d.scans, h)
	d.mu.Unlock()
	return nil
}

// Feed relays a decoded payload to the active scans.
func (d *RemoteDecoder) Feed(payload string) error {
	scans := d.snapshot()
	if len(scans) == 0 {
		return ErrNoActiveScan
	}
	for _, s := range scans {
		if s.onDecode != nil {
			s.onDecode(payload)
		}
	}
	return nil
}

// Fault relays a frame or camera error to the active scans.
func (d *RemoteDecoder) Fault(err error) error {
	scans := d.snapshot()
	if len(scans) == 0 {
		return ErrNoActiveScan
	}
	for _, s := range scans {
		if s.onFrameError != nil {
			s.onFrameError(err)
		}
	}
	return nil
}

// ActiveCount reports how many decoders hold the camera.
func (d *RemoteDecoder) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.scans)
}

// Constraints returns the constraints of the active scan, if any.
func (d *RemoteDecoder) Constraints() (CameraConstraints, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.scans {
		return s.constraints, true
	}
	return CameraConstraints{}, false
}

// snapshot copies the callbacks so they run without the lock held.
func (d *RemoteDecoder) snapshot() []scan {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]scan, 0, len(d.scans))
	for _, s := range d.scans {
		out = append(out, s)
	}
	return out
}

type geoResult struct {
	fix Fix
	err error
}

type geoRequest struct {
	opts    GeoOptions
	started time.Time
	result  chan geoResult
}

// RemoteGeolocator is a Geolocator answered by the browser with Deliver
// or Reject. Only the latest request is pending.
type RemoteGeolocator struct {
	mu      sync.Mutex
	pending *geoRequest
	now     func() time.Time
}

var _ Geolocator = (*RemoteGeolocator)(nil)

func NewRemoteGeolocator() *RemoteGeolocator {
	return &RemoteGeolocator{now: time.Now}
}

func (g *RemoteGeolocator) CurrentPosition(ctx context.Context, opts GeoOptions) (Fix, error) {
	req := &geoRequest{opts: opts, started: g.now(), result: make(chan geoResult, 1)}

	g.mu.Lock()
	if old := g.pending; old != nil {
		old.result <- geoResult{err: &GeoError{Code: GeoPositionUnavailable, Message: "superseded by a newer request"}}
	}
	g.pending = req
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		if g.pending == req {
			g.pending = nil
		}
		g.mu.Unlock()
	}()

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-req.result:
		return r.fix, r.err
	case <-timeout:
		return Fix{}, &GeoError{Code: GeoTimeout, Message: "no position within " + opts.Timeout.String()}
	case <-ctx.Done():
		return Fix{}, ctx.Err()
	}
}

// Pending reports whether a position request is waiting for the browser.
func (g *RemoteGeolocator) Pending() (GeoOptions, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return GeoOptions{}, false
	}
	return g.pending.opts, true
}

// Deliver answers the pending request. Fixes older than the request's
// MaxAge are refused and the request keeps waiting; a zero timestamp is
// taken as fresh.
func (g *RemoteGeolocator) Deliver(fix Fix) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	req := g.pending
	if req == nil {
		return ErrNoPendingRequest
	}
	if !fix.Timestamp.IsZero() && fix.Timestamp.Before(req.started.Add(-req.opts.MaxAge)) {
		return ErrStaleFix
	}
	g.pending = nil
	req.result <- geoResult{fix: fix}
	return nil
}

func (g *RemoteGeolocator) Reject(err *GeoError) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	req := g.pending
	if req == nil {
		return ErrNoPendingRequest
	}
	g.pending = nil
	req.result <- geoResult{err: err}
	return nil
}

// RemoteOrientation is an OrientationSensor fed with Push. The browser
// reports whether its platform gates orientation behind a permission
// prompt and what the user answered.
type RemoteOrientation struct {
	mu        sync.Mutex
	requires  bool
	granted   bool
	next      uint64
	listeners map[uint64]func(heading.Sample)
}

var _ OrientationSensor = (*RemoteOrientation)(nil)

func NewRemoteOrientation(requiresPermission bool) *RemoteOrientation {
	return &RemoteOrientation{
		requires:  requiresPermission,
		listeners: make(map[uint64]func(heading.Sample)),
	}
}

func (o *RemoteOrientation) SetRequiresPermission(v bool) {
	o.mu.Lock()
	o.requires = v
	o.mu.Unlock()
}

// SetPermission records the answer to the platform permission prompt.
func (o *RemoteOrientation) SetPermission(granted bool) {
	o.mu.Lock()
	o.granted = granted
	o.mu.Unlock()
}

func (o *RemoteOrientation) RequiresPermission() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requires
}

func (o *RemoteOrientation) RequestPermission(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.requires && !o.granted {
		return ErrPermissionDenied
	}
	return nil
}

func (o *RemoteOrientation) Subscribe(onSample func(heading.Sample)) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.requires && !o.granted {
		return nil, ErrPermissionDenied
	}
	o.next++
	id := o.next
	o.listeners[id] = onSample

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.listeners, id)
			o.mu.Unlock()
		})
	}, nil
}

// Push delivers a sample to every listener.
func (o *RemoteOrientation) Push(s heading.Sample) error {
	o.mu.Lock()
	fns := make([]func(heading.Sample), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	if len(fns) == 0 {
		return ErrNotListening
	}
	for _, fn := range fns {
		fn(s)
	}
	return nil
}

func (o *RemoteOrientation) Listening() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.listeners)
}
