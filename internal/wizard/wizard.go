// Package wizard sequences the field installation of a traffic signal:
// scan its QR code, capture a fresh GPS fix, lock the compass heading,
// review and commit one signal record.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mr1hm/go-green-corridor/internal/device"
	"github.com/mr1hm/go-green-corridor/internal/heading"
	"github.com/mr1hm/go-green-corridor/internal/models"
)

type Step string

const (
	StepList   Step = "list"
	StepScan   Step = "scan"
	StepLocate Step = "locate"
	StepOrient Step = "orient"
	StepReview Step = "review"
	StepDone   Step = "done"
)

func (s Step) cancellable() bool {
	switch s {
	case StepScan, StepLocate, StepOrient, StepReview:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidStep   = errors.New("action not allowed in the current step")
	ErrNoHeading     = errors.New("no heading sample received yet")
	ErrNotConfirming = errors.New("cancellation was not requested")
	ErrSubmitting    = errors.New("registration already in progress")
	ErrDiscarded     = errors.New("session was discarded")
	ErrClosed        = errors.New("session is closed")
)

// Committer persists a completed installation and returns its id.
type Committer interface {
	Register(ctx context.Context, sig models.SignalInstallation) (string, error)
}

type Installer struct {
	DisplayName string
	Email       string
}

func (i Installer) label() string {
	if name := strings.TrimSpace(i.DisplayName); name != "" {
		return name
	}
	if email := strings.TrimSpace(i.Email); email != "" {
		return email
	}
	return models.UnknownInstaller
}

type Devices struct {
	Camera      *device.Camera
	Geolocator  device.Geolocator
	Orientation device.OrientationSensor
}

type Options struct {
	LocateTimeout time.Duration
	Camera        device.CameraConstraints
}

var DefaultOptions = Options{
	LocateTimeout: 10 * time.Second,
	Camera:        device.DefaultCameraConstraints,
}

// State is a point-in-time view of a session for the client.
type State struct {
	Step               Step             `json:"step"`
	LightID            string           `json:"lightId,omitempty"`
	Location           *models.GeoPoint `json:"location,omitempty"`
	Altitude           *float64         `json:"altitude,omitempty"`
	Heading            *int             `json:"heading,omitempty"`
	Direction          *int             `json:"direction,omitempty"`
	Scanning           bool             `json:"scanning"`
	Locating           bool             `json:"locating"`
	PermissionRequired bool             `json:"permissionRequired"`
	Listening          bool             `json:"listening"`
	ConfirmingCancel   bool             `json:"confirmingCancel"`
	Submitting         bool             `json:"submitting"`
	Error              string           `json:"error,omitempty"`
	SignalID           string           `json:"signalId,omitempty"`
}

// Session is one installer's run through the wizard. Device callbacks may
// arrive on any goroutine; results that belong to an earlier run (before
// a cancel or restart) are dropped.
type Session struct {
	devices   Devices
	committer Committer
	installer Installer
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	step Step
	gen  uint64

	lightID   string
	location  *models.GeoPoint
	altitude  *float64
	direction *int
	smoother  heading.Smoother

	scan             device.Handle
	scanning         bool
	stopOrient       func()
	stopLocate       context.CancelFunc
	locating         bool
	needsPermission  bool
	confirmingCancel bool
	submitting       bool
	err              error
	signalID         string

	changed chan struct{}
	closed  bool
}

func NewSession(devices Devices, committer Committer, installer Installer, opts Options) *Session {
	if opts.LocateTimeout <= 0 {
		opts.LocateTimeout = DefaultOptions.LocateTimeout
	}
	if opts.Camera == (device.CameraConstraints{}) {
		opts.Camera = DefaultOptions.Camera
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		devices:   devices,
		committer: committer,
		installer: installer,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		step:      StepList,
		changed:   make(chan struct{}),
	}
}

// Start leaves the list view and begins scanning.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.step != StepList {
		return ErrInvalidStep
	}
	s.resetLocked()
	s.step = StepScan
	s.startScanLocked()
	s.notifyLocked()
	return nil
}

// RetryScan restarts the camera after a camera failure.
func (s *Session) RetryScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepScan {
		return ErrInvalidStep
	}
	if !s.scanning {
		s.startScanLocked()
		s.notifyLocked()
	}
	return nil
}

// StopScan releases the camera without leaving the scan step.
func (s *Session) StopScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepScan {
		return ErrInvalidStep
	}
	s.stopScanLocked()
	s.notifyLocked()
	return nil
}

// RetryLocate requests a new fix after a failed one, keeping the light id.
func (s *Session) RetryLocate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepLocate {
		return ErrInvalidStep
	}
	if !s.locating {
		s.startLocateLocked()
		s.notifyLocked()
	}
	return nil
}

// RequestOrientationPermission asks the sensor for access and starts
// listening once it is granted.
func (s *Session) RequestOrientationPermission(ctx context.Context) error {
	s.mu.Lock()
	if s.step != StepOrient {
		s.mu.Unlock()
		return ErrInvalidStep
	}
	if !s.needsPermission {
		s.mu.Unlock()
		return nil
	}
	g := s.gen
	s.mu.Unlock()

	err := s.devices.Orientation.RequestPermission(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if g != s.gen || s.step != StepOrient {
		return ErrDiscarded
	}
	if err != nil {
		s.err = err
		s.notifyLocked()
		return err
	}
	s.needsPermission = false
	s.err = nil
	s.listenLocked()
	s.notifyLocked()
	return s.err
}

// LockDirection snapshots the displayed heading and moves to review.
func (s *Session) LockDirection() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepOrient {
		return 0, ErrInvalidStep
	}
	if !s.smoother.Ready() {
		return 0, ErrNoHeading
	}
	d := s.smoother.Display()
	s.direction = &d
	s.stopOrientLocked()
	s.step = StepReview
	s.err = nil
	s.notifyLocked()
	return d, nil
}

// Confirm commits the reviewed installation. On failure every captured
// field is kept so the commit can be retried.
func (s *Session) Confirm(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.step != StepReview {
		s.mu.Unlock()
		return "", ErrInvalidStep
	}
	if s.submitting {
		s.mu.Unlock()
		return "", ErrSubmitting
	}
	sig := models.SignalInstallation{
		LightID:        s.lightID,
		Location:       *s.location,
		Altitude:       s.altitude,
		Direction:      *s.direction,
		GeoFenceRadius: models.DefaultGeoFenceRadius,
		Status:         models.SignalStatusWorking,
		RegisteredBy:   s.installer.label(),
	}
	s.submitting = true
	s.err = nil
	g := s.gen
	s.notifyLocked()
	s.mu.Unlock()

	id, err := s.committer.Register(ctx, sig)

	s.mu.Lock()
	defer s.mu.Unlock()
	if g != s.gen {
		if err != nil {
			return "", ErrDiscarded
		}
		return id, nil
	}
	s.submitting = false
	if err != nil {
		s.err = err
		s.notifyLocked()
		return "", fmt.Errorf("error registering signal: %w", err)
	}
	s.signalID = id
	s.step = StepDone
	s.notifyLocked()
	return id, nil
}

// Finish returns from the done step to the list view.
func (s *Session) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepDone {
		return ErrInvalidStep
	}
	s.resetLocked()
	s.step = StepList
	s.notifyLocked()
	return nil
}

// RequestCancel opens the discard confirmation.
func (s *Session) RequestCancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.step.cancellable() {
		return ErrInvalidStep
	}
	s.confirmingCancel = true
	s.notifyLocked()
	return nil
}

func (s *Session) DismissCancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.confirmingCancel {
		return ErrNotConfirming
	}
	s.confirmingCancel = false
	s.notifyLocked()
	return nil
}

// ConfirmCancel discards everything captured and returns to the list.
func (s *Session) ConfirmCancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.confirmingCancel {
		return ErrNotConfirming
	}
	if s.submitting {
		return ErrSubmitting
	}
	s.resetLocked()
	s.step = StepList
	s.notifyLocked()
	return nil
}

// Close releases every device and waits for pending requests to return.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.resetLocked()
	s.step = StepList
	s.cancel()
	s.notifyLocked()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Step:               s.step,
		LightID:            s.lightID,
		Location:           s.location,
		Altitude:           s.altitude,
		Direction:          s.direction,
		Scanning:           s.scanning,
		Locating:           s.locating,
		PermissionRequired: s.needsPermission,
		Listening:          s.stopOrient != nil,
		ConfirmingCancel:   s.confirmingCancel,
		Submitting:         s.submitting,
		SignalID:           s.signalID,
	}
	if s.step == StepOrient && s.smoother.Ready() {
		h := s.smoother.Display()
		st.Heading = &h
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	return st
}

// Changes returns a channel closed at the next state change.
func (s *Session) Changes() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Session) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) resetLocked() {
	s.stopScanLocked()
	s.stopOrientLocked()
	s.stopLocateLocked()

	s.gen++
	s.lightID = ""
	s.location = nil
	s.altitude = nil
	s.direction = nil
	s.smoother.Reset()
	s.needsPermission = false
	s.confirmingCancel = false
	s.submitting = false
	s.err = nil
	s.signalID = ""
}

func (s *Session) startScanLocked() {
	g := s.gen
	h, err := s.devices.Camera.Start(s.opts.Camera,
		func(payload string) { s.handleDecode(g, payload) },
		func(err error) { s.handleFrameError(g, err) },
	)
	if err != nil {
		s.err = err
		return
	}
	s.scan = h
	s.scanning = true
	s.err = nil
}

func (s *Session) stopScanLocked() {
	if !s.scanning {
		return
	}
	s.scanning = false
	_ = s.devices.Camera.Stop(s.scan)
}

func (s *Session) handleDecode(g uint64, payload string) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g != s.gen || s.step != StepScan || !s.scanning {
		return
	}
	s.lightID = payload
	s.stopScanLocked()
	s.step = StepLocate
	s.startLocateLocked()
	s.notifyLocked()
}

// handleFrameError stops scanning on camera failures; frames that simply
// held no readable code are ignored.
func (s *Session) handleFrameError(g uint64, err error) {
	var camErr *device.CameraError
	if !errors.As(err, &camErr) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g != s.gen || s.step != StepScan || !s.scanning {
		return
	}
	s.stopScanLocked()
	s.err = err
	s.notifyLocked()
}

func (s *Session) startLocateLocked() {
	ctx, cancel := context.WithCancel(s.ctx)
	s.stopLocate = cancel
	s.locating = true
	s.err = nil

	g := s.gen
	opts := device.GeoOptions{HighAccuracy: true, Timeout: s.opts.LocateTimeout, MaxAge: 0}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fix, err := s.devices.Geolocator.CurrentPosition(ctx, opts)
		s.handleFix(g, fix, err)
	}()
}

func (s *Session) stopLocateLocked() {
	if s.stopLocate != nil {
		s.stopLocate()
		s.stopLocate = nil
	}
	s.locating = false
}

func (s *Session) handleFix(g uint64, fix device.Fix, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g != s.gen || s.step != StepLocate {
		return
	}
	s.stopLocateLocked()

	var point models.GeoPoint
	if err == nil {
		point, err = models.NewGeoPoint(fix.Latitude, fix.Longitude)
	}
	if err != nil {
		s.err = err
		s.notifyLocked()
		return
	}
	s.location = &point
	s.altitude = fix.Altitude
	s.step = StepOrient
	s.enterOrientLocked()
	s.notifyLocked()
}

func (s *Session) enterOrientLocked() {
	s.smoother.Reset()
	if s.devices.Orientation.RequiresPermission() {
		s.needsPermission = true
		return
	}
	s.listenLocked()
}

func (s *Session) listenLocked() {
	g := s.gen
	stop, err := s.devices.Orientation.Subscribe(func(sample heading.Sample) { s.handleSample(g, sample) })
	if err != nil {
		s.err = err
		if errors.Is(err, device.ErrPermissionDenied) {
			s.needsPermission = true
		}
		return
	}
	s.stopOrient = stop
}

func (s *Session) stopOrientLocked() {
	if s.stopOrient != nil {
		s.stopOrient()
		s.stopOrient = nil
	}
}

func (s *Session) handleSample(g uint64, sample heading.Sample) {
	raw, ok := heading.Raw(sample)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g != s.gen || s.step != StepOrient || s.stopOrient == nil {
		return
	}
	s.smoother.Add(raw)
	s.notifyLocked()
}
