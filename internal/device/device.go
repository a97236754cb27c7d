// Package device defines the hardware collaborators used by the signal
// installation wizard: a QR decoder bound to the camera, a one-shot
// geolocation provider and an orientation sensor. The browser owns the
// physical devices; the Remote* types in this package are fed by the API
// with the events it relays.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mr1hm/go-green-corridor/internal/heading"
)

var (
	ErrNoActiveScan     = errors.New("no active scan")
	ErrNoPendingRequest = errors.New("no pending location request")
	ErrStaleFix         = errors.New("location fix is older than allowed")
	ErrNotListening     = errors.New("orientation is not being observed")
	ErrPermissionDenied = errors.New("permission denied")
)

// CameraConstraints selects the camera and the decoding cadence.
type CameraConstraints struct {
	FacingMode string `json:"facingMode"`
	FPS        int    `json:"fps"`
	BoxSize    int    `json:"qrbox"`
}

// DefaultCameraConstraints scans with the rear camera at 10 fps in a 250 px box.
var DefaultCameraConstraints = CameraConstraints{FacingMode: "environment", FPS: 10, BoxSize: 250}

type CameraErrorKind string

const (
	CameraPermissionDenied CameraErrorKind = "permission_denied"
	CameraNotFound         CameraErrorKind = "not_found"
	CameraBusy             CameraErrorKind = "busy"
)

// ParseCameraErrorKind maps browser media error names onto camera failures.
// ok is false for per-frame decode errors.
func ParseCameraErrorKind(name string) (CameraErrorKind, bool) {
	switch name {
	case "NotAllowedError", "PermissionDeniedError", string(CameraPermissionDenied):
		return CameraPermissionDenied, true
	case "NotFoundError", "DevicesNotFoundError", "OverconstrainedError", string(CameraNotFound):
		return CameraNotFound, true
	case "NotReadableError", "TrackStartError", "AbortError", string(CameraBusy):
		return CameraBusy, true
	default:
		return "", false
	}
}

// CameraError is a hard camera failure: scanning cannot continue until retried.
type CameraError struct {
	Kind    CameraErrorKind
	Message string
}

func (e *CameraError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("camera error: %s", e.Kind)
	}
	return fmt.Sprintf("camera error: %s: %s", e.Kind, e.Message)
}

// Handle identifies one started decoder.
type Handle uint64

// Decoder reads QR payloads from the camera. onFrameError receives errors
// for individual frames; a *CameraError among them means the camera
// itself failed. Callbacks must not be invoked from within Start.
type Decoder interface {
	Start(c CameraConstraints, onDecode func(payload string), onFrameError func(err error)) (Handle, error)
	Stop(h Handle) error
}

type GeoOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxAge       time.Duration
}

type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type GeoErrorCode int

// Codes follow the browser GeolocationPositionError numbering.
const (
	GeoPermissionDenied    GeoErrorCode = 1
	GeoPositionUnavailable GeoErrorCode = 2
	GeoTimeout             GeoErrorCode = 3
	GeoUnsupported         GeoErrorCode = 4
)

func (c GeoErrorCode) String() string {
	switch c {
	case GeoPermissionDenied:
		return "permission denied"
	case GeoPositionUnavailable:
		return "position unavailable"
	case GeoTimeout:
		return "timeout"
	case GeoUnsupported:
		return "geolocation not supported"
	default:
		return "unknown geolocation error"
	}
}

type GeoError struct {
	Code    GeoErrorCode
	Message string
}

func (e *GeoError) Error() string {
	if e.Message == "" {
		return "geolocation: " + e.Code.String()
	}
	return fmt.Sprintf("geolocation: %s: %s", e.Code, e.Message)
}

// Geolocator performs one-shot position requests.
type Geolocator interface {
	CurrentPosition(ctx context.Context, opts GeoOptions) (Fix, error)
}

// OrientationSensor streams heading samples. Some platforms require
// RequestPermission to succeed before Subscribe delivers anything.
type OrientationSensor interface {
	RequiresPermission() bool
	RequestPermission(ctx context.Context) error
	Subscribe(onSample func(heading.Sample)) (stop func(), err error)
}
