package playback

import "errors"

// Media element ready states, mirroring the HTMLMediaElement readyState
// ladder the stall heuristics were designed against.
const (
	HaveNothing     = 0
	HaveMetadata    = 1
	HaveCurrentData = 2
	HaveFutureData  = 3
	HaveEnoughData  = 4
)

// Media error codes surfaced through MediaEvent.
const (
	MediaErrAborted         = 1
	MediaErrNetwork         = 2
	MediaErrDecode          = 3
	MediaErrSrcNotSupported = 4
)

// Play rejection classes. Aborted is expected during fast track switching;
// NotAllowed is a policy block; Unsupported is left to format-error handling.
var (
	ErrPlayAborted     = errors.New("play aborted")
	ErrPlayNotAllowed  = errors.New("play not allowed")
	ErrPlayUnsupported = errors.New("source format not supported")
)

// MediaError describes an element-level failure.
type MediaError struct {
	Code    int
	Message string
	// Src is the element's source at the time of the error; empty-source
	// errors during a swap are transient and handled silently.
	Src string
}

// MediaEventKind enumerates the element events the controller consumes.
type MediaEventKind int

const (
	EventLoadStart MediaEventKind = iota
	EventLoadedMetadata
	EventCanPlay
	EventCanPlayThrough
	EventPlay
	EventPlaying
	EventWaiting
	EventStalled
	EventPause
	EventTimeUpdate
	EventEnded
	EventError
)

// MediaEvent is delivered by the element to Controller.HandleMediaEvent.
// Events must be delivered from outside the controller's lock, i.e. not
// synchronously from within an Element method call.
type MediaEvent struct {
	Kind MediaEventKind
	Err  *MediaError // set for EventError
}

// Element is the capability surface of a media element. The controller's
// retry and stall logic is written against this interface so it can be
// exercised with a fake element in tests; the production implementation
// lives in internal/audio.
type Element interface {
	// SetSource assigns a stream URL without starting playback.
	SetSource(url string)
	// Source returns the currently assigned URL, or "".
	Source() string
	// ClearSource detaches the current source.
	ClearSource()
	// Load (re)initializes the element for the assigned source.
	Load()
	// Play starts or resumes playback. Rejections are classified with the
	// ErrPlay* sentinels.
	Play() error
	Pause()

	CurrentTime() float64
	// SetCurrentTime seeks; best effort on non-seekable streams.
	SetCurrentTime(seconds float64)
	// Duration returns the total duration in seconds, or 0 when unknown.
	Duration() float64
	Paused() bool
	ReadyState() int

	// SetVolume sets the output volume as a percentage [0, 100].
	SetVolume(percent int)
	// SetSink routes output to the given device; "" selects the default.
	SetSink(deviceID string) error

	Close()
}
