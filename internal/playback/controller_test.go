package playback

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/douwec/octoplay/internal/config"
	"github.com/douwec/octoplay/internal/emby"
)

// fakeElement is an in-memory Element that records calls and lets a test
// drive the controller's event handlers directly.
type fakeElement struct {
	mu       sync.Mutex
	src      string
	sources  []string
	paused   bool
	pos      float64
	duration float64
	ready    int
	volume   int
	playErr  error
	sinkErr  error
	plays    int
	pauses   int
	loads    int
	clears   int
}

func newFakeElement() *fakeElement {
	// Fully ready by default so only the stall tests trip the monitor.
	return &fakeElement{paused: true, ready: HaveEnoughData, sinkErr: errors.New("sink selection unsupported")}
}

func (f *fakeElement) SetSource(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.src = url
	f.sources = append(f.sources, url)
}

func (f *fakeElement) Source() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.src
}

func (f *fakeElement) ClearSource() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.src = ""
	f.clears++
}

func (f *fakeElement) Load() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
}

func (f *fakeElement) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.paused = false
	f.plays++
	return nil
}

func (f *fakeElement) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	f.pauses++
}

func (f *fakeElement) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

func (f *fakeElement) SetCurrentTime(seconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = seconds
}

func (f *fakeElement) Duration() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

func (f *fakeElement) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeElement) ReadyState() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeElement) SetVolume(percent int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = percent
}

func (f *fakeElement) SetSink(deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinkErr
}

func (f *fakeElement) Close() {}

func (f *fakeElement) sourceHistory() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sources...)
}

func (f *fakeElement) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

func testOptions() Options {
	return Options{
		StallTimeout:        10 * time.Millisecond,
		MonitorInterval:     10 * time.Millisecond,
		BufferingRetryAfter: 25 * time.Millisecond,
		WatchdogDelay:       time.Hour,
		SettleDelay:         time.Millisecond,
		SuppressErrorWindow: time.Millisecond,
		MaxRetries:          1,
		ProgressEpsilon:     0.1,
	}
}

type settingsBox struct {
	mu sync.Mutex
	tc config.Transcode
}

func (s *settingsBox) get() config.Transcode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tc
}

func (s *settingsBox) set(tc config.Transcode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tc = tc
}

func newTestController(el Element, opts Options, settings *settingsBox) *Controller {
	return NewController(el, NewReporter(&recordingPlaystate{}), opts, Hooks{
		Settings: settings.get,
		Auth:     func() (string, string) { return "user-1", "key-1" },
	})
}

func controllerSession(id string) *Session {
	return &Session{
		Item:               emby.Item{ID: id, Type: "Audio", RunTimeTicks: 1000000000}, // 100s
		StreamURL:          "http://music.example.org/emby/Audio/" + id + "/stream?static=true&Container=mp3&api_key=key-1",
		ItemID:             id,
		PlaySessionID:      "ps-" + id,
		MediaSourceID:      "ms-" + id,
		DeviceID:           "dev-1",
		SupportsDirectPlay: true,
		SourceContainer:    "mp3",
	}
}

func TestControllerLoadSession(t *testing.T) {
	el := newFakeElement()
	settings := &settingsBox{}
	c := newTestController(el, testOptions(), settings)
	sess := controllerSession("t1")

	c.LoadSession(sess)

	if c.State() != StateLoading {
		t.Errorf("state after LoadSession = %s, want LOADING", c.State())
	}
	waitFor(t, func() bool { return el.Source() == sess.StreamURL })

	c.HandleMediaEvent(MediaEvent{Kind: EventPlaying})
	if c.State() != StatePlaying {
		t.Errorf("state after playing event = %s, want PLAYING", c.State())
	}
	if c.EffectiveURL() != sess.StreamURL {
		t.Errorf("EffectiveURL = %q, want base stream URL", c.EffectiveURL())
	}
}

func TestControllerTranscodeSettingsRewriteURL(t *testing.T) {
	el := newFakeElement()
	settings := &settingsBox{tc: config.Transcode{Enabled: true, BitrateKbps: 192}}
	c := newTestController(el, testOptions(), settings)

	c.LoadSession(controllerSession("t2"))

	waitFor(t, func() bool { return el.Source() != "" })
	if !IsTranscodedURL(c.EffectiveURL()) {
		t.Errorf("EffectiveURL = %q, want transcoded URL", c.EffectiveURL())
	}
	if strings.Contains(c.EffectiveURL(), "static=true") {
		t.Error("transcoded effective URL still carries static=true")
	}
}

func TestControllerNewTrackSupersedesOld(t *testing.T) {
	el := newFakeElement()
	c := newTestController(el, testOptions(), &settingsBox{})

	first := controllerSession("old")
	second := controllerSession("new")

	c.LoadSession(first)
	c.LoadSession(second)

	waitFor(t, func() bool { return strings.Contains(el.Source(), "/new/") })
	time.Sleep(20 * time.Millisecond)

	for _, src := range el.sourceHistory() {
		if strings.Contains(src, "/old/") {
			t.Errorf("stale track was assigned to the element: %s", src)
		}
	}
	if got := c.Session(); got == nil || got.ItemID != "new" {
		t.Error("Session() should report the latest track")
	}
}

func TestControllerStallEscalation(t *testing.T) {
	el := newFakeElement()
	c := newTestController(el, testOptions(), &settingsBox{})
	sess := controllerSession("t3")

	// The element never reports progress or readiness, so the stall timer
	// walks the full ladder: retry, transcode fallback, retry, failed.
	c.LoadSession(sess)

	waitFor(t, func() bool { return c.State() == StateFailed })

	history := el.sourceHistory()
	if len(history) < 3 {
		t.Fatalf("got %d source assignments, want at least 3 (load, retry, fallback)", len(history))
	}

	var sawBust, sawTranscode bool
	for _, src := range history {
		if strings.Contains(src, "_octoBust=") {
			sawBust = true
		}
		if IsTranscodedURL(src) {
			sawTranscode = true
		}
	}
	if !sawBust {
		t.Error("retry reload should carry a cache-busting parameter")
	}
	if !sawTranscode {
		t.Error("escalation should have fallen back to a transcoded URL")
	}
}

func TestControllerFallbackOncePerTrack(t *testing.T) {
	el := newFakeElement()
	c := newTestController(el, testOptions(), &settingsBox{})
	sess := controllerSession("t4")

	c.LoadSession(sess)
	waitFor(t, func() bool { return c.State() == StateFailed })

	// Reloading the same track after a failed fallback must not fall back
	// again; the ladder runs retries and then fails.
	c.LoadSession(sess)
	waitFor(t, func() bool { return c.State() == StateFailed })

	transcoded := 0
	for _, src := range el.sourceHistory() {
		if IsTranscodedURL(src) {
			transcoded++
		}
	}
	// One fallback assignment plus its single same-URL retry.
	if transcoded > 2 {
		t.Errorf("transcode fallback ran %d assignments across reloads, want at most 2", transcoded)
	}
}

func TestControllerFormatErrorFallsBackToDirect(t *testing.T) {
	el := newFakeElement()
	settings := &settingsBox{tc: config.Transcode{Enabled: true, BitrateKbps: 320}}
	c := newTestController(el, testOptions(), settings)
	sess := controllerSession("t5")

	c.LoadSession(sess)
	waitFor(t, func() bool { return IsTranscodedURL(el.Source()) })
	c.HandleMediaEvent(MediaEvent{Kind: EventPlaying})

	badSrc := el.Source()
	c.HandleMediaEvent(MediaEvent{Kind: EventError, Err: &MediaError{
		Code:    MediaErrSrcNotSupported,
		Message: "format error",
		Src:     badSrc,
	}})

	waitFor(t, func() bool {
		src := el.Source()
		return src != "" && !IsTranscodedURL(src)
	})
	if !strings.Contains(el.Source(), sess.StreamURL) {
		t.Errorf("fallback source = %q, want original direct URL", el.Source())
	}

	// The track is now excluded from transcoding: reloading it keeps the
	// direct URL even with transcode settings enabled.
	c.LoadSession(sess)
	waitFor(t, func() bool { return strings.HasPrefix(el.Source(), sess.StreamURL) })
	if IsTranscodedURL(c.EffectiveURL()) {
		t.Error("track with a failed transcode should stay on direct play")
	}
}

func TestControllerEmptySrcErrorReassigns(t *testing.T) {
	el := newFakeElement()
	c := newTestController(el, testOptions(), &settingsBox{})
	sess := controllerSession("t6")

	c.LoadSession(sess)
	waitFor(t, func() bool { return el.Source() == sess.StreamURL })
	c.HandleMediaEvent(MediaEvent{Kind: EventPlaying})

	before := len(el.sourceHistory())
	c.HandleMediaEvent(MediaEvent{Kind: EventError, Err: &MediaError{
		Code:    MediaErrSrcNotSupported,
		Message: "empty src attribute",
		Src:     "",
	}})

	waitFor(t, func() bool { return len(el.sourceHistory()) > before })
	if c.State() == StateFailed {
		t.Error("transient empty-src error escalated to FAILED")
	}
	history := el.sourceHistory()
	if history[len(history)-1] != sess.StreamURL {
		t.Errorf("reassigned source = %q, want the effective URL", history[len(history)-1])
	}
}

func TestControllerRefreshSettingsReloads(t *testing.T) {
	el := newFakeElement()
	settings := &settingsBox{}
	c := newTestController(el, testOptions(), settings)
	sess := controllerSession("t7")

	c.LoadSession(sess)
	waitFor(t, func() bool { return el.Source() == sess.StreamURL })
	c.HandleMediaEvent(MediaEvent{Kind: EventPlaying})
	el.SetCurrentTime(42)

	settings.set(config.Transcode{Enabled: true, BitrateKbps: 320})
	c.RefreshSettings()

	waitFor(t, func() bool { return IsTranscodedURL(el.Source()) })

	// Metadata arrival applies the preserved position.
	c.HandleMediaEvent(MediaEvent{Kind: EventLoadedMetadata})
	if got := el.CurrentTime(); got != 42 {
		t.Errorf("position after settings reload = %v, want 42", got)
	}
}

func TestControllerRefreshSettingsNoChangeNoReload(t *testing.T) {
	el := newFakeElement()
	c := newTestController(el, testOptions(), &settingsBox{})
	sess := controllerSession("t8")

	c.LoadSession(sess)
	waitFor(t, func() bool { return el.Source() == sess.StreamURL })
	c.HandleMediaEvent(MediaEvent{Kind: EventPlaying})
	before := len(el.sourceHistory())

	c.RefreshSettings()
	time.Sleep(20 * time.Millisecond)

	if got := len(el.sourceHistory()); got != before {
		t.Errorf("unchanged settings triggered %d extra source assignments", got-before)
	}
}

func TestControllerToggle(t *testing.T) {
	el := newFakeElement()
	c := newTestController(el, testOptions(), &settingsBox{})

	c.Toggle()
	if el.Paused() {
		t.Error("Toggle() from paused should play")
	}
	c.Toggle()
	if !el.Paused() {
		t.Error("Toggle() from playing should pause")
	}
}

func TestControllerStop(t *testing.T) {
	el := newFakeElement()
	c := newTestController(el, testOptions(), &settingsBox{})

	c.LoadSession(controllerSession("t9"))
	waitFor(t, func() bool { return el.Source() != "" })
	c.HandleMediaEvent(MediaEvent{Kind: EventPlaying})

	c.Stop()

	if c.State() != StateIdle {
		t.Errorf("state after Stop = %s, want IDLE", c.State())
	}
	if c.Session() != nil {
		t.Error("session should be cleared on Stop")
	}
	if !el.Paused() {
		t.Error("element should be paused on Stop")
	}
}

func TestControllerSeekClamps(t *testing.T) {
	el := newFakeElement()
	c := newTestController(el, testOptions(), &settingsBox{})
	c.LoadSession(controllerSession("t10")) // runtime 100s
	waitFor(t, func() bool { return el.Source() != "" })

	tests := []struct {
		seek float64
		want float64
	}{
		{50, 50},
		{-10, 0},
		{500, 100},
	}
	for _, tt := range tests {
		c.Seek(tt.seek)
		if got := el.CurrentTime(); got != tt.want {
			t.Errorf("Seek(%v) position = %v, want %v", tt.seek, got, tt.want)
		}
	}
}

func TestControllerDurationPrefersItemRuntime(t *testing.T) {
	el := newFakeElement()
	el.duration = 7
	c := newTestController(el, testOptions(), &settingsBox{})

	if got := c.Duration(); got != 7 {
		t.Errorf("Duration() without session = %v, want element value 7", got)
	}

	c.LoadSession(controllerSession("t11"))
	if got := c.Duration(); got != 100 {
		t.Errorf("Duration() = %v, want item runtime 100", got)
	}
}

func TestControllerRepeatOneRestarts(t *testing.T) {
	el := newFakeElement()
	repeat := true
	ended := 0
	c := NewController(el, NewReporter(&recordingPlaystate{}), testOptions(), Hooks{
		Settings:     func() config.Transcode { return config.Transcode{} },
		Auth:         func() (string, string) { return "", "" },
		RepeatOne:    func() bool { return repeat },
		OnTrackEnded: func() { ended++ },
	})

	el.SetCurrentTime(90)
	c.HandleMediaEvent(MediaEvent{Kind: EventEnded})
	if el.CurrentTime() != 0 || el.Paused() {
		t.Error("repeat-one should rewind and restart the element")
	}
	if ended != 0 {
		t.Error("repeat-one should not advance the queue")
	}

	repeat = false
	c.HandleMediaEvent(MediaEvent{Kind: EventEnded})
	if ended != 1 {
		t.Errorf("OnTrackEnded calls = %d, want 1", ended)
	}
}

func TestControllerMonitorDetectsSilentStall(t *testing.T) {
	el := newFakeElement()
	c := newTestController(el, testOptions(), &settingsBox{})
	sess := controllerSession("t12")

	c.LoadSession(sess)
	waitFor(t, func() bool { return el.Source() != "" })

	// Position frozen, readiness below HaveCurrentData, not paused.
	el.mu.Lock()
	el.paused = false
	el.ready = HaveMetadata
	el.mu.Unlock()
	c.HandleMediaEvent(MediaEvent{Kind: EventPlaying})

	waitFor(t, func() bool {
		s := c.State()
		return s == StateBuffering || s == StateRetrying || s == StateFallingBack || s == StateFailed
	})
}

func TestControllerRefreshOutputDeviceFallbackTrick(t *testing.T) {
	el := newFakeElement()
	c := newTestController(el, testOptions(), &settingsBox{})

	el.mu.Lock()
	el.paused = false
	el.pos = 33
	el.mu.Unlock()

	c.RefreshOutputDevice()

	if el.Paused() {
		t.Error("device refresh should resume a playing element")
	}
	if el.CurrentTime() != 33 {
		t.Errorf("device refresh moved the playhead to %v, want 33", el.CurrentTime())
	}
}

func TestControllerSetVolumeClamps(t *testing.T) {
	el := newFakeElement()
	c := newTestController(el, testOptions(), &settingsBox{})

	c.SetVolume(150)
	if el.volume != 100 {
		t.Errorf("volume = %d, want clamped 100", el.volume)
	}
	c.SetVolume(-5)
	if el.volume != 0 {
		t.Errorf("volume = %d, want clamped 0", el.volume)
	}
}

func watchdogOptions(delay time.Duration) Options {
	opts := testOptions()
	opts.StallTimeout = time.Hour
	opts.MonitorInterval = time.Hour
	opts.WatchdogDelay = delay
	return opts
}

func TestControllerWatchdogNudgesStalledLoad(t *testing.T) {
	el := newFakeElement()
	c := newTestController(el, watchdogOptions(20*time.Millisecond), &settingsBox{})

	c.LoadSession(controllerSession("w1"))

	// Initial autoplay from the source swap.
	waitFor(t, func() bool { return el.playCount() == 1 })

	// No playing confirmation arrives and the element sits at position zero
	// with no duration, so the watchdog issues one extra play attempt.
	waitFor(t, func() bool { return el.playCount() == 2 })

	time.Sleep(50 * time.Millisecond)
	if got := el.playCount(); got != 2 {
		t.Errorf("play attempts = %d, want exactly 2 (autoplay + one watchdog nudge)", got)
	}
}

func TestControllerWatchdogQuietAfterPlaybackConfirmed(t *testing.T) {
	el := newFakeElement()
	c := newTestController(el, watchdogOptions(60*time.Millisecond), &settingsBox{})

	c.LoadSession(controllerSession("w2"))
	waitFor(t, func() bool { return el.playCount() == 1 })

	c.HandleMediaEvent(MediaEvent{Kind: EventPlaying})

	time.Sleep(120 * time.Millisecond)
	if got := el.playCount(); got != 1 {
		t.Errorf("play attempts = %d, want 1 with playback confirmed before the watchdog", got)
	}
}
