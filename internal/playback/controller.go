package playback

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/douwec/octoplay/internal/config"
)

// State is the controller's conceptual playback state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateBuffering
	StateStalled
	StateRetrying
	StateFallingBack
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLoading:
		return "LOADING"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateBuffering:
		return "BUFFERING"
	case StateStalled:
		return "STALLED"
	case StateRetrying:
		return "RETRYING"
	case StateFallingBack:
		return "FALLING_BACK"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Options hold the controller's timing knobs. Tests shrink them; production
// uses DefaultOptions.
type Options struct {
	// StallTimeout is armed whenever imminent progress is expected; firing
	// schedules a retry.
	StallTimeout time.Duration
	// MonitorInterval is the progress-sampling period while playing.
	MonitorInterval time.Duration
	// BufferingRetryAfter is the cumulative buffering time that forces a
	// retry from the monitor.
	BufferingRetryAfter time.Duration
	// WatchdogDelay is how long after source assignment to re-check that
	// playback actually started.
	WatchdogDelay time.Duration
	// SettleDelay is the fixed pause between hard-resetting the element and
	// assigning the next source.
	SettleDelay time.Duration
	// SuppressErrorWindow mutes element errors emitted by the hard reset.
	SuppressErrorWindow time.Duration
	// MaxRetries bounds same-URL reloads per escalation cycle.
	MaxRetries int
	// ProgressEpsilon is the minimum position advance counted as progress.
	ProgressEpsilon float64
}

func DefaultOptions() Options {
	return Options{
		StallTimeout:        25 * time.Second,
		MonitorInterval:     5 * time.Second,
		BufferingRetryAfter: 15 * time.Second,
		WatchdogDelay:       4 * time.Second,
		SettleDelay:         300 * time.Millisecond,
		SuppressErrorWindow: 100 * time.Millisecond,
		MaxRetries:          1,
		ProgressEpsilon:     0.1,
	}
}

// Hooks connect the controller to its collaborators. All are optional
// except Settings and Auth.
type Hooks struct {
	// Settings returns the current transcode settings.
	Settings func() config.Transcode
	// Auth returns the user id and API key for rewritten URLs.
	Auth func() (userID, apiKey string)
	// OnTrackEnded fires when the current track finishes and repeat-one is
	// not active; the owner advances the queue.
	OnTrackEnded func()
	// RepeatOne reports whether the current track should restart on end.
	RepeatOne func() bool
	// OnStateChange observes state transitions, e.g. for the UI.
	OnStateChange func(State)
}

// Controller owns one media element and drives the full lifecycle of a
// playback session: source swaps, stall detection, retry and fallback
// escalation, and state reporting. Public operations never return playback
// errors; failures become internal state plus logged diagnostics.
type Controller struct {
	mu       sync.Mutex
	el       Element
	reporter *Reporter
	opts     Options
	hooks    Hooks

	// token increments on every track change; async callbacks armed under a
	// stale token are ignored on arrival.
	token uint64

	state        State
	session      *Session
	effectiveURL string

	pendingSeek     float64
	hasPendingSeek  bool
	pendingAutoplay bool
	started         bool // a playing/play event confirmed the current source

	retryAttempt int
	// failedTranscode holds track ids whose transcoded stream hit a format
	// error; those tracks are excluded from future transcode attempts.
	failedTranscode map[string]struct{}
	// fallenBack holds track ids that already had the stall-driven
	// direct-play to transcode fallback; at most one per track.
	fallenBack map[string]struct{}

	suppressErrors bool

	stallTimer    *time.Timer
	retryTimer    *time.Timer
	watchTimer    *time.Timer
	suppressTimer *time.Timer

	monitorStop     chan struct{}
	lastProgressAt  time.Time
	lastProgressPos float64
	bufferingSince  time.Time
}

func NewController(el Element, reporter *Reporter, opts Options, hooks Hooks) *Controller {
	return &Controller{
		el:              el,
		reporter:        reporter,
		opts:            opts,
		hooks:           hooks,
		state:           StateIdle,
		failedTranscode: make(map[string]struct{}),
		fallenBack:      make(map[string]struct{}),
	}
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the active playback session, or nil.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// EffectiveURL returns the URL the element is expected to be loading.
func (c *Controller) EffectiveURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveURL
}

// Position returns the current playback position in seconds.
func (c *Controller) Position() float64 { return c.el.CurrentTime() }

// Duration returns the track duration, preferring server metadata over the
// element's own estimate.
func (c *Controller) Duration() float64 {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess != nil {
		if d := sess.Item.RuntimeSeconds(); d > 0 {
			return d
		}
	}
	return c.el.Duration()
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	log.Debug().Msgf("Playback state: %s -> %s", c.state, s)
	c.state = s
	if c.hooks.OnStateChange != nil {
		go c.hooks.OnStateChange(s)
	}
}

// LoadSession replaces the current playback session and begins loading its
// stream. Any in-flight work for the previous track is cancelled first.
func (c *Controller) LoadSession(sess *Session) {
	c.mu.Lock()
	c.token++
	tok := c.token

	prev := c.session
	prevPos := 0.0
	if prev != nil {
		prevPos = c.el.CurrentTime()
	}
	c.abortLocked()
	c.session = sess
	c.retryAttempt = 0
	c.started = false
	c.hasPendingSeek = false
	c.effectiveURL = c.computeEffectiveURLLocked()
	c.setStateLocked(StateLoading)
	url := c.effectiveURL
	c.mu.Unlock()

	c.reporter.Stopped(prev, prevPos)
	c.reporter.Reset()
	if url == "" {
		log.Error().Msg("No stream URL for session, aborting playback")
		c.mu.Lock()
		if tok == c.token {
			c.setStateLocked(StateFailed)
		}
		c.mu.Unlock()
		return
	}
	go c.setupSource(tok, url, false)
}

// RefreshSettings recomputes the effective stream URL after a settings
// change and reloads the active session when the URL changed, preserving
// the playback position.
func (c *Controller) RefreshSettings() {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}
	url := c.computeEffectiveURLLocked()
	if url == c.effectiveURL {
		c.mu.Unlock()
		return
	}
	tok := c.token
	wasPlaying := !c.el.Paused()
	c.pendingSeek = c.el.CurrentTime()
	c.hasPendingSeek = true
	c.pendingAutoplay = wasPlaying
	c.effectiveURL = url
	c.setStateLocked(StateLoading)
	c.mu.Unlock()

	log.Debug().Msg("Transcode settings changed, reloading stream")
	go c.setupSource(tok, url, false)
}

// computeEffectiveURLLocked derives the element URL from the session's base
// stream URL and the current settings, honouring per-track transcode
// exclusions.
func (c *Controller) computeEffectiveURLLocked() string {
	if c.session == nil {
		return ""
	}
	settings := c.hooks.Settings()
	_, excluded := c.failedTranscode[c.session.ItemID]
	if !settings.Enabled || c.session.ItemID == "" || excluded {
		return c.session.StreamURL
	}
	return RewriteStreamURL(c.session.StreamURL, settings, c.rewriteContextLocked())
}

func (c *Controller) rewriteContextLocked() RewriteContext {
	userID, apiKey := c.hooks.Auth()
	rc := RewriteContext{UserID: userID, APIKey: apiKey}
	if c.session != nil {
		rc.DeviceID = c.session.DeviceID
		rc.PlaySessionID = c.session.PlaySessionID
		rc.MediaSourceID = c.session.MediaSourceID
	}
	return rc
}

// Toggle flips play/pause for the current source.
func (c *Controller) Toggle() {
	c.mu.Lock()
	paused := c.el.Paused()
	if paused {
		c.pendingAutoplay = true
	}
	c.mu.Unlock()

	if paused {
		if err := c.el.Play(); err != nil {
			log.Warn().Err(err).Msg("Play blocked or failed")
		}
	} else {
		c.el.Pause()
	}
}

// Stop halts playback and clears the session.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.token++
	prev := c.session
	prevPos := 0.0
	if prev != nil {
		prevPos = c.el.CurrentTime()
	}
	c.abortLocked()
	c.el.Pause()
	c.el.SetCurrentTime(0)
	c.session = nil
	c.effectiveURL = ""
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	c.reporter.Stopped(prev, prevPos)
}

// Seek moves the playhead, clamped to the known duration.
func (c *Controller) Seek(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	total := c.Duration()
	if total <= 0 {
		return
	}
	if seconds > total {
		seconds = total
	}
	c.el.SetCurrentTime(seconds)
}

// SetVolume passes the volume through to the element.
func (c *Controller) SetVolume(percent int) {
	c.el.SetVolume(config.ClampVolume(percent))
}

// Remount tears the element down and rebuilds it with the current source,
// preserving position and play state. Used after output-device changes.
func (c *Controller) Remount() {
	c.mu.Lock()
	if c.session == nil || c.effectiveURL == "" {
		c.mu.Unlock()
		return
	}
	tok := c.token
	c.pendingSeek = c.el.CurrentTime()
	c.hasPendingSeek = true
	c.pendingAutoplay = !c.el.Paused()
	url := c.effectiveURL
	c.mu.Unlock()

	log.Debug().Msg("Remounting media element")
	go c.setupSource(tok, url, false)
}

// RefreshOutputDevice re-applies the default output sink. When sink
// selection is unavailable the pause/seek/resume trick nudges the pipeline
// onto the new device.
func (c *Controller) RefreshOutputDevice() {
	if err := c.el.SetSink(""); err == nil {
		return
	}
	if err := c.el.SetSink("default"); err == nil {
		return
	}

	wasPaused := c.el.Paused()
	pos := c.el.CurrentTime()
	c.el.Pause()
	c.el.SetCurrentTime(pos)
	if !wasPaused {
		if err := c.el.Play(); err != nil {
			log.Debug().Err(err).Msg("Resume after device refresh failed")
		}
	}
}

// setupSource performs the source swap protocol: hard-reset the element,
// wait a fixed settle delay, assign the new source, re-apply the output
// device, and attempt autoplay with a watchdog. Runs on its own goroutine;
// every step re-checks the playback token.
func (c *Controller) setupSource(tok uint64, url string, cacheBust bool) {
	c.mu.Lock()
	if tok != c.token {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.stopTimersLocked()
	c.stopMonitorLocked()
	c.hardResetLocked()
	c.mu.Unlock()

	time.Sleep(c.opts.SettleDelay)

	c.mu.Lock()
	if tok != c.token {
		c.mu.Unlock()
		return
	}
	finalURL := url
	if cacheBust {
		finalURL = withCacheBust(url)
	}
	c.el.SetSource(finalURL)
	c.el.Load()
	c.pendingAutoplay = true
	c.armStallTimerLocked(tok, "initial-load")
	c.armWatchdogLocked(tok)
	c.mu.Unlock()

	c.RefreshOutputDevice()

	if err := c.el.Play(); err != nil {
		c.classifyPlayError(err)
	}
}

func withCacheBust(url string) string {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_octoBust=%d", url, sep, time.Now().UnixMilli())
}

func (c *Controller) classifyPlayError(err error) {
	switch {
	case err == nil:
	case err == ErrPlayAborted:
		// Expected during fast track switching.
	case err == ErrPlayNotAllowed:
		log.Warn().Msg("Playback blocked by output policy")
		c.mu.Lock()
		if c.state == StateLoading || c.state == StateBuffering {
			c.setStateLocked(StatePaused)
		}
		c.mu.Unlock()
	case err == ErrPlayUnsupported:
		// Left for the format-error handling on the element error event.
		log.Warn().Msg("Media format not supported")
	default:
		log.Warn().Err(err).Msg("Play failed")
	}
}

// hardResetLocked forces the element into a clean state so rapid source
// reassignment cannot be ignored. Errors the reset itself provokes are
// suppressed for a short window.
func (c *Controller) hardResetLocked() {
	c.suppressErrors = true
	if c.suppressTimer != nil {
		c.suppressTimer.Stop()
	}
	c.suppressTimer = time.AfterFunc(c.opts.SuppressErrorWindow, func() {
		c.mu.Lock()
		c.suppressErrors = false
		c.mu.Unlock()
	})

	c.el.Pause()
	c.el.ClearSource()
	c.el.Load()
}

func (c *Controller) armStallTimerLocked(tok uint64, reason string) {
	if c.stallTimer != nil {
		c.stallTimer.Stop()
	}
	c.bufferingSince = time.Now()
	c.stallTimer = time.AfterFunc(c.opts.StallTimeout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if tok != c.token {
			return
		}
		log.Warn().Str("reason", reason).Msg("Stall timeout elapsed without progress")
		c.setStateLocked(StateStalled)
		c.scheduleRetryLocked(tok, reason)
	})
}

func (c *Controller) armWatchdogLocked(tok uint64) {
	if c.watchTimer != nil {
		c.watchTimer.Stop()
	}
	c.watchTimer = time.AfterFunc(c.opts.WatchdogDelay, func() {
		c.mu.Lock()
		if tok != c.token || c.started {
			c.mu.Unlock()
			return
		}
		stalled := c.el.Paused() || c.el.Duration() <= 0 || c.el.CurrentTime() == 0
		if stalled {
			c.pendingAutoplay = true
		}
		c.mu.Unlock()

		if stalled {
			// Some pipelines silently drop the initial play call.
			log.Warn().Msg("Initial load appeared stalled, attempting play")
			if err := c.el.Play(); err != nil {
				c.classifyPlayError(err)
			}
		}
	})
}

// scheduleRetryLocked runs the retry/fallback escalation ladder: up to
// MaxRetries same-URL reloads, then a one-time direct-play to transcode
// fallback, then Failed.
func (c *Controller) scheduleRetryLocked(tok uint64, reason string) {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = time.AfterFunc(0, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if tok != c.token {
			return
		}

		if c.retryAttempt < c.opts.MaxRetries && c.effectiveURL != "" {
			c.retryAttempt++
			log.Warn().Str("reason", reason).Int("attempt", c.retryAttempt).Msg("Reloading stream source")
			c.setStateLocked(StateRetrying)
			if c.stallTimer != nil {
				c.stallTimer.Stop()
			}
			c.pendingSeek = c.el.CurrentTime()
			c.hasPendingSeek = true
			go c.setupSource(tok, c.effectiveURL, true)
			return
		}

		if c.tryFallbackLocked(tok) {
			return
		}

		log.Error().Str("reason", reason).Int("retries", c.opts.MaxRetries).Msg("Playback failed, retries and fallback exhausted")
		c.abortLocked()
		c.setStateLocked(StateFailed)
	})
}

// tryFallbackLocked escalates a stalled direct-play stream to a forced
// transcode URL, at most once per track.
func (c *Controller) tryFallbackLocked(tok uint64) bool {
	if c.session == nil || c.effectiveURL == "" {
		return false
	}
	id := c.session.ItemID
	if id == "" || IsTranscodedURL(c.effectiveURL) {
		return false
	}
	if _, done := c.fallenBack[id]; done {
		return false
	}
	if _, excluded := c.failedTranscode[id]; excluded {
		return false
	}

	settings := c.hooks.Settings()
	settings.Enabled = true
	transcodeURL := RewriteStreamURL(c.session.StreamURL, settings, c.rewriteContextLocked())
	if transcodeURL == "" || transcodeURL == c.effectiveURL {
		return false
	}

	log.Warn().Str("item", id).Msg("Direct play stalled after retries, falling back to transcoding")
	c.fallenBack[id] = struct{}{}
	c.setStateLocked(StateFallingBack)
	c.pendingSeek = c.el.CurrentTime()
	c.hasPendingSeek = true
	c.effectiveURL = transcodeURL
	c.retryAttempt = 0
	go c.setupSource(tok, transcodeURL, true)
	return true
}

func (c *Controller) stopTimersLocked() {
	for _, t := range []*time.Timer{c.stallTimer, c.retryTimer, c.watchTimer} {
		if t != nil {
			t.Stop()
		}
	}
	c.stallTimer, c.retryTimer, c.watchTimer = nil, nil, nil
}

func (c *Controller) abortLocked() {
	c.stopTimersLocked()
	c.stopMonitorLocked()
	c.pendingAutoplay = false
	c.lastProgressAt = time.Time{}
	c.lastProgressPos = 0
	c.bufferingSince = time.Time{}
}

// startMonitorLocked begins the periodic progress monitor that detects
// silent stalls: position not advancing while the element reports
// insufficient readiness.
func (c *Controller) startMonitorLocked(tok uint64) {
	c.stopMonitorLocked()
	stop := make(chan struct{})
	c.monitorStop = stop
	c.lastProgressAt = time.Time{}
	c.lastProgressPos = 0

	go func() {
		ticker := time.NewTicker(c.opts.MonitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.monitorTick(tok)
			}
		}
	}()
}

func (c *Controller) stopMonitorLocked() {
	if c.monitorStop != nil {
		close(c.monitorStop)
		c.monitorStop = nil
	}
}

func (c *Controller) monitorTick(tok uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok != c.token {
		return
	}

	now := time.Now()
	pos := c.el.CurrentTime()
	paused := c.el.Paused()
	ready := c.el.ReadyState()

	if c.lastProgressAt.IsZero() {
		c.lastProgressAt = now
		c.lastProgressPos = pos
		return
	}

	dt := now.Sub(c.lastProgressAt)
	dpos := pos - c.lastProgressPos

	if !paused && dt >= c.opts.MonitorInterval && dpos < c.opts.ProgressEpsilon && ready < HaveCurrentData {
		if c.bufferingSince.IsZero() {
			c.bufferingSince = now
		}
		bufferingFor := now.Sub(c.bufferingSince)
		log.Warn().Msgf("Playback appears stalled (%.1fs)", bufferingFor.Seconds())
		c.setStateLocked(StateBuffering)

		if bufferingFor > c.opts.BufferingRetryAfter {
			// Reset the stamp so one occurrence forces at most one retry.
			c.bufferingSince = now
			c.scheduleRetryLocked(tok, "stall-monitor")
		}

		c.lastProgressAt = now
		c.lastProgressPos = pos
		return
	}

	if dt >= c.opts.MonitorInterval {
		c.lastProgressAt = now
		c.lastProgressPos = pos
	}
}

// HandleMediaEvent consumes one element event. The element implementation
// (or a test) must call it from outside any controller-held lock.
func (c *Controller) HandleMediaEvent(ev MediaEvent) {
	switch ev.Kind {
	case EventLoadStart:
		c.onLoadStart()
	case EventLoadedMetadata:
		c.onLoadedMetadata()
	case EventCanPlay:
		c.onCanPlay()
	case EventCanPlayThrough:
		c.onCanPlayThrough()
	case EventPlay:
		c.onPlay()
	case EventPlaying:
		c.onPlaying()
	case EventWaiting:
		c.onWaitingOrStalled(StateBuffering, "waiting")
	case EventStalled:
		c.onWaitingOrStalled(StateStalled, "stalled")
	case EventPause:
		c.onPause()
	case EventTimeUpdate:
		c.onTimeUpdate()
	case EventEnded:
		c.onEnded()
	case EventError:
		c.onError(ev.Err)
	}
}

func (c *Controller) onLoadStart() {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}
	tok := c.token
	c.pendingAutoplay = true
	c.bufferingSince = time.Now()
	c.armStallTimerLocked(tok, "loadstart")
	c.mu.Unlock()

	if err := c.el.Play(); err != nil && err != ErrPlayAborted {
		log.Warn().Err(err).Msg("Play failed during load start")
	}
}

func (c *Controller) onLoadedMetadata() {
	c.applyPendingSeekAndAutoplay()
}

func (c *Controller) onCanPlay() {
	c.mu.Lock()
	if c.stallTimer != nil {
		c.stallTimer.Stop()
	}
	c.mu.Unlock()
	c.applyPendingSeekAndAutoplay()
}

func (c *Controller) onCanPlayThrough() {
	c.mu.Lock()
	if c.stallTimer != nil {
		c.stallTimer.Stop()
	}
	autoplay := c.pendingAutoplay
	c.mu.Unlock()
	if autoplay {
		if err := c.el.Play(); err != nil {
			c.classifyPlayError(err)
		}
	}
}

func (c *Controller) applyPendingSeekAndAutoplay() {
	c.mu.Lock()
	if c.hasPendingSeek {
		c.el.SetCurrentTime(c.pendingSeek)
		c.hasPendingSeek = false
	}
	autoplay := c.pendingAutoplay
	c.mu.Unlock()

	if autoplay {
		if err := c.el.Play(); err != nil {
			c.classifyPlayError(err)
		}
	}
}

func (c *Controller) onPlaying() {
	c.mu.Lock()
	tok := c.token
	sess := c.session
	c.started = true
	c.pendingAutoplay = false
	c.retryAttempt = 0
	c.bufferingSince = time.Time{}
	if c.stallTimer != nil {
		c.stallTimer.Stop()
	}
	c.setStateLocked(StatePlaying)
	c.startMonitorLocked(tok)
	c.mu.Unlock()

	c.reporter.Progress(sess, c.el.CurrentTime(), false)
}

func (c *Controller) onPlay() {
	c.mu.Lock()
	sess := c.session
	c.started = true
	c.pendingAutoplay = false
	if c.stallTimer != nil {
		c.stallTimer.Stop()
	}
	c.setStateLocked(StatePlaying)
	c.mu.Unlock()

	c.reporter.Started(sess)
	c.reporter.Progress(sess, c.el.CurrentTime(), false)
}

func (c *Controller) onWaitingOrStalled(s State, reason string) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}
	tok := c.token
	c.bufferingSince = time.Now()
	c.setStateLocked(s)
	c.armStallTimerLocked(tok, reason)
	c.mu.Unlock()
}

func (c *Controller) onPause() {
	c.mu.Lock()
	sess := c.session
	if c.stallTimer != nil {
		c.stallTimer.Stop()
	}
	c.stopMonitorLocked()
	if c.state == StatePlaying {
		c.setStateLocked(StatePaused)
	}
	c.mu.Unlock()

	c.reporter.Progress(sess, c.el.CurrentTime(), true)
}

func (c *Controller) onTimeUpdate() {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	c.reporter.Progress(sess, c.el.CurrentTime(), c.el.Paused())
}

func (c *Controller) onEnded() {
	if c.hooks.RepeatOne != nil && c.hooks.RepeatOne() {
		c.el.SetCurrentTime(0)
		if err := c.el.Play(); err != nil {
			log.Warn().Err(err).Msg("Repeat restart failed")
		}
		return
	}
	if c.hooks.OnTrackEnded != nil {
		c.hooks.OnTrackEnded()
	}
}

func (c *Controller) onError(merr *MediaError) {
	if merr == nil {
		return
	}

	c.mu.Lock()
	if c.suppressErrors {
		c.mu.Unlock()
		return
	}
	tok := c.token
	sess := c.session
	effective := c.effectiveURL
	c.mu.Unlock()

	msg := strings.ToLower(merr.Message)
	emptySrc := merr.Src == "" || strings.Contains(msg, "empty src attribute")
	formatErr := strings.Contains(msg, "format error") ||
		(merr.Code == MediaErrSrcNotSupported && IsTranscodedURL(merr.Src))

	log.Warn().Int("code", merr.Code).Str("message", merr.Message).Msg("Media element error")

	// A source swap briefly leaves the element without a source; if the
	// target URL is known, silently reassign it.
	if emptySrc {
		if effective != "" {
			c.mu.Lock()
			c.pendingAutoplay = true
			c.mu.Unlock()
			go c.setupSource(tok, effective, false)
		}
		return
	}

	// Format errors on a transcoded stream fall back to the original
	// direct-play URL and exclude the track from further transcoding.
	if formatErr && sess != nil && sess.StreamURL != "" && merr.Src != sess.StreamURL {
		log.Warn().Str("item", sess.ItemID).Msg("Format error on transcoded stream, falling back to direct play")
		c.mu.Lock()
		if tok == c.token {
			c.failedTranscode[sess.ItemID] = struct{}{}
			c.pendingAutoplay = true
			c.pendingSeek = c.el.CurrentTime()
			c.hasPendingSeek = true
			c.effectiveURL = sess.StreamURL
			c.retryAttempt = 0
			go c.setupSource(tok, sess.StreamURL, true)
		}
		c.mu.Unlock()
		return
	}

	// Decode/network-class errors, and anything unclassified, go through
	// the same retry/fallback ladder as a stall.
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok != c.token {
		return
	}
	c.pendingAutoplay = false
	if c.stallTimer != nil {
		c.stallTimer.Stop()
	}
	if c.effectiveURL != "" {
		c.scheduleRetryLocked(tok, fmt.Sprintf("media-error-%d", merr.Code))
	} else {
		c.abortLocked()
		c.setStateLocked(StateFailed)
	}
}
