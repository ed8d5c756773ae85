package audio

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog/log"

	"github.com/douwec/octoplay/internal/config"
	"github.com/douwec/octoplay/internal/playback"
)

const (
	DefaultSampleRate   = beep.SampleRate(44100)
	SpeakerBufferSize   = time.Millisecond * 250
	SampleChannelSize   = 8192
	VolumeCurveExponent = 0.5
	MinVolumeDB         = -10.0
	ReadTimeout         = 5 * time.Second
	timeUpdateInterval  = 500 * time.Millisecond
	eventQueueSize      = 64
)

// errSinkSelection is returned by SetSink: the speaker backend always plays
// through the system default device.
var errSinkSelection = fmt.Errorf("output sink selection not supported")

// Relies on context cancellation to clean up the spawned read goroutine.
type contextReader struct {
	reader  io.Reader
	ctx     context.Context
	timeout time.Duration
}

func (cr *contextReader) Read(p []byte) (n int, err error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}

	timer := time.NewTimer(cr.timeout)
	defer timer.Stop()

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)

	go func() {
		n, err := cr.reader.Read(p)
		select {
		case done <- result{n, err}:
		case <-cr.ctx.Done():
		}
	}()

	select {
	case res := <-done:
		return res.n, res.err
	case <-timer.C:
		return 0, fmt.Errorf("read timeout: no data received for %v", cr.timeout)
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	}
}

// Element streams one track over HTTP, decodes it, and plays it through the
// speaker. It implements playback.Element; lifecycle events are delivered to
// the registered handler on a dedicated dispatch goroutine, never from
// inside an Element method call.
type Element struct {
	httpClient *http.Client

	mu            sync.Mutex
	src           string
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ctrl          *beep.Ctrl
	volume        *effects.Volume
	volumePercent int
	running       bool
	speakerInit   bool
	format        beep.Format

	sampleCh       chan [2]float64
	streamDone     chan struct{}
	streamDoneOnce *sync.Once

	// Position accounting. baseOffset is the seek origin in seconds;
	// samplesOut counts audio samples actually delivered to the speaker.
	baseOffset float64
	samplesOut int64 // atomic
	sampleRate int64 // atomic
	// skipSamples asks the decode loop to drop this many samples before
	// buffering, used to fast-forward after a seek restart.
	skipSamples int64 // atomic

	paused int32 // atomic
	ready  int32 // atomic

	events     chan playback.MediaEvent
	handlerMu  sync.Mutex
	handler    func(playback.MediaEvent)
	dispatchWG sync.WaitGroup
	closed     chan struct{}
	closeOnce  sync.Once
}

func NewElement() *Element {
	httpClient := &http.Client{
		Timeout: 0, // streams are long-lived
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			DisableCompression:    true,
		},
	}

	e := &Element{
		httpClient:    httpClient,
		volumePercent: -1,
		events:        make(chan playback.MediaEvent, eventQueueSize),
		closed:        make(chan struct{}),
	}

	e.dispatchWG.Add(1)
	go e.dispatch()
	return e
}

// SetHandler registers the event consumer, normally the playback controller.
func (e *Element) SetHandler(fn func(playback.MediaEvent)) {
	e.handlerMu.Lock()
	e.handler = fn
	e.handlerMu.Unlock()
}

func (e *Element) dispatch() {
	defer e.dispatchWG.Done()
	for {
		select {
		case <-e.closed:
			return
		case ev := <-e.events:
			e.handlerMu.Lock()
			fn := e.handler
			e.handlerMu.Unlock()
			if fn != nil {
				fn(ev)
			}
		}
	}
}

func (e *Element) emit(ev playback.MediaEvent) {
	select {
	case e.events <- ev:
	default:
		log.Debug().Int("kind", int(ev.Kind)).Msg("Media event queue full, dropping event")
	}
}

func (e *Element) emitError(code int, message string) {
	e.mu.Lock()
	src := e.src
	e.mu.Unlock()
	e.emit(playback.MediaEvent{
		Kind: playback.EventError,
		Err:  &playback.MediaError{Code: code, Message: message, Src: src},
	})
}

func (e *Element) SetSource(url string) {
	e.mu.Lock()
	e.src = url
	e.mu.Unlock()
	atomic.StoreInt32(&e.ready, playback.HaveNothing)
}

func (e *Element) Source() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

func (e *Element) ClearSource() {
	e.stopPipeline()
	e.mu.Lock()
	e.src = ""
	e.baseOffset = 0
	e.mu.Unlock()
	atomic.StoreInt64(&e.samplesOut, 0)
	atomic.StoreInt32(&e.ready, playback.HaveNothing)
}

// Load resets the pipeline for the assigned source. Fetching starts on the
// first Play call.
func (e *Element) Load() {
	e.stopPipeline()

	e.mu.Lock()
	src := e.src
	e.baseOffset = 0
	e.mu.Unlock()
	atomic.StoreInt64(&e.samplesOut, 0)
	atomic.StoreInt32(&e.ready, playback.HaveNothing)

	if src == "" {
		e.emitError(playback.MediaErrSrcNotSupported, "empty src attribute")
		return
	}
	e.emit(playback.MediaEvent{Kind: playback.EventLoadStart})
}

// Play starts the stream pipeline, or resumes it when paused.
func (e *Element) Play() error {
	e.mu.Lock()
	src := e.src
	running := e.running
	ctrl := e.ctrl
	e.mu.Unlock()

	if src == "" {
		return playback.ErrPlayUnsupported
	}

	if running {
		if ctrl != nil {
			speaker.Lock()
			ctrl.Paused = false
			speaker.Unlock()
		}
		atomic.StoreInt32(&e.paused, 0)
		e.emit(playback.MediaEvent{Kind: playback.EventPlay})
		return nil
	}

	e.startPipeline(src, 0)
	return nil
}

func (e *Element) Pause() {
	e.mu.Lock()
	ctrl := e.ctrl
	e.mu.Unlock()

	if ctrl != nil {
		speaker.Lock()
		ctrl.Paused = true
		speaker.Unlock()
	}
	if atomic.SwapInt32(&e.paused, 1) == 0 {
		e.emit(playback.MediaEvent{Kind: playback.EventPause})
	}
}

func (e *Element) Paused() bool {
	return atomic.LoadInt32(&e.paused) == 1
}

func (e *Element) CurrentTime() float64 {
	rate := atomic.LoadInt64(&e.sampleRate)
	e.mu.Lock()
	base := e.baseOffset
	e.mu.Unlock()
	if rate == 0 {
		return base
	}
	return base + float64(atomic.LoadInt64(&e.samplesOut))/float64(rate)
}

// SetCurrentTime seeks by restarting the stream and fast-forwarding the
// decoder to the target. Backwards seeks restart from the beginning.
func (e *Element) SetCurrentTime(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}

	e.mu.Lock()
	src := e.src
	running := e.running
	e.mu.Unlock()
	if src == "" {
		return
	}

	wasPaused := e.Paused()
	if running {
		e.stopPipeline()
	}
	e.startPipeline(src, seconds)
	if wasPaused {
		e.Pause()
	}
}

// Duration is unknown for HTTP streams; callers fall back to server
// metadata.
func (e *Element) Duration() float64 { return 0 }

func (e *Element) ReadyState() int {
	return int(atomic.LoadInt32(&e.ready))
}

func (e *Element) SetVolume(percent int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.volumePercent = percent

	if e.volume == nil {
		log.Debug().Msgf("Volume stored as %d%% (will be applied when playback starts)", percent)
		return
	}

	volumeLevel := percentToExponent(float64(percent))

	speaker.Lock()
	e.volume.Volume = volumeLevel
	e.volume.Silent = percent == 0
	speaker.Unlock()

	log.Debug().Msgf("Volume set to %d%% (%.2f dB)", percent, volumeLevel)
}

func (e *Element) SetSink(deviceID string) error {
	return errSinkSelection
}

func (e *Element) Close() {
	e.stopPipeline()
	e.closeOnce.Do(func() { close(e.closed) })
	e.dispatchWG.Wait()
}

func percentToExponent(p float64) float64 {
	if p <= 0 {
		return MinVolumeDB
	}
	if p >= 100 {
		return 0
	}

	normalized := p / 100.0
	adjusted := math.Pow(normalized, VolumeCurveExponent)
	return (1.0 - adjusted) * MinVolumeDB
}

func (e *Element) initSpeaker(sampleRate beep.SampleRate) error {
	if !e.speakerInit || sampleRate != e.format.SampleRate {
		if err := speaker.Init(sampleRate, sampleRate.N(SpeakerBufferSize)); err != nil {
			return fmt.Errorf("failed to initialize speaker: %w", err)
		}
		e.format.SampleRate = sampleRate
		e.speakerInit = true
		log.Debug().Msgf("Speaker initialized with sample rate: %d Hz, buffer: %v", sampleRate, SpeakerBufferSize)
	}
	return nil
}

func (e *Element) stopPipeline() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.running = false
	e.ctrl = nil
	e.volume = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	speaker.Clear()
	e.wg.Wait()
}

func (e *Element) closeStreamDone(done chan struct{}, once *sync.Once) {
	once.Do(func() { close(done) })
}

// startPipeline spawns the fetch/decode/play chain for src, skipping ahead
// offsetSeconds of decoded audio.
func (e *Element) startPipeline(src string, offsetSeconds float64) {
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = cancel
	e.running = true
	e.baseOffset = offsetSeconds
	e.sampleCh = make(chan [2]float64, SampleChannelSize)
	e.streamDone = make(chan struct{})
	e.streamDoneOnce = &sync.Once{}
	e.mu.Unlock()

	atomic.StoreInt64(&e.samplesOut, 0)
	atomic.StoreInt32(&e.paused, 0)

	e.wg.Add(1)
	go e.stream(ctx, src, offsetSeconds)
}

func (e *Element) stream(ctx context.Context, src string, offsetSeconds float64) {
	defer e.wg.Done()

	e.mu.Lock()
	sampleCh := e.sampleCh
	streamDone := e.streamDone
	doneOnce := e.streamDoneOnce
	e.mu.Unlock()

	log.Debug().Msgf("Connecting to stream: %s", src)

	req, err := http.NewRequestWithContext(ctx, "GET", src, nil)
	if err != nil {
		e.emitError(playback.MediaErrNetwork, fmt.Sprintf("failed to create request: %v", err))
		return
	}
	req.Header.Set("User-Agent", fmt.Sprintf("Octoplay/%s", config.AppVersion))

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.emitError(playback.MediaErrNetwork, fmt.Sprintf("failed to fetch stream: %v", err))
		return
	}
	defer resp.Body.Close()

	log.Debug().Msgf("Stream response status: %d, Content-Type: %s", resp.StatusCode, resp.Header.Get("Content-Type"))

	if resp.StatusCode != http.StatusOK {
		e.emitError(playback.MediaErrNetwork, fmt.Sprintf("stream returned status %d: %s", resp.StatusCode, resp.Status))
		return
	}

	timeoutBody := &contextReader{reader: resp.Body, ctx: ctx, timeout: ReadTimeout}

	streamer, format, err := mp3.Decode(io.NopCloser(timeoutBody))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.emitError(playback.MediaErrDecode, fmt.Sprintf("failed to decode stream: %v", err))
		return
	}
	defer streamer.Close()

	atomic.StoreInt64(&e.sampleRate, int64(format.SampleRate))
	atomic.StoreInt32(&e.ready, playback.HaveMetadata)
	e.emit(playback.MediaEvent{Kind: playback.EventLoadedMetadata})

	if offsetSeconds > 0 {
		atomic.StoreInt64(&e.skipSamples, int64(offsetSeconds*float64(format.SampleRate)))
	} else {
		atomic.StoreInt64(&e.skipSamples, 0)
	}

	e.mu.Lock()
	if err := e.initSpeaker(format.SampleRate); err != nil {
		e.mu.Unlock()
		e.emitError(playback.MediaErrDecode, err.Error())
		return
	}
	e.format = format

	volumePercent := e.volumePercent
	if volumePercent < 0 {
		volumePercent = config.DefaultVolume
	}
	wrapper := &bufferedStreamer{element: e, sampleCh: sampleCh, streamDone: streamDone}
	e.volume = &effects.Volume{
		Streamer: wrapper,
		Base:     2,
		Volume:   percentToExponent(float64(volumePercent)),
		Silent:   volumePercent == 0,
	}
	e.ctrl = &beep.Ctrl{Streamer: e.volume}
	e.mu.Unlock()

	speaker.Clear()
	speaker.Play(e.ctrl)

	atomic.StoreInt32(&e.ready, playback.HaveEnoughData)
	e.emit(playback.MediaEvent{Kind: playback.EventCanPlay})
	e.emit(playback.MediaEvent{Kind: playback.EventPlaying})

	e.wg.Add(1)
	go e.decodeLoop(ctx, streamer, sampleCh, streamDone, doneOnce)

	ticker := time.NewTicker(timeUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-streamDone:
			// Let the speaker drain buffered samples before declaring the end.
			e.drainAndEnd(ctx, sampleCh)
			return
		case <-ticker.C:
			if e.Paused() {
				continue
			}
			if len(sampleCh) == 0 {
				atomic.StoreInt32(&e.ready, playback.HaveMetadata)
				e.emit(playback.MediaEvent{Kind: playback.EventWaiting})
			} else {
				atomic.StoreInt32(&e.ready, playback.HaveEnoughData)
				e.emit(playback.MediaEvent{Kind: playback.EventTimeUpdate})
			}
		}
	}
}

func (e *Element) drainAndEnd(ctx context.Context, sampleCh chan [2]float64) {
	deadline := time.After(SpeakerBufferSize * 4)
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			e.finishTrack()
			return
		default:
			if len(sampleCh) == 0 {
				e.finishTrack()
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func (e *Element) finishTrack() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	atomic.StoreInt32(&e.paused, 1)
	log.Debug().Msg("Stream ended")
	e.emit(playback.MediaEvent{Kind: playback.EventEnded})
}

func (e *Element) decodeLoop(ctx context.Context, streamer beep.StreamSeekCloser, sampleCh chan [2]float64, streamDone chan struct{}, doneOnce *sync.Once) {
	defer func() {
		close(sampleCh)
		e.wg.Done()
		e.closeStreamDone(streamDone, doneOnce)
		log.Debug().Msg("Decoder goroutine stopped")
	}()

	decoded := make([][2]float64, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		case <-streamDone:
			return
		default:
			n, ok := streamer.Stream(decoded)
			if !ok {
				if err := streamer.Err(); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("Stream decoding error")
				}
				return
			}

			// Fast-forward: drop samples at decode speed until the seek
			// target is reached.
			start := 0
			if skip := atomic.LoadInt64(&e.skipSamples); skip > 0 {
				drop := int64(n)
				if drop > skip {
					drop = skip
				}
				atomic.AddInt64(&e.skipSamples, -drop)
				start = int(drop)
			}

			for i := start; i < n; i++ {
				select {
				case <-ctx.Done():
					return
				case <-streamDone:
					return
				case sampleCh <- decoded[i]:
				}
			}
		}
	}
}

// bufferedStreamer feeds the speaker from the decode buffer. Non-blocking
// reads output silence when the buffer runs dry, keeping the audio pipeline
// flowing during network hiccups; only delivered audio samples advance the
// position counter.
type bufferedStreamer struct {
	element    *Element
	sampleCh   chan [2]float64
	streamDone chan struct{}
	done       bool
}

func (b *bufferedStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	audioEnd := 0

	if !b.done {
		for i := range samples {
			select {
			case <-b.streamDone:
				b.done = true
			default:
			}
			if b.done {
				break
			}

			select {
			case sample, more := <-b.sampleCh:
				if !more {
					b.done = true
				} else {
					samples[i] = sample
					audioEnd = i + 1
				}
			case <-b.streamDone:
				b.done = true
			default:
			}
			if b.done || audioEnd <= i {
				break
			}
		}
	}

	for i := audioEnd; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}

	if audioEnd > 0 {
		atomic.AddInt64(&b.element.samplesOut, int64(audioEnd))
	}

	return len(samples), true
}

func (b *bufferedStreamer) Err() error { return nil }
