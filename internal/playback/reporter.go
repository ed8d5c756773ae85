package playback

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/douwec/octoplay/internal/emby"
)

const (
	reportInterval = time.Second
	reportTimeout  = 5 * time.Second
)

// playstateClient is the slice of the Emby client the reporter posts to.
type playstateClient interface {
	ReportPlaybackStarted(ctx context.Context, r emby.PlaybackReport) error
	ReportPlaybackProgress(ctx context.Context, r emby.PlaybackReport) error
	ReportPlaybackStopped(ctx context.Context, r emby.PlaybackReport) error
}

// Reporter posts playback state to the server. All reports are best effort:
// failures are logged and the next scheduled report tries again.
type Reporter struct {
	client   playstateClient
	interval time.Duration

	mu           sync.Mutex
	lastProgress time.Time
	startedKey   string
}

func NewReporter(client playstateClient) *Reporter {
	return &Reporter{client: client, interval: reportInterval}
}

// Reset clears the throttle and the started-report deduplication, called on
// every track change.
func (r *Reporter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastProgress = time.Time{}
	r.startedKey = ""
}

// Progress reports the playback position, throttled to at most one report
// per interval regardless of how often the element fires time updates.
func (r *Reporter) Progress(sess *Session, positionSeconds float64, paused bool) {
	if sess == nil || r.client == nil {
		return
	}

	r.mu.Lock()
	now := time.Now()
	if !r.lastProgress.IsZero() && now.Sub(r.lastProgress) < r.interval {
		r.mu.Unlock()
		return
	}
	r.lastProgress = now
	r.mu.Unlock()

	if positionSeconds < 0 {
		positionSeconds = 0
	}
	report := emby.PlaybackReport{
		ItemID:        sess.ItemID,
		MediaSourceID: sess.MediaSourceID,
		PlaySessionID: sess.PlaySessionID,
		DeviceID:      sess.DeviceID,
		PositionTicks: int64(positionSeconds * 10000000),
		IsPaused:      paused,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()
		if err := r.client.ReportPlaybackProgress(ctx, report); err != nil {
			log.Warn().Err(err).Msg("Failed to report playback progress")
		}
	}()
}

// Started fires the one-shot playback-started report, deduplicated by the
// (play session, item, media source) triple so repeated play events for the
// same session do not re-report.
func (r *Reporter) Started(sess *Session) {
	if sess == nil || r.client == nil {
		return
	}

	key := startedKey(sess)
	r.mu.Lock()
	if key != "" && key == r.startedKey {
		r.mu.Unlock()
		return
	}
	r.startedKey = key
	r.mu.Unlock()

	report := emby.PlaybackReport{
		ItemID:        sess.ItemID,
		MediaSourceID: sess.MediaSourceID,
		PlaySessionID: sess.PlaySessionID,
		DeviceID:      sess.DeviceID,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()
		if err := r.client.ReportPlaybackStarted(ctx, report); err != nil {
			log.Warn().Err(err).Msg("Failed to report playback started")
		}
	}()
}

// Stopped closes out the session on the server. Only sessions that reported
// started are closed, so a stop before playback confirmation stays silent.
func (r *Reporter) Stopped(sess *Session, positionSeconds float64) {
	if sess == nil || r.client == nil {
		return
	}

	key := startedKey(sess)
	r.mu.Lock()
	if key == "" || key != r.startedKey {
		r.mu.Unlock()
		return
	}
	r.startedKey = ""
	r.mu.Unlock()

	if positionSeconds < 0 {
		positionSeconds = 0
	}
	report := emby.PlaybackReport{
		ItemID:        sess.ItemID,
		MediaSourceID: sess.MediaSourceID,
		PlaySessionID: sess.PlaySessionID,
		DeviceID:      sess.DeviceID,
		PositionTicks: int64(positionSeconds * 10000000),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()
		if err := r.client.ReportPlaybackStopped(ctx, report); err != nil {
			log.Warn().Err(err).Msg("Failed to report playback stopped")
		}
	}()
}

func startedKey(sess *Session) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{sess.PlaySessionID, sess.ItemID, sess.MediaSourceID} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "|")
}
