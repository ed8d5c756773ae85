// Package playback implements the audio playback core: stream negotiation,
// URL rewriting, the queue, the playback controller, and progress reporting.
package playback

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/douwec/octoplay/internal/config"
)

// RewriteContext carries the session identifiers a transcode URL embeds so
// the server correlates the stream with the reported playback session.
type RewriteContext struct {
	UserID        string
	DeviceID      string
	PlaySessionID string
	MediaSourceID string
	APIKey        string
}

var transcodeParams = []string{
	"TranscodingProtocol", "transcodingProtocol",
	"TranscodingContainer", "transcodingContainer",
	"SegmentContainer",
	"AudioCodec", "audioCodec",
	"MaxStreamingBitrate", "maxStreamingBitrate",
	"AudioBitrate", "audioBitrate",
	"CopyTimestamps",
	"MinSegments",
	"MaxAudioChannels",
}

var directPlayParams = []string{
	"static", "container", "Container", "audioCodec", "AudioCodec",
}

// RewriteStreamURL applies the current transcode settings to a base stream
// URL. It is pure and total: malformed input is returned unchanged, and
// rewriting an already-rewritten URL with the same settings yields the same
// URL because parameters are always stripped before being set.
func RewriteStreamURL(streamURL string, settings config.Transcode, rc RewriteContext) string {
	if streamURL == "" {
		return streamURL
	}

	u, err := url.Parse(streamURL)
	if err != nil || u.Scheme == "" {
		return streamURL
	}

	params := u.Query()
	isDirectPlay := params.Get("static") == "true"

	strip := func(keys []string) {
		for _, k := range keys {
			params.Del(k)
		}
	}
	ensureAuth := func() {
		if rc.APIKey != "" {
			params.Set("api_key", rc.APIKey)
		}
	}

	if !settings.Enabled {
		strip(transcodeParams)
		if isDirectPlay {
			params.Set("static", "true")
		}
		ensureAuth()
		u.RawQuery = params.Encode()
		return u.String()
	}

	strip(directPlayParams)
	strip(transcodeParams)

	format := settings.Format
	if format == "" {
		format = config.DefaultFormat
	}
	params.Set("TranscodingProtocol", "http")
	params.Set("Container", format)
	params.Set("AudioCodec", format)
	if params.Get("StartTimeTicks") == "" {
		params.Set("StartTimeTicks", "0")
	}
	params.Set("MinSegments", "1")
	params.Set("MaxAudioChannels", "2")
	params.Set("CopyTimestamps", "true")

	if rc.UserID != "" {
		params.Set("UserId", rc.UserID)
	}
	if rc.DeviceID != "" {
		params.Set("DeviceId", rc.DeviceID)
	}
	if rc.PlaySessionID != "" {
		params.Set("PlaySessionId", rc.PlaySessionID)
	}
	if rc.MediaSourceID != "" {
		params.Set("MediaSourceId", rc.MediaSourceID)
	}
	ensureAuth()

	if settings.BitrateKbps > 0 {
		bitsPerSec := settings.BitrateKbps * 1000
		if bitsPerSec < 1 {
			bitsPerSec = 1
		}
		params.Set("MaxStreamingBitrate", strconv.Itoa(bitsPerSec))
		params.Set("AudioBitrate", strconv.Itoa(bitsPerSec))
	}

	u.RawQuery = params.Encode()
	return u.String()
}

// IsTranscodedURL reports whether a stream URL targets the transcoding
// pipeline rather than direct play.
func IsTranscodedURL(streamURL string) bool {
	if streamURL == "" {
		return false
	}
	if strings.Contains(streamURL, "static=true") {
		return false
	}
	for _, marker := range []string{
		"TranscodingProtocol",
		"MaxStreamingBitrate",
		"AudioBitrate",
		"AudioCodec",
		"MaxAudioChannels",
		"/universal",
	} {
		if strings.Contains(streamURL, marker) {
			return true
		}
	}
	return false
}
