package playback

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/douwec/octoplay/internal/emby"
)

// Session describes one track-play attempt. It is created by the negotiator,
// owned by the controller for the lifetime of one track, and replaced on
// every track change.
type Session struct {
	Item      emby.Item
	StreamURL string // base stream URL before settings rewriting

	ItemID             string
	PlaySessionID      string // fresh random per negotiation
	MediaSourceID      string // server-provided; empty when PlaybackInfo failed
	DeviceID           string // persisted per install
	SupportsDirectPlay bool
	SourceContainer    string
}

// serverClient is the slice of the Emby client the negotiator uses.
type serverClient interface {
	Items(ctx context.Context, q emby.ItemsQuery) (*emby.ItemsResult, error)
	ItemByID(ctx context.Context, itemID, fields string) (*emby.Item, error)
	PlaybackInfo(ctx context.Context, itemID, deviceID, playSessionID string) (*emby.PlaybackInfoResponse, error)
	UserID() string
	Token() string
	StreamBase(itemID string) string
}

// Negotiator resolves a library item to a playable stream URL plus the
// session descriptor used for progress reporting.
type Negotiator struct {
	client serverClient
	store  emby.Storage
}

func NewNegotiator(client serverClient, store emby.Storage) *Negotiator {
	return &Negotiator{client: client, store: store}
}

// Negotiate resolves item to a Session. A nil Session with a nil error means
// the item cannot resolve to playable audio; errors are reserved for broken
// invocations (the playback-info path deliberately fails open instead).
func (n *Negotiator) Negotiate(ctx context.Context, item emby.Item) (*Session, error) {
	if item.ID == "" {
		return nil, nil
	}

	if !item.IsAudio() {
		if item.Type == "MusicAlbum" || item.Type == "Playlist" {
			first := n.firstAudioChild(ctx, item.ID)
			if first != nil {
				return n.Negotiate(ctx, *first)
			}
		}
		return nil, nil
	}

	// List endpoints may omit AlbumId/ImageTags; fetch the full item so
	// cover art resolves to album artwork instead of artist images.
	enriched := n.enrichIfNeeded(ctx, item)

	deviceID := emby.EnsureDeviceID(n.store)
	playSessionID := uuid.NewString()

	mediaSourceID := ""
	supportsDirectPlay := false
	container := "mp3"

	info, err := n.client.PlaybackInfo(ctx, item.ID, deviceID, playSessionID)
	if err != nil {
		// Fail open: assume the server can transcode and let playback try.
		log.Warn().Err(err).Str("item", item.ID).Msg("PlaybackInfo failed, assuming transcode")
	} else if len(info.MediaSources) > 0 {
		ms := info.MediaSources[0]
		mediaSourceID = ms.ID
		if ms.SupportsDirectPlay {
			supportsDirectPlay = true
			if ms.Container != "" {
				container = strings.SplitN(ms.Container, ",", 2)[0]
			}
		}
	}

	qs := url.Values{}
	qs.Set("UserId", n.client.UserID())
	qs.Set("DeviceId", deviceID)
	qs.Set("api_key", n.client.Token())
	qs.Set("PlaySessionId", playSessionID)
	if mediaSourceID != "" {
		qs.Set("MediaSourceId", mediaSourceID)
	}

	var streamURL string
	if supportsDirectPlay {
		qs.Set("static", "true")
		qs.Set("Container", container)
		streamURL = n.client.StreamBase(item.ID) + "/stream?" + qs.Encode()
	} else {
		qs.Set("TranscodingProtocol", "http")
		qs.Set("Container", "mp3")
		qs.Set("AudioCodec", "mp3")
		qs.Set("MaxStreamingBitrate", "320000")
		qs.Set("AudioBitrate", "320000")
		streamURL = n.client.StreamBase(item.ID) + "/universal?" + qs.Encode()
	}

	return &Session{
		Item:               enriched,
		StreamURL:          streamURL,
		ItemID:             item.ID,
		PlaySessionID:      playSessionID,
		MediaSourceID:      mediaSourceID,
		DeviceID:           deviceID,
		SupportsDirectPlay: supportsDirectPlay,
		SourceContainer:    container,
	}, nil
}

// firstAudioChild returns the first playable track of a container in the
// server's natural track order, or nil.
func (n *Negotiator) firstAudioChild(ctx context.Context, parentID string) *emby.Item {
	res, err := n.client.Items(ctx, emby.ItemsQuery{
		ParentID:         parentID,
		IncludeItemTypes: "Audio",
		SortBy:           "ParentIndexNumber,IndexNumber",
		Fields:           emby.TrackFields,
		Recursive:        true,
		Limit:            1,
	})
	if err != nil || len(res.Items) == 0 {
		return nil
	}
	return &res.Items[0]
}

// enrichIfNeeded re-fetches the item with full fields when the album
// reference is missing. Best effort: on failure the original item is used.
func (n *Negotiator) enrichIfNeeded(ctx context.Context, item emby.Item) emby.Item {
	if item.AlbumID != "" {
		return item
	}
	detailed, err := n.client.ItemByID(ctx, item.ID, emby.TrackFields)
	if err != nil || detailed == nil {
		log.Debug().Err(err).Str("item", item.ID).Msg("Item enrichment failed, using listing data")
		return item
	}
	return *detailed
}
