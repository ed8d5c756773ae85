// Package emby provides the HTTP client for Emby and Jellyfin media servers.
package emby

// ArtistRef is a lightweight reference to an artist item.
type ArtistRef struct {
	ID        string            `json:"Id"`
	Name      string            `json:"Name"`
	ImageTags map[string]string `json:"ImageTags"`
}

// UserData carries per-user playback state for an item.
type UserData struct {
	IsFavorite            bool  `json:"IsFavorite"`
	Played                bool  `json:"Played"`
	PlayCount             int   `json:"PlayCount"`
	PlaybackPositionTicks int64 `json:"PlaybackPositionTicks"`
}

// Item is a server-side library item: a track, an album, an artist.
// Items are immutable once fetched; list endpoints may omit fields that a
// follow-up full fetch (see Client.ItemByID) fills in.
type Item struct {
	ID                   string            `json:"Id"`
	Name                 string            `json:"Name"`
	Type                 string            `json:"Type"`
	MediaType            string            `json:"MediaType"`
	Album                string            `json:"Album"`
	AlbumID              string            `json:"AlbumId"`
	AlbumArtist          string            `json:"AlbumArtist"`
	Artists              []string          `json:"Artists"`
	ArtistItems          []ArtistRef       `json:"ArtistItems"`
	RunTimeTicks         int64             `json:"RunTimeTicks"`
	IndexNumber          int               `json:"IndexNumber"`
	ParentIndexNumber    int               `json:"ParentIndexNumber"`
	ImageTags            map[string]string `json:"ImageTags"`
	BackdropImageTags    []string          `json:"BackdropImageTags"`
	AlbumPrimaryImageTag string            `json:"AlbumPrimaryImageTag"`
	PrimaryImageItemID   string            `json:"PrimaryImageItemId"`
	PrimaryImageTag      string            `json:"PrimaryImageTag"`
	DateCreated          string            `json:"DateCreated"`
	ChildCount           int               `json:"ChildCount"`
	UserData             *UserData         `json:"UserData"`
}

// IsAudio reports whether the item is directly playable audio.
func (i Item) IsAudio() bool {
	return i.Type == "Audio" || i.MediaType == "Audio"
}

// Artist returns the best display artist for the item.
func (i Item) Artist() string {
	if len(i.ArtistItems) > 0 && i.ArtistItems[0].Name != "" {
		return i.ArtistItems[0].Name
	}
	if len(i.Artists) > 0 {
		return i.Artists[0]
	}
	return i.AlbumArtist
}

// RuntimeSeconds converts the server's 100ns ticks to seconds.
func (i Item) RuntimeSeconds() float64 {
	return float64(i.RunTimeTicks) / 10000000.0
}

// ItemsResult is the envelope for all /Items listing endpoints.
type ItemsResult struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

// MediaSource describes one playable source of an item, as returned by the
// PlaybackInfo endpoint.
type MediaSource struct {
	ID                 string `json:"Id"`
	Container          string `json:"Container"`
	SupportsDirectPlay bool   `json:"SupportsDirectPlay"`
	SupportsTranscode  bool   `json:"SupportsTranscoding"`
	Bitrate            int    `json:"Bitrate"`
}

// PlaybackInfoResponse is the reply of /Items/{id}/PlaybackInfo.
type PlaybackInfoResponse struct {
	MediaSources  []MediaSource `json:"MediaSources"`
	PlaySessionID string        `json:"PlaySessionId"`
}

// AuthUser is the user block of an authentication response.
type AuthUser struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

// AuthResult is the reply of /Users/AuthenticateByName.
type AuthResult struct {
	AccessToken string   `json:"AccessToken"`
	ServerID    string   `json:"ServerId"`
	User        AuthUser `json:"User"`
}

// SystemInfo is the reply of /System/Info.
type SystemInfo struct {
	ServerName string `json:"ServerName"`
	Version    string `json:"Version"`
	ID         string `json:"Id"`
}

// TrackFields is the field list requested for track items so that cover art
// and runtime can be resolved without a second fetch.
const TrackFields = "PrimaryImageAspectRatio,ImageTags,PrimaryImageItemId,PrimaryImageTag,AlbumId,AlbumPrimaryImageTag,ArtistItems,Artists,AlbumArtist,RunTimeTicks,UserData"

// TrackFieldsWithDate additionally requests the creation date, used by the
// latest-music listing.
const TrackFieldsWithDate = TrackFields + ",DateCreated"
