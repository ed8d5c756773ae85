package emby

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	ClientName    = "Octoplay"
	DeviceName    = "Octoplay Terminal"
	ClientVersion = "1.0.0"

	requestTimeout = 30 * time.Second
)

// ErrUnauthorized is returned for any 401 response. Callers detect it with
// errors.Is and route the user back to login.
var ErrUnauthorized = errors.New("emby: unauthorized")

// IsUnauthorized reports whether err stems from a 401 response.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

var privateHostPattern = regexp.MustCompile(`^(10\.|192\.168\.|172\.(1[6-9]|2\d|3[0-1])\.)`)

func isLikelyLocalAddress(rawNoScheme string) bool {
	hostPort := strings.SplitN(rawNoScheme, "/", 2)[0]
	host := strings.ToLower(strings.SplitN(hostPort, ":", 2)[0])

	if host == "" {
		return true
	}
	if host == "localhost" || host == "127.0.0.1" || strings.HasSuffix(host, ".local") {
		return true
	}
	return privateHostPattern.MatchString(host)
}

// NormalizeServerURL trims, infers a scheme (http for private addresses,
// https otherwise), and strips trailing slashes and a trailing /emby segment.
// Returns "" for empty input.
func NormalizeServerURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if !strings.HasPrefix(strings.ToLower(s), "http://") && !strings.HasPrefix(strings.ToLower(s), "https://") {
		scheme := "https"
		if isLikelyLocalAddress(s) {
			scheme = "http"
		}
		s = scheme + "://" + s
	}

	s = strings.TrimRight(s, "/")
	if strings.HasSuffix(strings.ToLower(s), "/emby") {
		s = s[:len(s)-len("/emby")]
	}
	return s
}

// statusError carries a non-2xx response so callers can branch on the code.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("emby %d: %s", e.Code, e.Body)
}

// Client talks to one Emby/Jellyfin server on behalf of one user.
type Client struct {
	http      *resty.Client
	serverURL string
	token     string
	userID    string
	deviceID  string

	// onUnauthorized runs once per 401 so the caller can clear stored
	// credentials and surface a login prompt.
	onUnauthorized func()
}

// NewClient creates a client for an already-authenticated session. serverURL
// is normalized; token may be empty for a client used only to authenticate.
func NewClient(serverURL, token, userID, deviceID string) *Client {
	c := &Client{
		serverURL: NormalizeServerURL(serverURL),
		token:     token,
		userID:    userID,
		deviceID:  deviceID,
	}
	c.http = resty.New().
		SetBaseURL(c.serverURL).
		SetTimeout(requestTimeout)
	return c
}

// OnUnauthorized registers the 401 hook.
func (c *Client) OnUnauthorized(fn func()) { c.onUnauthorized = fn }

// ServerURL returns the normalized server base URL.
func (c *Client) ServerURL() string { return c.serverURL }

// Token returns the access token in use.
func (c *Client) Token() string { return c.token }

// UserID returns the authenticated user id.
func (c *Client) UserID() string { return c.userID }

// DeviceID returns the per-install device id attached to every request.
func (c *Client) DeviceID() string { return c.deviceID }

func (c *Client) headers() map[string]string {
	deviceID := c.deviceID
	if deviceID == "" {
		deviceID = "octoplay-1"
	}
	h := map[string]string{
		"X-Emby-Client":         ClientName,
		"X-Emby-Device-Name":    DeviceName,
		"X-Emby-Device-Id":      deviceID,
		"X-Emby-Client-Version": ClientVersion,
		"X-Emby-Authorization": fmt.Sprintf(
			`MediaBrowser, Client="%s", Device="%s", DeviceId="%s", Version="%s"`,
			ClientName, DeviceName, deviceID, ClientVersion),
	}
	if c.token != "" {
		h["X-Emby-Token"] = c.token
	}
	return h
}

func (c *Client) wrapStatus(resp *resty.Response) error {
	if resp.StatusCode() == 401 {
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return fmt.Errorf("%w (%s)", ErrUnauthorized, resp.Status())
	}
	return &statusError{Code: resp.StatusCode(), Body: strings.TrimSpace(string(resp.Body()))}
}

// fetchJSON issues a GET against /emby{path} and decodes the JSON reply into
// out (which may be nil to discard the body).
func (c *Client) fetchJSON(ctx context.Context, path string, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetHeaders(c.headers())
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Get("/emby" + path)
	if err != nil {
		return fmt.Errorf("emby request %s: %w", path, err)
	}
	if !resp.IsSuccess() {
		return c.wrapStatus(resp)
	}
	return nil
}

// Authenticate logs in with username and password. When the server URL uses
// plain http and the server rejects the token exchange (some reverse proxies
// block auth over http), the same request is retried over https.
func Authenticate(ctx context.Context, serverURL, username, password string) (*AuthResult, error) {
	base := NormalizeServerURL(serverURL)
	if base == "" {
		return nil, errors.New("server URL is empty")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is empty")
	}
	if password == "" {
		return nil, errors.New("password is empty")
	}

	urls := []string{base}
	if strings.HasPrefix(base, "http://") {
		urls = append(urls, "https://"+strings.TrimPrefix(base, "http://"))
	}

	var lastErr error
	for _, tryURL := range urls {
		result, err := authenticateAt(ctx, tryURL, username, password)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Only the http-auth-block pattern is worth a scheme upgrade.
		if !strings.Contains(err.Error(), "Access token is invalid or expired") {
			return nil, err
		}
	}
	return nil, lastErr
}

func authenticateAt(ctx context.Context, base, username, password string) (*AuthResult, error) {
	client := NewClient(base, "", "", "")

	var result AuthResult
	resp, err := client.http.R().
		SetContext(ctx).
		SetHeaders(client.headers()).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"Username": username, "Pw": password}).
		SetResult(&result).
		Post("/emby/Users/AuthenticateByName")
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, client.wrapStatus(resp)
	}
	if result.AccessToken == "" {
		return nil, errors.New("login succeeded but no AccessToken returned")
	}
	return &result, nil
}

// SystemInfo fetches basic server information, used as a connection check.
func (c *Client) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	var info SystemInfo
	if err := c.fetchJSON(ctx, "/System/Info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ItemsQuery holds the query parameters of the /Users/{id}/Items listing.
type ItemsQuery struct {
	ParentID         string
	IncludeItemTypes string
	SortBy           string
	SortOrder        string
	Filters          string
	Fields           string
	StartIndex       int
	Limit            int
	Recursive        bool
	NameLessThan     string
	NameStartsWith   string
	SearchTerm       string
}

func (q ItemsQuery) encode() string {
	v := url.Values{}
	if q.ParentID != "" {
		v.Set("ParentId", q.ParentID)
	}
	if q.IncludeItemTypes != "" {
		v.Set("IncludeItemTypes", q.IncludeItemTypes)
	}
	if q.SortBy != "" {
		v.Set("SortBy", q.SortBy)
	}
	if q.SortOrder != "" {
		v.Set("SortOrder", q.SortOrder)
	}
	if q.Filters != "" {
		v.Set("Filters", q.Filters)
	}
	if q.Fields != "" {
		v.Set("Fields", q.Fields)
	}
	if q.StartIndex > 0 {
		v.Set("StartIndex", strconv.Itoa(q.StartIndex))
	}
	if q.Limit > 0 {
		v.Set("Limit", strconv.Itoa(q.Limit))
	}
	if q.Recursive {
		v.Set("Recursive", "true")
	}
	if q.NameLessThan != "" {
		v.Set("NameLessThan", q.NameLessThan)
	}
	if q.NameStartsWith != "" {
		v.Set("NameStartsWithOrGreater", q.NameStartsWith)
	}
	if q.SearchTerm != "" {
		v.Set("SearchTerm", q.SearchTerm)
	}
	v.Set("EnableImageTypes", "Primary,Backdrop,Thumb")
	v.Set("ImageTypeLimit", "1")
	return v.Encode()
}

// Items runs a library listing query for the authenticated user.
func (c *Client) Items(ctx context.Context, q ItemsQuery) (*ItemsResult, error) {
	var result ItemsResult
	path := fmt.Sprintf("/Users/%s/Items?%s", url.PathEscape(c.userID), q.encode())
	if err := c.fetchJSON(ctx, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// LatestMusic fetches the most recently added tracks.
func (c *Client) LatestMusic(ctx context.Context, limit int) ([]Item, error) {
	v := url.Values{}
	v.Set("IncludeItemTypes", "Audio")
	v.Set("Limit", strconv.Itoa(limit))
	v.Set("Fields", TrackFieldsWithDate)
	v.Set("EnableImageTypes", "Primary,Backdrop,Thumb")
	v.Set("ImageTypeLimit", "1")

	var items []Item
	path := fmt.Sprintf("/Users/%s/Items/Latest?%s", url.PathEscape(c.userID), v.Encode())
	if err := c.fetchJSON(ctx, path, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// RecentlyPlayed fetches tracks ordered by last play date.
func (c *Client) RecentlyPlayed(ctx context.Context, limit int) (*ItemsResult, error) {
	return c.Items(ctx, ItemsQuery{
		IncludeItemTypes: "Audio",
		SortBy:           "DatePlayed",
		SortOrder:        "Descending",
		Filters:          "IsPlayed",
		Fields:           TrackFieldsWithDate,
		Limit:            limit,
		Recursive:        true,
	})
}

// FrequentlyPlayed fetches tracks ordered by play count.
func (c *Client) FrequentlyPlayed(ctx context.Context, limit int) (*ItemsResult, error) {
	return c.Items(ctx, ItemsQuery{
		IncludeItemTypes: "Audio",
		SortBy:           "PlayCount",
		SortOrder:        "Descending",
		Filters:          "IsPlayed",
		Fields:           TrackFieldsWithDate,
		Limit:            limit,
		Recursive:        true,
	})
}

// Albums fetches the album listing sorted by name.
func (c *Client) Albums(ctx context.Context, limit int) (*ItemsResult, error) {
	return c.Items(ctx, ItemsQuery{
		IncludeItemTypes: "MusicAlbum",
		SortBy:           "SortName",
		SortOrder:        "Ascending",
		Fields:           "PrimaryImageAspectRatio,ImageTags,ArtistItems,AlbumArtist,Artists,PrimaryImageItemId,PrimaryImageTag,ChildCount",
		Limit:            limit,
		Recursive:        true,
	})
}

// SongsFilter narrows a SongsPage query server-side.
type SongsFilter struct {
	// Letter is "A".."Z", "#" for names before A, or "" / "All" for no filter.
	Letter string
	Search string
}

// SongsPage fetches one page of the full song listing with optional
// letter/search filtering done by the server.
func (c *Client) SongsPage(ctx context.Context, startIndex, limit int, filter SongsFilter) (*ItemsResult, error) {
	q := ItemsQuery{
		IncludeItemTypes: "Audio",
		SortBy:           "SortName",
		SortOrder:        "Ascending",
		Fields:           TrackFieldsWithDate,
		StartIndex:       startIndex,
		Limit:            limit,
		Recursive:        true,
	}

	switch {
	case filter.Letter == "" || strings.EqualFold(filter.Letter, "All"):
	case filter.Letter == "#":
		q.NameLessThan = "A"
	case len(filter.Letter) == 1:
		letter := strings.ToUpper(filter.Letter)
		if letter[0] >= 'A' && letter[0] <= 'Z' {
			q.NameStartsWith = letter
			if next := letter[0] + 1; next <= 'Z' {
				q.NameLessThan = string(next)
			}
		}
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		q.SearchTerm = s
	}
	return c.Items(ctx, q)
}

// ItemByID fetches one item with the given field list.
func (c *Client) ItemByID(ctx context.Context, itemID, fields string) (*Item, error) {
	path := fmt.Sprintf("/Users/%s/Items/%s", url.PathEscape(c.userID), url.PathEscape(itemID))
	if fields != "" {
		path += "?Fields=" + url.QueryEscape(fields)
	}
	var item Item
	if err := c.fetchJSON(ctx, path, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// PlaybackInfo queries the server for the playable media sources of an item.
func (c *Client) PlaybackInfo(ctx context.Context, itemID, deviceID, playSessionID string) (*PlaybackInfoResponse, error) {
	v := url.Values{}
	v.Set("UserId", c.userID)
	if deviceID != "" {
		v.Set("DeviceId", deviceID)
	}
	if playSessionID != "" {
		v.Set("PlaySessionId", playSessionID)
	}

	var info PlaybackInfoResponse
	path := fmt.Sprintf("/Items/%s/PlaybackInfo?%s", url.PathEscape(itemID), v.Encode())
	if err := c.fetchJSON(ctx, path, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// PlaybackReport carries the identifiers of one playback session for the
// playstate endpoints.
type PlaybackReport struct {
	ItemID        string
	MediaSourceID string
	PlaySessionID string
	DeviceID      string
	PositionTicks int64
	IsPaused      bool
}

func (c *Client) postPlaystate(ctx context.Context, endpoint string, body map[string]string, deviceID string) error {
	if deviceID == "" {
		deviceID = "octoplay-1"
	}
	v := url.Values{}
	v.Set("X-Emby-Client", ClientName)
	v.Set("X-Emby-Device-Name", DeviceName)
	v.Set("X-Emby-Device-Id", deviceID)
	v.Set("X-Emby-Client-Version", ClientVersion)
	v.Set("X-Emby-Language", "en-us")
	v.Set("reqformat", "json")

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.headers()).
		SetFormData(body).
		Post("/emby" + endpoint + "?" + v.Encode())
	if err != nil {
		return fmt.Errorf("emby playstate %s: %w", endpoint, err)
	}
	if !resp.IsSuccess() {
		return c.wrapStatus(resp)
	}
	return nil
}

// ReportPlaybackStarted tells the server a playback session has begun.
func (c *Client) ReportPlaybackStarted(ctx context.Context, r PlaybackReport) error {
	return c.postPlaystate(ctx, "/Sessions/Playing", map[string]string{
		"ItemId":             r.ItemID,
		"MediaSourceId":      r.MediaSourceID,
		"PlaySessionId":      r.PlaySessionID,
		"UserId":             c.userID,
		"PositionTicks":      "0",
		"PlayMethod":         "Transcode",
		"PlaystateRequested": "Playing",
		"CanSeek":            "true",
		"IsPaused":           "false",
	}, r.DeviceID)
}

// ReportPlaybackProgress posts the current playback position.
func (c *Client) ReportPlaybackProgress(ctx context.Context, r PlaybackReport) error {
	body := map[string]string{
		"ItemId":             r.ItemID,
		"MediaSourceId":      r.MediaSourceID,
		"PositionTicks":      strconv.FormatInt(r.PositionTicks, 10),
		"UserId":             c.userID,
		"PlayMethod":         "Transcode",
		"PlaystateRequested": "Playing",
	}
	if r.PlaySessionID != "" {
		body["PlaySessionId"] = r.PlaySessionID
	}
	if r.IsPaused {
		body["IsPaused"] = "true"
	}
	return c.postPlaystate(ctx, "/Sessions/Playing/Progress", body, r.DeviceID)
}

// ReportPlaybackStopped closes out a playback session on the server so the
// item counts as played and transcode resources are released.
func (c *Client) ReportPlaybackStopped(ctx context.Context, r PlaybackReport) error {
	body := map[string]string{
		"ItemId":        r.ItemID,
		"MediaSourceId": r.MediaSourceID,
		"PositionTicks": strconv.FormatInt(r.PositionTicks, 10),
		"UserId":        c.userID,
	}
	if r.PlaySessionID != "" {
		body["PlaySessionId"] = r.PlaySessionID
	}
	return c.postPlaystate(ctx, "/Sessions/Playing/Stopped", body, r.DeviceID)
}

// MarkFavorite flags an item as a favorite for the user.
func (c *Client) MarkFavorite(ctx context.Context, itemID string) error {
	path := fmt.Sprintf("/Users/%s/FavoriteItems/%s", url.PathEscape(c.userID), url.PathEscape(itemID))
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.headers()).
		SetHeader("Content-Type", "application/json").
		SetBody("{}").
		Post("/emby" + path)
	if err != nil {
		return fmt.Errorf("mark favorite: %w", err)
	}
	if !resp.IsSuccess() {
		return c.wrapStatus(resp)
	}
	return nil
}

// UnmarkFavorite removes the favorite flag from an item.
func (c *Client) UnmarkFavorite(ctx context.Context, itemID string) error {
	path := fmt.Sprintf("/Users/%s/FavoriteItems/%s", url.PathEscape(c.userID), url.PathEscape(itemID))
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.headers()).
		Delete("/emby" + path)
	if err != nil {
		return fmt.Errorf("unmark favorite: %w", err)
	}
	if !resp.IsSuccess() {
		return c.wrapStatus(resp)
	}
	return nil
}

// ToggleFavorite flips the favorite state and returns the new state.
func (c *Client) ToggleFavorite(ctx context.Context, item Item) (bool, error) {
	if item.UserData != nil && item.UserData.IsFavorite {
		if err := c.UnmarkFavorite(ctx, item.ID); err != nil {
			return true, err
		}
		return false, nil
	}
	if err := c.MarkFavorite(ctx, item.ID); err != nil {
		return false, err
	}
	return true, nil
}

// StreamBase returns the prefix shared by the audio streaming endpoints.
func (c *Client) StreamBase(itemID string) string {
	return fmt.Sprintf("%s/emby/Audio/%s", c.serverURL, url.PathEscape(itemID))
}
