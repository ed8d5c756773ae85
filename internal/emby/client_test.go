package emby

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizeServerURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"keeps http scheme", "http://example.com", "http://example.com"},
		{"keeps https scheme", "https://example.com", "https://example.com"},
		{"strips trailing slash", "https://example.com/", "https://example.com"},
		{"strips trailing slashes", "https://example.com///", "https://example.com"},
		{"strips emby suffix", "https://example.com/emby", "https://example.com"},
		{"strips emby suffix and slash", "https://example.com/emby/", "https://example.com"},
		{"public host gets https", "music.example.com", "https://music.example.com"},
		{"localhost gets http", "localhost:8096", "http://localhost:8096"},
		{"loopback gets http", "127.0.0.1:8096", "http://127.0.0.1:8096"},
		{"mdns host gets http", "nas.local:8096", "http://nas.local:8096"},
		{"private 192 gets http", "192.168.1.10:8096", "http://192.168.1.10:8096"},
		{"private 10 gets http", "10.0.0.5", "http://10.0.0.5"},
		{"private 172 gets http", "172.16.0.2:8096", "http://172.16.0.2:8096"},
		{"non-private 172 gets https", "172.32.0.2", "https://172.32.0.2"},
		{"trims whitespace", "  https://example.com  ", "https://example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeServerURL(tt.in); got != tt.want {
				t.Errorf("NormalizeServerURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClientSendsEmbyHeaders(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SystemInfo{ServerName: "test"})
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok-1", "user-1", "dev-1")
	if _, err := c.SystemInfo(context.Background()); err != nil {
		t.Fatalf("SystemInfo() error = %v", err)
	}

	tests := []struct {
		header string
		want   string
	}{
		{"X-Emby-Client", ClientName},
		{"X-Emby-Device-Name", DeviceName},
		{"X-Emby-Device-Id", "dev-1"},
		{"X-Emby-Client-Version", ClientVersion},
		{"X-Emby-Token", "tok-1"},
	}
	for _, tt := range tests {
		if got := gotHeaders.Get(tt.header); got != tt.want {
			t.Errorf("header %s = %q, want %q", tt.header, got, tt.want)
		}
	}
	if auth := gotHeaders.Get("X-Emby-Authorization"); !strings.Contains(auth, `DeviceId="dev-1"`) {
		t.Errorf("X-Emby-Authorization = %q, want DeviceId embedded", auth)
	}
}

func TestClientUnauthorizedHook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	hookFired := 0
	c := NewClient(server.URL, "stale", "user-1", "dev-1")
	c.OnUnauthorized(func() { hookFired++ })

	_, err := c.SystemInfo(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("SystemInfo() error = %v, want unauthorized", err)
	}
	if hookFired != 1 {
		t.Errorf("unauthorized hook fired %d times, want 1", hookFired)
	}
}

func TestClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such item"))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok", "user-1", "dev-1")
	_, err := c.ItemByID(context.Background(), "missing", "")
	if err == nil {
		t.Fatal("ItemByID() error = nil, want 404 error")
	}
	if IsUnauthorized(err) {
		t.Error("404 should not classify as unauthorized")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %v, want status code in message", err)
	}
}

func TestClientItemsQueryEncoding(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ItemsResult{})
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok", "user-1", "dev-1")
	_, err := c.Items(context.Background(), ItemsQuery{
		ParentID:         "album-1",
		IncludeItemTypes: "Audio",
		SortBy:           "SortName",
		StartIndex:       40,
		Limit:            20,
		Recursive:        true,
	})
	if err != nil {
		t.Fatalf("Items() error = %v", err)
	}

	if !strings.HasPrefix(gotPath, "/emby/Users/user-1/Items?") {
		t.Errorf("path = %q, want user items endpoint", gotPath)
	}
	for _, want := range []string{
		"ParentId=album-1",
		"IncludeItemTypes=Audio",
		"StartIndex=40",
		"Limit=20",
		"Recursive=true",
	} {
		if !strings.Contains(gotPath, want) {
			t.Errorf("query missing %s: %s", want, gotPath)
		}
	}
}

func TestClientSongsPageLetterFilter(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ItemsResult{})
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok", "user-1", "dev-1")

	tests := []struct {
		name       string
		filter     SongsFilter
		wantParts  []string
		wrongParts []string
	}{
		{
			name:       "no filter",
			filter:     SongsFilter{},
			wrongParts: []string{"NameStartsWithOrGreater", "NameLessThan"},
		},
		{
			name:      "letter M",
			filter:    SongsFilter{Letter: "m"},
			wantParts: []string{"NameStartsWithOrGreater=M", "NameLessThan=N"},
		},
		{
			name:       "hash bucket",
			filter:     SongsFilter{Letter: "#"},
			wantParts:  []string{"NameLessThan=A"},
			wrongParts: []string{"NameStartsWithOrGreater"},
		},
		{
			name:      "search",
			filter:    SongsFilter{Search: "  moon  "},
			wantParts: []string{"SearchTerm=moon"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.SongsPage(context.Background(), 0, 50, tt.filter); err != nil {
				t.Fatalf("SongsPage() error = %v", err)
			}
			for _, want := range tt.wantParts {
				if !strings.Contains(gotQuery, want) {
					t.Errorf("query missing %s: %s", want, gotQuery)
				}
			}
			for _, wrong := range tt.wrongParts {
				if strings.Contains(gotQuery, wrong) {
					t.Errorf("query should not contain %s: %s", wrong, gotQuery)
				}
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emby/Users/AuthenticateByName" {
			t.Errorf("path = %q, want AuthenticateByName", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["Username"] != "alice" || body["Pw"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AuthResult{
			AccessToken: "fresh-token",
			User:        AuthUser{ID: "u-1", Name: "alice"},
		})
	}))
	defer server.Close()

	auth, err := Authenticate(context.Background(), server.URL, "alice", "secret")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if auth.AccessToken != "fresh-token" || auth.User.ID != "u-1" {
		t.Errorf("Authenticate() = %+v, want token and user", auth)
	}
}

func TestAuthenticateValidation(t *testing.T) {
	tests := []struct {
		name     string
		server   string
		username string
		password string
	}{
		{"empty server", "", "alice", "pw"},
		{"empty username", "http://localhost", "", "pw"},
		{"empty password", "http://localhost", "alice", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Authenticate(context.Background(), tt.server, tt.username, tt.password); err == nil {
				t.Error("Authenticate() error = nil, want validation error")
			}
		})
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := Authenticate(context.Background(), server.URL, "alice", "wrong")
	if !IsUnauthorized(err) {
		t.Errorf("Authenticate() error = %v, want unauthorized", err)
	}
}

func TestClientFavorites(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok", "user-1", "dev-1")
	ctx := context.Background()

	fav, err := c.ToggleFavorite(ctx, Item{ID: "item-1"})
	if err != nil {
		t.Fatalf("ToggleFavorite() error = %v", err)
	}
	if !fav || gotMethod != http.MethodPost {
		t.Errorf("toggle on = (%v, %s), want (true, POST)", fav, gotMethod)
	}
	if gotPath != "/emby/Users/user-1/FavoriteItems/item-1" {
		t.Errorf("path = %q", gotPath)
	}

	fav, err = c.ToggleFavorite(ctx, Item{ID: "item-1", UserData: &UserData{IsFavorite: true}})
	if err != nil {
		t.Fatalf("ToggleFavorite() error = %v", err)
	}
	if fav || gotMethod != http.MethodDelete {
		t.Errorf("toggle off = (%v, %s), want (false, DELETE)", fav, gotMethod)
	}
}

func TestClientReportPlaybackProgress(t *testing.T) {
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostForm.Get(k)
		}
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok", "user-1", "dev-1")
	err := c.ReportPlaybackProgress(context.Background(), PlaybackReport{
		ItemID:        "item-1",
		MediaSourceID: "ms-1",
		PlaySessionID: "ps-1",
		DeviceID:      "dev-1",
		PositionTicks: 123450000,
		IsPaused:      true,
	})
	if err != nil {
		t.Fatalf("ReportPlaybackProgress() error = %v", err)
	}

	tests := []struct {
		field string
		want  string
	}{
		{"ItemId", "item-1"},
		{"MediaSourceId", "ms-1"},
		{"PlaySessionId", "ps-1"},
		{"PositionTicks", "123450000"},
		{"IsPaused", "true"},
		{"UserId", "user-1"},
	}
	for _, tt := range tests {
		if got := gotForm[tt.field]; got != tt.want {
			t.Errorf("form field %s = %q, want %q", tt.field, got, tt.want)
		}
	}
}

func TestClientReportPlaybackStopped(t *testing.T) {
	var gotPath string
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		r.ParseForm()
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostForm.Get(k)
		}
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok", "user-1", "dev-1")
	err := c.ReportPlaybackStopped(context.Background(), PlaybackReport{
		ItemID:        "item-1",
		MediaSourceID: "ms-1",
		PlaySessionID: "ps-1",
		DeviceID:      "dev-1",
		PositionTicks: 987650000,
	})
	if err != nil {
		t.Fatalf("ReportPlaybackStopped() error = %v", err)
	}

	if gotPath != "/emby/Sessions/Playing/Stopped" {
		t.Errorf("path = %q, want /emby/Sessions/Playing/Stopped", gotPath)
	}
	if gotForm["ItemId"] != "item-1" || gotForm["PositionTicks"] != "987650000" {
		t.Errorf("form = %v, missing item id or position", gotForm)
	}
}

func TestStreamBase(t *testing.T) {
	c := NewClient("https://music.example.org", "tok", "user-1", "dev-1")
	want := "https://music.example.org/emby/Audio/item%201"
	if got := c.StreamBase("item 1"); got != want {
		t.Errorf("StreamBase() = %q, want %q", got, want)
	}
}
