package emby

import (
	"strings"
	"testing"
)

func TestCoverURL(t *testing.T) {
	c := NewClient("https://music.example.org", "tok", "user-1", "dev-1")

	tests := []struct {
		name      string
		item      Item
		wantParts []string
		wantEmpty bool
	}{
		{
			name:      "primary image tag",
			item:      Item{ID: "i1", ImageTags: map[string]string{"Primary": "p1"}},
			wantParts: []string{"/emby/Items/i1/Images/Primary", "tag=p1", "X-Emby-Token=tok"},
		},
		{
			name:      "thumb when no primary",
			item:      Item{ID: "i2", ImageTags: map[string]string{"Thumb": "t1"}},
			wantParts: []string{"/Images/Thumb", "tag=t1"},
		},
		{
			name: "artist backdrop wins",
			item: Item{
				ID:                "a1",
				Type:              "MusicArtist",
				ImageTags:         map[string]string{"Primary": "p1"},
				BackdropImageTags: []string{"b1"},
			},
			wantParts: []string{"/Images/Backdrop", "tag=b1"},
		},
		{
			name: "referenced image item",
			item: Item{
				ID:                 "track-1",
				PrimaryImageItemID: "album-1",
				PrimaryImageTag:    "ap1",
			},
			wantParts: []string{"/emby/Items/album-1/Images/Primary", "tag=ap1"},
		},
		{
			name: "album artwork fallback",
			item: Item{
				ID:                   "track-2",
				AlbumID:              "album-2",
				AlbumPrimaryImageTag: "ap2",
			},
			wantParts: []string{"/emby/Items/album-2/Images/Primary", "tag=ap2"},
		},
		{
			name: "artist fallback without tag",
			item: Item{
				ID:          "track-3",
				ArtistItems: []ArtistRef{{ID: "artist-1"}},
			},
			wantParts: []string{"/emby/Items/artist-1/Images/Primary"},
		},
		{
			name:      "no image reference",
			item:      Item{ID: "bare"},
			wantEmpty: true,
		},
		{
			name:      "empty id",
			item:      Item{},
			wantEmpty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.CoverURL(tt.item)
			if tt.wantEmpty {
				if got != "" {
					t.Errorf("CoverURL() = %q, want empty", got)
				}
				return
			}
			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("CoverURL() = %q, missing %q", got, part)
				}
			}
		})
	}
}

func TestCoverURLCarriesAuthToken(t *testing.T) {
	c := NewClient("https://music.example.org", "tok-1", "user-1", "dev-1")

	tests := []struct {
		name string
		item Item
	}{
		{"own primary", Item{ID: "42", ImageTags: map[string]string{"Primary": "tag"}}},
		{"album fallback", Item{ID: "t1", AlbumID: "a1", AlbumPrimaryImageTag: "at"}},
		{"artist fallback", Item{ID: "t2", ArtistItems: []ArtistRef{{ID: "ar1"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.CoverURL(tt.item)
			if got == "" {
				t.Fatal("CoverURL() = empty")
			}
			if !strings.Contains(got, "X-Emby-Token=tok-1") {
				t.Errorf("cover URL carries no auth token: %s", got)
			}
		})
	}
}

func TestCoverURLRequiresSession(t *testing.T) {
	item := Item{ID: "i1", ImageTags: map[string]string{"Primary": "p1"}}

	if got := NewClient("", "tok", "u", "d").CoverURL(item); got != "" {
		t.Errorf("CoverURL() without server = %q, want empty", got)
	}
	if got := NewClient("https://x", "", "u", "d").CoverURL(item); got != "" {
		t.Errorf("CoverURL() without token = %q, want empty", got)
	}
}
