package emby

import (
	"fmt"
	"net/url"
)

// CoverURL resolves the best cover-art URL for an item. Album artwork is
// preferred for tracks and albums; artists use their backdrop when present.
// Returns "" when the item has no usable image reference.
func (c *Client) CoverURL(item Item) string {
	if c.serverURL == "" || c.token == "" || item.ID == "" {
		return ""
	}

	itemID := item.ID
	tag := ""
	kind := ""

	if t, ok := item.ImageTags["Primary"]; ok && t != "" {
		tag, kind = t, "Primary"
	} else if t, ok := item.ImageTags["Thumb"]; ok && t != "" {
		tag, kind = t, "Thumb"
	}

	if item.Type == "MusicArtist" && len(item.BackdropImageTags) > 0 {
		tag, kind = item.BackdropImageTags[0], "Backdrop"
	}

	// Albums and tracks may reference the image of another item.
	if kind == "" && item.PrimaryImageItemID != "" && item.PrimaryImageTag != "" {
		itemID, tag, kind = item.PrimaryImageItemID, item.PrimaryImageTag, "Primary"
	}

	if kind == "" && item.AlbumPrimaryImageTag != "" && item.AlbumID != "" {
		itemID, tag, kind = item.AlbumID, item.AlbumPrimaryImageTag, "Primary"
	}

	// Artist fallback; the tag is optional here.
	if kind == "" && len(item.ArtistItems) > 0 && item.ArtistItems[0].ID != "" {
		artist := item.ArtistItems[0]
		itemID, kind = artist.ID, "Primary"
		if t := artist.ImageTags["Primary"]; t != "" {
			tag = t
		} else if t := artist.ImageTags["Thumb"]; t != "" {
			tag = t
		}
	}

	if kind == "" {
		return ""
	}

	// Image endpoints authenticate via the token query parameter.
	u := fmt.Sprintf("%s/emby/Items/%s/Images/%s?quality=80&X-Emby-Token=%s",
		c.serverURL, url.PathEscape(itemID), kind, url.QueryEscape(c.token))
	if tag != "" {
		u += "&tag=" + url.QueryEscape(tag)
	}
	return u
}
