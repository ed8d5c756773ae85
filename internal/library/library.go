// Package library provides the music-library layer: home-screen listings,
// cached fallbacks, cover art, and favorites.
package library

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/douwec/octoplay/internal/cache"
	"github.com/douwec/octoplay/internal/emby"
	"github.com/douwec/octoplay/internal/store"
)

const (
	imageLoadTimeout = 15 * time.Second
	homeSectionLimit = 40

	homeCacheKey = "octoplay.cache.home"
)

// Home bundles the home-screen listings fetched in one pass.
type Home struct {
	Latest   []emby.Item `json:"latest"`
	Recent   []emby.Item `json:"recent"`
	Frequent []emby.Item `json:"frequent"`
	Albums   []emby.Item `json:"albums"`
}

// Service manages library data: fetching listings, persisting them for
// offline-start rendering, caching cover art, and periodic refresh.
type Service struct {
	client *emby.Client
	store  *store.Store

	mu   sync.RWMutex
	home Home

	imageCache    *cache.Cache
	refreshTicker *time.Ticker
	stopRefresh   chan struct{}
	onRefresh     func(Home)
}

func NewService(client *emby.Client, st *store.Store) *Service {
	imageCache, err := cache.NewCache()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize cover cache, covers will not be cached")
	}

	if imageCache != nil {
		go func() {
			if err := imageCache.CleanExpired(); err != nil {
				log.Debug().Err(err).Msg("Failed to clean expired cache")
			}
		}()
	}

	return &Service{
		client:     client,
		store:      st,
		imageCache: imageCache,
	}
}

// FetchHome loads all home-screen sections from the server and persists the
// result so the next start can render before the network answers.
func (s *Service) FetchHome(ctx context.Context) (Home, error) {
	var home Home

	latest, err := s.client.LatestMusic(ctx, homeSectionLimit)
	if err != nil {
		return Home{}, err
	}
	home.Latest = latest

	if res, err := s.client.RecentlyPlayed(ctx, homeSectionLimit); err == nil {
		home.Recent = res.Items
	} else {
		log.Warn().Err(err).Msg("Failed to fetch recently played")
	}
	if res, err := s.client.FrequentlyPlayed(ctx, homeSectionLimit); err == nil {
		home.Frequent = res.Items
	} else {
		log.Warn().Err(err).Msg("Failed to fetch frequently played")
	}
	if res, err := s.client.Albums(ctx, homeSectionLimit); err == nil {
		home.Albums = res.Items
	} else {
		log.Warn().Err(err).Msg("Failed to fetch albums")
	}

	s.mu.Lock()
	s.home = home
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SetJSON(homeCacheKey, home); err != nil {
			log.Debug().Err(err).Msg("Failed to persist home listings")
		}
	}

	return home, nil
}

// CachedHome returns the in-memory listings, falling back to the persisted
// snapshot from the previous run.
func (s *Service) CachedHome() Home {
	s.mu.RLock()
	home := s.home
	s.mu.RUnlock()

	if len(home.Latest) > 0 || len(home.Recent) > 0 {
		return home
	}

	if s.store != nil {
		var persisted Home
		if s.store.GetJSON(homeCacheKey, &persisted) {
			return persisted
		}
	}
	return home
}

// Songs returns one page of the full song listing.
func (s *Service) Songs(ctx context.Context, startIndex, limit int, filter emby.SongsFilter) (*emby.ItemsResult, error) {
	return s.client.SongsPage(ctx, startIndex, limit, filter)
}

// AlbumTracks lists the audio children of an album or playlist in track order.
func (s *Service) AlbumTracks(ctx context.Context, parentID string) ([]emby.Item, error) {
	res, err := s.client.Items(ctx, emby.ItemsQuery{
		ParentID:         parentID,
		IncludeItemTypes: "Audio",
		SortBy:           "ParentIndexNumber,IndexNumber",
		Fields:           emby.TrackFields,
		Recursive:        true,
	})
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (s *Service) ToggleFavorite(ctx context.Context, item emby.Item) (bool, error) {
	return s.client.ToggleFavorite(ctx, item)
}

// LoadCover fetches the item's cover art, via the disk cache when possible.
func (s *Service) LoadCover(item emby.Item) (image.Image, error) {
	url := s.client.CoverURL(item)
	if url == "" {
		return nil, nil
	}

	if s.imageCache != nil {
		if img := s.imageCache.GetImage(url); img != nil {
			log.Debug().Str("url", url).Msg("Cover loaded from cache")
			return img, nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), imageLoadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, err
	}

	if s.imageCache != nil {
		go func() {
			if err := s.imageCache.SaveImage(url, img); err != nil {
				log.Debug().Err(err).Str("url", url).Msg("Failed to cache cover")
			}
		}()
	}

	return img, nil
}

// StartPeriodicRefresh re-fetches the home listings on the given interval.
func (s *Service) StartPeriodicRefresh(interval time.Duration, callback func(Home)) {
	s.StopPeriodicRefresh()

	s.mu.Lock()
	s.onRefresh = callback
	s.stopRefresh = make(chan struct{})
	s.refreshTicker = time.NewTicker(interval)
	ticker := s.refreshTicker
	stopCh := s.stopRefresh
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				s.refreshInBackground()
			case <-stopCh:
				ticker.Stop()
				return
			}
		}
	}()

	log.Debug().Dur("interval", interval).Msg("Started periodic library refresh")
}

func (s *Service) StopPeriodicRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopRefresh != nil {
		close(s.stopRefresh)
		s.stopRefresh = nil
	}
}

func (s *Service) refreshInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	home, err := s.FetchHome(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Background library refresh failed, keeping cached data")
		return
	}

	s.mu.RLock()
	callback := s.onRefresh
	s.mu.RUnlock()

	if callback != nil {
		callback(home)
	}

	log.Debug().Int("latest", len(home.Latest)).Msg("Library listings refreshed in background")
}
