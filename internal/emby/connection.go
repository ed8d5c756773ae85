package emby

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Storage is the slice of the key-value store the connection layer needs.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

const (
	keyServerURL = "octoplay.emby.serverUrl"
	keyToken     = "octoplay.emby.token"
	keyUserID    = "octoplay.emby.userId"
	keyUserName  = "octoplay.emby.userName"
	keyDeviceID  = "octoplay.deviceId"
)

// Connection is a persisted authenticated session.
type Connection struct {
	ServerURL string
	Token     string
	UserID    string
	UserName  string
}

// Valid reports whether the connection has everything needed for API calls.
func (c Connection) Valid() bool {
	return c.ServerURL != "" && c.Token != "" && c.UserID != ""
}

// SaveConnection persists an authenticated session.
func SaveConnection(st Storage, conn Connection) {
	set := func(key, value string) {
		if err := st.Set(key, value); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to persist connection field")
		}
	}
	set(keyServerURL, NormalizeServerURL(conn.ServerURL))
	set(keyToken, conn.Token)
	if conn.UserID != "" {
		set(keyUserID, conn.UserID)
	}
	if conn.UserName != "" {
		set(keyUserName, conn.UserName)
	}
}

// LoadConnection reads the persisted session; fields are empty when absent.
func LoadConnection(st Storage) Connection {
	get := func(key string) string {
		v, _ := st.Get(key)
		return v
	}
	return Connection{
		ServerURL: get(keyServerURL),
		Token:     get(keyToken),
		UserID:    get(keyUserID),
		UserName:  get(keyUserName),
	}
}

// ClearConnection drops the persisted session, e.g. after a 401.
func ClearConnection(st Storage) {
	for _, key := range []string{keyServerURL, keyToken, keyUserID, keyUserName} {
		if err := st.Delete(key); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("Failed to clear connection field")
		}
	}
}

// EnsureDeviceID returns the per-install device id, generating and persisting
// one on first use. The id stays stable across sessions so the server keeps
// correlating this install as a single device.
func EnsureDeviceID(st Storage) string {
	if id, ok := st.Get(keyDeviceID); ok && id != "" {
		return id
	}
	id := uuid.NewString()
	if err := st.Set(keyDeviceID, id); err != nil {
		log.Warn().Err(err).Msg("Failed to persist device id, using ephemeral id")
	}
	return id
}
