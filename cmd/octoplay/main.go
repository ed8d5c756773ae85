package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/douwec/octoplay/internal/audio"
	"github.com/douwec/octoplay/internal/cache"
	"github.com/douwec/octoplay/internal/config"
	"github.com/douwec/octoplay/internal/emby"
	"github.com/douwec/octoplay/internal/library"
	"github.com/douwec/octoplay/internal/playback"
	"github.com/douwec/octoplay/internal/store"
	"github.com/douwec/octoplay/internal/ui"
)

var (
	versionFlag = flag.Bool("version", false, "Show version information")
	debugFlag   = flag.Bool("debug", false, "Enable debug logging")
	logoutFlag  = flag.Bool("logout", false, "Forget the saved session and exit")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - %s\n\n", config.AppName, config.AppVersion, config.AppDescription)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()

		configPath, err := config.GetConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Fprintf(os.Stderr, "\nConfig file: %s\n", configPath)
			} else {
				fmt.Fprintf(os.Stderr, "\nConfig file will be created on first use.\n")
			}
		}
	}
}

func setupLogging() {
	if *debugFlag || os.Getenv(config.EnvDebug) != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)

		cacheDir, err := cache.GetCacheDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not get cache dir: %v\n", err)
			cacheDir = os.TempDir()
		}
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create log dir: %v\n", err)
		}
		logPath := filepath.Join(cacheDir, "debug.log")
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create log file: %v\n", err)
			logFile = os.Stderr
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: logFile, TimeFormat: "15:04:05"})
		fmt.Printf("Debug log: %s\n", logPath)
		log.Info().Msgf("Starting %s v%s (debug mode)", config.AppName, config.AppVersion)
		return
	}

	// Avoid TUI corruption by only logging errors to /dev/null
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	logFile, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0644)
	if err == nil {
		log.Logger = log.Output(logFile)
	}
}

// promptLogin collects server and credentials from the terminal and signs in.
func promptLogin(defaultServer string) (*emby.AuthResult, string, error) {
	reader := bufio.NewReader(os.Stdin)

	serverURL := defaultServer
	if serverURL == "" {
		fmt.Print("Server URL: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, "", err
		}
		serverURL = strings.TrimSpace(line)
	} else {
		fmt.Printf("Server URL [%s]: ", serverURL)
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, "", err
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			serverURL = trimmed
		}
	}
	if serverURL == "" {
		return nil, "", fmt.Errorf("server URL is required")
	}
	serverURL = emby.NormalizeServerURL(serverURL)

	fmt.Print("Username: ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, "", err
	}
	username := strings.TrimSpace(line)

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	auth, err := emby.Authenticate(ctx, serverURL, username, string(password))
	if err != nil {
		return nil, "", err
	}
	return auth, serverURL, nil
}

// ensureConnection returns a usable session, prompting for sign-in when the
// saved one is missing or rejected.
func ensureConnection(st *store.Store, cfg *config.Config) (emby.Connection, error) {
	conn := emby.LoadConnection(st)
	if conn.Valid() {
		return conn, nil
	}

	defaultServer := cfg.ServerURL
	if defaultServer == "" {
		defaultServer = conn.ServerURL
	}

	fmt.Printf("%s v%s - sign in to your server\n", config.AppName, config.AppVersion)
	for attempt := 0; attempt < 3; attempt++ {
		auth, serverURL, err := promptLogin(defaultServer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Sign-in failed: %v\n", err)
			defaultServer = ""
			continue
		}

		conn = emby.Connection{
			ServerURL: serverURL,
			Token:     auth.AccessToken,
			UserID:    auth.User.ID,
			UserName:  auth.User.Name,
		}
		emby.SaveConnection(st, conn)
		fmt.Printf("Signed in as %s\n", auth.User.Name)
		return conn, nil
	}
	return emby.Connection{}, fmt.Errorf("sign-in failed after 3 attempts")
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		fmt.Println(config.AppDescription)
		os.Exit(0)
	}

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
	}
	var cfgMu sync.RWMutex

	dataDir, err := store.DataDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not resolve data directory: %v\n", err)
		os.Exit(1)
	}
	st, err := store.Open(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not open data store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if *logoutFlag {
		emby.ClearConnection(st)
		fmt.Println("Saved session cleared.")
		return
	}

	conn, err := ensureConnection(st, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	deviceID := emby.EnsureDeviceID(st)
	client := emby.NewClient(conn.ServerURL, conn.Token, conn.UserID, deviceID)
	client.OnUnauthorized(func() {
		log.Warn().Msg("Server rejected the access token, clearing saved session")
		emby.ClearConnection(st)
	})

	// Stale tokens surface here rather than mid-playback.
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if _, err := client.SystemInfo(pingCtx); emby.IsUnauthorized(err) {
		pingCancel()
		emby.ClearConnection(st)
		conn, err = ensureConnection(st, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		client = emby.NewClient(conn.ServerURL, conn.Token, conn.UserID, deviceID)
	} else {
		pingCancel()
	}

	negotiator := playback.NewNegotiator(client, st)
	reporter := playback.NewReporter(client)
	element := audio.NewElement()
	defer element.Close()

	controller := playback.NewController(element, reporter, playback.DefaultOptions(), playback.Hooks{
		Settings: func() config.Transcode {
			cfgMu.RLock()
			defer cfgMu.RUnlock()
			return cfg.Transcode
		},
		Auth: func() (string, string) {
			return client.UserID(), client.Token()
		},
	})
	element.SetHandler(controller.HandleMediaEvent)

	player := playback.NewPlayer(negotiator, controller)

	monitor := playback.NewDeviceMonitor(audio.AlsaEnumerator{}, controller)
	monitor.Start()
	defer monitor.Stop()

	libSvc := library.NewService(client, st)

	// Settings edited outside the app take effect on the running stream.
	if configPath, err := config.GetConfigPath(); err == nil {
		watcher, err := config.Watch(configPath, func(updated *config.Config) {
			cfgMu.Lock()
			cfg.Transcode = updated.Transcode
			cfgMu.Unlock()
			controller.RefreshSettings()
		})
		if err != nil {
			log.Debug().Err(err).Msg("Config watcher unavailable")
		} else {
			defer watcher.Close()
		}
	}

	appUI := ui.NewUI(player, controller, libSvc, cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	uiDone := make(chan error, 1)

	go func() {
		<-sigChan
		log.Info().Msg("Received shutdown signal, cleaning up...")
		appUI.Shutdown()
	}()

	go func() {
		uiDone <- appUI.Run()
	}()

	if err := <-uiDone; err != nil {
		log.Error().Err(err).Msg("Error running UI")
		controller.Stop()
		os.Exit(1)
	}

	controller.Stop()
	log.Info().Msg("Octoplay stopped")
}
