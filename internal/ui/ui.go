package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"

	"github.com/douwec/octoplay/internal/config"
	"github.com/douwec/octoplay/internal/emby"
	"github.com/douwec/octoplay/internal/library"
	"github.com/douwec/octoplay/internal/playback"
)

const (
	VolumeStep            = 5
	SeekStep              = 10.0
	HeaderHeight          = 3
	FooterHeightWide      = 3
	FooterHeightNarrow    = 6
	CoverWidth            = 26
	CoverHeight           = 12
	PlayerPanelHeight     = 12
	FooterBreakpoint      = 130
	SongsPageSize         = 200
	MinLoadingDisplayTime = 1200 * time.Millisecond
	MinStatusDisplayTime  = 300 * time.Millisecond
	LibraryRefreshPeriod  = 5 * time.Minute
)

// Tabs of the track table.
const (
	sectionLatest = iota
	sectionRecent
	sectionFrequent
	sectionAlbums
	sectionSongs
	sectionCount
)

var sectionTitles = [sectionCount]string{"Latest", "Recent", "Frequent", "Albums", "Songs"}

type UI struct {
	app        *tview.Application
	player     *playback.Player
	controller *playback.Controller
	libSvc     *library.Service
	cfg        *config.Config

	trackTable    *tview.Table
	helpPanel     *tview.Box
	contentLayout *tview.Flex
	playerPanel   *tview.Flex
	coverPanel    *tview.Image
	trackView     *tview.TextView
	progressView  *tview.TextView
	volumeView    *tview.Flex
	mainLayout    *tview.Flex
	loadingScreen *tview.Flex
	loadingText   *tview.TextView
	progressBar   *tview.TextView
	pages         *tview.Pages

	stopUpdates chan struct{}

	mu              sync.Mutex
	section         int
	sections        [sectionCount][]emby.Item
	songsOffset     int
	songsTotal      int
	currentVolume   int
	isMuted         bool
	lastFooterWidth int
	animationFrame  int
	playingSpinner  *PlayingSpinner
	statusRenderer  *StatusRenderer
	lastCoverItemID string

	colors struct {
		background           tcell.Color
		foreground           tcell.Color
		borders              tcell.Color
		highlight            tcell.Color
		headerBackground     tcell.Color
		listHeaderBackground tcell.Color
		listHeaderForeground tcell.Color
		helpBackground       tcell.Color
		helpForeground       tcell.Color
		helpHotkey           tcell.Color
		modalBackground      tcell.Color
	}
}

func NewUI(player *playback.Player, controller *playback.Controller, libSvc *library.Service, cfg *config.Config) *UI {
	ui := &UI{
		app:         tview.NewApplication(),
		player:      player,
		controller:  controller,
		libSvc:      libSvc,
		cfg:         cfg,
		stopUpdates: make(chan struct{}),
	}

	ui.colors.background = config.GetColor(cfg.Theme.Background)
	ui.colors.foreground = config.GetColor(cfg.Theme.Foreground)
	ui.colors.borders = config.GetColor(cfg.Theme.Borders)
	ui.colors.highlight = config.GetColor(cfg.Theme.Highlight)
	ui.colors.headerBackground = config.GetColor(cfg.Theme.HeaderBackground)
	ui.colors.listHeaderBackground = config.GetColor(cfg.Theme.ListHeaderBackground)
	ui.colors.listHeaderForeground = config.GetColor(cfg.Theme.ListHeaderForeground)
	ui.colors.helpBackground = config.GetColor(cfg.Theme.HelpBackground)
	ui.colors.helpForeground = config.GetColor(cfg.Theme.HelpForeground)
	ui.colors.helpHotkey = config.GetColor(cfg.Theme.HelpHotkey)
	ui.colors.modalBackground = config.GetColor(cfg.Theme.ModalBackground)

	ui.currentVolume = cfg.Volume
	controller.SetVolume(cfg.Volume)
	player.SetShuffle(cfg.Shuffle)
	player.SetRepeat(playback.RepeatMode(cfg.RepeatMode))

	ui.statusRenderer = NewStatusRenderer(controller)
	ui.statusRenderer.SetPrimaryColor(ui.colors.highlight.String())

	return ui
}

func (ui *UI) SaveConfig() {
	ui.mu.Lock()
	if !ui.isMuted {
		ui.cfg.Volume = ui.currentVolume
	}
	ui.cfg.Shuffle = ui.player.Shuffle()
	ui.cfg.RepeatMode = int(ui.player.Repeat())
	ui.mu.Unlock()

	if err := ui.cfg.Save(); err != nil {
		log.Error().Err(err).Msg("Failed to save config")
	}
}

func (ui *UI) safeCloseChannel() {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	if ui.stopUpdates != nil {
		select {
		case <-ui.stopUpdates:
		default:
			close(ui.stopUpdates)
		}
		ui.stopUpdates = nil
	}
}

func (ui *UI) stop() {
	ui.SaveConfig()
	ui.libSvc.StopPeriodicRefresh()
	ui.controller.Stop()
	ui.safeCloseChannel()
	ui.app.Stop()
}

// Shutdown stops the UI gracefully from external callers (e.g., signal handlers).
func (ui *UI) Shutdown() {
	ui.app.QueueUpdateDraw(func() {
		ui.stop()
	})
}

func (ui *UI) Run() error {
	ui.setupLoadingScreen()
	ui.app.SetRoot(ui.loadingScreen, true)
	ui.configureScreen()

	go ui.initAsync()

	return ui.app.Run()
}

func (ui *UI) configureScreen() {
	bgStyle := tcell.StyleDefault.Background(ui.colors.background)
	ui.app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		screen.SetStyle(bgStyle)
		screen.Clear()
		return false
	})

	var titleSet sync.Once
	ui.app.SetAfterDrawFunc(func(screen tcell.Screen) {
		titleSet.Do(func() { screen.SetTitle(config.AppName) })
	})
}

func (ui *UI) initAsync() {
	if err := ui.fetchLibraryAndInitUI(); err != nil {
		ui.app.QueueUpdateDraw(func() {
			ui.handleInitialError(err)
		})
	}
}

func (ui *UI) setupLoadingScreen() {
	ui.loadingText = tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetText("Connecting to server... (1/3)")
	ui.loadingText.SetTextColor(ui.colors.foreground).
		SetBackgroundColor(ui.colors.background)

	ui.progressBar = tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetText(ui.renderProgressBar(0))
	ui.progressBar.SetTextColor(ui.colors.highlight).
		SetBackgroundColor(ui.colors.background)

	content := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.loadingText, 1, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(ui.progressBar, 1, 0, false)
	content.SetBackgroundColor(ui.colors.background)

	ui.loadingScreen = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(content, 3, 0, false).
		AddItem(nil, 0, 1, false)

	ui.loadingScreen.SetBackgroundColor(ui.colors.background)
}

func (ui *UI) renderProgressBar(percent int) string {
	const width = 30
	filled := (percent * width) / 100
	empty := width - filled
	return strings.Repeat("█", filled) + strings.Repeat("░", empty)
}

func (ui *UI) animateProgress(fromPercent, toPercent int, duration time.Duration) {
	steps := toPercent - fromPercent
	if steps <= 0 {
		return
	}
	stepDuration := duration / time.Duration(steps)
	lastBar := ui.renderProgressBar(fromPercent)

	for p := fromPercent + 1; p <= toPercent; p++ {
		time.Sleep(stepDuration)
		if bar := ui.renderProgressBar(p); bar != lastBar {
			ui.app.QueueUpdateDraw(func() {
				ui.progressBar.SetText(bar)
			})
			lastBar = bar
		}
	}
}

func (ui *UI) fetchLibraryAndInitUI() error {
	const totalStages = 3
	stagePercent := func(stage int) int { return (stage * 100) / totalStages }

	startTime := time.Now()

	animDone := make(chan struct{})
	go func() {
		ui.animateProgress(stagePercent(0), stagePercent(1), MinStatusDisplayTime)
		close(animDone)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	home, err := ui.libSvc.FetchHome(ctx)
	cancel()
	if err != nil {
		// A stale listing still beats an error screen.
		cached := ui.libSvc.CachedHome()
		if len(cached.Latest) == 0 && len(cached.Recent) == 0 {
			return fmt.Errorf("failed to fetch library: %w", err)
		}
		log.Warn().Err(err).Msg("Library fetch failed, rendering cached listings")
		home = cached
	}

	ui.mu.Lock()
	ui.sections[sectionLatest] = home.Latest
	ui.sections[sectionRecent] = home.Recent
	ui.sections[sectionFrequent] = home.Frequent
	ui.sections[sectionAlbums] = home.Albums
	ui.mu.Unlock()

	<-animDone

	ui.app.QueueUpdateDraw(func() {
		ui.loadingText.SetText("Loading configuration... (2/3)")
	})

	ui.animateProgress(stagePercent(1), stagePercent(2), MinStatusDisplayTime)

	ui.app.QueueUpdateDraw(func() {
		ui.loadingText.SetText("Building interface... (3/3)")
	})

	ui.setupUI()
	ui.libSvc.StartPeriodicRefresh(LibraryRefreshPeriod, ui.onLibraryRefreshed)
	ui.player.OnQueueChange(func() {
		ui.app.QueueUpdateDraw(func() {
			ui.refreshTrackTable()
			ui.updateNowPlaying()
		})
	})

	ui.animateProgress(stagePercent(2), stagePercent(3), MinStatusDisplayTime)

	// Floor, not ceiling: wait only if real work finished early.
	if elapsed := time.Since(startTime); elapsed < MinLoadingDisplayTime {
		time.Sleep(MinLoadingDisplayTime - elapsed)
	}
	log.Debug().Msgf("Total loading time: %v", time.Since(startTime))

	ui.app.QueueUpdateDraw(func() {
		ui.app.SetRoot(ui.pages, true).EnableMouse(true)
		ui.app.SetFocus(ui.trackTable)
	})

	ui.startUpdateLoop()

	return nil
}

func (ui *UI) setupUI() {
	header := ui.createHeader()

	ui.playerPanel = tview.NewFlex().SetDirection(tview.FlexRow)
	ui.playerPanel.SetBackgroundColor(ui.colors.background)
	ui.playerPanel.AddItem(ui.createContentPanel(), 0, 1, false)

	ui.trackTable = ui.createTrackTable()
	ui.refreshTrackTable()

	ui.helpPanel = ui.createFooter()

	ui.contentLayout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, HeaderHeight, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(ui.playerPanel, PlayerPanelHeight, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(ui.trackTable, 0, 1, true).
		AddItem(ui.helpPanel, FooterHeightWide, 0, false)
	ui.contentLayout.SetBackgroundColor(ui.colors.background)

	wrapper := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(nil, 3, 0, false).
		AddItem(ui.contentLayout, 0, 1, true).
		AddItem(nil, 3, 0, false)
	wrapper.SetBackgroundColor(ui.colors.background)

	ui.mainLayout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 1, 0, false).
		AddItem(wrapper, 0, 1, true).
		AddItem(nil, 1, 0, false)
	ui.mainLayout.SetBackgroundColor(ui.colors.background)

	ui.pages = tview.NewPages().
		AddPage("main", ui.mainLayout, true, true)
	ui.pages.SetBackgroundColor(ui.colors.background)

	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if ui.pages.HasPage("modal") {
			return event
		}
		return ui.globalInputHandler(event)
	})
}

func (ui *UI) createHeader() tview.Primitive {
	titleView := tview.NewTextView()
	titleView.SetText(" " + config.AppName)
	titleView.SetTextAlign(tview.AlignLeft)
	titleView.SetTextColor(ui.colors.foreground)
	titleView.SetBackgroundColor(ui.colors.headerBackground)

	versionView := tview.NewTextView()
	versionView.SetText("v" + config.AppVersion + " ")
	versionView.SetTextAlign(tview.AlignRight)
	versionView.SetTextColor(ui.colors.foreground)
	versionView.SetBackgroundColor(ui.colors.headerBackground)

	textFlex := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(titleView, 0, 1, false).
		AddItem(versionView, 10, 0, false)
	textFlex.SetBackgroundColor(ui.colors.headerBackground)

	topSpacer := tview.NewBox().SetBackgroundColor(ui.colors.headerBackground)
	bottomSpacer := tview.NewBox().SetBackgroundColor(ui.colors.headerBackground)
	leftSpacer := tview.NewBox().SetBackgroundColor(ui.colors.headerBackground)
	rightSpacer := tview.NewBox().SetBackgroundColor(ui.colors.headerBackground)

	textWithPadding := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(leftSpacer, 1, 0, false).
		AddItem(textFlex, 0, 1, false).
		AddItem(rightSpacer, 1, 0, false)
	textWithPadding.SetBackgroundColor(ui.colors.headerBackground)

	headerFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(topSpacer, 1, 0, false).
		AddItem(textWithPadding, 1, 0, false).
		AddItem(bottomSpacer, 1, 0, false)
	headerFlex.SetBackgroundColor(ui.colors.headerBackground)

	return headerFlex
}

func (ui *UI) onLibraryRefreshed(home library.Home) {
	ui.mu.Lock()
	ui.sections[sectionLatest] = home.Latest
	ui.sections[sectionRecent] = home.Recent
	ui.sections[sectionFrequent] = home.Frequent
	ui.sections[sectionAlbums] = home.Albums
	ui.mu.Unlock()

	ui.app.QueueUpdateDraw(func() {
		ui.refreshTrackTable()
	})
}

// startUpdateLoop drives the spinner, the progress readout, and the
// now-playing panel.
func (ui *UI) startUpdateLoop() {
	ui.mu.Lock()
	stopCh := ui.stopUpdates
	ui.mu.Unlock()
	if stopCh == nil {
		return
	}

	if ui.playingSpinner == nil {
		ui.playingSpinner = NewPlayingSpinner()
	}

	go func() {
		animationTicker := time.NewTicker(ui.playingSpinner.FPS)
		progressTicker := time.NewTicker(time.Second)
		defer animationTicker.Stop()
		defer progressTicker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-animationTicker.C:
				ui.mu.Lock()
				ui.animationFrame++
				ui.mu.Unlock()

				ui.statusRenderer.AdvanceAnimation()

				ui.app.QueueUpdateDraw(func() {
					ui.updatePlayingIndicator()
				})
			case <-progressTicker.C:
				ui.app.QueueUpdateDraw(func() {
					ui.updateNowPlaying()
				})
			}
		}
	}()
}

func (ui *UI) globalInputHandler(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			ui.stop()
			return nil
		case ' ':
			ui.togglePlayback()
			return nil
		case 'n', 'N', '>':
			ui.player.Next(context.Background())
			return nil
		case 'b', 'B', '<':
			ui.player.Previous(context.Background())
			return nil
		case 's', 'S':
			ui.toggleShuffle()
			return nil
		case 'e', 'E':
			ui.cycleRepeat()
			return nil
		case 't', 'T':
			ui.toggleTranscode()
			return nil
		case 'f', 'F':
			ui.toggleFavorite()
			return nil
		case '+', '=':
			ui.adjustVolume(VolumeStep)
			return nil
		case '-', '_':
			ui.adjustVolume(-VolumeStep)
			return nil
		case 'm', 'M':
			ui.toggleMute()
			return nil
		case '1', '2', '3', '4', '5':
			ui.switchSection(int(event.Rune() - '1'))
			return nil
		case 'L':
			ui.loadMoreSongs()
			return nil
		case '?':
			ui.showHelpModal()
			return nil
		case 'a', 'A':
			ui.showAboutModal()
			return nil
		}
	case tcell.KeyEnter:
		ui.playSelected()
		return nil
	case tcell.KeyEscape:
		ui.stop()
		return nil
	case tcell.KeyRight:
		ui.controller.Seek(ui.controller.Position() + SeekStep)
		return nil
	case tcell.KeyLeft:
		ui.controller.Seek(ui.controller.Position() - SeekStep)
		return nil
	}
	return event
}

func (ui *UI) togglePlayback() {
	if ui.controller.Session() != nil {
		ui.controller.Toggle()
		return
	}
	ui.playSelected()
}

func (ui *UI) toggleShuffle() {
	on := !ui.player.Shuffle()
	ui.player.SetShuffle(on)
	ui.SaveConfig()
	log.Debug().Bool("shuffle", on).Msg("Shuffle toggled")
}

func (ui *UI) cycleRepeat() {
	mode := ui.player.CycleRepeat()
	ui.SaveConfig()
	log.Debug().Int("mode", int(mode)).Msg("Repeat mode cycled")
}

// toggleTranscode flips transcoding and reloads the active stream with the
// new settings, preserving position.
func (ui *UI) toggleTranscode() {
	ui.mu.Lock()
	ui.cfg.Transcode.Enabled = !ui.cfg.Transcode.Enabled
	enabled := ui.cfg.Transcode.Enabled
	ui.mu.Unlock()

	ui.controller.RefreshSettings()
	ui.SaveConfig()
	log.Info().Bool("enabled", enabled).Msg("Transcoding toggled")
}
