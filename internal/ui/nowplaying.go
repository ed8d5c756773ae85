package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"

	"github.com/douwec/octoplay/internal/emby"
)

const trackProgressWidth = 40

// createContentPanel builds the now-playing area: cover art on the left,
// track info and the progress readout in the middle, volume bar on the
// right.
func (ui *UI) createContentPanel() *tview.Flex {
	ui.coverPanel = tview.NewImage()
	ui.coverPanel.SetBackgroundColor(ui.colors.background)
	ui.coverPanel.SetAlign(tview.AlignLeft, tview.AlignTop)

	trackLabel := tview.NewTextView()
	trackLabel.SetText(" Now playing:")
	trackLabel.SetTextColor(ui.colors.foreground)
	trackLabel.SetBackgroundColor(ui.colors.background)
	trackLabel.SetWrap(false)

	ui.trackView = tview.NewTextView()
	ui.trackView.SetDynamicColors(true)
	ui.trackView.SetText(" Nothing playing")
	ui.trackView.SetTextColor(ui.colors.highlight)
	ui.trackView.SetBackgroundColor(ui.colors.background)
	ui.trackView.SetWrap(true)
	ui.trackView.SetTextStyle(tcell.StyleDefault.Background(ui.colors.background).Attributes(tcell.AttrBold))

	progressLabel := tview.NewTextView()
	progressLabel.SetText(" Progress:")
	progressLabel.SetTextColor(ui.colors.foreground)
	progressLabel.SetBackgroundColor(ui.colors.background)
	progressLabel.SetWrap(false)

	ui.progressView = tview.NewTextView()
	ui.progressView.SetDynamicColors(true)
	ui.progressView.SetText(" " + ui.renderTrackProgress(0, 0))
	ui.progressView.SetTextColor(ui.colors.foreground)
	ui.progressView.SetBackgroundColor(ui.colors.background)
	ui.progressView.SetWrap(false)

	modeLabel := tview.NewTextView()
	modeLabel.SetText(" Mode:")
	modeLabel.SetTextColor(ui.colors.foreground)
	modeLabel.SetBackgroundColor(ui.colors.background)
	modeLabel.SetWrap(false)

	modeView := tview.NewTextView()
	modeView.SetDynamicColors(true)
	modeView.SetTextColor(ui.colors.foreground)
	modeView.SetBackgroundColor(ui.colors.background)
	modeView.SetWrap(false)
	modeView.SetDrawFunc(func(screen tcell.Screen, x, y, width, height int) (int, int, int, int) {
		modeView.SetText(" " + ui.renderModeLine())
		return modeView.GetInnerRect()
	})

	infoSpacer := tview.NewBox().SetBackgroundColor(ui.colors.background)

	infoContent := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(trackLabel, 1, 0, false).
		AddItem(ui.trackView, 3, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(progressLabel, 1, 0, false).
		AddItem(ui.progressView, 1, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(modeLabel, 1, 0, false).
		AddItem(modeView, 1, 0, false).
		AddItem(infoSpacer, 0, 1, false)
	infoContent.SetBackgroundColor(ui.colors.background)

	ui.volumeView = ui.createGraphicalVolumeBar()

	coverWrapper := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.coverPanel, CoverHeight, 0, false).
		AddItem(nil, 0, 1, false)
	coverWrapper.SetBackgroundColor(ui.colors.background)

	contentFlex := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(coverWrapper, CoverWidth, 0, false).
		AddItem(infoContent, 0, 1, false).
		AddItem(ui.volumeView, 7, 0, false)
	contentFlex.SetBackgroundColor(ui.colors.background)

	contentWithPadding := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(nil, 4, 0, false).
		AddItem(contentFlex, 0, 1, false).
		AddItem(nil, 4, 0, false)
	contentWithPadding.SetBackgroundColor(ui.colors.background)

	return contentWithPadding
}

func (ui *UI) renderModeLine() string {
	hi := ui.colors.highlight.String()

	shuffle := "off"
	if ui.player.Shuffle() {
		shuffle = "on"
	}
	repeat := [3]string{"off", "all", "one"}[ui.player.Repeat()]
	transcode := "off"
	if ui.cfg.Transcode.Enabled {
		transcode = fmt.Sprintf("%dk %s", ui.cfg.Transcode.BitrateKbps, ui.cfg.Transcode.Format)
	}

	return fmt.Sprintf("shuffle [%s]%s[-]  repeat [%s]%s[-]  transcode [%s]%s[-]",
		hi, shuffle, hi, repeat, hi, transcode)
}

func (ui *UI) renderTrackProgress(position, duration float64) string {
	if duration <= 0 {
		return fmt.Sprintf("%s %s %s",
			formatDuration(position),
			strings.Repeat("─", trackProgressWidth),
			"--:--")
	}

	if position > duration {
		position = duration
	}
	filled := int(position / duration * trackProgressWidth)
	if filled > trackProgressWidth {
		filled = trackProgressWidth
	}

	bar := fmt.Sprintf("[%s]%s[-]%s",
		ui.colors.highlight.String(),
		strings.Repeat("━", filled),
		strings.Repeat("─", trackProgressWidth-filled))

	return fmt.Sprintf("%s %s %s",
		formatDuration(position), bar, formatDuration(duration))
}

// updateNowPlaying refreshes the track info and progress readout from the
// controller. Runs on the UI goroutine.
func (ui *UI) updateNowPlaying() {
	if ui.trackView == nil || ui.progressView == nil {
		return
	}

	sess := ui.controller.Session()
	if sess == nil {
		ui.trackView.SetText(" Nothing playing")
		ui.progressView.SetText(" " + ui.renderTrackProgress(0, 0))
		return
	}

	item := sess.Item
	line := fmt.Sprintf(" [%s]%s[-]", ui.colors.highlight.String(), item.Name)
	if artist := item.Artist(); artist != "" {
		line += fmt.Sprintf("\n [%s]%s[-]", ui.colors.foreground.String(), artist)
	}
	if item.Album != "" {
		line += fmt.Sprintf("\n [%s]%s[-]", ui.colors.foreground.String(), item.Album)
	}
	ui.trackView.SetText(line)

	ui.progressView.SetText(" " + ui.renderTrackProgress(ui.controller.Position(), ui.controller.Duration()))

	ui.updateCover(item)
}

// updateCover swaps the cover image when the track changes.
func (ui *UI) updateCover(item emby.Item) {
	ui.mu.Lock()
	if ui.lastCoverItemID == item.ID {
		ui.mu.Unlock()
		return
	}
	ui.lastCoverItemID = item.ID
	ui.mu.Unlock()

	go func() {
		img, err := ui.libSvc.LoadCover(item)
		if err != nil || img == nil {
			log.Debug().Err(err).Str("item", item.ID).Msg("No cover art")
			return
		}
		ui.app.QueueUpdateDraw(func() {
			ui.coverPanel.SetImage(img)
		})
	}()
}
