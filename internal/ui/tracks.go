package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"

	"github.com/douwec/octoplay/internal/emby"
	"github.com/douwec/octoplay/internal/playback"
)

func (ui *UI) createTrackTable() *tview.Table {
	table := tview.NewTable().
		SetBorders(false).
		SetSeparator(' ').
		SetSelectable(true, false).
		SetFixed(1, 0)

	table.SetBorder(true).
		SetTitle(ui.tableTitle()).
		SetBorderColor(ui.colors.borders).
		SetTitleColor(ui.colors.foreground).
		SetBackgroundColor(ui.colors.background).
		SetBorderPadding(1, 0, 1, 1)

	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(ui.colors.background).
		Background(ui.colors.highlight))

	return table
}

func (ui *UI) tableTitle() string {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	count := len(ui.sections[ui.section])
	title := fmt.Sprintf("%s (%d)", sectionTitles[ui.section], count)
	if ui.section == sectionSongs && ui.songsTotal > count {
		title = fmt.Sprintf("Songs (%d/%d)", count, ui.songsTotal)
	}
	return title
}

func (ui *UI) sectionItems() []emby.Item {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return ui.sections[ui.section]
}

func (ui *UI) headerCell(text string, expansion int) *tview.TableCell {
	cell := tview.NewTableCell(text).
		SetTextColor(ui.colors.listHeaderForeground).
		SetBackgroundColor(ui.colors.listHeaderBackground).
		SetSelectable(false)
	if expansion > 0 {
		cell.SetExpansion(expansion)
	}
	return cell
}

func (ui *UI) refreshTrackTable() {
	if ui.trackTable == nil {
		return
	}

	items := ui.sectionItems()
	ui.mu.Lock()
	isAlbums := ui.section == sectionAlbums
	ui.mu.Unlock()

	ui.trackTable.Clear()

	ui.trackTable.SetCell(0, 0, ui.headerCell(" ", 0).SetMaxWidth(2))
	ui.trackTable.SetCell(0, 1, ui.headerCell(" ", 0).SetMaxWidth(2))
	if isAlbums {
		ui.trackTable.SetCell(0, 2, ui.headerCell("Album", 2))
		ui.trackTable.SetCell(0, 3, ui.headerCell("Artist", 1))
		ui.trackTable.SetCell(0, 4, ui.headerCell("Tracks", 0).SetAlign(tview.AlignRight))
	} else {
		ui.trackTable.SetCell(0, 2, ui.headerCell("Title", 2))
		ui.trackTable.SetCell(0, 3, ui.headerCell("Artist", 1))
		ui.trackTable.SetCell(0, 4, ui.headerCell("Album", 1))
		ui.trackTable.SetCell(0, 5, ui.headerCell("Time", 0).SetAlign(tview.AlignRight))
	}

	for i := range items {
		ui.setTrackRow(i+1, items[i], isAlbums)
	}

	ui.trackTable.SetTitle(ui.tableTitle())
	if row, _ := ui.trackTable.GetSelection(); row < 1 && len(items) > 0 {
		ui.trackTable.Select(1, 0)
	}
}

func (ui *UI) setTrackRow(row int, item emby.Item, isAlbums bool) {
	favIcon := " "
	if item.UserData != nil && item.UserData.IsFavorite {
		favIcon = "★"
	}
	ui.trackTable.SetCell(row, 0, tview.NewTableCell(favIcon).
		SetTextColor(ui.colors.foreground).
		SetMaxWidth(2))

	playIcon := " "
	if current, ok := ui.player.Current(); ok && current.ID == item.ID {
		if ui.controller.State() == playback.StatePaused {
			playIcon = PauseIcon
		} else {
			playIcon = "➤"
		}
	}
	ui.trackTable.SetCell(row, 1, tview.NewTableCell(playIcon).
		SetTextColor(ui.colors.foreground).
		SetMaxWidth(2))

	ui.trackTable.SetCell(row, 2, tview.NewTableCell(item.Name).
		SetTextColor(ui.colors.foreground).
		SetMaxWidth(40).
		SetExpansion(2))

	ui.trackTable.SetCell(row, 3, tview.NewTableCell(item.Artist()).
		SetTextColor(ui.colors.foreground).
		SetMaxWidth(27).
		SetExpansion(1))

	if isAlbums {
		count := ""
		if item.ChildCount > 0 {
			count = fmt.Sprintf("%d", item.ChildCount)
		}
		ui.trackTable.SetCell(row, 4, tview.NewTableCell(count).
			SetTextColor(ui.colors.foreground).
			SetAlign(tview.AlignRight))
		return
	}

	ui.trackTable.SetCell(row, 4, tview.NewTableCell(item.Album).
		SetTextColor(ui.colors.foreground).
		SetMaxWidth(27).
		SetExpansion(1))

	ui.trackTable.SetCell(row, 5, tview.NewTableCell(formatDuration(item.RuntimeSeconds())).
		SetTextColor(ui.colors.foreground).
		SetAlign(tview.AlignRight))
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "--:--"
	}
	d := time.Duration(seconds) * time.Second
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m >= 60 {
		return fmt.Sprintf("%d:%02d:%02d", m/60, m%60, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func (ui *UI) selectedItem() (emby.Item, bool) {
	items := ui.sectionItems()
	row, _ := ui.trackTable.GetSelection()
	index := row - 1
	if index < 0 || index >= len(items) {
		return emby.Item{}, false
	}
	return items[index], true
}

// playSelected starts the selected entry. A track plays with its section as
// the queue; an album expands to its track list first.
func (ui *UI) playSelected() {
	item, ok := ui.selectedItem()
	if !ok {
		return
	}

	if item.Type == "MusicAlbum" || item.Type == "Playlist" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			tracks, err := ui.libSvc.AlbumTracks(ctx, item.ID)
			if err != nil || len(tracks) == 0 {
				log.Warn().Err(err).Str("album", item.ID).Msg("Failed to expand album")
				ui.app.QueueUpdateDraw(func() {
					ui.showError(fmt.Errorf("failed to load album: %w", err))
				})
				return
			}
			ui.player.PlayItem(context.Background(), tracks[0], tracks)
		}()
		return
	}

	ui.player.PlayItem(context.Background(), item, ui.sectionItems())
}

func (ui *UI) switchSection(section int) {
	if section < 0 || section >= sectionCount {
		return
	}

	ui.mu.Lock()
	ui.section = section
	needSongs := section == sectionSongs && len(ui.sections[sectionSongs]) == 0
	ui.mu.Unlock()

	ui.refreshTrackTable()
	ui.trackTable.Select(1, 0)

	if needSongs {
		ui.loadMoreSongs()
	}
}

// loadMoreSongs appends the next page of the full song listing.
func (ui *UI) loadMoreSongs() {
	ui.mu.Lock()
	if ui.section != sectionSongs {
		ui.mu.Unlock()
		return
	}
	offset := ui.songsOffset
	total := ui.songsTotal
	ui.mu.Unlock()

	if total > 0 && offset >= total {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		res, err := ui.libSvc.Songs(ctx, offset, SongsPageSize, emby.SongsFilter{})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to fetch songs page")
			return
		}

		ui.mu.Lock()
		ui.sections[sectionSongs] = append(ui.sections[sectionSongs], res.Items...)
		ui.songsOffset += len(res.Items)
		ui.songsTotal = res.TotalRecordCount
		ui.mu.Unlock()

		ui.app.QueueUpdateDraw(func() {
			ui.refreshTrackTable()
		})
	}()
}

func (ui *UI) toggleFavorite() {
	item, ok := ui.selectedItem()
	if !ok {
		return
	}
	row, _ := ui.trackTable.GetSelection()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fav, err := ui.libSvc.ToggleFavorite(ctx, item)
		if err != nil {
			log.Warn().Err(err).Str("item", item.ID).Msg("Failed to toggle favorite")
			return
		}

		ui.mu.Lock()
		items := ui.sections[ui.section]
		for i := range items {
			if items[i].ID == item.ID {
				if items[i].UserData == nil {
					items[i].UserData = &emby.UserData{}
				}
				items[i].UserData.IsFavorite = fav
			}
		}
		ui.mu.Unlock()

		ui.app.QueueUpdateDraw(func() {
			if cell := ui.trackTable.GetCell(row, 0); cell != nil {
				if fav {
					cell.SetText("★")
				} else {
					cell.SetText(" ")
				}
			}
		})
	}()
}

// updatePlayingIndicator animates the spinner next to the playing row.
func (ui *UI) updatePlayingIndicator() {
	current, ok := ui.player.Current()
	if !ok {
		return
	}

	items := ui.sectionItems()
	for i := range items {
		if items[i].ID != current.ID {
			continue
		}

		row := i + 1
		playCell := ui.trackTable.GetCell(row, 1)
		if playCell == nil {
			return
		}
		if ui.controller.State() == playback.StatePaused {
			playCell.SetText(PauseIcon)
		} else {
			playCell.SetText("➤")
		}

		nameCell := ui.trackTable.GetCell(row, 2)
		if nameCell == nil {
			return
		}

		name := current.Name
		indicator := ui.getPlayingIndicator()

		const maxNameWidth = 40
		maxLen := maxNameWidth - len(indicator) - 1
		if len(name) > maxLen && maxLen > 3 {
			name = name[:maxLen-3] + "..."
		}
		nameCell.SetText(name + " " + indicator)
		return
	}
}

func (ui *UI) getPlayingIndicator() string {
	if ui.playingSpinner == nil {
		ui.playingSpinner = NewPlayingSpinner()
	}

	ui.mu.Lock()
	frame := ui.animationFrame
	ui.mu.Unlock()

	if ui.controller.State() != playback.StatePlaying {
		return ""
	}
	return ui.playingSpinner.Frames[frame%len(ui.playingSpinner.Frames)]
}
