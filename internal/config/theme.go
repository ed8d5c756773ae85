package config

import "github.com/gdamore/tcell/v2"

type Theme struct {
	Background           string `yaml:"background"`
	Foreground           string `yaml:"foreground"`
	Borders              string `yaml:"borders"`
	Highlight            string `yaml:"highlight"`
	MutedVolume          string `yaml:"muted_volume"`
	HeaderBackground     string `yaml:"header_background"`
	ListHeaderBackground string `yaml:"list_header_background"`
	ListHeaderForeground string `yaml:"list_header_foreground"`
	HelpBackground       string `yaml:"help_background"`
	HelpForeground       string `yaml:"help_foreground"`
	HelpHotkey           string `yaml:"help_hotkey"`
	ModalBackground      string `yaml:"modal_background"`
}

func DefaultTheme() Theme {
	return Theme{
		Background:           "#141826",
		Foreground:           "#aab2d0",
		Borders:              "#3c4258",
		Highlight:            "#6fc3df",
		MutedVolume:          "#fe0702",
		HeaderBackground:     "#2b3350",
		ListHeaderBackground: "#343a52",
		ListHeaderForeground: "#cdd5ee",
		HelpBackground:       "#2c2f44",
		HelpForeground:       "#98a2c4",
		HelpHotkey:           "#6fc3df",
		ModalBackground:      "#262839",
	}
}

func GetColor(colorStr string) tcell.Color {
	if colorStr == "" || colorStr == "default" {
		return tcell.ColorDefault
	}
	return tcell.GetColor(colorStr)
}
