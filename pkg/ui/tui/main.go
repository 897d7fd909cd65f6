// volumed
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of volumed.
//
// volumed is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// volumed is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with volumed.  If not, see <http://www.gnu.org/licenses/>.

// Package tui is the console front end of the card menu.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/volumed/pkg/config"
	"github.com/ZaparooProject/volumed/pkg/notify"
	"github.com/ZaparooProject/volumed/pkg/ui/menu"
	"github.com/ZaparooProject/volumed/pkg/volume"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"
)

const (
	PageMain = "main"
	PageCard = "card"

	inputQueueSize = 8
)

func statusText(vol *volume.Volume, icon *notify.StatusIcon) string {
	return fmt.Sprintf(
		"[::b]Card:[::-]    %s\n[::b]Status:[::-]  %s\n[::b]Path:[::-]    %s\n[::b]Handles:[::-] %d",
		icon.State(),
		vol.Status(),
		vol.Path(),
		vol.OpenHandles(),
	)
}

func setupButtonNavigation(app *tview.Application, buttons ...*tview.Button) {
	for i, button := range buttons {
		prevIndex := (i - 1 + len(buttons)) % len(buttons)
		nextIndex := (i + 1) % len(buttons)

		button.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			switch event.Key() { //nolint:exhaustive
			case tcell.KeyUp, tcell.KeyLeft:
				app.SetFocus(buttons[prevIndex])
				return nil
			case tcell.KeyDown, tcell.KeyRight:
				app.SetFocus(buttons[nextIndex])
				return nil
			case tcell.KeyEscape:
				app.Stop()
				return nil
			}
			return event
		})
	}
}

// BuildMain builds the card menu on top of vol. The status panel refreshes
// until ctx is done.
//
//nolint:gocritic // menu options passed through
func BuildMain(
	ctx context.Context,
	vol *volume.Volume,
	icon *notify.StatusIcon,
	opts menu.Options,
) (*tview.Application, error) {
	app := tview.NewApplication()
	SetTheme(&tview.Styles)

	pages := tview.NewPages()
	input := make(chan menu.InputEvent, inputQueueSize)
	screen := NewScreen(app, pages, input)
	card := menu.New(vol, screen, input, opts)

	main := tview.NewFlex()
	main.SetTitle("volumed v" + config.AppVersion).
		SetTitleAlign(tview.AlignCenter)

	status := tview.NewTextView().SetDynamicColors(true)
	status.SetText(statusText(vol, icon))
	helpText := tview.NewTextView()

	displayCol := tview.NewFlex().SetDirection(tview.FlexRow)
	displayCol.AddItem(status, 0, 1, false)
	displayCol.AddItem(helpText, 1, 1, false)
	main.AddItem(displayCol, 0, 1, false)

	run := func(name string, procedure func() error) func() {
		return func() {
			go func() {
				if err := procedure(); errors.Is(err, menu.ErrBusy) {
					log.Debug().Str("procedure", name).Msg("card menu busy")
				}
			}()
		}
	}

	infoButton := tview.NewButton("Info").SetSelectedFunc(run("info", card.Info))
	infoButton.SetFocusFunc(func() {
		helpText.SetText("Show label, type and free space.")
	})
	formatButton := tview.NewButton("Format").SetSelectedFunc(run("format", card.Format))
	formatButton.SetFocusFunc(func() {
		helpText.SetText("Erase the card. Asks for confirmation.")
	})
	ejectButton := tview.NewButton("Eject").SetSelectedFunc(run("eject", card.Eject))
	ejectButton.SetFocusFunc(func() {
		helpText.SetText("Close all files and unmount the card.")
	})
	exitButton := tview.NewButton("Exit").SetSelectedFunc(app.Stop)
	exitButton.SetFocusFunc(func() {
		helpText.SetText("Exit the menu.")
	})

	setupButtonNavigation(app, infoButton, formatButton, ejectButton, exitButton)

	buttonNav := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(tview.NewTextView(), 0, 1, false).
		AddItem(infoButton, 1, 1, true).
		AddItem(tview.NewTextView(), 1, 1, false).
		AddItem(formatButton, 1, 1, false).
		AddItem(tview.NewTextView(), 1, 1, false).
		AddItem(ejectButton, 1, 1, false).
		AddItem(tview.NewTextView(), 1, 1, false).
		AddItem(exitButton, 1, 1, false).
		AddItem(tview.NewTextView(), 0, 1, false)
	main.AddItem(buttonNav, 12, 1, true)

	pageDefaults(PageMain, pages, main)
	pages.SwitchToPage(PageMain)

	app.SetInputCapture(screen.Capture)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				text := statusText(vol, icon)
				app.QueueUpdateDraw(func() {
					status.SetText(text)
				})
			case <-ctx.Done():
				return
			}
		}
	}()

	return app.SetRoot(CenterWidget(60, 14, pages), true), nil
}
