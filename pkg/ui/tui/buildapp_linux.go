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

package tui

import (
	"fmt"
	"os"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"
)

// DefaultConsoleTTY is used when the TUI is started without a usable
// terminal, e.g. from an init script.
const DefaultConsoleTTY = "/dev/tty2"

func tryRunApp(
	app *tview.Application,
	builder func() (*tview.Application, error),
) error {
	if err := app.Run(); err != nil {
		log.Debug().Err(err).Msg("terminal unusable, retrying on console tty")

		appTty, err := builder()
		if err != nil {
			return err
		}

		ttyPath := DefaultConsoleTTY
		if v := os.Getenv("VOLUMED_TTY"); v != "" {
			ttyPath = v
		}

		tty, err := tcell.NewDevTtyFromDev(ttyPath)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", ttyPath, err)
		}

		screen, err := tcell.NewTerminfoScreenFromTty(tty)
		if err != nil {
			return fmt.Errorf("failed to create screen: %w", err)
		}

		appTty.SetScreen(screen)

		if err := appTty.Run(); err != nil {
			return fmt.Errorf("failed to run application: %w", err)
		}
	}
	return nil
}
