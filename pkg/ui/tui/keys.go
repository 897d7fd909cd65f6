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
	"github.com/ZaparooProject/volumed/pkg/ui/menu"
	"github.com/gdamore/tcell/v2"
)

// KeyEvent maps a terminal key to a short press of a device key. Terminals
// have no press and release, so every key is reported as InputShort.
func KeyEvent(event *tcell.EventKey) (menu.InputEvent, bool) {
	var key menu.Key
	switch event.Key() { //nolint:exhaustive // only navigation keys map
	case tcell.KeyUp:
		key = menu.KeyUp
	case tcell.KeyDown:
		key = menu.KeyDown
	case tcell.KeyLeft:
		key = menu.KeyLeft
	case tcell.KeyRight:
		key = menu.KeyRight
	case tcell.KeyEnter:
		key = menu.KeyOK
	case tcell.KeyEscape, tcell.KeyBackspace, tcell.KeyBackspace2:
		key = menu.KeyBack
	case tcell.KeyRune:
		switch event.Rune() {
		case 'k', 'w':
			key = menu.KeyUp
		case 'j', 's':
			key = menu.KeyDown
		case 'q':
			key = menu.KeyBack
		default:
			return menu.InputEvent{}, false
		}
	default:
		return menu.InputEvent{}, false
	}
	return menu.InputEvent{Key: key, Type: menu.InputShort}, true
}
