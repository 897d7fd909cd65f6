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
	"strings"

	"github.com/ZaparooProject/volumed/pkg/helpers/syncutil"
	"github.com/ZaparooProject/volumed/pkg/ui/menu"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Screen is the menu.Display of the TUI. While enabled it is shown as its
// own page and key presses are routed to the running procedure.
type Screen struct {
	view    *tview.TextView
	pages   *tview.Pages
	queue   func(func())
	input   chan<- menu.InputEvent
	enabled bool
	mu      syncutil.RWMutex
}

var _ menu.Display = (*Screen)(nil)

func NewScreen(app *tview.Application, pages *tview.Pages, input chan<- menu.InputEvent) *Screen {
	view := tview.NewTextView().SetDynamicColors(false)
	view.SetTitle("SD Card").SetTitleAlign(tview.AlignCenter)

	s := &Screen{
		view:  view,
		pages: pages,
		input: input,
		queue: func(f func()) { app.QueueUpdateDraw(f) },
	}
	pageDefaults(PageCard, pages, view)
	return s
}

// renderLines joins the rows as the text view shows them.
func renderLines(lines menu.Lines) string {
	return strings.Join(lines[:], "\n")
}

func (s *Screen) SetLines(lines menu.Lines) {
	text := renderLines(lines)
	s.queue(func() {
		s.view.SetText(text)
	})
}

func (s *Screen) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()

	s.queue(func() {
		if enabled {
			s.pages.SwitchToPage(PageCard)
		} else {
			s.pages.SwitchToPage(PageMain)
		}
	})
}

func (s *Screen) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Capture forwards key presses to the running procedure. It returns nil for
// events it consumed. The read lock is held across the send so no key lands
// in the queue after SetEnabled(false) returns.
func (s *Screen) Capture(event *tcell.EventKey) *tcell.EventKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.enabled {
		return event
	}
	ev, ok := KeyEvent(event)
	if !ok {
		return nil
	}
	select {
	case s.input <- ev:
	default:
		// queue full, the procedure is not reading
	}
	return nil
}
