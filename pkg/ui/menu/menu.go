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

// Package menu runs the interactive card procedures: Info, Format and
// Eject. Each one drives a small line display and blocks on key input
// until the user confirms or backs out.
package menu

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ZaparooProject/volumed/pkg/volume"
	"github.com/rs/zerolog/log"
)

const (
	// MaxLines is the number of text lines the display shows.
	MaxLines = 6
	// LineWidth is the longest line the display renders.
	LineWidth = 25
)

// ErrBusy is returned when a procedure is started while another one is
// still waiting for the user.
var ErrBusy = errors.New("another card operation is in progress")

type Key int

const (
	KeyUp Key = iota
	KeyDown
	KeyLeft
	KeyRight
	KeyOK
	KeyBack
)

func (k Key) String() string {
	switch k {
	case KeyUp:
		return "up"
	case KeyDown:
		return "down"
	case KeyLeft:
		return "left"
	case KeyRight:
		return "right"
	case KeyOK:
		return "ok"
	case KeyBack:
		return "back"
	default:
		return fmt.Sprintf("key(%d)", int(k))
	}
}

type InputType int

const (
	InputPress InputType = iota
	InputRelease
	InputShort
	InputLong
	InputRepeat
)

type InputEvent struct {
	Key  Key
	Type InputType
}

// Lines is the full content of the display. Empty entries are blank rows.
type Lines [MaxLines]string

// Display is the screen the procedures draw on.
type Display interface {
	SetLines(lines Lines)
	SetEnabled(enabled bool)
}

type Options struct {
	// Allocator provides the line buffers of Info.
	Allocator volume.Allocator
	// OnFormat is called with the outcome of every format attempt.
	OnFormat func(st volume.Status)
	// OnEject is called after a loaded card was unmounted. Ejecting
	// with no card loaded does not call it.
	OnEject func(closed int)
}

// App owns the display and the input queue for the card procedures.
type App struct {
	vol     *volume.Volume
	display Display
	input   <-chan InputEvent
	opts    Options
	running atomic.Bool
}

//nolint:gocritic // options copied on purpose
func New(vol *volume.Volume, display Display, input <-chan InputEvent, opts Options) *App {
	if opts.Allocator == nil {
		opts.Allocator = volume.HeapAllocator{}
	}
	return &App{
		vol:     vol,
		display: display,
		input:   input,
		opts:    opts,
	}
}

// AwaitConfirmation blocks until a short press of accept or cancel and
// reports whether accept was pressed. Every other event is dropped. A
// closed input queue counts as cancel.
func (a *App) AwaitConfirmation(accept, cancel Key) bool {
	for ev := range a.input {
		if ev.Type != InputShort {
			continue
		}
		switch ev.Key {
		case accept:
			return true
		case cancel:
			return false
		}
	}
	return false
}

// drainInput drops keys pressed after the dismissing one so they cannot
// answer the prompt of the next procedure.
func (a *App) drainInput() {
	for {
		select {
		case _, ok := <-a.input:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// begin claims the display. The returned function releases it.
func (a *App) begin() (func(), error) {
	if !a.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	a.display.SetEnabled(true)
	return func() {
		a.display.SetLines(Lines{})
		a.display.SetEnabled(false)
		a.drainInput()
		a.running.Store(false)
	}, nil
}

// Info shows label, type and space of the card until Back is pressed.
func (a *App) Info() error {
	end, err := a.begin()
	if err != nil {
		return err
	}
	defer end()

	bufs := make([][]byte, MaxLines)
	for i := range bufs {
		buf, ok := a.opts.Allocator.Alloc(LineWidth)
		if !ok {
			log.Error().Msg("no memory for info lines")
			a.display.SetLines(Lines{"not enough memory"})
			a.AwaitConfirmation(KeyBack, KeyBack)
			return nil
		}
		bufs[i] = buf
	}

	text := InfoText(a.vol.Info())
	var lines Lines
	for i := range lines {
		n := copy(bufs[i], text[i])
		lines[i] = string(bufs[i][:n])
	}
	a.display.SetLines(lines)

	a.AwaitConfirmation(KeyBack, KeyBack)
	return nil
}

// InfoText renders an info snapshot as display rows. Rows may exceed
// LineWidth.
func InfoText(info volume.Info) Lines {
	if !info.OK() {
		return Lines{
			"SD status error:",
			info.Status.String(),
			"Label error:",
			volume.Describe(info.LabelErr),
			"Get free error:",
			volume.Describe(info.FreeErr),
		}
	}
	return Lines{
		info.Label,
		fmt.Sprintf("%s, S/N: %d", strings.ToUpper(info.Geometry.Type.String()), info.Serial),
		fmt.Sprintf("Cluster: %d sectors", info.Geometry.ClusterSectors),
		fmt.Sprintf("Sector: %d bytes", info.Geometry.SectorSize),
		fmt.Sprintf("%d KB total", info.TotalKB()),
		fmt.Sprintf("%d KB free", info.FreeKB()),
	}
}

// Format asks for confirmation with Up, formats the card and shows the
// result until Back is pressed.
func (a *App) Format() error {
	end, err := a.begin()
	if err != nil {
		return err
	}
	defer end()

	a.display.SetLines(Lines{"Press UP to format", "or BACK to exit"})
	if !a.AwaitConfirmation(KeyUp, KeyBack) {
		log.Debug().Msg("format cancelled")
		return nil
	}

	a.display.SetLines(Lines{"formatting SD card", "procedure can be lengthy", "please wait"})
	st := a.vol.Format()
	if a.opts.OnFormat != nil {
		a.opts.OnFormat(st)
	}

	if st == volume.StatusOK {
		a.display.SetLines(Lines{"SD card formatted"})
	} else {
		log.Error().Msgf("SD card format error: %s", st)
		a.display.SetLines(Lines{"SD card format error", st.String()})
	}

	a.AwaitConfirmation(KeyBack, KeyBack)
	return nil
}

// Eject unmounts the card, force closing open handles, and tells the user
// it is safe to pull.
func (a *App) Eject() error {
	end, err := a.begin()
	if err != nil {
		return err
	}
	defer end()

	a.display.SetLines(Lines{"ejecting SD card"})
	closed, ejected := a.vol.Eject()
	if ejected && a.opts.OnEject != nil {
		a.opts.OnEject(closed)
	}
	a.display.SetLines(Lines{"SD card can be pulled out"})

	a.AwaitConfirmation(KeyBack, KeyBack)
	return nil
}
