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

// Package lifecycle follows card insertion and removal and keeps the volume
// mounted while a card sits in the slot.
package lifecycle

import (
	"context"
	"time"

	"github.com/ZaparooProject/volumed/pkg/helpers/syncutil"
	"github.com/ZaparooProject/volumed/pkg/presence"
	"github.com/ZaparooProject/volumed/pkg/volume"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const DefaultPollInterval = time.Second

type State int

const (
	Absent State = iota
	Present
)

func (s State) String() string {
	if s == Present {
		return "present"
	}
	return "absent"
}

// Notifier receives the outcome of each transition.
type Notifier interface {
	Mounted(st volume.Status)
	MountFailed(st volume.Status)
	Ejected()
	Removed()
}

type Options struct {
	Clock        clockwork.Clock
	PollInterval time.Duration
}

// Loop is the hot-plug state machine. It is the only caller of Mount and
// unmounts the volume when the card is removed.
type Loop struct {
	vol      *volume.Volume
	sensor   presence.Sensor
	notifier Notifier
	clock    clockwork.Clock
	interval time.Duration
	state    State
	// failed is set while an inserted card could not be mounted.
	failed bool
	mu     syncutil.Mutex
}

//nolint:gocritic // options passed by value like volume.New
func New(vol *volume.Volume, sensor presence.Sensor, notifier Notifier, opts Options) *Loop {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Loop{
		vol:      vol,
		sensor:   sensor,
		notifier: notifier,
		clock:    opts.Clock,
		interval: opts.PollInterval,
		state:    Absent,
	}
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Run polls until ctx is done. The first poll happens immediately.
func (l *Loop) Run(ctx context.Context) {
	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", l.interval).Msg("lifecycle loop started")
	l.Step()

	for {
		select {
		case <-ticker.Chan():
			l.Step()
		case <-ctx.Done():
			log.Info().Msg("lifecycle loop stopped")
			return
		}
	}
}

// Step performs one poll of the presence sensor and any transition it
// triggers.
func (l *Loop) Step() {
	l.mu.Lock()
	defer l.mu.Unlock()

	present := l.sensor.Present()

	switch {
	case l.state == Absent && present:
		l.insertLocked()
	case l.state == Present && !present:
		l.ejectLocked()
	case l.state == Absent && !present && l.failed:
		l.failed = false
		l.vol.Unmount()
		log.Info().Msg("card removed")
		l.notifier.Removed()
	}
}

func (l *Loop) insertLocked() {
	log.Info().Msg("card detected")

	st := l.vol.Mount()
	if !st.Mountable() {
		log.Error().Msgf("sd init error: %s", st)
		l.failed = true
		l.notifier.MountFailed(st)
		return
	}

	log.Info().Str("status", st.String()).Msg("sd init ok")
	l.failed = false
	l.state = Present
	l.notifier.Mounted(st)

	// the card may have been pulled during a long mount
	if !l.sensor.Present() {
		l.ejectLocked()
	}
}

func (l *Loop) ejectLocked() {
	closed, ejected := l.vol.Eject()
	l.state = Absent
	log.Info().Int("closed", closed).Msg("card removed")
	// a menu or API eject already signalled this card
	if ejected {
		l.notifier.Ejected()
	}
}
