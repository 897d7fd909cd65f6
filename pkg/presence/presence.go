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

// Package presence samples whether a card sits in the slot.
package presence

import (
	"fmt"

	"github.com/ZaparooProject/volumed/pkg/helpers/syncutil"
)

const (
	ModeNode   = "node"
	ModeWatch  = "watch"
	ModeUDisks = "udisks"
)

// Sensor reports whether a card is present. Present must not block for
// long; the lifecycle loop calls it once per poll.
type Sensor interface {
	Present() bool
}

// SensorFunc adapts a function to Sensor.
type SensorFunc func() bool

func (f SensorFunc) Present() bool {
	return f()
}

// Debouncer only flips its reported state after the raw sensor has agreed
// on the new value for Samples consecutive reads.
type Debouncer struct {
	raw     Sensor
	samples int
	count   int
	state   bool
	mu      syncutil.Mutex
}

// NewDebouncer wraps raw. The initial state is "absent".
func NewDebouncer(raw Sensor, samples int) *Debouncer {
	if samples < 1 {
		samples = 1
	}
	return &Debouncer{raw: raw, samples: samples}
}

func (d *Debouncer) Present() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.raw.Present() == d.state {
		d.count = 0
		return d.state
	}

	d.count++
	if d.count >= d.samples {
		d.state = !d.state
		d.count = 0
	}
	return d.state
}

// Starter is implemented by sensors which need a background watcher.
type Starter interface {
	Start() error
	Stop()
}

// Config selects and configures a sensor.
type Config struct {
	Mode string
	// Node is the block device node of the card, e.g. /dev/mmcblk0.
	Node string
	// Samples is the debounce length. Values below 2 disable debouncing.
	Samples int
}

// New builds the sensor named by cfg.Mode. Sensors implementing Starter
// are returned unstarted.
func New(cfg Config) (Sensor, error) {
	var s Sensor
	switch cfg.Mode {
	case "", ModeNode:
		s = NewNodeSensor(nil, cfg.Node)
	case ModeWatch:
		ws, err := NewWatchSensor(nil, cfg.Node)
		if err != nil {
			return nil, err
		}
		s = ws
	case ModeUDisks:
		s = NewUDisksSensor(cfg.Node)
	default:
		return nil, fmt.Errorf("unknown presence mode: %s", cfg.Mode)
	}

	if cfg.Samples > 1 {
		return &startableDebouncer{Debouncer: NewDebouncer(s, cfg.Samples), inner: s}, nil
	}
	return s, nil
}

// startableDebouncer forwards Start and Stop to the wrapped sensor.
type startableDebouncer struct {
	*Debouncer
	inner Sensor
}

func (s *startableDebouncer) Start() error {
	if st, ok := s.inner.(Starter); ok {
		return st.Start() //nolint:wrapcheck // passthrough
	}
	return nil
}

func (s *startableDebouncer) Stop() {
	if st, ok := s.inner.(Starter); ok {
		st.Stop()
	}
}
