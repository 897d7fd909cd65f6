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

// Package notify drives the user facing signals of the volume: the three
// color indicator, the status icon and the JSON notifications.
package notify

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ZaparooProject/volumed/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	DefaultPulse = 50 * time.Millisecond
	pulseCount   = 3

	// LEDClassDir is the sysfs LED class directory.
	LEDClassDir = "/sys/class/leds"
)

// Indicator plays the fixed feedback patterns.
type Indicator interface {
	Success()
	Error()
	Eject()
	// SetBusy holds the wait pattern while a mount attempt runs.
	SetBusy(busy bool)
}

// Light is one LED channel.
type Light interface {
	Set(on bool) error
}

// NopIndicator is used when the device has no LEDs.
type NopIndicator struct{}

func (NopIndicator) Success()     {}
func (NopIndicator) Error()       {}
func (NopIndicator) Eject()       {}
func (NopIndicator) SetBusy(bool) {}

// LEDIndicator flashes red, green and blue lights. Success flashes green,
// errors red and ejection blue, each three times. Busy holds red and blue
// on together.
type LEDIndicator struct {
	clock clockwork.Clock
	red   Light
	green Light
	blue  Light
	pulse time.Duration
	mu    syncutil.Mutex
}

func NewLEDIndicator(clock clockwork.Clock, red, green, blue Light, pulse time.Duration) *LEDIndicator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if pulse <= 0 {
		pulse = DefaultPulse
	}
	return &LEDIndicator{
		clock: clock,
		red:   red,
		green: green,
		blue:  blue,
		pulse: pulse,
	}
}

func (l *LEDIndicator) Success() {
	l.flash(l.green)
}

func (l *LEDIndicator) Error() {
	l.flash(l.red)
}

func (l *LEDIndicator) Eject() {
	l.flash(l.blue)
}

func (l *LEDIndicator) SetBusy(busy bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set(l.red, busy)
	set(l.blue, busy)
}

func (l *LEDIndicator) flash(light Light) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for range pulseCount {
		l.clock.Sleep(l.pulse)
		set(light, true)
		l.clock.Sleep(l.pulse)
		set(light, false)
	}
}

func set(light Light, on bool) {
	if light == nil {
		return
	}
	if err := light.Set(on); err != nil {
		log.Debug().Err(err).Msg("failed to set LED")
	}
}

// SysfsLight is an LED exposed by the kernel LED class.
type SysfsLight struct {
	fs   afero.Fs
	path string
}

// NewSysfsLight returns the LED called name. A nil fs uses the OS
// filesystem.
func NewSysfsLight(fs afero.Fs, name string) *SysfsLight {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &SysfsLight{
		fs:   fs,
		path: filepath.Join(LEDClassDir, name, "brightness"),
	}
}

func (s *SysfsLight) Set(on bool) error {
	value := "0"
	if on {
		value = "255"
	}
	if err := afero.WriteFile(s.fs, s.path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	return nil
}

// NewSysfsIndicator builds an LED indicator from LED class names. Empty
// names leave that color dark.
func NewSysfsIndicator(fs afero.Fs, clock clockwork.Clock, red, green, blue string, pulse time.Duration) *LEDIndicator {
	light := func(name string) Light {
		if name == "" {
			return nil
		}
		return NewSysfsLight(fs, name)
	}
	return NewLEDIndicator(clock, light(red), light(green), light(blue), pulse)
}
