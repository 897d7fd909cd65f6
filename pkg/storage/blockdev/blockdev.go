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

// Package blockdev brings the card's block device up before the
// filesystem is mounted.
package blockdev

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/volumed/pkg/volume"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	DefaultPowerOffDelay = 100 * time.Millisecond
	DefaultPowerOnDelay  = 250 * time.Millisecond
)

var ErrShortRead = errors.New("short read of first sector")

type Options struct {
	Clock clockwork.Clock
	// Fs is used for the device node and the power control file. Defaults
	// to the OS filesystem.
	Fs afero.Fs
	// Node is the block device node, e.g. /dev/mmcblk0.
	Node string
	// PowerPath is a sysfs style file that cuts card power when "0" is
	// written and restores it with "1". Empty disables power cycling.
	PowerPath     string
	PowerOffDelay time.Duration
	PowerOnDelay  time.Duration
	SectorSize    int
}

// Device is a volume.BlockDevice for a card reader exposed as a device
// node.
type Device struct {
	fs    afero.Fs
	clock clockwork.Clock
	opts  Options
}

var _ volume.BlockDevice = (*Device)(nil)

//nolint:gocritic // options copied on purpose
func New(opts Options) *Device {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.PowerOffDelay <= 0 {
		opts.PowerOffDelay = DefaultPowerOffDelay
	}
	if opts.PowerOnDelay <= 0 {
		opts.PowerOnDelay = DefaultPowerOnDelay
	}
	if opts.SectorSize <= 0 {
		opts.SectorSize = volume.DefaultSectorSize
	}
	return &Device{
		fs:    opts.Fs,
		clock: opts.Clock,
		opts:  opts,
	}
}

// Init optionally power cycles the card and then reads the first sector to
// check the card answers.
func (d *Device) Init(powerCycle bool) error {
	if powerCycle && d.opts.PowerPath != "" {
		if err := d.cyclePower(); err != nil {
			return err
		}
	}

	if d.opts.Node == "" {
		return nil
	}

	f, err := d.fs.Open(d.opts.Node)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", d.opts.Node, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Str("node", d.opts.Node).Msg("failed to close block device")
		}
	}()

	sector := make([]byte, d.opts.SectorSize)
	if _, err := io.ReadFull(f, sector); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%s: %w", d.opts.Node, ErrShortRead)
		}
		return fmt.Errorf("failed to read %s: %w", d.opts.Node, err)
	}
	return nil
}

func (d *Device) cyclePower() error {
	log.Debug().Str("path", d.opts.PowerPath).Msg("power cycling card")

	if err := d.writePower("0"); err != nil {
		return err
	}
	d.clock.Sleep(d.opts.PowerOffDelay)
	if err := d.writePower("1"); err != nil {
		return err
	}
	d.clock.Sleep(d.opts.PowerOnDelay)
	return nil
}

func (d *Device) writePower(value string) error {
	if err := afero.WriteFile(d.fs, d.opts.PowerPath, []byte(value), 0o644); err != nil {
		return fmt.Errorf("failed to write card power %s: %w", value, err)
	}
	return nil
}
