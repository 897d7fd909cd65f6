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

// Package volume owns the single removable volume of the device: its mount
// status, the table of handles open on it and every operation that touches
// either.
//
// LOCKING RULES:
//
// One mutex guards the whole record. Every exported method of Volume and
// Client takes it for its full duration, including the backoff sleeps of
// Mount and the subsystem format call, so callers never observe a volume
// that is half mounted or half torn down. Nothing in this package calls out
// to code that could call back into the Volume while the lock is held.
package volume

import (
	"time"

	"github.com/ZaparooProject/volumed/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMountPath       = "/"
	DefaultMaxAttempts     = 10
	DefaultBackoff         = time.Second
	DefaultPowerCycleEvery = 10
	DefaultSectorSize      = 512
)

type Options struct {
	Clock clockwork.Clock
	// Allocator provides the scratch buffer for Format.
	Allocator Allocator
	// Busy is switched on for the duration of each mount attempt.
	Busy Indicator
	// Present, when set, is checked before every mount attempt and stops
	// the retry loop once the card is gone.
	Present func() bool
	// Path is the mount path handed to the filesystem subsystem.
	Path         string
	DefaultLabel string
	MaxAttempts  int
	// PowerCycleEvery makes attempt i a power cycle init when
	// i%PowerCycleEvery == 0. Attempts count from zero.
	PowerCycleEvery int
	Backoff         time.Duration
	MaxOpenHandles  int
	SectorSize      int
}

func (o *Options) setDefaults() {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Allocator == nil {
		o.Allocator = HeapAllocator{}
	}
	if o.Path == "" {
		o.Path = DefaultMountPath
	}
	if o.DefaultLabel == "" {
		o.DefaultLabel = DefaultLabel
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.PowerCycleEvery <= 0 {
		o.PowerCycleEvery = DefaultPowerCycleEvery
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	if o.MaxOpenHandles <= 0 {
		o.MaxOpenHandles = DefaultMaxOpenHandles
	}
	if o.SectorSize <= 0 {
		o.SectorSize = DefaultSectorSize
	}
}

// Volume is the status record of the removable volume. Create it once with
// New; it starts out with StatusNoCard.
type Volume struct {
	fs      Filesystem
	dev     BlockDevice
	handles *HandleTable
	opts    Options
	status  Status
	mu      syncutil.Mutex
}

// New creates the volume record. A zero Backoff in opts is kept as is; use
// DefaultBackoff for the usual one second.
//
//nolint:gocritic // options copied so later edits by the caller have no effect
func New(fs Filesystem, dev BlockDevice, opts Options) *Volume {
	opts.setDefaults()
	return &Volume{
		fs:      fs,
		dev:     dev,
		opts:    opts,
		status:  StatusNoCard,
		handles: NewHandleTable(opts.MaxOpenHandles),
	}
}

// Status returns the last known status.
func (v *Volume) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Path returns the mount path.
func (v *Volume) Path() string {
	return v.opts.Path
}

// OpenHandles returns the number of live handles.
func (v *Volume) OpenHandles() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.handles.Len()
}

// Mount brings the card up and mounts the filesystem, retrying up to
// MaxAttempts times with Backoff between failed attempts. A blank card is
// a successful outcome and reported as StatusNoFilesystem. The lock is held
// for the whole retry loop.
func (v *Volume) Mount() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mountLocked()
}

func (v *Volume) mountLocked() Status {
	st := v.status
	for attempt := range v.opts.MaxAttempts {
		if v.opts.Present != nil && !v.opts.Present() {
			log.Info().Int("attempt", attempt).Msg("card removed while mounting")
			v.status = StatusNoCard
			return v.status
		}

		st = v.attemptMount(attempt%v.opts.PowerCycleEvery == 0)
		v.status = st
		if st.Mountable() {
			log.Debug().
				Int("attempt", attempt).
				Str("status", st.String()).
				Msg("volume mounted")
			return st
		}

		v.opts.Clock.Sleep(v.opts.Backoff)
		log.Warn().
			Int("remaining", v.opts.MaxAttempts-attempt-1).
			Str("path", v.opts.Path).
			Msgf("init(%d) error: %s", v.opts.MaxAttempts-attempt, st)
	}
	return st
}

func (v *Volume) attemptMount(powerCycle bool) Status {
	if v.opts.Busy != nil {
		v.opts.Busy.SetBusy(true)
		defer v.opts.Busy.SetBusy(false)
	}

	if err := v.dev.Init(powerCycle); err != nil {
		log.Debug().Err(err).Bool("power_cycle", powerCycle).Msg("block device init failed")
		return StatusLowLevelError
	}

	st := StatusOf(v.fs.Mount(v.opts.Path))
	if !st.Mountable() {
		return st
	}

	// the free space query walks the allocation table, which catches cards
	// that mount but cannot be read
	_, _, err := v.fs.FreeSpace(v.opts.Path)
	return StatusOf(err)
}

// Unmount invalidates every open handle, unmounts the filesystem and
// leaves the volume in StatusNoCard. It never fails; close and unmount
// errors are logged. Returns the number of handles that were force closed.
func (v *Volume) Unmount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unmountLocked()
}

// Eject unmounts like Unmount and also reports whether a card was loaded,
// i.e. the status was anything but StatusNoCard before the call.
func (v *Volume) Eject() (closed int, ejected bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ejected = v.status != StatusNoCard
	return v.unmountLocked(), ejected
}

func (v *Volume) unmountLocked() int {
	v.status = StatusNoCard
	closed := v.sweepLocked()

	if err := v.fs.Unmount(v.opts.Path); err != nil {
		log.Warn().Err(err).Str("path", v.opts.Path).Msg("filesystem unmount failed")
	}

	log.Info().Int("closed", closed).Msg("volume unmounted")
	return closed
}

func (v *Volume) sweepLocked() int {
	closed, err := v.handles.Sweep()
	if err != nil {
		log.Warn().Err(err).Int("closed", closed).Msg("errors closing handles")
	}
	return closed
}

// Format writes a fresh filesystem, labels it and mounts it again. Every
// open handle is invalidated first. When the scratch buffer cannot be
// allocated the volume is left untouched and StatusOutOfMemory returned.
func (v *Volume) Format() Status {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status == StatusNoCard {
		return StatusNoCard
	}

	work, ok := v.opts.Allocator.Alloc(v.opts.SectorSize)
	if !ok {
		log.Error().Int("size", v.opts.SectorSize).Msg("no memory for format work area")
		return StatusOutOfMemory
	}

	if closed := v.sweepLocked(); closed > 0 {
		log.Info().Int("closed", closed).Msg("closed handles before format")
	}

	log.Info().Str("path", v.opts.Path).Msg("formatting volume")
	if err := v.fs.Format(v.opts.Path, work); err != nil {
		v.status = StatusOf(err)
		log.Error().Err(err).Msg("format failed")
		return v.status
	}

	label := SanitizeLabel(v.opts.DefaultLabel)
	if err := v.fs.SetLabel(v.opts.Path, label); err != nil {
		log.Warn().Err(err).Str("label", label).Msg("failed to set volume label")
	}

	v.status = StatusOf(v.fs.Mount(v.opts.Path))
	return v.status
}

// Info is a snapshot of the mounted volume taken under one lock hold.
type Info struct {
	LabelErr     error
	FreeErr      error
	Label        string
	Geometry     Geometry
	Serial       uint32
	FreeClusters uint32
	Status       Status
}

// OK reports whether both queries succeeded.
func (i Info) OK() bool {
	return i.LabelErr == nil && i.FreeErr == nil
}

// TotalKB is the data area size in KiB.
func (i Info) TotalKB() uint64 {
	return uint64(i.Geometry.TotalClusters) * i.Geometry.ClusterBytes() / 1024
}

// FreeKB is the free space in KiB.
func (i Info) FreeKB() uint64 {
	return uint64(i.FreeClusters) * i.Geometry.ClusterBytes() / 1024
}

// Info queries label and free space. When the volume is not mounted no
// subsystem call is made and both errors carry the volume status.
func (v *Volume) Info() Info {
	v.mu.Lock()
	defer v.mu.Unlock()

	info := Info{Status: v.status}
	if !v.status.Usable() {
		info.LabelErr = v.status
		info.FreeErr = v.status
		return info
	}

	info.Label, info.Serial, info.LabelErr = v.fs.Label(v.opts.Path)
	info.FreeClusters, info.Geometry, info.FreeErr = v.fs.FreeSpace(v.opts.Path)
	return info
}
