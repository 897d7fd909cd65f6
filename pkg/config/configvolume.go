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

package config

import (
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMountPath       = "/"
	DefaultVolumeLabel     = "ZAPAROO SD"
	DefaultMaxOpenHandles  = 16
	DefaultMountAttempts   = 10
	DefaultMountBackoff    = "1s"
	DefaultPowerCycleEvery = 10
	DefaultPollInterval    = "1s"
	DefaultPresenceMode    = "node"
	DefaultDeviceNode      = "/dev/mmcblk0"
	DefaultSectorSize      = 512
	DefaultFSType          = "FAT32"
)

type Volume struct {
	MountPath      string `toml:"mount_path" validate:"omitempty,volpath"`
	DefaultLabel   string `toml:"default_label" validate:"max=11"`
	MaxOpenHandles int    `toml:"max_open_handles" validate:"gte=0,lte=256"`
}

type Mount struct {
	Backoff         string `toml:"backoff" validate:"duration"`
	Attempts        int    `toml:"attempts" validate:"gte=0,lte=100"`
	PowerCycleEvery int    `toml:"power_cycle_every" validate:"gte=0"`
}

type Lifecycle struct {
	PollInterval    string `toml:"poll_interval" validate:"duration"`
	Presence        string `toml:"presence" validate:"omitempty,oneof=node watch udisks"`
	DebounceSamples int    `toml:"debounce_samples,omitempty" validate:"gte=0,lte=10"`
}

type Device struct {
	Node           string `toml:"node"`
	PowerControl   string `toml:"power_control,omitempty"`
	HostRoot       string `toml:"host_root,omitempty"`
	Capacity       string `toml:"capacity,omitempty" validate:"datasize"`
	FSType         string `toml:"fs_type,omitempty" validate:"omitempty,oneof=FAT12 FAT16 FAT32 exFAT"`
	SectorSize     int    `toml:"sector_size" validate:"oneof=0 512 1024 2048 4096"`
	ClusterSectors int    `toml:"cluster_sectors,omitempty" validate:"gte=0,lte=256"`
	ReadOnly       bool   `toml:"read_only,omitempty"`
}

type Indicator struct {
	Red   string `toml:"red,omitempty"`
	Green string `toml:"green,omitempty"`
	Blue  string `toml:"blue,omitempty"`
	Pulse string `toml:"pulse,omitempty" validate:"duration"`
}

// parseDuration reads a validated duration string, falling back to def.
func parseDuration(s, def string) time.Duration {
	if s == "" {
		s = def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Warn().Err(err).Msgf("invalid duration: %s", s)
		d, _ = time.ParseDuration(def)
	}
	return d
}

func (c *Instance) MountPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Volume.MountPath == "" {
		return DefaultMountPath
	}
	return c.vals.Volume.MountPath
}

func (c *Instance) DefaultLabel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Volume.DefaultLabel == "" {
		return DefaultVolumeLabel
	}
	return c.vals.Volume.DefaultLabel
}

func (c *Instance) SetDefaultLabel(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Volume.DefaultLabel = label
}

func (c *Instance) MaxOpenHandles() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Volume.MaxOpenHandles <= 0 {
		return DefaultMaxOpenHandles
	}
	return c.vals.Volume.MaxOpenHandles
}

func (c *Instance) MountAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Mount.Attempts <= 0 {
		return DefaultMountAttempts
	}
	return c.vals.Mount.Attempts
}

func (c *Instance) MountBackoff() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Mount.Backoff, DefaultMountBackoff)
}

// PowerCycleEvery returns the attempt cadence of power cycle inits. Zero
// disables power cycling.
func (c *Instance) PowerCycleEvery() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Mount.PowerCycleEvery
}

func (c *Instance) PollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Lifecycle.PollInterval, DefaultPollInterval)
}

func (c *Instance) PresenceMode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Lifecycle.Presence == "" {
		return DefaultPresenceMode
	}
	return c.vals.Lifecycle.Presence
}

func (c *Instance) DebounceSamples() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Lifecycle.DebounceSamples
}

func (c *Instance) DeviceNode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.Node
}

func (c *Instance) PowerControlPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.PowerControl
}

func (c *Instance) HostRoot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.HostRoot
}

// Capacity returns the fixed card size. Zero means the size of the host
// filesystem backing the card.
func (c *Instance) Capacity() datasize.ByteSize {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Device.Capacity == "" {
		return 0
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(c.vals.Device.Capacity)); err != nil {
		log.Warn().Err(err).Msgf("invalid capacity: %s", c.vals.Device.Capacity)
		return 0
	}
	return size
}

func (c *Instance) FSType() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Device.FSType == "" {
		return DefaultFSType
	}
	return c.vals.Device.FSType
}

func (c *Instance) SectorSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Device.SectorSize == 0 {
		return DefaultSectorSize
	}
	return c.vals.Device.SectorSize
}

func (c *Instance) ClusterSectors() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.ClusterSectors
}

func (c *Instance) ReadOnly() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.ReadOnly
}

// IndicatorLEDs returns the LED class names of the red, green and blue
// channels. Empty names are unconnected.
func (c *Instance) IndicatorLEDs() (red, green, blue string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ind := c.vals.Indicator
	return ind.Red, ind.Green, ind.Blue
}

// IndicatorPulse returns the LED pulse length, zero for the default.
func (c *Instance) IndicatorPulse() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Indicator.Pulse == "" {
		return 0
	}
	return parseDuration(c.vals.Indicator.Pulse, "0s")
}
