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

package notify

import (
	"sync/atomic"

	"github.com/ZaparooProject/volumed/pkg/api/models"
	"github.com/ZaparooProject/volumed/pkg/api/notifications"
	"github.com/ZaparooProject/volumed/pkg/volume"
)

// IconState is what the status bar shows for the card.
type IconState int32

const (
	IconHidden IconState = iota
	IconMounted
	IconFail
)

func (s IconState) String() string {
	switch s {
	case IconMounted:
		return "mounted"
	case IconFail:
		return "fail"
	default:
		return "hidden"
	}
}

// StatusIcon holds the current icon state for whatever renders it.
type StatusIcon struct {
	state atomic.Int32
}

func (i *StatusIcon) Set(s IconState) {
	i.state.Store(int32(s))
}

func (i *StatusIcon) State() IconState {
	return IconState(i.state.Load())
}

// Notifier turns lifecycle events into indicator patterns, icon changes
// and notifications on the broker source channel.
type Notifier struct {
	indicator Indicator
	icon      *StatusIcon
	vol       *volume.Volume
	ns        chan<- models.Notification
}

func NewNotifier(
	vol *volume.Volume,
	indicator Indicator,
	icon *StatusIcon,
	ns chan<- models.Notification,
) *Notifier {
	if indicator == nil {
		indicator = NopIndicator{}
	}
	if icon == nil {
		icon = &StatusIcon{}
	}
	return &Notifier{
		indicator: indicator,
		icon:      icon,
		vol:       vol,
		ns:        ns,
	}
}

func (n *Notifier) Icon() *StatusIcon {
	return n.icon
}

// StatusPayload snapshots the volume for a notification or API response.
func StatusPayload(vol *volume.Volume) models.VolumeStatusResponse {
	st := vol.Status()
	return models.VolumeStatusResponse{
		Status:      st.String(),
		Code:        int(st),
		Path:        vol.Path(),
		Mounted:     st.Usable(),
		OpenHandles: vol.OpenHandles(),
	}
}

// Mounted reports a finished mount. A card without a filesystem counts as
// mounted for the lifecycle but is signalled as an error.
func (n *Notifier) Mounted(st volume.Status) {
	if st == volume.StatusOK {
		n.icon.Set(IconMounted)
		n.indicator.Success()
	} else {
		n.icon.Set(IconFail)
		n.indicator.Error()
	}
	notifications.VolumeMounted(n.ns, StatusPayload(n.vol))
}

// MountFailed reports a mount that gave up after all retries.
func (n *Notifier) MountFailed(volume.Status) {
	n.icon.Set(IconFail)
	n.indicator.Error()
	notifications.VolumeMountFailed(n.ns, StatusPayload(n.vol))
}

// Ejected reports that a mounted card was unmounted.
func (n *Notifier) Ejected() {
	n.icon.Set(IconHidden)
	n.indicator.Eject()
	notifications.VolumeEjected(n.ns, StatusPayload(n.vol))
}

// Removed reports that a card which never mounted left the slot.
func (n *Notifier) Removed() {
	n.icon.Set(IconHidden)
	notifications.VolumeRemoved(n.ns, StatusPayload(n.vol))
}

// Formatted reports the outcome of a format. The icon follows the volume
// status, which a refused format leaves untouched.
func (n *Notifier) Formatted(st volume.Status) {
	n.icon.Set(iconFor(n.vol.Status()))
	if st == volume.StatusOK {
		n.indicator.Success()
	} else {
		n.indicator.Error()
	}
	notifications.VolumeFormatted(n.ns, StatusPayload(n.vol))
}

func iconFor(st volume.Status) IconState {
	switch st {
	case volume.StatusNoCard:
		return IconHidden
	case volume.StatusOK:
		return IconMounted
	default:
		return IconFail
	}
}
