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

//go:build linux

package presence

import (
	"context"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	udisks2Service        = "org.freedesktop.UDisks2"
	udisks2Path           = "/org/freedesktop/UDisks2"
	udisks2BlockInterface = "org.freedesktop.UDisks2.Block"
	dbusObjectManager     = "org.freedesktop.DBus.ObjectManager"

	udisksCallTimeout = 2 * time.Second
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// UDisksSensor asks UDisks2 whether the block device of the card has
// media. It suits desktop systems where udisksd owns the card reader.
type UDisksSensor struct {
	query func(ctx context.Context) (managedObjects, error)
	node  string
}

func NewUDisksSensor(node string) *UDisksSensor {
	return &UDisksSensor{node: node, query: queryUDisks}
}

func queryUDisks(ctx context.Context) (managedObjects, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err //nolint:wrapcheck // logged by caller
	}

	var objects managedObjects
	obj := conn.Object(udisks2Service, udisks2Path)
	err = obj.CallWithContext(ctx, dbusObjectManager+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return nil, err //nolint:wrapcheck // logged by caller
	}
	return objects, nil
}

func (s *UDisksSensor) Present() bool {
	ctx, cancel := context.WithTimeout(context.Background(), udisksCallTimeout)
	defer cancel()

	objects, err := s.query(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("failed to query UDisks2")
		return false
	}
	return blockHasMedia(objects, s.node)
}

func blockHasMedia(objects managedObjects, node string) bool {
	for _, ifaces := range objects {
		props, ok := ifaces[udisks2BlockInterface]
		if !ok {
			continue
		}
		if blockDevice(props) != node {
			continue
		}
		if size, ok := props["Size"].Value().(uint64); ok {
			return size > 0
		}
		return true
	}
	return false
}

func blockDevice(props map[string]dbus.Variant) string {
	if device, ok := props["Device"]; ok {
		if devicePath, ok := device.Value().([]byte); ok && len(devicePath) > 0 {
			return strings.TrimRight(string(devicePath), "\x00")
		}
	}
	return ""
}
