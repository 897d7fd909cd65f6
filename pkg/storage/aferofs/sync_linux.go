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

package aferofs

import (
	"golang.org/x/sys/unix"
)

// flush pushes dirty pages to the card before it is released. Nothing to
// do for trees that are not on the host.
func flush(hostRoot string) error {
	if hostRoot == "" {
		return nil
	}
	fd, err := unix.Open(hostRoot, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return err //nolint:wrapcheck // wrapped by caller
	}
	defer func() { _ = unix.Close(fd) }()
	return unix.Syncfs(fd) //nolint:wrapcheck // wrapped by caller
}
