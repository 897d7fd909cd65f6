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

package presence

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// SysBlockDir is where the kernel exposes block device attributes.
const SysBlockDir = "/sys/class/block"

// NodeSensor polls the device node of the card. Built-in card readers
// create the node on insertion; USB readers keep the node and report a
// zero size while empty, so the sysfs size is checked too when available.
type NodeSensor struct {
	fs       afero.Fs
	node     string
	sizePath string
}

// NewNodeSensor creates a sensor for node. A nil fs uses the OS filesystem.
func NewNodeSensor(fs afero.Fs, node string) *NodeSensor {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &NodeSensor{
		fs:       fs,
		node:     node,
		sizePath: filepath.Join(SysBlockDir, filepath.Base(node), "size"),
	}
}

func (s *NodeSensor) Present() bool {
	if s.node == "" {
		return false
	}
	if _, err := s.fs.Stat(s.node); err != nil {
		return false
	}

	data, err := afero.ReadFile(s.fs, s.sizePath)
	if err != nil {
		// no sysfs entry, the node itself is all there is to go on
		return true
	}
	sectors, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return true
	}
	return sectors > 0
}
