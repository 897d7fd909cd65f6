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

//go:build !linux

package presence

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// UDisksSensor is only available on Linux; elsewhere it never sees a card.
type UDisksSensor struct {
	node string
	once sync.Once
}

func NewUDisksSensor(node string) *UDisksSensor {
	return &UDisksSensor{node: node}
}

func (s *UDisksSensor) Present() bool {
	s.once.Do(func() {
		log.Warn().Str("node", s.node).Msg("UDisks2 presence sensor is not supported on this platform")
	})
	return false
}
