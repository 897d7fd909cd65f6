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

package volume

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// DefaultMaxOpenHandles is the handle table capacity used when none is
// configured.
const DefaultMaxOpenHandles = 16

// Owner tags the client that opened a handle.
type Owner string

// Kind is the type of object held by a handle table slot.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindDir
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	default:
		return "none"
	}
}

// Handle refers to one slot of the handle table. The generation makes a
// handle stale as soon as its slot is cleared, so a reused slot never
// resolves for an old handle. The zero Handle is never valid.
type Handle struct {
	slot int
	gen  uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.slot, h.gen)
}

type entry struct {
	file  File
	dir   Dir
	owner Owner
	gen   uint32
	kind  Kind
	used  bool
}

// HandleTable is a fixed capacity arena of open files and directories.
// It is not safe for concurrent use; the owning Volume serializes access.
type HandleTable struct {
	slots []entry
	n     int
}

func NewHandleTable(capacity int) *HandleTable {
	if capacity <= 0 {
		capacity = DefaultMaxOpenHandles
	}
	slots := make([]entry, capacity)
	for i := range slots {
		slots[i].gen = 1
	}
	return &HandleTable{slots: slots}
}

// Cap returns the number of slots.
func (t *HandleTable) Cap() int {
	return len(t.slots)
}

// Len returns the number of occupied slots.
func (t *HandleTable) Len() int {
	return t.n
}

// InsertFile stores an open file. A full table fails with
// StatusTooManyOpenFiles and leaves existing entries alone.
func (t *HandleTable) InsertFile(owner Owner, f File) (Handle, error) {
	return t.insert(entry{owner: owner, kind: KindFile, file: f})
}

// InsertDir stores an open directory, see InsertFile.
func (t *HandleTable) InsertDir(owner Owner, d Dir) (Handle, error) {
	return t.insert(entry{owner: owner, kind: KindDir, dir: d})
}

func (t *HandleTable) insert(e entry) (Handle, error) {
	for i := range t.slots {
		if t.slots[i].used {
			continue
		}
		e.gen = t.slots[i].gen
		e.used = true
		t.slots[i] = e
		t.n++
		return Handle{slot: i, gen: e.gen}, nil
	}
	return Handle{}, StatusTooManyOpenFiles
}

func (t *HandleTable) lookup(h Handle) (*entry, error) {
	if h.slot < 0 || h.slot >= len(t.slots) {
		return nil, ErrHandleInvalidated
	}
	e := &t.slots[h.slot]
	if !e.used || e.gen != h.gen {
		return nil, ErrHandleInvalidated
	}
	return e, nil
}

// Owner returns the owner and kind of a live handle.
func (t *HandleTable) Owner(h Handle) (Owner, Kind, error) {
	e, err := t.lookup(h)
	if err != nil {
		return "", 0, err
	}
	return e.owner, e.kind, nil
}

func (t *HandleTable) clear(slot int) {
	gen := t.slots[slot].gen + 1
	if gen == 0 {
		gen = 1
	}
	t.slots[slot] = entry{gen: gen}
	t.n--
}

// Sweep closes every open entry regardless of owner and empties the table.
// Close failures do not stop the sweep; they are returned together.
func (t *HandleTable) Sweep() (int, error) {
	var result *multierror.Error
	closed := 0
	for i := range t.slots {
		e := &t.slots[i]
		if !e.used {
			continue
		}

		var err error
		if e.kind == KindDir {
			err = e.dir.Close()
		} else {
			err = e.file.Close()
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s %d (%s): %w", e.kind, i, e.owner, err))
		}

		t.clear(i)
		closed++
	}
	return closed, result.ErrorOrNil()
}
