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
	"time"
)

// OpenFlag selects the access mode of OpenFile. Values combine with |.
type OpenFlag uint8

const (
	OpenRead OpenFlag = 1 << iota
	OpenWrite
	// OpenCreateNew fails with StatusExist when the file exists.
	OpenCreateNew
	// OpenCreateAlways truncates an existing file.
	OpenCreateAlways
	OpenAlways
	OpenAppend
)

// Attr is a set of FAT attribute bits.
type Attr uint8

const (
	AttrReadOnly Attr = 0x01
	AttrHidden   Attr = 0x02
	AttrSystem   Attr = 0x04
	AttrDir      Attr = 0x10
	AttrArchive  Attr = 0x20
)

// FSType identifies the on-media filesystem variant.
type FSType uint8

const (
	FSUnknown FSType = iota
	FSFAT12
	FSFAT16
	FSFAT32
	FSExFAT
)

func (t FSType) String() string {
	switch t {
	case FSFAT12:
		return "FAT12"
	case FSFAT16:
		return "FAT16"
	case FSFAT32:
		return "FAT32"
	case FSExFAT:
		return "exFAT"
	default:
		return "unknown"
	}
}

// Geometry describes the layout of a mounted filesystem.
type Geometry struct {
	Type           FSType
	ClusterSectors uint32
	SectorSize     uint32
	TotalClusters  uint32
}

// ClusterBytes is the size of one cluster in bytes.
func (g Geometry) ClusterBytes() uint64 {
	return uint64(g.ClusterSectors) * uint64(g.SectorSize)
}

// FileInfo describes a file or directory entry.
type FileInfo struct {
	ModTime time.Time
	Name    string
	Size    int64
	Attr    Attr
}

func (fi FileInfo) IsDir() bool {
	return fi.Attr&AttrDir != 0
}

// Filesystem is the filesystem subsystem the volume mounts on the card.
// Every method returns either nil or an error carrying a Status.
type Filesystem interface {
	Mount(path string) error
	Unmount(path string) error
	// Format creates a fresh filesystem. work is a scratch buffer of at
	// least one sector.
	Format(path string, work []byte) error
	// FreeSpace returns the number of free clusters and the geometry.
	FreeSpace(path string) (uint32, Geometry, error)
	Label(path string) (string, uint32, error)
	SetLabel(path, label string) error

	OpenFile(path string, flag OpenFlag) (File, error)
	OpenDir(path string) (Dir, error)
	Stat(path string) (FileInfo, error)
	Remove(path string) error
	Rename(from, to string) error
	SetAttr(path string, attr, mask Attr) error
	Mkdir(path string) error
	SetTime(path string, t time.Time) error
}

// File is an open file of the filesystem subsystem.
type File interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	// Truncate cuts the file at the current position.
	Truncate() error
	Size() int64
	Sync() error
	Close() error
}

// Dir is an open directory of the filesystem subsystem.
type Dir interface {
	// Read returns the next entry or io.EOF after the last one.
	Read() (FileInfo, error)
	Rewind() error
	Close() error
}

// BlockDevice is the raw card driver below the filesystem.
type BlockDevice interface {
	// Init brings the card up. A power cycle cuts and restores card power
	// before initializing.
	Init(powerCycle bool) error
}

// Allocator hands out buffers. Returning false reports exhaustion.
type Allocator interface {
	Alloc(n int) ([]byte, bool)
}

// AllocatorFunc adapts a function to Allocator.
type AllocatorFunc func(n int) ([]byte, bool)

func (f AllocatorFunc) Alloc(n int) ([]byte, bool) {
	return f(n)
}

// HeapAllocator allocates from the Go heap, optionally capped per request.
type HeapAllocator struct {
	// Limit is the largest request served. Zero means no limit.
	Limit int
}

func (a HeapAllocator) Alloc(n int) ([]byte, bool) {
	if n < 0 || (a.Limit > 0 && n > a.Limit) {
		return nil, false
	}
	return make([]byte, n), true
}

// Indicator shows that a mount attempt is in progress.
type Indicator interface {
	SetBusy(busy bool)
}
