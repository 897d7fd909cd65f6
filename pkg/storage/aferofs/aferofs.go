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

// Package aferofs implements the volume filesystem subsystem on top of an
// afero filesystem. The card's contents live in a directory tree and a
// small TOML metadata file at its root marks the tree as formatted and
// carries the label, serial and geometry a FAT volume would have.
package aferofs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/ZaparooProject/volumed/pkg/helpers/syncutil"
	"github.com/ZaparooProject/volumed/pkg/volume"
	"github.com/c2h5oh/datasize"
	"github.com/jonboulle/clockwork"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/spf13/afero"
)

const (
	// MetadataFile marks a formatted tree. It is hidden from listings.
	MetadataFile = ".volume.toml"

	DefaultClusterSectors = 64
	DefaultCapacity       = 1 * datasize.GB
)

type metadata struct {
	Label          string `toml:"label"`
	Type           string `toml:"type"`
	Serial         uint32 `toml:"serial"`
	ClusterSectors uint32 `toml:"cluster_sectors"`
	SectorSize     uint32 `toml:"sector_size"`
}

type Options struct {
	Clock clockwork.Clock
	// HostRoot is the host directory backing the tree. When set and
	// Capacity is zero the geometry is taken from the host filesystem.
	HostRoot       string
	Capacity       datasize.ByteSize
	ClusterSectors uint32
	SectorSize     uint32
	Type           volume.FSType
	ReadOnly       bool
}

// FS is a volume.Filesystem backed by an afero tree.
type FS struct {
	root    afero.Fs
	clock   clockwork.Clock
	meta    *metadata
	opts    Options
	mounted bool
	mu      syncutil.RWMutex
}

// New wraps root. Use NewHost for a directory on the host.
//
//nolint:gocritic // options copied on purpose
func New(root afero.Fs, opts Options) *FS {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ClusterSectors == 0 {
		opts.ClusterSectors = DefaultClusterSectors
	}
	if opts.SectorSize == 0 {
		opts.SectorSize = volume.DefaultSectorSize
	}
	if opts.Type == volume.FSUnknown {
		opts.Type = volume.FSFAT32
	}
	if opts.Capacity == 0 && opts.HostRoot == "" {
		opts.Capacity = DefaultCapacity
	}
	return &FS{
		root:  root,
		clock: opts.Clock,
		opts:  opts,
	}
}

// NewHost serves the tree under dir on the host filesystem.
//
//nolint:gocritic // options copied on purpose
func NewHost(dir string, opts Options) *FS {
	opts.HostRoot = dir
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), opts)
}

func fail(op, p string, st volume.Status, err error) error {
	if err == nil {
		return fmt.Errorf("%s %s: %w", op, p, st)
	}
	return fmt.Errorf("%s %s: %w: %w", op, p, st, err)
}

// statusOf maps an afero or os error to the closest volume status.
func statusOf(err error) volume.Status {
	var st volume.Status
	switch {
	case err == nil:
		return volume.StatusOK
	case errors.As(err, &st):
		return st
	case errors.Is(err, fs.ErrNotExist):
		return volume.StatusNoFile
	case errors.Is(err, fs.ErrExist):
		return volume.StatusExist
	case errors.Is(err, fs.ErrPermission):
		return volume.StatusDenied
	case errors.Is(err, fs.ErrInvalid), errors.Is(err, fs.ErrClosed):
		return volume.StatusInvalidObject
	default:
		return volume.StatusDiskError
	}
}

func wrap(op, p string, err error) error {
	if err == nil {
		return nil
	}
	return fail(op, p, statusOf(err), err)
}

// clean turns a volume path into a path inside the tree. Paths are always
// taken from the root of the volume.
func clean(p string) string {
	return path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
}

func isMetadata(p string) bool {
	return clean(p) == "/"+MetadataFile
}

func (f *FS) readMetadata() (*metadata, error) {
	data, err := afero.ReadFile(f.root, "/"+MetadataFile)
	if err != nil {
		return nil, err //nolint:wrapcheck // mapped by caller
	}
	var m metadata
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse volume metadata: %w", err)
	}
	if m.ClusterSectors == 0 || m.SectorSize == 0 {
		return nil, errors.New("volume metadata has no geometry")
	}
	return &m, nil
}

func (f *FS) writeMetadata(m *metadata) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal volume metadata: %w", err)
	}
	if err := afero.WriteFile(f.root, "/"+MetadataFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write volume metadata: %w", err)
	}
	return nil
}

// Mount checks the tree for a filesystem. A tree without metadata mounts
// as blank and reports StatusNoFilesystem.
func (f *FS) Mount(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mounted = true
	f.meta = nil

	if _, err := f.root.Stat("/"); err != nil {
		f.mounted = false
		return fail("mount", p, volume.StatusNotReady, err)
	}

	m, err := f.readMetadata()
	if errors.Is(err, fs.ErrNotExist) {
		return fail("mount", p, volume.StatusNoFilesystem, nil)
	} else if err != nil {
		log.Warn().Err(err).Str("path", p).Msg("unreadable volume metadata")
		return fail("mount", p, volume.StatusNoFilesystem, err)
	}

	f.meta = m
	log.Debug().
		Str("path", p).
		Str("label", m.Label).
		Str("type", m.Type).
		Msg("filesystem mounted")
	return nil
}

func (f *FS) Unmount(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mounted = false
	f.meta = nil
	if err := flush(f.opts.HostRoot); err != nil {
		return fail("unmount", p, volume.StatusDiskError, err)
	}
	return nil
}

// Format erases the tree and writes fresh metadata. The label is left
// empty.
func (f *FS) Format(p string, work []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return fail("format", p, volume.StatusNotEnabled, nil)
	}
	if f.opts.ReadOnly {
		return fail("format", p, volume.StatusWriteProtected, nil)
	}
	if len(work) < int(f.opts.SectorSize) {
		return fail("format", p, volume.StatusInvalidParameter, nil)
	}

	entries, err := afero.ReadDir(f.root, "/")
	if err != nil {
		return fail("format", p, volume.StatusMkfsAborted, err)
	}
	for _, e := range entries {
		if err := f.root.RemoveAll("/" + e.Name()); err != nil {
			return fail("format", p, volume.StatusMkfsAborted, err)
		}
	}

	m := &metadata{
		Type:           f.opts.Type.String(),
		Serial:         uint32(f.clock.Now().UnixNano()), //nolint:gosec // serial is any 32 bits
		ClusterSectors: f.opts.ClusterSectors,
		SectorSize:     f.opts.SectorSize,
	}
	if err := f.writeMetadata(m); err != nil {
		return fail("format", p, volume.StatusMkfsAborted, err)
	}
	f.meta = nil

	log.Info().Str("path", p).Str("type", m.Type).Msg("filesystem created")
	return nil
}

// readyLocked reports whether the tree is mounted and formatted.
func (f *FS) readyLocked(op, p string) error {
	if !f.mounted {
		return fail(op, p, volume.StatusNotEnabled, nil)
	}
	if f.meta == nil {
		return fail(op, p, volume.StatusNoFilesystem, nil)
	}
	return nil
}

func (f *FS) writableLocked(op, p string) error {
	if err := f.readyLocked(op, p); err != nil {
		return err
	}
	if f.opts.ReadOnly {
		return fail(op, p, volume.StatusWriteProtected, nil)
	}
	return nil
}

// ParseType maps a type name such as "FAT32" to its FSType.
func ParseType(s string) volume.FSType {
	for t := volume.FSFAT12; t <= volume.FSExFAT; t++ {
		if strings.EqualFold(t.String(), s) {
			return t
		}
	}
	return volume.FSUnknown
}

// FreeSpace reports free clusters. With a fixed capacity the used space is
// the sum of all files rounded up to whole clusters; otherwise the host
// filesystem usage is scaled to clusters.
func (f *FS) FreeSpace(p string) (uint32, volume.Geometry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.readyLocked("free space", p); err != nil {
		return 0, volume.Geometry{}, err
	}

	geo := volume.Geometry{
		Type:           ParseType(f.meta.Type),
		ClusterSectors: f.meta.ClusterSectors,
		SectorSize:     f.meta.SectorSize,
	}
	cluster := geo.ClusterBytes()

	if f.opts.Capacity == 0 {
		usage, err := disk.Usage(f.opts.HostRoot)
		if err != nil {
			return 0, geo, fail("free space", p, volume.StatusDiskError, err)
		}
		geo.TotalClusters = clamp(usage.Total / cluster)
		return clamp(usage.Free / cluster), geo, nil
	}

	geo.TotalClusters = clamp(f.opts.Capacity.Bytes() / cluster)

	var used uint64
	err := afero.Walk(f.root, "/", func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || isMetadata(name) {
			return nil
		}
		used += (uint64(info.Size()) + cluster - 1) / cluster //nolint:gosec // sizes are never negative
		return nil
	})
	if err != nil {
		return 0, geo, fail("free space", p, volume.StatusDiskError, err)
	}

	if used >= uint64(geo.TotalClusters) {
		return 0, geo, nil
	}
	return geo.TotalClusters - uint32(used), geo, nil //nolint:gosec // bounded above
}

func clamp(n uint64) uint32 {
	if n > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n)
}

func (f *FS) Label(p string) (string, uint32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.readyLocked("label", p); err != nil {
		return "", 0, err
	}
	return f.meta.Label, f.meta.Serial, nil
}

// SetLabel is allowed on a freshly formatted tree that was not mounted yet.
func (f *FS) SetLabel(p, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return fail("set label", p, volume.StatusNotEnabled, nil)
	}
	if f.opts.ReadOnly {
		return fail("set label", p, volume.StatusWriteProtected, nil)
	}
	if label != volume.SanitizeLabel(label) {
		return fail("set label", p, volume.StatusInvalidName, nil)
	}

	m, err := f.readMetadata()
	if err != nil {
		return fail("set label", p, volume.StatusNoFilesystem, err)
	}
	m.Label = label
	if err := f.writeMetadata(m); err != nil {
		return fail("set label", p, volume.StatusDiskError, err)
	}
	if f.meta != nil {
		f.meta.Label = label
	}
	return nil
}
