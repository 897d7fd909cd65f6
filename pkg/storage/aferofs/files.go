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
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ZaparooProject/volumed/pkg/volume"
	"github.com/spf13/afero"
)

func osFlags(flag volume.OpenFlag) int {
	var mode int
	switch {
	case flag&volume.OpenRead != 0 && flag&volume.OpenWrite != 0:
		mode = os.O_RDWR
	case flag&volume.OpenWrite != 0:
		mode = os.O_WRONLY
	default:
		mode = os.O_RDONLY
	}

	switch {
	case flag&volume.OpenCreateNew != 0:
		mode |= os.O_CREATE | os.O_EXCL
	case flag&volume.OpenCreateAlways != 0:
		mode |= os.O_CREATE | os.O_TRUNC
	case flag&(volume.OpenAlways|volume.OpenAppend) != 0:
		mode |= os.O_CREATE
	}
	return mode
}

const writeFlags = volume.OpenWrite | volume.OpenCreateNew | volume.OpenCreateAlways |
	volume.OpenAlways | volume.OpenAppend

func (f *FS) OpenFile(p string, flag volume.OpenFlag) (volume.File, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	check := f.readyLocked
	if flag&writeFlags != 0 {
		check = f.writableLocked
	}
	if err := check("open", p); err != nil {
		return nil, err
	}
	if isMetadata(p) {
		return nil, fail("open", p, volume.StatusDenied, nil)
	}

	name := clean(p)
	if info, err := f.root.Stat(name); err == nil && info.IsDir() {
		return nil, fail("open", p, volume.StatusDenied, nil)
	}
	if err := f.parentExists(name); err != nil {
		return nil, fail("open", p, volume.StatusNoPath, err)
	}

	af, err := f.root.OpenFile(name, osFlags(flag), 0o644)
	if err != nil {
		return nil, wrap("open", p, err)
	}
	if flag&volume.OpenAppend != 0 {
		if _, err := af.Seek(0, io.SeekEnd); err != nil {
			_ = af.Close()
			return nil, wrap("open", p, err)
		}
	}
	return &file{f: af, name: name}, nil
}

func (f *FS) parentExists(name string) error {
	parent := path.Dir(name)
	info, err := f.root.Stat(parent)
	if err != nil {
		return err //nolint:wrapcheck // mapped by caller
	}
	if !info.IsDir() {
		return os.ErrNotExist
	}
	return nil
}

type file struct {
	f    afero.File
	name string
}

func (f *file) Read(p []byte) (int, error) {
	n, err := f.f.Read(p)
	if errors.Is(err, io.EOF) {
		return n, io.EOF
	}
	return n, wrap("read", f.name, err)
}

func (f *file) Write(p []byte) (int, error) {
	n, err := f.f.Write(p)
	return n, wrap("write", f.name, err)
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	pos, err := f.f.Seek(offset, whence)
	return pos, wrap("seek", f.name, err)
}

func (f *file) Truncate() error {
	pos, err := f.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return wrap("truncate", f.name, err)
	}
	return wrap("truncate", f.name, f.f.Truncate(pos))
}

func (f *file) Size() int64 {
	info, err := f.f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

func (f *file) Sync() error {
	return wrap("sync", f.name, f.f.Sync())
}

func (f *file) Close() error {
	return wrap("close", f.name, f.f.Close())
}

func toFileInfo(info os.FileInfo) volume.FileInfo {
	var attr volume.Attr
	if info.IsDir() {
		attr |= volume.AttrDir
	} else {
		attr |= volume.AttrArchive
	}
	if info.Mode().Perm()&0o200 == 0 {
		attr |= volume.AttrReadOnly
	}
	if strings.HasPrefix(info.Name(), ".") {
		attr |= volume.AttrHidden
	}
	return volume.FileInfo{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Attr:    attr,
	}
}

// dir serves a sorted snapshot of the directory, refreshed on Rewind.
type dir struct {
	root    afero.Fs
	name    string
	entries []volume.FileInfo
	pos     int
	closed  bool
}

func (d *dir) load() error {
	infos, err := afero.ReadDir(d.root, d.name)
	if err != nil {
		return wrap("read dir", d.name, err)
	}
	entries := make([]volume.FileInfo, 0, len(infos))
	for _, info := range infos {
		if isMetadata(path.Join(d.name, info.Name())) {
			continue
		}
		entries = append(entries, toFileInfo(info))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	d.entries = entries
	d.pos = 0
	return nil
}

func (d *dir) Read() (volume.FileInfo, error) {
	if d.closed {
		return volume.FileInfo{}, fail("read dir", d.name, volume.StatusInvalidObject, nil)
	}
	if d.pos >= len(d.entries) {
		return volume.FileInfo{}, io.EOF
	}
	fi := d.entries[d.pos]
	d.pos++
	return fi, nil
}

func (d *dir) Rewind() error {
	if d.closed {
		return fail("rewind dir", d.name, volume.StatusInvalidObject, nil)
	}
	return d.load()
}

func (d *dir) Close() error {
	d.closed = true
	d.entries = nil
	return nil
}

func (f *FS) OpenDir(p string) (volume.Dir, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.readyLocked("open dir", p); err != nil {
		return nil, err
	}
	name := clean(p)
	info, err := f.root.Stat(name)
	if err != nil {
		return nil, fail("open dir", p, volume.StatusNoPath, err)
	}
	if !info.IsDir() {
		return nil, fail("open dir", p, volume.StatusNoPath, nil)
	}

	d := &dir{root: f.root, name: name}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

func (f *FS) Stat(p string) (volume.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.readyLocked("stat", p); err != nil {
		return volume.FileInfo{}, err
	}
	name := clean(p)
	if name == "/" || isMetadata(name) {
		return volume.FileInfo{}, fail("stat", p, volume.StatusInvalidName, nil)
	}
	info, err := f.root.Stat(name)
	if err != nil {
		return volume.FileInfo{}, wrap("stat", p, err)
	}
	return toFileInfo(info), nil
}

// Remove deletes a file or an empty directory.
func (f *FS) Remove(p string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.writableLocked("remove", p); err != nil {
		return err
	}
	name := clean(p)
	if name == "/" || isMetadata(name) {
		return fail("remove", p, volume.StatusDenied, nil)
	}

	info, err := f.root.Stat(name)
	if err != nil {
		return wrap("remove", p, err)
	}
	if info.Mode().Perm()&0o200 == 0 {
		return fail("remove", p, volume.StatusDenied, nil)
	}
	if info.IsDir() {
		entries, err := afero.ReadDir(f.root, name)
		if err != nil {
			return wrap("remove", p, err)
		}
		if len(entries) > 0 {
			return fail("remove", p, volume.StatusDenied, nil)
		}
	}
	return wrap("remove", p, f.root.Remove(name))
}

func (f *FS) Rename(from, to string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.writableLocked("rename", from); err != nil {
		return err
	}
	src, dst := clean(from), clean(to)
	if isMetadata(src) || isMetadata(dst) || src == "/" {
		return fail("rename", from, volume.StatusDenied, nil)
	}
	if _, err := f.root.Stat(src); err != nil {
		return wrap("rename", from, err)
	}
	if _, err := f.root.Stat(dst); err == nil {
		return fail("rename", to, volume.StatusExist, nil)
	}
	if err := f.parentExists(dst); err != nil {
		return fail("rename", to, volume.StatusNoPath, err)
	}
	return wrap("rename", from, f.root.Rename(src, dst))
}

// SetAttr applies the attribute bits the tree can represent. Only the read
// only bit maps to file permissions; the rest are accepted and dropped.
func (f *FS) SetAttr(p string, attr, mask volume.Attr) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.writableLocked("set attr", p); err != nil {
		return err
	}
	name := clean(p)
	if name == "/" || isMetadata(name) {
		return fail("set attr", p, volume.StatusDenied, nil)
	}
	info, err := f.root.Stat(name)
	if err != nil {
		return wrap("set attr", p, err)
	}
	if mask&volume.AttrReadOnly == 0 {
		return nil
	}

	perm := info.Mode().Perm() | 0o200
	if attr&volume.AttrReadOnly != 0 {
		perm &^= 0o222
	}
	return wrap("set attr", p, f.root.Chmod(name, perm))
}

func (f *FS) Mkdir(p string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.writableLocked("mkdir", p); err != nil {
		return err
	}
	name := clean(p)
	if name == "/" || isMetadata(name) {
		return fail("mkdir", p, volume.StatusInvalidName, nil)
	}
	if _, err := f.root.Stat(name); err == nil {
		return fail("mkdir", p, volume.StatusExist, nil)
	}
	if err := f.parentExists(name); err != nil {
		return fail("mkdir", p, volume.StatusNoPath, err)
	}
	return wrap("mkdir", p, f.root.Mkdir(name, 0o755))
}

func (f *FS) SetTime(p string, t time.Time) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.writableLocked("set time", p); err != nil {
		return err
	}
	name := clean(p)
	if isMetadata(name) {
		return fail("set time", p, volume.StatusDenied, nil)
	}
	return wrap("set time", p, f.root.Chtimes(name, t, t))
}
