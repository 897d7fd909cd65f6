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
	"io"
	"time"

	"github.com/google/uuid"
)

// Client is the file API of the volume for one consumer. Handles opened by
// a client can only be used and closed by the same client. A client is safe
// for concurrent use.
type Client struct {
	v     *Volume
	owner Owner
}

// NewClient returns a client tagged with name and a unique suffix.
func (v *Volume) NewClient(name string) *Client {
	return &Client{
		v:     v,
		owner: Owner(fmt.Sprintf("%s/%s", name, uuid.New().String()[:8])),
	}
}

// Owner returns the tag stored with every handle this client opens.
func (c *Client) Owner() Owner {
	return c.owner
}

// usableLocked fails path operations fast when there is nothing mounted.
func (c *Client) usableLocked() error {
	if c.v.status == StatusNoCard {
		return StatusNoCard
	}
	if !c.v.status.Usable() {
		return c.v.status
	}
	return nil
}

func (c *Client) entryLocked(h Handle, kind Kind) (*entry, error) {
	e, err := c.v.handles.lookup(h)
	if err != nil {
		return nil, err
	}
	if e.owner != c.owner {
		return nil, ErrForeignHandle
	}
	if e.kind != kind {
		return nil, StatusInvalidObject
	}
	return e, nil
}

// OpenFile opens a file and stores it in the handle table.
func (c *Client) OpenFile(path string, flag OpenFlag) (Handle, error) {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return Handle{}, err
	}
	if c.v.handles.Len() >= c.v.handles.Cap() {
		return Handle{}, StatusTooManyOpenFiles
	}

	f, err := c.v.fs.OpenFile(path, flag)
	if err != nil {
		return Handle{}, err
	}
	return c.v.handles.InsertFile(c.owner, f)
}

// CloseFile closes the file and frees its slot. The slot is freed even
// when the close itself fails.
func (c *Client) CloseFile(h Handle) error {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	e, err := c.entryLocked(h, KindFile)
	if err != nil {
		return err
	}
	err = e.file.Close()
	c.v.handles.clear(h.slot)
	return err
}

func (c *Client) Read(h Handle, p []byte) (int, error) {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	e, err := c.entryLocked(h, KindFile)
	if err != nil {
		return 0, err
	}
	return e.file.Read(p)
}

func (c *Client) Write(h Handle, p []byte) (int, error) {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	e, err := c.entryLocked(h, KindFile)
	if err != nil {
		return 0, err
	}
	return e.file.Write(p)
}

// Seek moves the file position; whence follows io.Seeker.
func (c *Client) Seek(h Handle, offset int64, whence int) (int64, error) {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	e, err := c.entryLocked(h, KindFile)
	if err != nil {
		return 0, err
	}
	return e.file.Seek(offset, whence)
}

// Tell returns the current file position.
func (c *Client) Tell(h Handle) (int64, error) {
	return c.Seek(h, 0, io.SeekCurrent)
}

// Truncate cuts the file at the current position.
func (c *Client) Truncate(h Handle) error {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	e, err := c.entryLocked(h, KindFile)
	if err != nil {
		return err
	}
	return e.file.Truncate()
}

func (c *Client) Size(h Handle) (int64, error) {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	e, err := c.entryLocked(h, KindFile)
	if err != nil {
		return 0, err
	}
	return e.file.Size(), nil
}

func (c *Client) Sync(h Handle) error {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	e, err := c.entryLocked(h, KindFile)
	if err != nil {
		return err
	}
	return e.file.Sync()
}

// EOF reports whether the position is at or past the end of the file.
func (c *Client) EOF(h Handle) (bool, error) {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	e, err := c.entryLocked(h, KindFile)
	if err != nil {
		return false, err
	}
	pos, err := e.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, err
	}
	return pos >= e.file.Size(), nil
}

// OpenDir opens a directory for reading.
func (c *Client) OpenDir(path string) (Handle, error) {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return Handle{}, err
	}
	if c.v.handles.Len() >= c.v.handles.Cap() {
		return Handle{}, StatusTooManyOpenFiles
	}

	d, err := c.v.fs.OpenDir(path)
	if err != nil {
		return Handle{}, err
	}
	return c.v.handles.InsertDir(c.owner, d)
}

func (c *Client) CloseDir(h Handle) error {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	e, err := c.entryLocked(h, KindDir)
	if err != nil {
		return err
	}
	err = e.dir.Close()
	c.v.handles.clear(h.slot)
	return err
}

// ReadDir returns the next entry, or io.EOF after the last one.
func (c *Client) ReadDir(h Handle) (FileInfo, error) {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	e, err := c.entryLocked(h, KindDir)
	if err != nil {
		return FileInfo{}, err
	}
	return e.dir.Read()
}

func (c *Client) RewindDir(h Handle) error {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	e, err := c.entryLocked(h, KindDir)
	if err != nil {
		return err
	}
	return e.dir.Rewind()
}

func (c *Client) Stat(path string) (FileInfo, error) {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return FileInfo{}, err
	}
	return c.v.fs.Stat(path)
}

func (c *Client) Remove(path string) error {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return err
	}
	return c.v.fs.Remove(path)
}

func (c *Client) Rename(from, to string) error {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return err
	}
	return c.v.fs.Rename(from, to)
}

// SetAttr changes the attribute bits selected by mask.
func (c *Client) SetAttr(path string, attr, mask Attr) error {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return err
	}
	return c.v.fs.SetAttr(path, attr, mask)
}

func (c *Client) Mkdir(path string) error {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return err
	}
	return c.v.fs.Mkdir(path)
}

func (c *Client) SetTime(path string, t time.Time) error {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return err
	}
	return c.v.fs.SetTime(path, t)
}

// FSInfo returns the total and free size of the volume in bytes.
func (c *Client) FSInfo() (total, free uint64, err error) {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return 0, 0, err
	}
	freeClusters, geo, err := c.v.fs.FreeSpace(c.v.opts.Path)
	if err != nil {
		return 0, 0, err
	}
	return uint64(geo.TotalClusters) * geo.ClusterBytes(),
		uint64(freeClusters) * geo.ClusterBytes(), nil
}

// ErrorDescription returns the human readable text of an error returned by
// any client method.
func (*Client) ErrorDescription(err error) string {
	return Describe(err)
}
