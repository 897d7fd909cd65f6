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

package mocks

import (
	"fmt"
	"time"

	"github.com/ZaparooProject/volumed/pkg/volume"
	"github.com/stretchr/testify/mock"
)

func mockErr(err error) error {
	if err != nil {
		return fmt.Errorf("mock operation failed: %w", err)
	}
	return nil
}

// MockFilesystem is a mock implementation of volume.Filesystem using
// testify/mock.
type MockFilesystem struct {
	mock.Mock
}

func (m *MockFilesystem) Mount(path string) error {
	args := m.Called(path)
	return mockErr(args.Error(0))
}

func (m *MockFilesystem) Unmount(path string) error {
	args := m.Called(path)
	return mockErr(args.Error(0))
}

func (m *MockFilesystem) Format(path string, work []byte) error {
	args := m.Called(path, work)
	return mockErr(args.Error(0))
}

func (m *MockFilesystem) FreeSpace(path string) (uint32, volume.Geometry, error) {
	args := m.Called(path)
	geo, _ := args.Get(1).(volume.Geometry)
	free, _ := args.Get(0).(uint32)
	return free, geo, mockErr(args.Error(2))
}

func (m *MockFilesystem) Label(path string) (string, uint32, error) {
	args := m.Called(path)
	serial, _ := args.Get(1).(uint32)
	return args.String(0), serial, mockErr(args.Error(2))
}

func (m *MockFilesystem) SetLabel(path, label string) error {
	args := m.Called(path, label)
	return mockErr(args.Error(0))
}

func (m *MockFilesystem) OpenFile(path string, flag volume.OpenFlag) (volume.File, error) {
	args := m.Called(path, flag)
	if f, ok := args.Get(0).(volume.File); ok {
		return f, mockErr(args.Error(1))
	}
	return nil, mockErr(args.Error(1))
}

func (m *MockFilesystem) OpenDir(path string) (volume.Dir, error) {
	args := m.Called(path)
	if d, ok := args.Get(0).(volume.Dir); ok {
		return d, mockErr(args.Error(1))
	}
	return nil, mockErr(args.Error(1))
}

func (m *MockFilesystem) Stat(path string) (volume.FileInfo, error) {
	args := m.Called(path)
	fi, _ := args.Get(0).(volume.FileInfo)
	return fi, mockErr(args.Error(1))
}

func (m *MockFilesystem) Remove(path string) error {
	args := m.Called(path)
	return mockErr(args.Error(0))
}

func (m *MockFilesystem) Rename(from, to string) error {
	args := m.Called(from, to)
	return mockErr(args.Error(0))
}

func (m *MockFilesystem) SetAttr(path string, attr, mask volume.Attr) error {
	args := m.Called(path, attr, mask)
	return mockErr(args.Error(0))
}

func (m *MockFilesystem) Mkdir(path string) error {
	args := m.Called(path)
	return mockErr(args.Error(0))
}

func (m *MockFilesystem) SetTime(path string, t time.Time) error {
	args := m.Called(path, t)
	return mockErr(args.Error(0))
}

// SetupHealthyMount configures a card that mounts on the first attempt
// with a 1 GiB FAT32 layout.
func (m *MockFilesystem) SetupHealthyMount(path string) {
	m.On("Mount", path).Return(nil)
	m.On("FreeSpace", path).Return(uint32(1024), HealthyGeometry, nil)
	m.On("Unmount", path).Return(nil).Maybe()
}

// HealthyGeometry is a FAT32 layout of 32768 clusters of 32 KiB.
var HealthyGeometry = volume.Geometry{
	Type:           volume.FSFAT32,
	ClusterSectors: 64,
	SectorSize:     512,
	TotalClusters:  32768,
}

// MockFile is a mock implementation of volume.File.
type MockFile struct {
	mock.Mock
}

func (m *MockFile) Read(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *MockFile) Write(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *MockFile) Seek(offset int64, whence int) (int64, error) {
	args := m.Called(offset, whence)
	pos, _ := args.Get(0).(int64)
	return pos, args.Error(1)
}

func (m *MockFile) Truncate() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockFile) Size() int64 {
	args := m.Called()
	size, _ := args.Get(0).(int64)
	return size
}

func (m *MockFile) Sync() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockFile) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockDir is a mock implementation of volume.Dir.
type MockDir struct {
	mock.Mock
}

func (m *MockDir) Read() (volume.FileInfo, error) {
	args := m.Called()
	fi, _ := args.Get(0).(volume.FileInfo)
	return fi, args.Error(1)
}

func (m *MockDir) Rewind() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDir) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockBlockDevice is a mock implementation of volume.BlockDevice.
type MockBlockDevice struct {
	mock.Mock
}

func (m *MockBlockDevice) Init(powerCycle bool) error {
	args := m.Called(powerCycle)
	return mockErr(args.Error(0))
}

// MockSensor is a mock presence sensor.
type MockSensor struct {
	mock.Mock
}

func (m *MockSensor) Present() bool {
	args := m.Called()
	return args.Bool(0)
}
