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

package volume_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZaparooProject/volumed/pkg/testing/mocks"
	"github.com/ZaparooProject/volumed/pkg/volume"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errNoResponse = errors.New("card not responding")

type busyRecorder struct {
	on  atomic.Int32
	off atomic.Int32
}

func (b *busyRecorder) SetBusy(busy bool) {
	if busy {
		b.on.Add(1)
	} else {
		b.off.Add(1)
	}
}

func newMounted(t *testing.T, opts volume.Options) (*volume.Volume, *mocks.MockFilesystem) {
	t.Helper()

	fs := &mocks.MockFilesystem{}
	fs.SetupHealthyMount("/")
	dev := &mocks.MockBlockDevice{}
	dev.On("Init", mock.Anything).Return(nil)

	vol := volume.New(fs, dev, opts)
	require.Equal(t, volume.StatusOK, vol.Mount())
	return vol, fs
}

func TestNewStartsWithoutCard(t *testing.T) {
	t.Parallel()

	vol := volume.New(&mocks.MockFilesystem{}, &mocks.MockBlockDevice{}, volume.Options{})
	assert.Equal(t, volume.StatusNoCard, vol.Status())
	assert.Equal(t, volume.DefaultMountPath, vol.Path())
	assert.Equal(t, 0, vol.OpenHandles())
}

func TestMountFirstAttempt(t *testing.T) {
	t.Parallel()

	fs := &mocks.MockFilesystem{}
	fs.SetupHealthyMount("/")
	dev := &mocks.MockBlockDevice{}
	dev.On("Init", true).Return(nil).Once()
	busy := &busyRecorder{}

	vol := volume.New(fs, dev, volume.Options{
		Clock: clockwork.NewFakeClock(),
		Busy:  busy,
	})

	assert.Equal(t, volume.StatusMounted, vol.Mount())
	assert.Equal(t, volume.StatusMounted, vol.Status())
	assert.Equal(t, int32(1), busy.on.Load())
	assert.Equal(t, int32(1), busy.off.Load())
	dev.AssertExpectations(t)
	fs.AssertCalled(t, "FreeSpace", "/")
}

func TestMountBlankCard(t *testing.T) {
	t.Parallel()

	fs := &mocks.MockFilesystem{}
	fs.On("Mount", "/").Return(volume.StatusNoFilesystem)
	fs.On("FreeSpace", "/").Return(uint32(0), volume.Geometry{}, volume.StatusNoFilesystem)
	dev := &mocks.MockBlockDevice{}
	dev.On("Init", true).Return(nil)

	vol := volume.New(fs, dev, volume.Options{Clock: clockwork.NewFakeClock()})

	assert.Equal(t, volume.StatusNoFilesystem, vol.Mount())
	dev.AssertNumberOfCalls(t, "Init", 1)
}

func TestMountExhaustsRetries(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	fs := &mocks.MockFilesystem{}
	dev := &mocks.MockBlockDevice{}
	dev.On("Init", true).Return(errNoResponse).Once()
	dev.On("Init", false).Return(errNoResponse).Times(9)

	vol := volume.New(fs, dev, volume.Options{
		Clock:   clock,
		Backoff: volume.DefaultBackoff,
	})

	start := clock.Now()
	done := make(chan volume.Status, 1)
	go func() {
		done <- vol.Mount()
	}()

	for range volume.DefaultMaxAttempts {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Second)
	}

	select {
	case st := <-done:
		assert.Equal(t, volume.StatusLowLevelError, st)
	case <-ctx.Done():
		t.Fatal("mount did not return after all attempts")
	}

	assert.Equal(t, 10*time.Second, clock.Since(start))
	assert.Equal(t, volume.StatusLowLevelError, vol.Status())
	dev.AssertExpectations(t)
	fs.AssertNotCalled(t, "Mount", mock.Anything)
}

func TestMountRecoversAfterBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	fs := &mocks.MockFilesystem{}
	fs.SetupHealthyMount("/")
	dev := &mocks.MockBlockDevice{}
	dev.On("Init", true).Return(errNoResponse).Once()
	dev.On("Init", false).Return(errNoResponse).Once()
	dev.On("Init", false).Return(nil).Once()

	vol := volume.New(fs, dev, volume.Options{Clock: clock, Backoff: time.Second})

	start := clock.Now()
	done := make(chan volume.Status, 1)
	go func() {
		done <- vol.Mount()
	}()

	for range 2 {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Second)
	}

	select {
	case st := <-done:
		assert.Equal(t, volume.StatusOK, st)
	case <-ctx.Done():
		t.Fatal("mount did not return")
	}
	assert.Equal(t, 2*time.Second, clock.Since(start))
	dev.AssertExpectations(t)
}

func TestMountHoldsLockDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	fs := &mocks.MockFilesystem{}
	fs.SetupHealthyMount("/")
	dev := &mocks.MockBlockDevice{}
	dev.On("Init", true).Return(errNoResponse).Once()
	dev.On("Init", false).Return(nil).Once()

	vol := volume.New(fs, dev, volume.Options{Clock: clock, Backoff: time.Second})

	go vol.Mount()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	statusDone := make(chan volume.Status, 1)
	go func() {
		statusDone <- vol.Status()
	}()

	select {
	case <-statusDone:
		t.Fatal("status read while mount was sleeping")
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(time.Second)
	select {
	case st := <-statusDone:
		assert.Equal(t, volume.StatusOK, st)
	case <-ctx.Done():
		t.Fatal("status never returned")
	}
}

func TestMountPowerCycleCadence(t *testing.T) {
	t.Parallel()

	dev := &mocks.MockBlockDevice{}
	dev.On("Init", mock.Anything).Return(errNoResponse)

	vol := volume.New(&mocks.MockFilesystem{}, dev, volume.Options{
		Clock:           clockwork.NewRealClock(),
		MaxAttempts:     7,
		PowerCycleEvery: 3,
	})

	assert.Equal(t, volume.StatusLowLevelError, vol.Mount())
	dev.AssertNumberOfCalls(t, "Init", 7)

	powerCycles := 0
	for _, call := range dev.Calls {
		if pc, ok := call.Arguments.Get(0).(bool); ok && pc {
			powerCycles++
		}
	}
	// attempts 0, 3 and 6
	assert.Equal(t, 3, powerCycles)
}

func TestMountStopsWhenCardRemoved(t *testing.T) {
	t.Parallel()

	var probes atomic.Int32
	dev := &mocks.MockBlockDevice{}
	dev.On("Init", mock.Anything).Return(errNoResponse)

	vol := volume.New(&mocks.MockFilesystem{}, dev, volume.Options{
		Clock: clockwork.NewRealClock(),
		Present: func() bool {
			return probes.Add(1) <= 2
		},
	})

	assert.Equal(t, volume.StatusNoCard, vol.Mount())
	dev.AssertNumberOfCalls(t, "Init", 2)
}

func TestMountFreeSpaceFailure(t *testing.T) {
	t.Parallel()

	fs := &mocks.MockFilesystem{}
	fs.On("Mount", "/").Return(nil)
	fs.On("FreeSpace", "/").Return(uint32(0), volume.Geometry{}, volume.StatusDiskError)
	dev := &mocks.MockBlockDevice{}
	dev.On("Init", mock.Anything).Return(nil)

	vol := volume.New(fs, dev, volume.Options{
		Clock:       clockwork.NewRealClock(),
		MaxAttempts: 3,
	})

	assert.Equal(t, volume.StatusDiskError, vol.Mount())
	fs.AssertNumberOfCalls(t, "Mount", 3)
}

func TestUnmountSweepsHandles(t *testing.T) {
	t.Parallel()

	vol, fs := newMounted(t, volume.Options{})

	file := &mocks.MockFile{}
	file.On("Close").Return(errors.New("flush failed")).Once()
	dir := &mocks.MockDir{}
	dir.On("Close").Return(nil).Once()
	fs.On("OpenFile", "/a.txt", volume.OpenRead).Return(file, nil)
	fs.On("OpenDir", "/").Return(dir, nil)

	owner := vol.NewClient("test")
	other := vol.NewClient("other")
	fh, err := owner.OpenFile("/a.txt", volume.OpenRead)
	require.NoError(t, err)
	_, err = other.OpenDir("/")
	require.NoError(t, err)
	require.Equal(t, 2, vol.OpenHandles())

	assert.Equal(t, 2, vol.Unmount())

	assert.Equal(t, volume.StatusNoCard, vol.Status())
	assert.Equal(t, 0, vol.OpenHandles())
	file.AssertExpectations(t)
	dir.AssertExpectations(t)
	fs.AssertCalled(t, "Unmount", "/")

	_, err = owner.Read(fh, make([]byte, 8))
	require.ErrorIs(t, err, volume.ErrHandleInvalidated)
	file.AssertNotCalled(t, "Read", mock.Anything)
}

func TestUnmountIgnoresUnmountError(t *testing.T) {
	t.Parallel()

	fs := &mocks.MockFilesystem{}
	fs.On("Unmount", "/").Return(volume.StatusInvalidDrive)

	vol := volume.New(fs, &mocks.MockBlockDevice{}, volume.Options{})
	assert.Equal(t, 0, vol.Unmount())
	assert.Equal(t, volume.StatusNoCard, vol.Status())
}

func TestEjectReportsLoadedCard(t *testing.T) {
	t.Parallel()

	fs := &mocks.MockFilesystem{}
	fs.On("Mount", "/").Return(volume.StatusNoFilesystem)
	fs.On("FreeSpace", "/").Return(uint32(0), volume.Geometry{}, volume.StatusNoFilesystem)
	fs.On("Unmount", "/").Return(nil)
	dev := &mocks.MockBlockDevice{}
	dev.On("Init", mock.Anything).Return(nil)

	vol := volume.New(fs, dev, volume.Options{})
	require.Equal(t, volume.StatusNoFilesystem, vol.Mount())

	closed, ejected := vol.Eject()
	assert.Equal(t, 0, closed)
	assert.True(t, ejected, "a blank card is still a loaded card")
	assert.Equal(t, volume.StatusNoCard, vol.Status())

	_, ejected = vol.Eject()
	assert.False(t, ejected)
}

func TestFormatBlankCard(t *testing.T) {
	t.Parallel()

	fs := &mocks.MockFilesystem{}
	fs.On("Mount", "/").Return(volume.StatusNoFilesystem).Once()
	fs.On("FreeSpace", "/").Return(uint32(0), volume.Geometry{}, volume.StatusNoFilesystem).Once()
	fs.On("Format", "/", mock.MatchedBy(func(work []byte) bool {
		return len(work) == volume.DefaultSectorSize
	})).Return(nil).Once()
	fs.On("SetLabel", "/", "ZAPAROO SD").Return(nil).Once()
	fs.On("Mount", "/").Return(nil).Once()
	dev := &mocks.MockBlockDevice{}
	dev.On("Init", true).Return(nil)

	vol := volume.New(fs, dev, volume.Options{})
	require.Equal(t, volume.StatusNoFilesystem, vol.Mount())

	assert.Equal(t, volume.StatusMounted, vol.Format())
	assert.Equal(t, volume.StatusMounted, vol.Status())
	fs.AssertExpectations(t)
}

func TestFormatWithoutCard(t *testing.T) {
	t.Parallel()

	fs := &mocks.MockFilesystem{}
	vol := volume.New(fs, &mocks.MockBlockDevice{}, volume.Options{})

	assert.Equal(t, volume.StatusNoCard, vol.Format())
	fs.AssertNotCalled(t, "Format", mock.Anything, mock.Anything)
}

func TestFormatOutOfMemoryKeepsState(t *testing.T) {
	t.Parallel()

	vol, fs := newMounted(t, volume.Options{
		Allocator: volume.AllocatorFunc(func(int) ([]byte, bool) {
			return nil, false
		}),
	})
	file := &mocks.MockFile{}
	fs.On("OpenFile", "/keep", volume.OpenRead).Return(file, nil)
	_, err := vol.NewClient("test").OpenFile("/keep", volume.OpenRead)
	require.NoError(t, err)

	assert.Equal(t, volume.StatusOutOfMemory, vol.Format())
	assert.Equal(t, volume.StatusMounted, vol.Status())
	assert.Equal(t, 1, vol.OpenHandles())
	fs.AssertNotCalled(t, "Format", mock.Anything, mock.Anything)
}

func TestFormatFailure(t *testing.T) {
	t.Parallel()

	vol, fs := newMounted(t, volume.Options{DefaultLabel: "games"})
	file := &mocks.MockFile{}
	file.On("Close").Return(nil).Once()
	fs.On("OpenFile", "/f", volume.OpenWrite).Return(file, nil)
	fs.On("Format", "/", mock.Anything).Return(volume.StatusDiskError)

	_, err := vol.NewClient("test").OpenFile("/f", volume.OpenWrite)
	require.NoError(t, err)

	assert.Equal(t, volume.StatusDiskError, vol.Format())
	assert.Equal(t, volume.StatusDiskError, vol.Status())
	assert.Equal(t, 0, vol.OpenHandles())
	file.AssertExpectations(t)
	fs.AssertNotCalled(t, "SetLabel", mock.Anything, mock.Anything)
}

func TestInfoMounted(t *testing.T) {
	t.Parallel()

	vol, fs := newMounted(t, volume.Options{})
	fs.On("Label", "/").Return("ZAPAROO SD", uint32(1234), nil)

	info := vol.Info()
	require.True(t, info.OK())
	assert.Equal(t, "ZAPAROO SD", info.Label)
	assert.Equal(t, uint32(1234), info.Serial)
	assert.Equal(t, volume.FSFAT32, info.Geometry.Type)
	assert.Equal(t, uint64(1048576), info.TotalKB())
	assert.Equal(t, uint64(32768), info.FreeKB())
}

func TestInfoLabelError(t *testing.T) {
	t.Parallel()

	vol, fs := newMounted(t, volume.Options{})
	fs.On("Label", "/").Return("", uint32(0), volume.StatusDiskError)

	info := vol.Info()
	assert.False(t, info.OK())
	require.ErrorIs(t, info.LabelErr, volume.StatusDiskError)
	require.NoError(t, info.FreeErr)
}

func TestInfoWithoutCard(t *testing.T) {
	t.Parallel()

	fs := &mocks.MockFilesystem{}
	vol := volume.New(fs, &mocks.MockBlockDevice{}, volume.Options{})

	info := vol.Info()
	assert.Equal(t, volume.StatusNoCard, info.Status)
	require.ErrorIs(t, info.LabelErr, volume.StatusNoCard)
	require.ErrorIs(t, info.FreeErr, volume.StatusNoCard)
	fs.AssertNotCalled(t, "Label", mock.Anything)
	fs.AssertNotCalled(t, "FreeSpace", mock.Anything)
}
