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
	"testing"

	"github.com/ZaparooProject/volumed/pkg/testing/mocks"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func sequence(values ...bool) SensorFunc {
	i := 0
	return func() bool {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}

func TestDebouncer(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(sequence(true, false, true, true, true, false, false, false), 3)

	got := make([]bool, 0, 8)
	for range 8 {
		got = append(got, d.Present())
	}
	assert.Equal(t, []bool{false, false, false, false, true, true, true, false}, got)
}

func TestDebouncerSingleSample(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(sequence(true, false), 0)
	assert.True(t, d.Present())
	assert.False(t, d.Present())
}

// TestPropertyDebouncerNeedsAgreement checks the output only flips after
// the raw signal held the new value for the full window.
func TestPropertyDebouncerNeedsAgreement(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		samples := rapid.IntRange(1, 5).Draw(t, "samples")
		raw := rapid.SliceOfN(rapid.Bool(), 1, 50).Draw(t, "raw")

		d := NewDebouncer(sequence(raw...), samples)
		prev := false
		for i := range raw {
			cur := d.Present()
			if cur == prev {
				continue
			}
			if i+1 < samples {
				t.Fatalf("flipped at %d before %d samples", i, samples)
			}
			for _, v := range raw[i+1-samples : i+1] {
				if v != cur {
					t.Fatalf("flipped to %v at %d without agreement", cur, i)
				}
			}
			prev = cur
		}
	})
}

func TestNodeSensor(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	s := NewNodeSensor(fs, "/dev/mmcblk0")
	assert.False(t, s.Present())

	require.NoError(t, afero.WriteFile(fs, "/dev/mmcblk0", nil, 0o600))
	assert.True(t, s.Present(), "node without sysfs entry")

	require.NoError(t, afero.WriteFile(fs, "/sys/class/block/mmcblk0/size", []byte("0\n"), 0o644))
	assert.False(t, s.Present(), "empty USB reader")

	require.NoError(t, afero.WriteFile(fs, "/sys/class/block/mmcblk0/size", []byte("62333952\n"), 0o644))
	assert.True(t, s.Present())

	require.NoError(t, fs.Remove("/dev/mmcblk0"))
	assert.False(t, s.Present())
}

func TestNodeSensorEmptyNode(t *testing.T) {
	t.Parallel()
	assert.False(t, NewNodeSensor(afero.NewMemMapFs(), "").Present())
}

func TestWatchSensorEvents(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dev/sdb", nil, 0o600))

	s, err := NewWatchSensor(fs, "/dev/sdb")
	require.NoError(t, err)

	s.resample()
	assert.True(t, s.Present())

	s.handleEvent(fsnotify.Event{Name: "/dev/sdb", Op: fsnotify.Remove})
	assert.False(t, s.Present())

	s.handleEvent(fsnotify.Event{Name: "/dev/sdc", Op: fsnotify.Create})
	assert.False(t, s.Present(), "other nodes are ignored")

	s.handleEvent(fsnotify.Event{Name: "/dev/sdb", Op: fsnotify.Create})
	assert.True(t, s.Present())

	s.handleEvent(fsnotify.Event{Name: "/dev/sdb", Op: fsnotify.Chmod})
	assert.True(t, s.Present())

	s.Stop()
}

func TestWatchSensorNeedsNode(t *testing.T) {
	t.Parallel()

	_, err := NewWatchSensor(nil, "")
	require.Error(t, err)
}

func TestNewSensorModes(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Node: "/dev/mmcblk0"})
	require.NoError(t, err)
	assert.IsType(t, &NodeSensor{}, s)

	s, err = New(Config{Mode: ModeWatch, Node: "/dev/mmcblk0", Samples: 2})
	require.NoError(t, err)
	_, ok := s.(Starter)
	assert.True(t, ok)

	_, err = New(Config{Mode: "gpio"})
	require.Error(t, err)
}

func TestDebouncerReadsRawSensorOncePerCall(t *testing.T) {
	t.Parallel()

	raw := &mocks.MockSensor{}
	raw.On("Present").Return(true).Times(3)

	d := NewDebouncer(raw, 2)
	assert.False(t, d.Present())
	assert.True(t, d.Present())
	assert.True(t, d.Present())

	raw.AssertNumberOfCalls(t, "Present", 3)
}
