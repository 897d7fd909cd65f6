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
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// WatchSensor tracks the device node with inotify instead of polling the
// filesystem on every read. Present is a single atomic load.
type WatchSensor struct {
	fs       afero.Fs
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	node     string
	wg       sync.WaitGroup
	present  atomic.Bool
	stopOnce sync.Once
}

// NewWatchSensor creates an unstarted watch sensor for node.
func NewWatchSensor(fs afero.Fs, node string) (*WatchSensor, error) {
	if node == "" {
		return nil, errors.New("watch sensor needs a device node")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &WatchSensor{
		fs:       fs,
		node:     filepath.Clean(node),
		stopChan: make(chan struct{}),
	}, nil
}

func (s *WatchSensor) Present() bool {
	return s.present.Load()
}

// Start samples the node once and then follows create and remove events
// in its parent directory.
func (s *WatchSensor) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	dir := filepath.Dir(s.node)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	s.watcher = watcher
	s.resample()

	s.wg.Add(1)
	go s.loop()

	log.Debug().Str("node", s.node).Msg("watching card device node")
	return nil
}

func (s *WatchSensor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	})
}

func (s *WatchSensor) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("device node watcher error")
			// events may have been dropped
			s.resample()
		}
	}
}

func (s *WatchSensor) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != s.node {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		s.present.Store(true)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		s.present.Store(false)
	default:
		return
	}
	log.Debug().Str("node", s.node).Bool("present", s.present.Load()).Msg("device node changed")
}

func (s *WatchSensor) resample() {
	_, err := s.fs.Stat(s.node)
	s.present.Store(err == nil)
}
