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

// Package service assembles the daemon: the volume, its lifecycle loop and
// every consumer of volume notifications.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/ZaparooProject/volumed/pkg/api"
	"github.com/ZaparooProject/volumed/pkg/api/models"
	"github.com/ZaparooProject/volumed/pkg/config"
	"github.com/ZaparooProject/volumed/pkg/notify"
	"github.com/ZaparooProject/volumed/pkg/presence"
	"github.com/ZaparooProject/volumed/pkg/service/broker"
	"github.com/ZaparooProject/volumed/pkg/service/discovery"
	"github.com/ZaparooProject/volumed/pkg/service/lifecycle"
	"github.com/ZaparooProject/volumed/pkg/service/publishers"
	"github.com/ZaparooProject/volumed/pkg/storage/aferofs"
	"github.com/ZaparooProject/volumed/pkg/storage/blockdev"
	"github.com/ZaparooProject/volumed/pkg/volume"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// CardDir is the card tree under the data directory when no host root
	// is configured.
	CardDir = "card"

	notificationQueueSize = 32
	subscriberBuffer      = 32
)

// Options replace the components built from config. Zero values build
// the real ones.
type Options struct {
	Clock       clockwork.Clock
	Filesystem  volume.Filesystem
	BlockDevice volume.BlockDevice
	Sensor      presence.Sensor
	Indicator   notify.Indicator
	// Listener serves the API instead of the configured listen address.
	Listener net.Listener
	// DataDir holds the default card tree.
	DataDir string
}

// Service is a fully wired daemon. Create it with New and run it with Run.
type Service struct {
	cfg           *config.Instance
	clock         clockwork.Clock
	vol           *volume.Volume
	sensor        presence.Sensor
	notifier      *notify.Notifier
	icon          *notify.StatusIcon
	broker        *broker.Broker
	loop          *lifecycle.Loop
	api           *api.Server
	listener      net.Listener
	notifications chan models.Notification
}

func newFilesystem(cfg *config.Instance, clock clockwork.Clock, dataDir string) (volume.Filesystem, error) {
	opts := aferofs.Options{
		Clock:          clock,
		Capacity:       cfg.Capacity(),
		ClusterSectors: uint32(cfg.ClusterSectors()), //nolint:gosec // validated to 0..256
		SectorSize:     uint32(cfg.SectorSize()),     //nolint:gosec // validated to sector sizes
		Type:           aferofs.ParseType(cfg.FSType()),
		ReadOnly:       cfg.ReadOnly(),
	}

	root := cfg.HostRoot()
	if root == "" {
		root = filepath.Join(dataDir, CardDir)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create card directory %s: %w", root, err)
	}
	log.Info().Str("root", root).Msg("serving card tree")
	return aferofs.NewHost(root, opts), nil
}

func newIndicator(cfg *config.Instance, clock clockwork.Clock) notify.Indicator {
	red, green, blue := cfg.IndicatorLEDs()
	if red == "" && green == "" && blue == "" {
		return notify.NopIndicator{}
	}
	return notify.NewSysfsIndicator(nil, clock, red, green, blue, cfg.IndicatorPulse())
}

// New builds every component from cfg without starting anything.
//
//nolint:gocritic // options copied on purpose
func New(cfg *config.Instance, opts Options) (*Service, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	if opts.Filesystem == nil {
		fs, err := newFilesystem(cfg, opts.Clock, opts.DataDir)
		if err != nil {
			return nil, err
		}
		opts.Filesystem = fs
	}

	if opts.BlockDevice == nil {
		powerPath := cfg.PowerControlPath()
		if cfg.PowerCycleEvery() == 0 {
			powerPath = ""
		}
		opts.BlockDevice = blockdev.New(blockdev.Options{
			Clock:      opts.Clock,
			Node:       cfg.DeviceNode(),
			PowerPath:  powerPath,
			SectorSize: cfg.SectorSize(),
		})
	}

	if opts.Sensor == nil {
		sensor, err := presence.New(presence.Config{
			Mode:    cfg.PresenceMode(),
			Node:    cfg.DeviceNode(),
			Samples: cfg.DebounceSamples(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create presence sensor: %w", err)
		}
		opts.Sensor = sensor
	}

	if opts.Indicator == nil {
		opts.Indicator = newIndicator(cfg, opts.Clock)
	}

	vol := volume.New(opts.Filesystem, opts.BlockDevice, volume.Options{
		Clock:           opts.Clock,
		Busy:            opts.Indicator,
		Present:         opts.Sensor.Present,
		Path:            cfg.MountPath(),
		DefaultLabel:    cfg.DefaultLabel(),
		MaxAttempts:     cfg.MountAttempts(),
		PowerCycleEvery: cfg.PowerCycleEvery(),
		Backoff:         cfg.MountBackoff(),
		MaxOpenHandles:  cfg.MaxOpenHandles(),
		SectorSize:      cfg.SectorSize(),
	})

	ns := make(chan models.Notification, notificationQueueSize)
	icon := &notify.StatusIcon{}
	notifier := notify.NewNotifier(vol, opts.Indicator, icon, ns)

	return &Service{
		cfg:           cfg,
		clock:         opts.Clock,
		vol:           vol,
		sensor:        opts.Sensor,
		notifier:      notifier,
		icon:          icon,
		loop:          lifecycle.New(vol, opts.Sensor, notifier, lifecycle.Options{Clock: opts.Clock, PollInterval: cfg.PollInterval()}),
		listener:      opts.Listener,
		notifications: ns,
	}, nil
}

func (s *Service) Volume() *volume.Volume {
	return s.vol
}

func (s *Service) Notifier() *notify.Notifier {
	return s.notifier
}

func (s *Service) Icon() *notify.StatusIcon {
	return s.icon
}

func (s *Service) Lifecycle() *lifecycle.Loop {
	return s.loop
}

// Broker is nil until Run has started.
func (s *Service) Broker() *broker.Broker {
	return s.broker
}

// startPublishers starts every enabled MQTT publisher on its own broker
// subscription.
func startPublishers(cfg *config.Instance, brk *broker.Broker) []*publishers.MQTTPublisher {
	active := make([]*publishers.MQTTPublisher, 0)
	for _, mqttCfg := range cfg.GetMQTTPublishers() {
		// nil means enabled
		if mqttCfg.Enabled != nil && !*mqttCfg.Enabled {
			continue
		}

		log.Info().Msgf("starting MQTT publisher: %s (topic: %s)", mqttCfg.Broker, mqttCfg.Topic)
		notifs, id := brk.SubscribeWithLast(subscriberBuffer)
		publisher := publishers.NewMQTTPublisher(mqttCfg.Broker, mqttCfg.Topic, mqttCfg.Filter)
		if err := publisher.Start(notifs); err != nil {
			log.Error().Err(err).Msgf("failed to start MQTT publisher for %s", mqttCfg.Broker)
			brk.Unsubscribe(id)
			continue
		}
		active = append(active, publisher)
	}

	if len(active) > 0 {
		log.Info().Msgf("started %d MQTT publisher(s)", len(active))
	}
	return active
}

// advertiseStatus keeps the mDNS status record in step with the volume.
func advertiseStatus(ctx context.Context, disc *discovery.Service, brk *broker.Broker) {
	notifs, id := brk.SubscribeWithLast(subscriberBuffer)
	defer brk.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-notifs:
			if !ok {
				return
			}
			var payload models.VolumeStatusResponse
			if err := json.Unmarshal(notif.Params, &payload); err != nil {
				log.Debug().Err(err).Str("method", notif.Method).Msg("unreadable notification payload")
				continue
			}
			disc.SetStatus(payload.Status)
		}
	}
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails. On return the card is unmounted.
func (s *Service) Run(ctx context.Context) error {
	log.Info().Msgf("version: %s", config.AppVersion)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.broker = broker.NewBroker(ctx, s.notifications)
	s.broker.Start()
	defer s.broker.Stop()

	if starter, ok := s.sensor.(presence.Starter); ok {
		if err := starter.Start(); err != nil {
			return fmt.Errorf("failed to start presence sensor: %w", err)
		}
		defer starter.Stop()
	}

	s.api = api.NewServer(s.cfg, s.vol, s.notifier, s.broker, api.Options{Clock: s.clock})

	active := startPublishers(s.cfg, s.broker)
	defer func() {
		for _, publisher := range active {
			publisher.Stop()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if s.cfg.DiscoveryEnabled() {
		log.Info().Msg("starting mDNS discovery service")
		disc := discovery.New(s.cfg)
		if err := disc.Start(); err != nil {
			log.Error().Err(err).Msg("mDNS discovery failed to start (continuing without discovery)")
		}
		defer disc.Stop()
		g.Go(func() error {
			advertiseStatus(gctx, disc, s.broker)
			return nil
		})
	}

	g.Go(func() error {
		if s.listener != nil {
			return s.api.Serve(gctx, s.listener) //nolint:wrapcheck // server errors carry context
		}
		return s.api.Start(gctx) //nolint:wrapcheck // server errors carry context
	})

	g.Go(func() error {
		s.loop.Run(gctx)
		return nil
	})

	err := g.Wait()

	closed := s.vol.Unmount()
	log.Info().Int("closed", closed).Msg("volume unmounted on shutdown")

	if err != nil {
		return fmt.Errorf("service stopped: %w", err)
	}
	return nil
}
