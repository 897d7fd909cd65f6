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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZaparooProject/volumed/internal/telemetry"
	"github.com/ZaparooProject/volumed/pkg/api/client"
	"github.com/ZaparooProject/volumed/pkg/cli"
	"github.com/ZaparooProject/volumed/pkg/config"
	"github.com/ZaparooProject/volumed/pkg/helpers"
	"github.com/ZaparooProject/volumed/pkg/service"
	"github.com/ZaparooProject/volumed/pkg/ui/menu"
	"github.com/ZaparooProject/volumed/pkg/ui/tui"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := cli.SetupFlags()
	flags.Pre()

	// the TUI owns the terminal, so only log to stderr without it
	var logWriters []io.Writer
	if !*flags.TUI {
		logWriters = []io.Writer{os.Stderr}
	}

	dirs := helpers.DefaultDirs()
	cfg := cli.Setup(dirs, config.BaseDefaults, logWriters)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pid := helpers.NewPidFile(dirs.TempDir)
	flags.Post(ctx, cfg, pid)

	defer telemetry.Close()
	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	if client.IsServiceRunning(cfg) {
		return errors.New("volumed is already serving the API on this port")
	}

	if err := pid.Write(); err != nil {
		if errors.Is(err, helpers.ErrAlreadyRunning) {
			return errors.New("volumed is already running, use -stop first")
		}
		return fmt.Errorf("error writing pid file: %w", err)
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			log.Warn().Err(err).Msg("error removing pid file")
		}
	}()

	svc, err := service.New(cfg, service.Options{DataDir: dirs.DataDir})
	if err != nil {
		log.Error().Err(err).Msg("error creating service")
		return fmt.Errorf("error creating service: %w", err)
	}

	if !*flags.TUI {
		log.Info().Msg("started in daemon mode")
		return svc.Run(ctx) //nolint:wrapcheck // service errors carry context
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svcErr := make(chan error, 1)
	go func() {
		svcErr <- svc.Run(ctx)
	}()

	notifier := svc.Notifier()
	err = tui.BuildAndRetry(func() (*tview.Application, error) {
		return tui.BuildMain(ctx, svc.Volume(), svc.Icon(), menu.Options{
			OnFormat: notifier.Formatted,
			OnEject:  func(int) { notifier.Ejected() },
		})
	})
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("error running UI")
		<-svcErr
		return fmt.Errorf("error running UI: %w", err)
	}

	return <-svcErr
}
