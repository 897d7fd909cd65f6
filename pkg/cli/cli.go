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

// Package cli implements the command line flags. Apart from -version and
// -stop every command is sent to the running daemon over the API.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/ZaparooProject/volumed/internal/telemetry"
	"github.com/ZaparooProject/volumed/pkg/api/client"
	"github.com/ZaparooProject/volumed/pkg/api/models"
	"github.com/ZaparooProject/volumed/pkg/config"
	"github.com/ZaparooProject/volumed/pkg/helpers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	CmdStatus = "status"
	CmdInfo   = "info"
	CmdFormat = "format"
	CmdEject  = "eject"
	CmdWait   = "wait"
	CmdAPI    = "api"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrFormatFailed   = errors.New("format failed")
	ErrMountFailed    = errors.New("mount failed")
)

type Flags struct {
	Status  *bool
	Info    *bool
	Format  *bool
	Eject   *bool
	Wait    *bool
	Stop    *bool
	TUI     *bool
	Version *bool
	API     *string
}

// SetupFlags defines the flags on the default flag set.
func SetupFlags() *Flags {
	return &Flags{
		Status: flag.Bool(
			"status",
			false,
			"print the SD card status",
		),
		Info: flag.Bool(
			"info",
			false,
			"print label, type and free space of the SD card",
		),
		Format: flag.Bool(
			"format",
			false,
			"format the SD card without confirmation",
		),
		Eject: flag.Bool(
			"eject",
			false,
			"close all files and unmount the SD card",
		),
		Wait: flag.Bool(
			"wait",
			false,
			"wait for the next mount and print its status",
		),
		Stop: flag.Bool(
			"stop",
			false,
			"stop the running daemon",
		),
		TUI: flag.Bool(
			"tui",
			false,
			"run the daemon with the card menu in the terminal",
		),
		Version: flag.Bool(
			"version",
			false,
			"print version and exit",
		),
		API: flag.String(
			"api",
			"",
			"send method and params to API and print response",
		),
	}
}

// Pre parses flags and handles the ones that need no setup.
func (f *Flags) Pre() {
	flag.Parse()

	if *f.Version {
		_, _ = fmt.Printf("%s v%s (%s)\n", config.AppName, config.AppVersion, runtime.GOOS)
		os.Exit(0)
	}
}

// Command returns the API command selected by the flags and its argument,
// or "" when the daemon should run.
func (f *Flags) Command() (name, arg string) {
	switch {
	case *f.Status:
		return CmdStatus, ""
	case *f.Info:
		return CmdInfo, ""
	case *f.Format:
		return CmdFormat, ""
	case *f.Eject:
		return CmdEject, ""
	case *f.Wait:
		return CmdWait, ""
	case *f.API != "":
		return CmdAPI, *f.API
	default:
		return "", ""
	}
}

// Post handles the stop flag and API commands, exiting when one was
// given. It returns when the daemon should be started.
func (f *Flags) Post(ctx context.Context, cfg *config.Instance, pid *helpers.PidFile) {
	if *f.Stop {
		if err := pid.Stop(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error stopping service: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	name, arg := f.Command()
	if name == "" {
		return
	}

	if err := Run(ctx, client.NewLocalAPIClient(cfg), os.Stdout, name, arg); err != nil {
		log.Error().Err(err).Str("command", name).Msg("command failed")
		if !errors.Is(err, ErrFormatFailed) && !errors.Is(err, ErrMountFailed) {
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
	os.Exit(0)
}

// Run executes one command against the daemon and prints its output to w.
func Run(ctx context.Context, c client.APIClient, w io.Writer, name, arg string) error {
	switch name {
	case CmdStatus:
		return printStatus(ctx, c, w)
	case CmdInfo:
		return printInfo(ctx, c, w)
	case CmdFormat:
		return printFormat(ctx, c, w)
	case CmdEject:
		return printEject(ctx, c, w)
	case CmdWait:
		return printWait(ctx, c, w)
	case CmdAPI:
		return callAPI(ctx, c, w, arg)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
}

func callInto(ctx context.Context, c client.APIClient, method string, v any) error {
	resp, err := c.Call(ctx, method, "")
	if err != nil {
		return err //nolint:wrapcheck // client errors are already wrapped
	}
	if err := json.Unmarshal([]byte(resp), v); err != nil {
		return fmt.Errorf("error decoding %s response: %w", method, err)
	}
	return nil
}

func printStatus(ctx context.Context, c client.APIClient, w io.Writer) error {
	var status models.VolumeStatusResponse
	if err := callInto(ctx, c, models.MethodVolumeStatus, &status); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "SD status: %s\n", status.Status)
	return nil
}

// InfoLines renders volume info the way the console prints it. When a
// query failed the volume status and both query results are listed.
func InfoLines(info models.VolumeInfoResponse) []string {
	if info.LabelError != nil || info.FreeError != nil {
		describe := func(msg *string) string {
			if msg == nil {
				return "OK"
			}
			return *msg
		}
		return []string{
			"SD status error: " + info.Status,
			"Label error: " + describe(info.LabelError),
			"Get free error: " + describe(info.FreeError),
		}
	}
	return []string{
		"Label: " + info.Label,
		fmt.Sprintf("%s, S/N: %d", strings.ToUpper(info.FSType), info.Serial),
		fmt.Sprintf("Cluster: %d sectors", info.ClusterSectors),
		fmt.Sprintf("Sector: %d bytes", info.SectorSize),
		fmt.Sprintf("%d KB total", info.TotalKB),
		fmt.Sprintf("%d KB free", info.FreeKB),
	}
}

func printInfo(ctx context.Context, c client.APIClient, w io.Writer) error {
	var info models.VolumeInfoResponse
	if err := callInto(ctx, c, models.MethodVolumeInfo, &info); err != nil {
		return err
	}
	for _, line := range InfoLines(info) {
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}

func printFormat(ctx context.Context, c client.APIClient, w io.Writer) error {
	_, _ = fmt.Fprintln(w, "formatting SD card, please wait")

	var resp models.VolumeFormatResponse
	if err := callInto(ctx, c, models.MethodVolumeFormat, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		_, _ = fmt.Fprintf(w, "SD card format error: %s\n", resp.Status)
		return ErrFormatFailed
	}
	_, _ = fmt.Fprintln(w, "SD card formatted")
	return nil
}

func printEject(ctx context.Context, c client.APIClient, w io.Writer) error {
	var resp models.VolumeEjectResponse
	if err := callInto(ctx, c, models.MethodVolumeEject, &resp); err != nil {
		return err
	}
	if resp.ClosedHandles > 0 {
		_, _ = fmt.Fprintf(w, "closed %d open files\n", resp.ClosedHandles)
	}
	_, _ = fmt.Fprintln(w, "SD card can be pulled out")
	return nil
}

func printWait(ctx context.Context, c client.APIClient, w io.Writer) error {
	params, err := c.WaitNotification(ctx, -1,
		models.NotificationVolumeMounted,
		models.NotificationVolumeMountFailed,
	)
	if err != nil {
		return err //nolint:wrapcheck // client errors are already wrapped
	}

	var status models.VolumeStatusResponse
	if err := json.Unmarshal([]byte(params), &status); err != nil {
		return fmt.Errorf("error decoding notification: %w", err)
	}
	_, _ = fmt.Fprintf(w, "SD status: %s\n", status.Status)
	if !status.Mounted && status.Code != 0 {
		return ErrMountFailed
	}
	return nil
}

// callAPI sends "method:params" and prints the raw result.
func callAPI(ctx context.Context, c client.APIClient, w io.Writer, arg string) error {
	method, params, _ := strings.Cut(arg, ":")
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err //nolint:wrapcheck // client errors are already wrapped
	}
	_, _ = fmt.Fprintln(w, resp)
	return nil
}

// Setup creates the directories, starts logging and loads the config.
//
//nolint:gocritic // defaults are copied into the instance
func Setup(dirs helpers.Dirs, defaults config.Values, writers []io.Writer) *config.Instance {
	if err := helpers.EnsureDirectories(dirs); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error creating directories: %v\n", err)
		os.Exit(1)
	}

	if err := helpers.InitLogging(dirs, writers); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.NewConfig(dirs.ConfigDir, defaults)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// error reporting is opt-in
	if err := telemetry.Init(telemetry.Options{
		Enabled:     cfg.ErrorReporting(),
		DSN:         cfg.ErrorReportingDSN(),
		DeviceID:    cfg.DeviceID(),
		AppVersion:  config.AppVersion,
		Environment: runtime.GOOS,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	return cfg
}
