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

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	NotificationVolumeMounted     = "volume.mounted"
	NotificationVolumeMountFailed = "volume.mount_failed"
	NotificationVolumeEjected     = "volume.ejected"
	NotificationVolumeRemoved     = "volume.removed"
	NotificationVolumeFormatted   = "volume.formatted"
)

const (
	MethodVolumeStatus = "volume.status"
	MethodVolumeInfo   = "volume.info"
	MethodVolumeFormat = "volume.format"
	MethodVolumeEject  = "volume.eject"
	MethodVolumeStat   = "volume.stat"
	MethodVolumeRead   = "volume.readdir"
	MethodVersion      = "version"
)

type Notification struct {
	Method string
	Params json.RawMessage
}

type RequestObject struct {
	ID      *uuid.UUID      `json:"id,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type ErrorObject struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type ResponseObject struct {
	Result  any          `json:"result"`
	Error   *ErrorObject `json:"error,omitempty"`
	JSONRPC string       `json:"jsonrpc"`
	ID      uuid.UUID    `json:"id"`
}

// VolumeStatusResponse is the result of volume.status and the payload of
// every volume notification.
type VolumeStatusResponse struct {
	Status      string `json:"status"`
	Path        string `json:"path"`
	Code        int    `json:"code"`
	OpenHandles int    `json:"openHandles"`
	Mounted     bool   `json:"mounted"`
}

// VolumeInfoResponse is the result of volume.info. LabelError and
// FreeError are set instead of the matching fields when a query failed.
type VolumeInfoResponse struct {
	LabelError     *string `json:"labelError,omitempty"`
	FreeError      *string `json:"freeError,omitempty"`
	Status         string  `json:"status"`
	Label          string  `json:"label"`
	FSType         string  `json:"fsType"`
	Serial         uint32  `json:"serial"`
	ClusterSectors uint32  `json:"clusterSectors"`
	SectorSize     uint32  `json:"sectorSize"`
	TotalKB        uint64  `json:"totalKb"`
	FreeKB         uint64  `json:"freeKb"`
}

// VolumeFormatResponse is the result of volume.format. Status is the
// outcome of the format, Volume the state of the card afterwards.
type VolumeFormatResponse struct {
	Status string               `json:"status"`
	Volume VolumeStatusResponse `json:"volume"`
	Code   int                  `json:"code"`
}

// PathParams are the params of volume.stat and volume.readdir.
type PathParams struct {
	Path string `json:"path" validate:"required,volpath"`
}

type FileInfoResponse struct {
	ModTime time.Time `json:"modTime"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Attr    uint8     `json:"attr"`
	Dir     bool      `json:"dir"`
}

type ReadDirResponse struct {
	Path    string             `json:"path"`
	Entries []FileInfoResponse `json:"entries"`
}

// VolumeEjectResponse is the result of volume.eject.
type VolumeEjectResponse struct {
	ClosedHandles int `json:"closedHandles"`
}

type VersionResponse struct {
	Version  string `json:"version"`
	Platform string `json:"platform"`
}
