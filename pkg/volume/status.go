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
	"errors"
	"fmt"
)

// Status is the state of the volume and the result code of every
// filesystem operation. It implements error so subsystem results can be
// returned and matched with errors.Is directly.
type Status int

// The first block of codes mirrors the result codes of a FAT filesystem
// driver and is passed through verbatim. StatusNoCard and
// StatusLowLevelError are owned by the volume itself.
const (
	StatusOK Status = iota
	StatusDiskError
	StatusInternalError
	StatusNotReady
	StatusNoFile
	StatusNoPath
	StatusInvalidName
	StatusDenied
	StatusExist
	StatusInvalidObject
	StatusWriteProtected
	StatusInvalidDrive
	StatusNotEnabled
	StatusNoFilesystem
	StatusMkfsAborted
	StatusTimeout
	StatusLocked
	StatusOutOfMemory
	StatusTooManyOpenFiles
	StatusInvalidParameter
	StatusNoCard
	StatusLowLevelError
)

// StatusMounted is the status of a healthy, mounted volume.
const StatusMounted = StatusOK

var statusDescriptions = [...]string{
	StatusOK:               "OK",
	StatusDiskError:        "disk error",
	StatusInternalError:    "internal error",
	StatusNotReady:         "not ready",
	StatusNoFile:           "no file",
	StatusNoPath:           "no path",
	StatusInvalidName:      "invalid name",
	StatusDenied:           "denied",
	StatusExist:            "already exists",
	StatusInvalidObject:    "invalid object",
	StatusWriteProtected:   "write protected",
	StatusInvalidDrive:     "invalid drive",
	StatusNotEnabled:       "not enabled",
	StatusNoFilesystem:     "no filesystem",
	StatusMkfsAborted:      "format aborted",
	StatusTimeout:          "timeout",
	StatusLocked:           "locked",
	StatusOutOfMemory:      "not enough memory",
	StatusTooManyOpenFiles: "too many open files",
	StatusInvalidParameter: "invalid parameter",
	StatusNoCard:           "no SD card",
	StatusLowLevelError:    "SD low level error",
}

// String returns the human readable description of the status.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusDescriptions) {
		return fmt.Sprintf("unknown error (%d)", int(s))
	}
	return statusDescriptions[s]
}

func (s Status) Error() string {
	return s.String()
}

// Usable reports whether a volume in this status can serve I/O. A card
// without a filesystem is present but has nothing to serve.
func (s Status) Usable() bool {
	return s == StatusOK
}

// Mountable reports whether the status is an acceptable terminal outcome
// of a mount attempt.
func (s Status) Mountable() bool {
	return s == StatusOK || s == StatusNoFilesystem
}

var (
	// ErrHandleInvalidated is returned for operations on a handle that was
	// closed, either by its owner or by a forced close during unmount.
	ErrHandleInvalidated = errors.New("handle invalidated")
	// ErrForeignHandle is returned when a client uses a handle opened by
	// another client.
	ErrForeignHandle = errors.New("handle owned by another client")
)

// StatusOf maps an error returned by the filesystem subsystem to a Status.
// A nil error is StatusOK and errors which carry no Status are reported as
// StatusInternalError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var st Status
	if errors.As(err, &st) {
		return st
	}
	if errors.Is(err, ErrHandleInvalidated) || errors.Is(err, ErrForeignHandle) {
		return StatusInvalidObject
	}
	return StatusInternalError
}

// Describe returns the description of any error produced by this package.
func Describe(err error) string {
	if err == nil {
		return StatusOK.String()
	}
	var st Status
	if errors.As(err, &st) {
		return st.String()
	}
	return err.Error()
}
