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

package notifications

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ZaparooProject/volumed/pkg/api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mountedPayload = models.VolumeStatusResponse{
	Status:  "OK",
	Path:    "/media/sd",
	Mounted: true,
}

func TestSendNotification_NonBlocking(t *testing.T) {
	t.Parallel()

	ns := make(chan models.Notification)

	done := make(chan struct{})
	go func() {
		VolumeMounted(ns, mountedPayload)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("sendNotification blocked on an unbuffered channel")
	}
}

func TestSendNotification_DropsWhenFull(t *testing.T) {
	t.Parallel()

	ns := make(chan models.Notification, 1)
	ns <- models.Notification{Method: "prefill"}

	done := make(chan struct{})
	go func() {
		for range 10 {
			VolumeEjected(ns, models.VolumeStatusResponse{Status: "no SD card"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("sendNotification blocked when channel was full")
	}

	msg := <-ns
	assert.Equal(t, "prefill", msg.Method)
}

func TestVolumeNotificationMethods(t *testing.T) {
	t.Parallel()

	tests := []struct {
		send   func(chan<- models.Notification, models.VolumeStatusResponse)
		method string
	}{
		{send: VolumeMounted, method: models.NotificationVolumeMounted},
		{send: VolumeMountFailed, method: models.NotificationVolumeMountFailed},
		{send: VolumeEjected, method: models.NotificationVolumeEjected},
		{send: VolumeRemoved, method: models.NotificationVolumeRemoved},
		{send: VolumeFormatted, method: models.NotificationVolumeFormatted},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			t.Parallel()

			ns := make(chan models.Notification, 1)
			tt.send(ns, mountedPayload)

			notification := <-ns
			assert.Equal(t, tt.method, notification.Method)

			var got models.VolumeStatusResponse
			require.NoError(t, json.Unmarshal(notification.Params, &got))
			assert.Equal(t, mountedPayload, got)
		})
	}
}
