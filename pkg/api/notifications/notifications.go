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

	"github.com/ZaparooProject/volumed/pkg/api/models"
	"github.com/rs/zerolog/log"
)

// sendNotification never blocks. The lifecycle loop sends these and must
// not stall behind a slow consumer.
func sendNotification(ns chan<- models.Notification, method string, payload any) {
	var params json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("method", method).Msg("marshalling notification params")
			return
		}
		params = data
	}

	select {
	case ns <- models.Notification{Method: method, Params: params}:
	default:
		log.Warn().Str("method", method).Msg("notification channel full, dropping notification")
	}
}

func VolumeMounted(ns chan<- models.Notification, payload models.VolumeStatusResponse) {
	sendNotification(ns, models.NotificationVolumeMounted, payload)
}

func VolumeMountFailed(ns chan<- models.Notification, payload models.VolumeStatusResponse) {
	sendNotification(ns, models.NotificationVolumeMountFailed, payload)
}

func VolumeEjected(ns chan<- models.Notification, payload models.VolumeStatusResponse) {
	sendNotification(ns, models.NotificationVolumeEjected, payload)
}

func VolumeRemoved(ns chan<- models.Notification, payload models.VolumeStatusResponse) {
	sendNotification(ns, models.NotificationVolumeRemoved, payload)
}

func VolumeFormatted(ns chan<- models.Notification, payload models.VolumeStatusResponse) {
	sendNotification(ns, models.NotificationVolumeFormatted, payload)
}
