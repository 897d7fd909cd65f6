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

// Package broker fans volume notifications out to every consumer without
// letting a slow one stall the lifecycle loop.
package broker

import (
	"context"

	"github.com/ZaparooProject/volumed/pkg/api/models"
	"github.com/ZaparooProject/volumed/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// Broker reads from a single source channel and broadcasts to all
// subscribers with non-blocking sends. It keeps the most recent
// notification so late subscribers can start from the current card state.
type Broker struct {
	ctx         context.Context
	source      <-chan models.Notification
	subscribers map[int]chan models.Notification
	last        *models.Notification
	mu          syncutil.RWMutex
	nextID      int
	closed      bool
}

func NewBroker(ctx context.Context, source <-chan models.Notification) *Broker {
	return &Broker{
		ctx:         ctx,
		source:      source,
		subscribers: make(map[int]chan models.Notification),
	}
}

// Start runs the broadcast loop in a goroutine. When the source channel
// closes or the context is cancelled, every subscriber channel is closed.
func (b *Broker) Start() {
	go func() {
		for {
			select {
			case notif, ok := <-b.source:
				if !ok {
					log.Debug().Msg("broker: source channel closed")
					b.closeAllSubscribers()
					return
				}
				b.broadcast(notif)
			case <-b.ctx.Done():
				log.Debug().Msg("broker: context cancelled, shutting down")
				b.closeAllSubscribers()
				return
			}
		}
	}()
}

func (b *Broker) broadcast(notif models.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = &notif
	for id, ch := range b.subscribers {
		select {
		case ch <- notif:
		default:
			log.Warn().
				Int("subscriber_id", id).
				Str("method", notif.Method).
				Msg("subscriber channel full, dropping notification")
		}
	}
}

// Subscribe registers a new subscriber. Notifications beyond bufferSize
// unread entries are dropped for that subscriber only.
func (b *Broker) Subscribe(bufferSize int) (notifChan <-chan models.Notification, id int) {
	return b.subscribe(bufferSize, false)
}

// SubscribeWithLast is Subscribe, but the channel starts with the last
// broadcast notification when there is one.
func (b *Broker) SubscribeWithLast(bufferSize int) (notifChan <-chan models.Notification, id int) {
	return b.subscribe(bufferSize, true)
}

func (b *Broker) subscribe(bufferSize int, replay bool) (<-chan models.Notification, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan models.Notification, bufferSize)
	if b.closed {
		close(ch)
		return ch, id
	}
	if replay && b.last != nil && bufferSize > 0 {
		ch <- *b.last
	}
	b.subscribers[id] = ch

	log.Debug().
		Int("subscriber_id", id).
		Int("buffer_size", bufferSize).
		Msg("new subscriber registered")

	return ch, id
}

// Last returns the most recent notification.
func (b *Broker) Last() (models.Notification, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.last == nil {
		return models.Notification{}, false
	}
	return *b.last, true
}

// Unsubscribe removes a subscription and closes its channel. Repeated
// calls are no-ops.
func (b *Broker) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
		log.Debug().Int("subscriber_id", id).Msg("subscriber unsubscribed")
	}
}

func (b *Broker) Stop() {
	b.closeAllSubscribers()
}

func (b *Broker) closeAllSubscribers() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		log.Debug().Int("subscriber_id", id).Msg("closed subscriber channel on shutdown")
	}
	b.subscribers = make(map[int]chan models.Notification)
	b.closed = true
}
