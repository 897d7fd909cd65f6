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

package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ZaparooProject/volumed/pkg/api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mounted() models.Notification {
	return models.Notification{
		Method: models.NotificationVolumeMounted,
		Params: []byte(`{"status":"OK"}`),
	}
}

func startBroker(t *testing.T, sourceSize int) (*Broker, chan models.Notification) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	source := make(chan models.Notification, sourceSize)
	b := NewBroker(ctx, source)
	b.Start()
	return b, source
}

func TestBroker_Subscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker(context.Background(), make(chan models.Notification))

	ch, id := b.Subscribe(10)
	assert.NotNil(t, ch)
	assert.Equal(t, 0, id)

	_, id2 := b.Subscribe(20)
	assert.Equal(t, 1, id2)
	assert.Len(t, b.subscribers, 2)
}

func TestBroker_Unsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker(context.Background(), make(chan models.Notification))
	ch, id := b.Subscribe(10)

	b.Unsubscribe(id)
	assert.Empty(t, b.subscribers)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")

	// Unsubscribing again should be a no-op
	b.Unsubscribe(id)
}

func TestBroker_BroadcastToMultipleSubscribers(t *testing.T) {
	t.Parallel()

	b, source := startBroker(t, 10)
	sub1, _ := b.Subscribe(10)
	sub2, _ := b.Subscribe(10)

	source <- mounted()

	assert.Equal(t, models.NotificationVolumeMounted, (<-sub1).Method)
	assert.Equal(t, models.NotificationVolumeMounted, (<-sub2).Method)
}

func TestBroker_FullSubscriberDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	b, source := startBroker(t, 100)
	fast, _ := b.Subscribe(20)
	slow, _ := b.Subscribe(2)

	for range 20 {
		source <- mounted()
	}
	for range 20 {
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatal("fast subscriber starved by a full one")
		}
	}

	assert.Len(t, slow, 2, "slow subscriber keeps only what fits its buffer")
}

func TestBroker_SubscriberReceivesInOrder(t *testing.T) {
	t.Parallel()

	b, source := startBroker(t, 10)
	sub, _ := b.Subscribe(10)

	methods := []string{
		models.NotificationVolumeMounted,
		models.NotificationVolumeFormatted,
		models.NotificationVolumeEjected,
		models.NotificationVolumeRemoved,
	}
	for _, method := range methods {
		source <- models.Notification{Method: method}
	}

	for i, want := range methods {
		assert.Equal(t, want, (<-sub).Method, "notification %d should keep its order", i)
	}
}

func TestBroker_SubscribeWithLast(t *testing.T) {
	t.Parallel()

	b, source := startBroker(t, 10)

	_, ok := b.Last()
	assert.False(t, ok)

	// nothing broadcast yet, nothing replayed
	empty, _ := b.SubscribeWithLast(4)
	assert.Empty(t, empty)

	source <- mounted()
	source <- models.Notification{Method: models.NotificationVolumeEjected}
	require.Eventually(t, func() bool {
		last, ok := b.Last()
		return ok && last.Method == models.NotificationVolumeEjected
	}, time.Second, time.Millisecond)

	late, _ := b.SubscribeWithLast(4)
	assert.Equal(t, models.NotificationVolumeEjected, (<-late).Method)

	plain, _ := b.Subscribe(4)
	assert.Empty(t, plain, "plain subscribers start empty")
}

func TestBroker_ContextCancellationStopsBroker(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	b := NewBroker(ctx, make(chan models.Notification))
	b.Start()
	sub, _ := b.Subscribe(10)

	cancel()

	_, ok := <-sub
	assert.False(t, ok, "subscriber channel should be closed on context cancellation")

	late, _ := b.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok, "subscribing after shutdown yields a closed channel")
}

func TestBroker_SourceChannelClosureStopsBroker(t *testing.T) {
	t.Parallel()

	b, source := startBroker(t, 10)
	sub, _ := b.Subscribe(10)

	close(source)

	_, ok := <-sub
	assert.False(t, ok, "subscriber channel should be closed when source closes")
}

func TestBroker_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()

	b, source := startBroker(t, 100)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, id := b.SubscribeWithLast(5)
			time.Sleep(5 * time.Millisecond)
			b.Unsubscribe(id)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 20 {
			source <- mounted()
			time.Sleep(time.Millisecond)
		}
	}()

	wg.Wait()
}
