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

package mocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ZaparooProject/volumed/pkg/api/models"
	"github.com/stretchr/testify/mock"
)

// MockAPIClient is a mock implementation of client.APIClient for testing.
type MockAPIClient struct {
	mock.Mock
}

// NewMockAPIClient creates a new mock API client.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

// Call mocks the API call method.
func (m *MockAPIClient) Call(ctx context.Context, method, params string) (string, error) {
	args := m.Called(ctx, method, params)
	return args.String(0), args.Error(1)
}

// WaitNotification mocks waiting for a notification.
func (m *MockAPIClient) WaitNotification(
	ctx context.Context,
	timeout time.Duration,
	methods ...string,
) (string, error) {
	args := m.Called(ctx, timeout, methods)
	return args.String(0), args.Error(1)
}

func (m *MockAPIClient) setupResult(method string, result any) {
	data, _ := json.Marshal(result)
	m.On("Call", mock.Anything, method, "").Return(string(data), nil)
}

// SetupStatusResponse configures the mock to return a volume status.
func (m *MockAPIClient) SetupStatusResponse(status models.VolumeStatusResponse) {
	m.setupResult(models.MethodVolumeStatus, status)
}

// SetupInfoResponse configures the mock to return volume info.
//
//nolint:gocritic // response struct copied for test setup
func (m *MockAPIClient) SetupInfoResponse(info models.VolumeInfoResponse) {
	m.setupResult(models.MethodVolumeInfo, info)
}

// SetupFormatResponse configures the mock to return a format outcome.
func (m *MockAPIClient) SetupFormatResponse(resp models.VolumeFormatResponse) {
	m.setupResult(models.MethodVolumeFormat, resp)
}

// SetupEjectResponse configures the mock to return an eject result.
func (m *MockAPIClient) SetupEjectResponse(closed int) {
	m.setupResult(models.MethodVolumeEject, models.VolumeEjectResponse{ClosedHandles: closed})
}

// SetupCallError configures the mock to fail method.
func (m *MockAPIClient) SetupCallError(method string, err error) {
	m.On("Call", mock.Anything, method, "").Return("", err)
}

// SetupMountNotification configures the mock to deliver a mount result
// to waiters.
func (m *MockAPIClient) SetupMountNotification(status models.VolumeStatusResponse) {
	data, _ := json.Marshal(status)
	m.On("WaitNotification", mock.Anything, mock.Anything, mock.Anything).Return(string(data), nil)
}
