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

// Package helpers holds shared setup for tests that need a config or a
// populated card.
package helpers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZaparooProject/volumed/pkg/config"
	"github.com/stretchr/testify/require"
)

// NewTestConfig loads a config from the given TOML in a temp directory.
// An empty string gives the defaults.
func NewTestConfig(t *testing.T, toml string) *config.Instance {
	t.Helper()
	dir := t.TempDir()
	if toml != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, config.CfgFile), []byte(toml), 0o600))
	}
	cfg, err := config.NewConfig(dir, config.BaseDefaults)
	require.NoError(t, err)
	return cfg
}
