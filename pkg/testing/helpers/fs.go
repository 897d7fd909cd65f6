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

package helpers

import (
	"fmt"
	"path"

	"github.com/ZaparooProject/volumed/pkg/volume"
)

// WriteTree creates files and directories on a mounted volume. A string
// or []byte value is a file with that content, a map is a directory with
// children and nil is an empty directory.
func WriteTree(c *volume.Client, root string, tree map[string]any) error {
	for name, content := range tree {
		full := path.Join(root, name)

		switch v := content.(type) {
		case string:
			if err := writeFile(c, full, []byte(v)); err != nil {
				return err
			}
		case []byte:
			if err := writeFile(c, full, v); err != nil {
				return err
			}
		case map[string]any:
			if err := c.Mkdir(full); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", full, err)
			}
			if err := WriteTree(c, full, v); err != nil {
				return err
			}
		case nil:
			if err := c.Mkdir(full); err != nil {
				return fmt.Errorf("failed to create empty directory %s: %w", full, err)
			}
		default:
			return fmt.Errorf("unsupported tree entry %s: %T", full, content)
		}
	}
	return nil
}

func writeFile(c *volume.Client, name string, data []byte) error {
	h, err := c.OpenFile(name, volume.OpenWrite|volume.OpenCreateAlways)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", name, err)
	}
	if _, err := c.Write(h, data); err != nil {
		_ = c.CloseFile(h)
		return fmt.Errorf("failed to write file %s: %w", name, err)
	}
	if err := c.CloseFile(h); err != nil {
		return fmt.Errorf("failed to close file %s: %w", name, err)
	}
	return nil
}
