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
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLabelLength is the longest FAT volume label.
const MaxLabelLength = 11

// DefaultLabel is written to freshly formatted cards.
const DefaultLabel = "ZAPAROO SD"

// FAT labels may not contain these in addition to control characters.
const labelForbidden = `"*+,./:;<=>?[\]|`

// SanitizeLabel turns an arbitrary string into a valid FAT volume label:
// diacritics are stripped, letters upper cased, forbidden characters
// dropped and the result cut to MaxLabelLength bytes.
func SanitizeLabel(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	if normalized, _, err := transform.String(t, s); err == nil {
		s = normalized
	}

	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if r > unicode.MaxASCII || r < 0x20 || strings.ContainsRune(labelForbidden, r) {
			continue
		}
		b.WriteRune(r)
		if b.Len() == MaxLabelLength {
			break
		}
	}

	return strings.TrimRight(b.String(), " ")
}
