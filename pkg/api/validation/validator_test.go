// volumed
// Copyright (c) 2025 The Zaparoo Project Contributors.
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

//nolint:revive // custom validation tags (duration, datasize, etc.) are unknown to revive
package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateOneof(t *testing.T) {
	t.Parallel()

	type testStruct struct {
		Type string `validate:"oneof=node watch udisks"`
		Mode string `validate:"oneof=ro rw"`
	}

	tests := []struct {
		name      string
		typeVal   string
		modeVal   string
		wantError bool
	}{
		{name: "valid node", typeVal: "node", modeVal: "ro", wantError: false},
		{name: "valid watch", typeVal: "watch", modeVal: "rw", wantError: false},
		{name: "valid udisks", typeVal: "udisks", modeVal: "ro", wantError: false},
		{name: "invalid type", typeVal: "invalid", modeVal: "ro", wantError: true},
		{name: "invalid mode", typeVal: "node", modeVal: "wo", wantError: true},
		{name: "wrong case type", typeVal: "NODE", modeVal: "ro", wantError: true},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := testStruct{Type: tt.typeVal, Mode: tt.modeVal}
			err := v.Validate(&s)
			if tt.wantError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "must be one of")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDuration(t *testing.T) {
	t.Parallel()

	type testStruct struct {
		Duration string `validate:"duration"`
	}

	tests := []struct {
		name      string
		value     string
		wantError bool
	}{
		{name: "empty is valid", value: "", wantError: false},
		{name: "hours", value: "1h", wantError: false},
		{name: "minutes", value: "30m", wantError: false},
		{name: "seconds", value: "45s", wantError: false},
		{name: "combined", value: "1h30m45s", wantError: false},
		{name: "milliseconds", value: "100ms", wantError: false},
		{name: "negative duration", value: "-5m", wantError: false},
		{name: "invalid format", value: "1hour", wantError: true},
		{name: "just number", value: "100", wantError: true},
		{name: "invalid string", value: "hello", wantError: true},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := testStruct{Duration: tt.value}
			err := v.Validate(&s)
			if tt.wantError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "duration must be a valid duration")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDataSize(t *testing.T) {
	t.Parallel()

	type testStruct struct {
		Capacity string `validate:"datasize"`
	}

	tests := []struct {
		name      string
		value     string
		wantError bool
	}{
		{name: "empty is valid", value: "", wantError: false},
		{name: "megabytes", value: "512MB", wantError: false},
		{name: "gigabytes lowercase", value: "32gb", wantError: false},
		{name: "plain bytes", value: "4096", wantError: false},
		{name: "unknown unit", value: "12parsecs", wantError: true},
		{name: "not a size", value: "big", wantError: true},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := testStruct{Capacity: tt.value}
			err := v.Validate(&s)
			if tt.wantError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "capacity must be a valid size")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateVolumePath(t *testing.T) {
	t.Parallel()

	type testStruct struct {
		Path string `validate:"volpath"`
	}

	tests := []struct {
		name      string
		value     string
		wantError bool
	}{
		{name: "empty is valid", value: "", wantError: false},
		{name: "root", value: "/", wantError: false},
		{name: "nested file", value: "/logs/today.txt", wantError: false},
		{name: "relative", value: "logs/today.txt", wantError: true},
		{name: "parent reference", value: "/logs/../../etc", wantError: true},
		{name: "backslash", value: "\\logs\\a.txt", wantError: true},
		{name: "wildcard", value: "/logs/*.txt", wantError: true},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := testStruct{Path: tt.value}
			err := v.Validate(&s)
			if tt.wantError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "path must be an absolute volume path")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAndUnmarshal(t *testing.T) {
	t.Parallel()

	type testParams struct {
		Name  string `json:"name" validate:"required"`
		Type  string `json:"type" validate:"oneof=node watch udisks"`
		Count int    `json:"count" validate:"gt=0"`
	}

	tests := []struct {
		wantError error
		name      string
		errorMsg  string
		input     json.RawMessage
	}{
		{
			name:      "empty params returns ErrMissingParams",
			input:     nil,
			wantError: ErrMissingParams,
		},
		{
			name:      "empty array returns ErrMissingParams",
			input:     json.RawMessage{},
			wantError: ErrMissingParams,
		},
		{
			name:      "invalid JSON returns ErrInvalidParams",
			input:     json.RawMessage(`{invalid}`),
			wantError: ErrInvalidParams,
		},
		{
			name:  "valid params pass validation",
			input: json.RawMessage(`{"name": "test", "type": "node", "count": 5}`),
		},
		{
			name:     "missing required field",
			input:    json.RawMessage(`{"type": "node", "count": 5}`),
			errorMsg: "name is required",
		},
		{
			name:     "invalid enum value",
			input:    json.RawMessage(`{"name": "test", "type": "bad", "count": 5}`),
			errorMsg: "type must be one of",
		},
		{
			name:     "invalid number value",
			input:    json.RawMessage(`{"name": "test", "type": "node", "count": 0}`),
			errorMsg: "count must be greater than",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var params testParams
			err := ValidateAndUnmarshal(tt.input, &params)

			switch {
			case tt.wantError != nil:
				require.ErrorIs(t, err, tt.wantError)
			case tt.errorMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	type testStruct struct {
		Type  string `validate:"required,oneof=node watch udisks"`
		Match string `validate:"required,oneof=ro rw"`
	}

	v := NewValidator()
	s := testStruct{Type: "", Match: ""}
	err := v.Validate(&s)

	require.Error(t, err)

	// Error should contain both field errors
	errStr := err.Error()
	assert.Contains(t, errStr, "type is required")
	assert.Contains(t, errStr, "match is required")

	// Should be a validation.Error type
	var valErr *Error
	require.ErrorAs(t, err, &valErr)
	assert.Len(t, valErr.Fields, 2)
}

func TestErrorFormattingAllCases(t *testing.T) {
	t.Parallel()

	v := NewValidator()

	tests := []struct {
		name       string
		structDef  any
		wantSubstr string
	}{
		{
			name: "lt validation",
			structDef: &struct {
				Value int `validate:"lt=10"`
			}{Value: 15},
			wantSubstr: "must be less than 10",
		},
		{
			name: "lte validation",
			structDef: &struct {
				Value int `validate:"lte=10"`
			}{Value: 15},
			wantSubstr: "must be less than or equal to 10",
		},
		{
			name: "gte validation",
			structDef: &struct {
				Value int `validate:"gte=10"`
			}{Value: 5},
			wantSubstr: "must be greater than or equal to 10",
		},
		{
			name: "max validation",
			structDef: &struct {
				Value string `validate:"max=5"`
			}{Value: "toolong"},
			wantSubstr: "must be at most 5",
		},
		{
			name: "unknown tag falls back to default",
			structDef: &struct {
				Value string `validate:"alphanum"`
			}{Value: "test!@#"},
			wantSubstr: "failed alphanum validation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := v.Validate(tt.structDef)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantSubstr)
		})
	}
}

func TestErrorEmptyFields(t *testing.T) {
	t.Parallel()

	// Test Error.Error() with empty fields
	err := &Error{Fields: []FieldError{}}
	assert.Equal(t, "validation failed", err.Error())
}
