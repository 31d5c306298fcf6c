// Copyright (C) 2021 io finnet group, inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// Full license text available in LICENSE file in repository root.

package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePIN(t *testing.T) {
	tests := []struct {
		name          string
		pin           string
		expectedError bool
	}{
		{"Valid short numeric", "1234", false},
		{"Valid passphrase style", "correct-horse-battery", false},
		{"Valid with symbols", "p!n$&*()", false},
		// Error cases
		{"Too short", "123", true},
		{"Too long", strings.Repeat("x", 65), true},
		{"Contains space", "12 34", true},
		{"Contains newline", "12\n34", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePIN(tt.pin)
			if tt.expectedError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidatePhrase(t *testing.T) {
	exactly24 := strings.TrimSpace(strings.Repeat("word ", WORDS))

	require.NoError(t, ValidatePhrase(exactly24))
	require.NoError(t, ValidatePhrase("  "+strings.Replace(exactly24, " ", "\n", 3)+"\r\n"))

	assert.Error(t, ValidatePhrase(""))
	assert.Error(t, ValidatePhrase("too few words"))
	assert.Error(t, ValidatePhrase(exactly24+" extra"))
}

func TestValidateSecretName(t *testing.T) {
	require.NoError(t, ValidateSecretName("github"))
	require.NoError(t, ValidateSecretName("email/work"))

	assert.Error(t, ValidateSecretName(""))
	assert.Error(t, ValidateSecretName("   "))
	assert.Error(t, ValidateSecretName(strings.Repeat("n", 129)))
}

func TestNonANSIEscapeCodes(t *testing.T) {
	assert.Equal(t, "plain", NonANSIEscapeCodes("plain"))
	assert.Equal(t, "cleared", NonANSIEscapeCodes("cle\x1bared"))
	assert.NotContains(t, NonANSIEscapeCodes("red"+AnsiCodes["darkRedBG"]), "\x1b")
}
