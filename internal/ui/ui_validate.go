// Copyright (C) 2021 io finnet group, inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// Full license text available in LICENSE file in repository root.

package ui

import (
	"strings"

	errors2 "github.com/pkg/errors"
)

// ValidatePIN enforces the minimal shape of a vault PIN: 4 to 64 bytes with
// no spaces, tabs or line breaks. Any other character is allowed; the
// derivation function does the hardening.
func ValidatePIN(pin string) error {
	if len(pin) < 4 {
		return errors2.Errorf("⚠ PIN must be at least 4 characters")
	}
	if len(pin) > 64 {
		return errors2.Errorf("⚠ PIN must be at most 64 characters")
	}
	if strings.ContainsAny(pin, " \t\r\n") {
		return errors2.Errorf("⚠ PIN must not contain whitespace")
	}
	return nil
}

// ValidatePhrase checks a recovery phrase has exactly WORDS words.
func ValidatePhrase(phrase string) error {
	words := strings.Fields(CleanPhraseInput(phrase))
	if len(words) != WORDS {
		return errors2.Errorf("⚠ wanted %d phrase words but got %d", WORDS, len(words))
	}
	return nil
}

// ValidateSecretName rejects names that cannot be vault record keys.
func ValidateSecretName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors2.Errorf("⚠ record name must not be empty")
	}
	if len(name) > 128 {
		return errors2.Errorf("⚠ record name must be at most 128 characters")
	}
	return nil
}

func CleanPhraseInput(input string) string {
	input = strings.Replace(input, "\n", " ", -1)
	input = strings.Replace(input, "\r", " ", -1)
	input = strings.TrimSpace(input)
	return input
}
