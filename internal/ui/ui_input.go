// Copyright (C) 2021 io finnet group, inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// Full license text available in LICENSE file in repository root.

package ui

import (
	"fmt"
	"sort"

	"github.com/cdfmlr/ellipsis"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/list"
	errors2 "github.com/pkg/errors"
)

// RunPINForm prompts for the vault PIN. With confirm set (initialization),
// the PIN has to be entered twice and both entries must match.
func RunPINForm(title string, confirm bool) (string, error) {
	var pin string
	input := huh.NewInput().
		Key("pin").
		Title(title).
		Description("The PIN is one of the four unlock factors; it is never stored.").
		EchoMode(huh.EchoModePassword).
		Validate(ValidatePIN).
		Value(&pin)

	if !confirm {
		form := huh.NewForm(huh.NewGroup(input)).WithTheme(huh.ThemeBase16())
		if err := form.Run(); err != nil {
			return "", errors2.Wrapf(err, "unable to run form")
		}
		return pin, nil
	}

	var again string
	repeat := huh.NewInput().
		Key("pin2").
		Title("Repeat the PIN").
		EchoMode(huh.EchoModePassword).
		Validate(ValidatePIN).
		Value(&again)
	form := huh.NewForm(huh.NewGroup(input, repeat)).WithTheme(huh.ThemeBase16())
	if err := form.Run(); err != nil {
		return "", errors2.Wrapf(err, "unable to run form")
	}
	if pin != again {
		return "", errors2.Errorf("⚠ the two PIN entries did not match")
	}
	return pin, nil
}

// RunPhraseForm prompts for the 24-word recovery phrase.
func RunPhraseForm() (string, error) {
	var phrase string
	input := huh.NewText().
		Key("phrase").
		Title("Recovery phrase").
		Description(fmt.Sprintf("Enter the %d word phrase shown at initialization", WORDS)).
		Validate(ValidatePhrase).
		Value(&phrase)

	form := huh.NewForm(huh.NewGroup(input)).WithTheme(huh.ThemeBase16())
	if err := form.Run(); err != nil {
		return "", errors2.Wrapf(err, "unable to run form")
	}
	return CleanPhraseInput(phrase), nil
}

// RunSecretForm prompts for a record name and value.
func RunSecretForm() (name, value string, err error) {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("name").
				Title("Record name").
				Validate(ValidateSecretName).
				Value(&name),
			huh.NewInput().
				Key("value").
				Title("Secret value").
				EchoMode(huh.EchoModePassword).
				Value(&value),
		),
	).WithTheme(huh.ThemeBase16())
	if err := form.Run(); err != nil {
		return "", "", errors2.Wrapf(err, "unable to run form")
	}
	if value == "" {
		return "", "", errors2.Errorf("⚠ secret value for %s is empty", name)
	}
	return name, value, nil
}

// RunDrivePickerForm selects one drive path out of the candidates the
// OS-level enumerator supplied.
func RunDrivePickerForm(paths []string) (string, error) {
	var chosen string
	options := make([]huh.Option[string], len(paths))
	for i, path := range paths {
		options[i] = huh.NewOption(path, path)
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select a vault drive").
				Options(options...).
				Value(&chosen),
		),
	).WithTheme(huh.ThemeBase16())
	if err := form.Run(); err != nil {
		return "", errors2.Wrapf(err, "unable to run form")
	}
	if chosen == "" {
		return "", errors2.Errorf("No drive selected")
	}
	return chosen, nil
}

// Checklist renders lines with the green check enumerator used across the
// console.
func Checklist(items []string) string {
	if len(items) == 0 {
		return ""
	}

	special := lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	checklistEnumStyle := func(items list.Items, index int) lipgloss.Style {
		return lipgloss.NewStyle().
			Foreground(special).
			PaddingRight(1)
	}
	checklistEnum := func(items list.Items, index int) string {
		return "✓"
	}

	l := list.New().
		Enumerator(checklistEnum).
		EnumeratorStyleFunc(checklistEnumStyle)
	for _, item := range items {
		l = l.Item(item)
	}
	return l.String()
}

// SecretList renders record names with truncated previews, sorted by name.
func SecretList(records map[string]string) string {
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)

	items := make([]string, 0, len(names))
	for _, name := range names {
		items = append(items, fmt.Sprintf("%s  %s", Bold(name), ellipsis.Ending(records[name], 24)))
	}
	return Checklist(items)
}
