package ui

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
)

// ErrNotInteractive is returned by Confirm when no terminal is attached.
var ErrNotInteractive = errors.New("confirmation needs a terminal (pass --yes)")

// Confirm asks a yes/no question on the terminal. It defaults to no.
func Confirm(title, description string) (bool, error) {
	if !IsInteractive() {
		return false, ErrNotInteractive
	}
	ok := false
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("confirmation failed: %w", err)
	}
	return ok, nil
}
