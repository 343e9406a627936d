//go:build !gui

package main

import (
	"errors"

	"scribe/session"
)

func runGUI(session.Options, shellInfo) error {
	return errors.New("built without GUI support (rebuild with -tags gui)")
}
