// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package prompt reads secrets from the controlling terminal.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/consolidator/internal/zero"
	"golang.org/x/term"
)

// ErrNotTerminal is returned when a password is needed but stdin is not a
// terminal.
var ErrNotTerminal = errors.New("stdin is not a terminal")

// passwordReader reads a line without echo.
type passwordReader func() ([]byte, error)

// ProvidePassword prompts on the terminal for a password.  Empty input is
// asked for again.
func ProvidePassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNotTerminal
	}

	return providePassword(os.Stdout, prompt, func() ([]byte, error) {
		return term.ReadPassword(fd)
	})
}

func providePassword(w io.Writer, prompt string,
	read passwordReader) (string, error) {

	for {
		fmt.Fprint(w, prompt)
		pass, err := read()
		if err != nil {
			return "", err
		}
		fmt.Fprint(w, "\n")

		trimmed := bytes.TrimSpace(pass)
		if len(trimmed) == 0 {
			continue
		}

		password := string(trimmed)
		zero.Bytes(pass)

		return password, nil
	}
}
