// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build windows

package bridge

// Advisory flock-based election (golang.org/x/sys/unix.Flock) has no
// Windows equivalent in the dependency set this module carries forward;
// per DESIGN.md this platform always runs as a standalone leader with no
// cross-process bridge rather than guessing at a substitute locking
// primitive.
type lock struct{}

func acquireLeadership(path string) (*lock, bool, error) {
	return &lock{}, true, nil
}

func (l *lock) release() error { return nil }
