// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix && !windows

package bridge

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// lock holds an advisory file lock for the lifetime of the process that
// acquired it. Releasing it (including implicitly, on process exit) lets
// the next process in the group race for leadership cleanly.
type lock struct {
	f *os.File
}

// acquireLeadership attempts a non-blocking exclusive flock on path. A
// process that gets the lock is the leader; one that doesn't is a
// follower — this is not an error, so the second return value carries
// that distinction rather than an error.
func acquireLeadership(path string) (*lock, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &lock{f: f}, true, nil
}

func (l *lock) release() error {
	if l == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
