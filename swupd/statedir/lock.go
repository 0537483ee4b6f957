// Copyright 2017 Intel Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package statedir manages the on-disk state directory: the advisory lock
// that serializes mutating operations, directory layout creation, and
// cache cleaning. Lock is grounded on original_source/src/lock.c's
// p_lockfile (fcntl(F_SETLK) write lock on a fixed path, pid written to
// the file for debuggability); reimplemented with
// golang.org/x/sys/unix.FcntlFlock since stdlib syscall does not portably
// expose fcntl record locks.
package statedir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrLocked is returned by AcquireLock when another process already holds
// the lock.
var ErrLocked = errors.New("another instance holds the state lock")

// LockFileName is the fixed filename p_lockfile used, kept unchanged so
// operators recognize it across the rewrite.
const LockFileName = "swupd_lock"

// Lock is a held advisory write lock on <lockDir>/swupd_lock. Holding one
// is a precondition for any operation that mutates state or the target
// system.
type Lock struct {
	f *os.File
}

// AcquireLock creates lockDir if missing and takes a non-blocking advisory
// write lock on lockDir/swupd_lock, recording the caller's pid in the
// file. Returns ErrLocked if another process already holds it.
func AcquireLock(lockDir string) (*Lock, error) {
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating lock dir %s", lockDir)
	}

	path := filepath.Join(lockDir, LockFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "opening lock file %s", path)
	}

	flock := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: 0, // SEEK_SET
		Start:  0,
		Len:    0,
	}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flock); err != nil {
		_ = f.Close()
		if err == unix.EAGAIN || err == unix.EACCES {
			return nil, ErrLocked
		}
		return nil, errors.Wrap(err, "acquiring lock")
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.WriteString(fmt.Sprintf("%d", os.Getpid())); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{f: f}, nil
}

// Release closes the lock's file descriptor. Matching v_lockfile, the
// lock file itself is intentionally never unlinked (removing it would
// open a race where a new process could create and lock a *different*
// inode at the same path while this one is still open).
func (l *Lock) Release() error {
	return l.f.Close()
}
