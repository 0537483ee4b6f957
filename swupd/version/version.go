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

// Package version resolves the currently installed OS version and queries
// a content server for its latest published version and format. Current
// is grounded on mcswupd/main.go's getCurrentVersion (a VERSION_ID= regex
// against os-release); Latest and Format are grounded on
// swupd-extract/main.go's /latest endpoint and certificate-pinning
// pattern, generalized from its single hardcoded Clear Linux URL to an
// arbitrary version-url and signature-verified via swupd/sig rather than
// swupd-extract's hand-rolled SHA-256 pin.
package version

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/clearlinux/swupd-client/swupd/fetch"
	"github.com/clearlinux/swupd-client/swupd/sig"
)

// ErrNoOSRelease is returned by Current when neither os-release path
// exists under prefix.
var ErrNoOSRelease = errors.New("unable to find os-release")

// ErrNoVersionID is returned by Current when os-release exists but has no
// VERSION_ID= line.
var ErrNoVersionID = errors.New("unable to determine OS version")

// ErrSignatureRequired is returned by Latest when the server did not
// supply (or supplied an invalid) detached signature for its latest
// version response. The spec treats an unsigned latest-version answer as
// untrustworthy, not merely unverified.
var ErrSignatureRequired = errors.New("latest version response is not signed, or signature is invalid")

// versionIDRegexp matches the systemd os-release VERSION_ID= assignment,
// unchanged from mcswupd/main.go's getCurrentVersion.
var versionIDRegexp = regexp.MustCompile(`(?m)^VERSION_ID=(\d+)\n`)

// osReleasePaths are tried in order under prefix, matching the spec's note
// that a target root may keep os-release under either location.
var osReleasePaths = []string{
	filepath.Join("usr", "lib", "os-release"),
	filepath.Join("etc", "os-release"),
}

// Current parses VERSION_ID from <prefix>/usr/lib/os-release, falling
// back to <prefix>/etc/os-release.
func Current(prefix string) (uint32, error) {
	var lastErr error = ErrNoOSRelease
	for _, rel := range osReleasePaths {
		content, err := ioutil.ReadFile(filepath.Join(prefix, rel))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			lastErr = err
			continue
		}

		m := versionIDRegexp.FindStringSubmatch(string(content))
		if m == nil {
			return 0, ErrNoVersionID
		}
		v, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			return 0, errors.Wrap(err, "parsing VERSION_ID")
		}
		return uint32(v), nil
	}
	return 0, lastErr
}

// maxLatestResponseBytes bounds how much of the /latest and /format
// responses are read into memory; both are expected to be a handful of
// ASCII digits.
const maxLatestResponseBytes = 4096

// Latest fetches <versionURL>/version/format<format>/latest, requiring a
// detached signature at the same path plus ".sig" that validates against
// verifier. Returns ErrSignatureRequired if no valid signature accompanies
// the response.
func Latest(ctx context.Context, versionURL string, format uint, verifier *sig.Verifier, opts fetch.Options) (uint32, error) {
	base := strings.TrimSuffix(versionURL, "/") + "/version/format" + strconv.FormatUint(uint64(format), 10) + "/latest"

	data, err := fetch.FetchToMemory(ctx, base, maxLatestResponseBytes, opts)
	if err != nil {
		return 0, errors.Wrap(err, "fetching latest version")
	}

	sigData, err := fetch.FetchToMemory(ctx, base+".sig", maxLatestResponseBytes, opts)
	if err != nil {
		return 0, errors.Wrap(ErrSignatureRequired, err.Error())
	}

	ok, err := verifier.VerifyDetached(data, sigData, sig.FlagDefault)
	if err != nil || !ok {
		return 0, ErrSignatureRequired
	}

	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, "parsing latest version")
	}
	return uint32(v), nil
}

// Format fetches <versionURL>/<version>/format and returns it as an
// integer. Unlike Latest, the per-version format file is not individually
// signed: it is only ever consumed after the manifest chain for version
// has itself been verified.
func Format(ctx context.Context, versionURL string, version uint32, opts fetch.Options) (uint, error) {
	url := strings.TrimSuffix(versionURL, "/") + "/" + strconv.FormatUint(uint64(version), 10) + "/format"

	data, err := fetch.FetchToMemory(ctx, url, maxLatestResponseBytes, opts)
	if err != nil {
		return 0, errors.Wrap(err, "fetching format")
	}

	f, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, "parsing format")
	}
	return uint(f), nil
}
