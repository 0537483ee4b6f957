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

package statedir

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"github.com/clearlinux/swupd-client/swupd"
)

// fixedSubdirs are the state subdirectories Create always ensures exist,
// grounded on internal/client/state.go's NewState layout (staged/temp,
// plus the spec's delta/download/telemetry siblings).
var fixedSubdirs = []string{
	filepath.Join("staged", "temp"),
	"delta",
	"download",
	"telemetry",
}

// Create ensures stateDir's fixed subdirectories exist with mode 0755.
func Create(stateDir string) error {
	for _, sub := range fixedSubdirs {
		if err := os.MkdirAll(filepath.Join(stateDir, sub), 0755); err != nil {
			return err
		}
	}
	return nil
}

var hexHash64 = regexp.MustCompile(`^[0-9a-f]{64}$`)
var versionDirName = regexp.MustCompile(`^[0-9]+$`)

// Result reports what Clean did.
type Result struct {
	Removed     int
	BytesFreed  int64
	DryRun      bool
}

// Clean removes cached content no longer needed: staged blobs, pack
// presence markers, delta indicators, and (unless their hash-hint matches
// an entry in currentMoM) cached bundle manifests under every numbered
// version directory. With all, every cached manifest is removed regardless of
// currentMoM. With dryRun, nothing is actually removed but Result still
// reports what would have been.
func Clean(stateDir string, currentMoM *swupd.Manifest, all, dryRun bool) (Result, error) {
	var res Result
	res.DryRun = dryRun

	keepHashes := make(map[string]bool)
	if currentMoM != nil {
		for _, f := range currentMoM.Files {
			keepHashes[f.Hash.String()] = true
		}
	}

	stagedDir := filepath.Join(stateDir, "staged")
	entries, err := ioutil.ReadDir(stagedDir)
	if err == nil {
		for _, e := range entries {
			if !hexHash64.MatchString(e.Name()) {
				continue
			}
			if removeTracked(filepath.Join(stagedDir, e.Name()), dryRun, &res) != nil {
				continue
			}
		}
	}

	topEntries, err := ioutil.ReadDir(stateDir)
	if err != nil {
		return res, err
	}
	for _, e := range topEntries {
		name := e.Name()
		full := filepath.Join(stateDir, name)

		switch {
		case strings.HasPrefix(name, "pack-") && strings.HasSuffix(name, ".tar"):
			_ = removeTracked(full, dryRun, &res)
		case strings.HasPrefix(name, "Manifest-"):
			_ = removeTracked(full, dryRun, &res)
		case e.IsDir() && versionDirName.MatchString(name):
			cleanVersionDir(full, keepHashes, all, dryRun, &res)
			if !dryRun {
				_ = os.Remove(full) // rmdir; no-op (and harmless) if not empty
			}
		}
	}

	return res, nil
}

func cleanVersionDir(dir string, keepHashes map[string]bool, all, dryRun bool, res *Result) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "Manifest.") {
			continue
		}
		if !all && manifestHashHintMatches(e.Name(), keepHashes) {
			continue
		}
		_ = removeTracked(filepath.Join(dir, e.Name()), dryRun, res)
	}
}

// manifestHashHintMatches reports whether a cached "Manifest.<bundle>" or
// hash-hinted "Manifest.<bundle>.<hash>" filename's hash (if present)
// names an entry the current MoM still references.
func manifestHashHintMatches(name string, keepHashes map[string]bool) bool {
	parts := strings.Split(name, ".")
	if len(parts) < 3 {
		return false
	}
	hint := parts[len(parts)-1]
	if !hexHash64.MatchString(hint) {
		return false
	}
	return keepHashes[hint]
}

// removeTracked deletes path (unless dryRun) and accounts its size into
// res, approximating bytes freed as the file's size when its link count
// was 1 at the time of deletion (a hardlinked staged blob shared by
// another path isn't actually freed).
func removeTracked(path string, dryRun bool, res *Result) error {
	var size int64
	var nlink uint64 = 1
	if fi, err := os.Lstat(path); err == nil {
		size = fi.Size()
		if st, ok := fi.Sys().(*syscall.Stat_t); ok {
			nlink = uint64(st.Nlink)
		}
	} else {
		return err
	}

	if !dryRun {
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}

	res.Removed++
	if nlink <= 1 {
		res.BytesFreed += size
	}
	return nil
}

