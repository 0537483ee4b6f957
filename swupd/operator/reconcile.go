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

package operator

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/clearlinux/swupd-client/swupd"
	"github.com/clearlinux/swupd-client/swupd/content"
	"github.com/clearlinux/swupd-client/swupd/subscription"
)

// scanResult separates the records a scan found wanting into the two
// shapes stage.Apply expects: live records that were re-acquired, and
// deleted records forwarded unchanged for stage.Apply's own removal pass.
type scanResult struct {
	toStage  []*swupd.File
	toDelete []*swupd.File
}

// scan walks consolidated against e.Config.Path, classifying every live,
// non-ignored record as satisfied, missing or mismatched, updating
// counters, and - when fix is set - driving content acquisition for every
// unsatisfied record. quick skips the hash comparison and only looks for
// absent files (install's "quick is always true"; verify --quick).
//
// Deleted, non-ignored records are collected into toDelete whenever fix is
// set, for the caller to hand to stage.Apply alongside toStage; a plain
// (non-fix) scan never touches disk.
func (e *Engine) scan(ctx context.Context, consolidated []*swupd.File, owner map[string]string, subs map[string]subscription.Subscription, statelessConfig, quick, fix bool, counters *Counters) scanResult {
	var res scanResult

	for _, f := range consolidated {
		if f.IsIgnored(statelessConfig) {
			continue
		}
		if f.IsDeleted() {
			if fix {
				res.toDelete = append(res.toDelete, f)
			}
			continue
		}
		if f.IsGhosted() {
			continue
		}

		counters.Checked++

		gotHash, existed := currentHash(e.Config.Path, f)
		mismatch := !existed
		if existed && !quick {
			mismatch = !swupd.HashEqual(gotHash, f.Hash.String())
		}
		if !mismatch {
			continue
		}
		if existed {
			counters.Mismatch++
		} else {
			counters.Missing++
		}
		if !fix {
			continue
		}

		bundle := owner[f.Name]
		sub := subs[bundle]
		req := content.Request{
			Bundle:      bundle,
			FromVersion: sub.FromVersion,
			ToVersion:   sub.ToVersion,
			ToHash:      f.Hash.String(),
		}
		if existed {
			// The wrong-hash file already on disk is the best available
			// delta-patch source.
			req.FromHash = gotHash
			req.SourcePath = filepath.Join(e.Config.Path, f.Name)
		} else {
			req.FromHash = swupd.AllZeroHash
		}

		if err := e.Acquirer.Ensure(ctx, req); err != nil {
			counters.NotReplaced++
			continue
		}
		counters.Replaced++
		res.toStage = append(res.toStage, f)
	}

	return res
}

// defaultPickyWhitelist matches spec §4.9's picky default
// "/usr/lib/modules|/usr/lib/kernel|/usr/local|/usr/src".
var defaultPickyWhitelist = regexp.MustCompile(`/usr/lib/modules|/usr/lib/kernel|/usr/local|/usr/src`)

// picky walks tree (relative to e.Config.Path, default "/usr"), removing
// every path not present in known and not matching whitelist, innermost
// path first so a directory empties before its own removal is attempted.
// Every removal candidate counts toward PickyExtraneous regardless of
// whether the removal itself succeeds.
func (e *Engine) picky(consolidated []*swupd.File, tree string, whitelist *regexp.Regexp, counters *Counters) error {
	if tree == "" {
		tree = "/usr"
	}
	if whitelist == nil {
		whitelist = defaultPickyWhitelist
	}

	known := make(map[string]bool, len(consolidated))
	for _, f := range consolidated {
		known[f.Name] = true
	}

	root := filepath.Join(e.Config.Path, tree)
	var candidates []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // a path vanishing mid-walk is not fatal
		}
		if path == root {
			return nil
		}
		rel := filepath.ToSlash(strings.TrimPrefix(path, e.Config.Path))
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}
		if whitelist.MatchString(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if known[rel] {
			return nil
		}
		candidates = append(candidates, path)
		return nil
	})
	if err != nil {
		return err
	}

	counters.PickyExtraneous += len(candidates)

	// Longest path first: empty a directory's contents before rmdir'ing it.
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })
	for _, path := range candidates {
		if err := os.Remove(path); err != nil {
			counters.NotDeleted++
			continue
		}
		counters.Deleted++
	}
	return nil
}
