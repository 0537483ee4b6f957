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
	"regexp"

	"github.com/pkg/errors"

	"github.com/clearlinux/swupd-client/swupd"
	"github.com/clearlinux/swupd-client/swupd/errkind"
	"github.com/clearlinux/swupd-client/swupd/subscription"
	"github.com/clearlinux/swupd-client/swupd/version"
)

// VerifyOptions parameterizes Verify (verify / repair).
type VerifyOptions struct {
	// Version pins which version to verify against; 0 means the
	// currently installed version.
	Version uint32
	// Fix drives acquisition+staging for every mismatch found.
	Fix bool
	// Quick skips hash comparison, only checking for missing files.
	Quick bool
	// Picky additionally walks PickyTree removing files the manifest
	// does not reference.
	Picky bool
	// ExtraFilesOnly does only the picky pass, skipping the normal
	// missing/mismatch walk entirely.
	ExtraFilesOnly bool
	// Bundles restricts the walk to the named bundles' file sets; only
	// meaningful alongside an explicit Version.
	Bundles []string
	// File, if non-empty, restricts the walk to this single manifest path
	// (-B and --file are independent filters; both apply when both set).
	File string

	PickyTree      string
	PickyWhitelist *regexp.Regexp
}

// ErrVerifyIncomplete is returned (wrapped as errkind.KindVerifyFailed)
// when verify --fix could not repair every mismatch it found.
var ErrVerifyIncomplete = errors.New("one or more files could not be fixed")

// Verify compares the subscribed bundle closure's file records against
// disk, optionally repairing (Fix) or removing untracked files under a
// configured subtree (Picky / ExtraFilesOnly).
func (e *Engine) Verify(ctx context.Context, opts VerifyOptions) (Counters, error) {
	var counters Counters

	mutating := opts.Fix || opts.Picky || opts.ExtraFilesOnly
	if mutating {
		lock, err := e.lock()
		if err != nil {
			return counters, err
		}
		defer func() { _ = lock.Release() }()
	}

	e.emit(ulogStep("verify"))
	defer e.emit(ulogStepEnd("verify"))

	target := opts.Version
	if target == 0 {
		v, err := version.Current(e.Config.Path)
		if err != nil {
			return counters, errkind.Wrap(errkind.KindCurrentVersionUnknown, err)
		}
		target = v
	}

	mom, err := e.Store.LoadMom(ctx, target)
	if err != nil {
		return counters, errkind.Wrap(errkind.KindCouldntLoadMoM, err)
	}

	installed, err := installedBundleNames(e.Config.Path)
	if err != nil {
		return counters, errkind.Wrap(errkind.KindCouldntListDir, err)
	}

	subs, errs := subscription.Resolve(ctx, e.Store, mom, nil, installed, installedVersions{mom: mom}, subscription.Verify, false)
	if len(errs) > 0 {
		return counters, errkind.Wrap(errkind.KindInvalidBundle, firstErr(errs))
	}

	names := subscriptionNames(subs)
	if len(opts.Bundles) > 0 {
		names = opts.Bundles
	}

	manifests, loadErrs := e.Store.Recurse(ctx, mom, names, defaultManifestParallelism)
	if len(loadErrs) > 0 {
		return counters, errkind.Wrap(errkind.KindCouldntLoadManifest, firstErr(loadErrs))
	}
	for _, m := range manifests {
		m.ApplyHeuristics()
	}
	owner := bundleOwners(manifestsByName(manifests))
	subsMap := subsByName(subs)

	consolidated := swupd.Consolidate(manifests)
	if opts.File != "" {
		var filtered []*swupd.File
		for _, f := range consolidated {
			if f.Name == opts.File {
				filtered = append(filtered, f)
			}
		}
		consolidated = filtered
	}

	if !opts.ExtraFilesOnly {
		res := e.scan(ctx, consolidated, owner, subsMap, true, opts.Quick, opts.Fix, &counters)
		if opts.Fix {
			records := append(append([]*swupd.File{}, res.toStage...), res.toDelete...)
			summary, stageErrs := e.Stage.Apply(records, true)
			counters.addStageSummary(summary)
			if len(stageErrs) > 0 {
				return counters, errkind.Wrap(errkind.KindVerifyFailed, stageErrs[0])
			}
		}
	}

	if opts.Picky || opts.ExtraFilesOnly {
		if err := e.picky(consolidated, opts.PickyTree, opts.PickyWhitelist, &counters); err != nil {
			return counters, errkind.Wrap(errkind.KindCouldntListDir, err)
		}
	}

	if opts.Fix && (counters.NotFixed > 0 || counters.NotReplaced > 0) {
		return counters, errkind.Wrap(errkind.KindVerifyFailed, ErrVerifyIncomplete)
	}

	return counters, nil
}
