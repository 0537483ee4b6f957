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

	"github.com/pkg/errors"

	"github.com/clearlinux/swupd-client/swupd"
	"github.com/clearlinux/swupd-client/swupd/errkind"
	"github.com/clearlinux/swupd-client/swupd/stage"
	"github.com/clearlinux/swupd-client/swupd/subscription"
	"github.com/clearlinux/swupd-client/swupd/version"
)

// InstallOptions parameterizes Install (os-install PATH).
type InstallOptions struct {
	Version      uint32
	Bundles      []string
	SkipOptional bool
}

// Install populates an empty or partially populated e.Config.Path with
// Bundles (and their transitive required closure) at Version, or at the
// server's signed latest version when Version is 0, then writes bundle
// markers and the version file. "Quick is always true in install"
// (spec §4.9): no path is hash-compared; an absent path is acquired and
// staged, and a path that already exists is left as it is.
func (e *Engine) Install(ctx context.Context, opts InstallOptions) (Counters, error) {
	var counters Counters

	lock, err := e.lock()
	if err != nil {
		return counters, err
	}
	defer func() { _ = lock.Release() }()

	e.emit(ulogStep("install"))
	defer e.emit(ulogStepEnd("install"))

	target := opts.Version
	if target == 0 {
		latest, err := version.Latest(ctx, e.Config.VersionURL, e.Store.Format, e.Verifier, e.Store.FetchOpts)
		if err != nil {
			return counters, errkind.Wrap(errkind.KindServerConnectionError, err)
		}
		target = latest
	}

	mom, err := e.Store.LoadMom(ctx, target)
	if err != nil {
		return counters, errkind.Wrap(errkind.KindCouldntLoadMoM, err)
	}

	subs, errs := subscription.Resolve(ctx, e.Store, mom, opts.Bundles, nil, nil, subscription.Install, opts.SkipOptional)
	if len(errs) > 0 {
		return counters, errkind.Wrap(errkind.KindInvalidBundle, firstErr(errs))
	}

	names := subscriptionNames(subs)
	manifests, loadErrs := e.Store.Recurse(ctx, mom, names, defaultManifestParallelism)
	if len(loadErrs) > 0 {
		return counters, errkind.Wrap(errkind.KindCouldntLoadManifest, firstErr(loadErrs))
	}
	for _, m := range manifests {
		m.ApplyHeuristics()
	}
	byBundle := manifestsByName(manifests)
	owner := bundleOwners(byBundle)
	subsMap := subsByName(subs)

	consolidated := swupd.Consolidate(manifests)
	res := e.scan(ctx, consolidated, owner, subsMap, true, true, true, &counters)

	records := append(append([]*swupd.File{}, res.toStage...), res.toDelete...)
	summary, stageErrs := e.Stage.Apply(records, true)
	counters.addStageSummary(summary)
	if len(stageErrs) > 0 {
		return counters, errkind.Wrap(errkind.KindCouldntCreateFile, stageErrs[0])
	}

	var failed []string
	for _, s := range subs {
		if !bundleSucceeded(e.Config.Path, byBundle[s.Name]) {
			failed = append(failed, s.Name)
			continue
		}
		if err := stage.WriteBundleMarker(e.Config.Path, s.Name); err != nil {
			return counters, errkind.Wrap(errkind.KindCouldntCreateFile, err)
		}
	}
	if len(failed) > 0 {
		return counters, errkind.Wrap(errkind.KindRecurseManifest, errors.Errorf("bundle(s) failed to install completely: %v", failed))
	}

	if err := stage.PivotVersion(e.Config.Path, target); err != nil {
		return counters, errkind.Wrap(errkind.KindCouldntWriteFile, err)
	}

	return counters, nil
}
