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

// BundleAddOptions parameterizes BundleAdd.
type BundleAddOptions struct {
	Bundles      []string
	SkipOptional bool
}

// BundleAdd resolves Bundles' transitive required closure limited to
// not-yet-installed bundles, acquires and stages their files, and writes a
// marker for every bundle that installed completely.
func (e *Engine) BundleAdd(ctx context.Context, opts BundleAddOptions) (Counters, error) {
	var counters Counters

	lock, err := e.lock()
	if err != nil {
		return counters, err
	}
	defer func() { _ = lock.Release() }()

	e.emit(ulogStep("bundle-add"))
	defer e.emit(ulogStepEnd("bundle-add"))

	current, err := version.Current(e.Config.Path)
	if err != nil {
		return counters, errkind.Wrap(errkind.KindCurrentVersionUnknown, err)
	}

	mom, err := e.Store.LoadMom(ctx, current)
	if err != nil {
		return counters, errkind.Wrap(errkind.KindCouldntLoadMoM, err)
	}

	installed, err := installedBundleNames(e.Config.Path)
	if err != nil {
		return counters, errkind.Wrap(errkind.KindCouldntListDir, err)
	}
	installedSet := make(map[string]bool, len(installed))
	for _, n := range installed {
		installedSet[n] = true
	}

	subs, errs := subscription.Resolve(ctx, e.Store, mom, opts.Bundles, nil, nil, subscription.Install, opts.SkipOptional)
	if len(errs) > 0 {
		return counters, errkind.Wrap(errkind.KindInvalidBundle, firstErr(errs))
	}

	var toInstall []subscription.Subscription
	for _, s := range subs {
		if !installedSet[s.Name] {
			toInstall = append(toInstall, s)
		}
	}
	if len(toInstall) == 0 {
		return counters, nil
	}

	names := subscriptionNames(toInstall)
	manifests, loadErrs := e.Store.Recurse(ctx, mom, names, defaultManifestParallelism)
	if len(loadErrs) > 0 {
		return counters, errkind.Wrap(errkind.KindCouldntLoadManifest, firstErr(loadErrs))
	}
	for _, m := range manifests {
		m.ApplyHeuristics()
	}
	byBundle := manifestsByName(manifests)
	owner := bundleOwners(byBundle)
	subsMap := subsByName(toInstall)

	consolidated := swupd.Consolidate(manifests)
	res := e.scan(ctx, consolidated, owner, subsMap, true, false, true, &counters)

	records := append(append([]*swupd.File{}, res.toStage...), res.toDelete...)
	summary, stageErrs := e.Stage.Apply(records, true)
	counters.addStageSummary(summary)
	if len(stageErrs) > 0 {
		return counters, errkind.Wrap(errkind.KindCouldntCreateFile, stageErrs[0])
	}

	var failed []string
	for _, s := range toInstall {
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

	return counters, nil
}
