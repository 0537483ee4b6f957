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

// UpdateOptions parameterizes Update.
type UpdateOptions struct {
	// Version pins the target version instead of discovering the
	// server's latest (-V/--version).
	Version uint32
	// NoScripts suppresses post-update helper scripts.
	NoScripts bool
}

// ErrNoUpdateAvailable is returned (wrapped as errkind.KindNo) when the
// server's latest version is not newer than the currently installed one.
var ErrNoUpdateAvailable = errors.New("no update available")

// Update advances the currently installed system from its current version
// to a newer target (the server's signed "latest" unless opts.Version
// pins one), resolving the full installed-bundle closure at the target
// version, acquiring and staging every changed file, then writing the new
// version file last.
func (e *Engine) Update(ctx context.Context, opts UpdateOptions) (Counters, error) {
	var counters Counters

	lock, err := e.lock()
	if err != nil {
		return counters, err
	}
	defer func() { _ = lock.Release() }()

	e.emit(ulogStep("update"))
	defer e.emit(ulogStepEnd("update"))

	current, err := version.Current(e.Config.Path)
	if err != nil {
		return counters, errkind.Wrap(errkind.KindCurrentVersionUnknown, err)
	}

	target := opts.Version
	if target == 0 {
		latest, err := version.Latest(ctx, e.Config.VersionURL, e.Store.Format, e.Verifier, e.Store.FetchOpts)
		if err != nil {
			return counters, errkind.Wrap(errkind.KindServerConnectionError, err)
		}
		target = latest
	}
	if target <= current {
		return counters, errkind.Wrap(errkind.KindNo, ErrNoUpdateAvailable)
	}

	currentMom, err := e.Store.LoadMom(ctx, current)
	if err != nil {
		return counters, errkind.Wrap(errkind.KindCouldntLoadMoM, err)
	}
	targetMom, err := e.Store.LoadMom(ctx, target)
	if err != nil {
		return counters, errkind.Wrap(errkind.KindCouldntLoadMoM, err)
	}

	installed, err := installedBundleNames(e.Config.Path)
	if err != nil {
		return counters, errkind.Wrap(errkind.KindCouldntListDir, err)
	}

	subs, errs := subscription.Resolve(ctx, e.Store, targetMom, nil, installed, installedVersions{mom: currentMom}, subscription.Update, false)
	if len(errs) > 0 {
		return counters, errkind.Wrap(errkind.KindInvalidBundle, firstErr(errs))
	}

	names := subscriptionNames(subs)
	manifests, loadErrs := e.Store.Recurse(ctx, targetMom, names, defaultManifestParallelism)
	if len(loadErrs) > 0 {
		return counters, errkind.Wrap(errkind.KindCouldntLoadManifest, firstErr(loadErrs))
	}
	for _, m := range manifests {
		m.ApplyHeuristics()
	}
	byBundle := manifestsByName(manifests)
	owner := bundleOwners(byBundle)
	subsMap := subsByName(subs)

	runPreUpdateScripts(e.Config.Path, byBundle)

	consolidated := swupd.Consolidate(manifests)
	res := e.scan(ctx, consolidated, owner, subsMap, true, false, true, &counters)

	records := append(append([]*swupd.File{}, res.toStage...), res.toDelete...)
	summary, stageErrs := e.Stage.Apply(records, true)
	counters.addStageSummary(summary)
	if len(stageErrs) > 0 {
		return counters, errkind.Wrap(errkind.KindCouldntRenameFile, stageErrs[0])
	}

	if err := stage.PivotVersion(e.Config.Path, target); err != nil {
		return counters, errkind.Wrap(errkind.KindCouldntWriteFile, err)
	}

	needKernel, needBootloader, needSystemdReexec := sideEffects(res.toStage)
	runPostUpdateScripts(e.Config.Path, needKernel, needBootloader, needSystemdReexec, opts.NoScripts)

	return counters, nil
}
