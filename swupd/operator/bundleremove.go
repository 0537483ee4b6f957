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
	"sort"

	"github.com/pkg/errors"

	"github.com/clearlinux/swupd-client/swupd"
	"github.com/clearlinux/swupd-client/swupd/errkind"
	"github.com/clearlinux/swupd-client/swupd/stage"
	"github.com/clearlinux/swupd-client/swupd/subscription"
	"github.com/clearlinux/swupd-client/swupd/version"
)

// BundleRemoveOptions parameterizes BundleRemove.
type BundleRemoveOptions struct {
	Bundles   []string
	Force     bool
	Recursive bool
}

// ErrCannotRemoveOSCore is returned (wrapped as errkind.KindRequiredBundle)
// for any attempt to remove os-core, directly or via --recursive.
var ErrCannotRemoveOSCore = errors.New("os-core must never be removed")

// BundleRemove resolves reverse-dependency safety over the currently
// installed bundle graph, then unlinks every file owned exclusively by the
// bundles being removed and removes their markers. A bundle must never
// remove os-core.
func (e *Engine) BundleRemove(ctx context.Context, opts BundleRemoveOptions) (Counters, error) {
	var counters Counters

	for _, name := range opts.Bundles {
		if name == "os-core" {
			return counters, errkind.Wrap(errkind.KindRequiredBundle, ErrCannotRemoveOSCore)
		}
	}

	lock, err := e.lock()
	if err != nil {
		return counters, err
	}
	defer func() { _ = lock.Release() }()

	e.emit(ulogStep("bundle-remove"))
	defer e.emit(ulogStepEnd("bundle-remove"))

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

	manifests, loadErrs := e.Store.Recurse(ctx, mom, installed, defaultManifestParallelism)
	if len(loadErrs) > 0 {
		return counters, errkind.Wrap(errkind.KindCouldntLoadManifest, firstErr(loadErrs))
	}
	for _, m := range manifests {
		m.ApplyHeuristics()
	}
	byBundle := manifestsByName(manifests)

	graph := make(map[string][]string, len(byBundle))
	for name, m := range byBundle {
		var includes []string
		for _, inc := range m.Header.Includes {
			if !inc.Optional {
				includes = append(includes, inc.Name)
			}
		}
		graph[name] = includes
	}

	toRemove, err := subscription.ResolveRemove(opts.Bundles, graph, opts.Force, opts.Recursive)
	if err != nil {
		return counters, errkind.Wrap(errkind.KindRequiredBundle, err)
	}

	toRemoveSet := make(map[string]bool, len(toRemove))
	for _, n := range toRemove {
		if n == "os-core" {
			return counters, errkind.Wrap(errkind.KindRequiredBundle, ErrCannotRemoveOSCore)
		}
		toRemoveSet[n] = true
	}

	// Files owned exclusively by the bundles being removed: present in
	// one of their manifests, absent from every bundle that stays
	// installed.
	remainingFiles := make(map[string]bool)
	for name, m := range byBundle {
		if toRemoveSet[name] {
			continue
		}
		for _, f := range m.Files {
			if f.IsDeleted() || f.IsIgnored(true) {
				continue
			}
			remainingFiles[f.Name] = true
		}
	}

	var owned []*swupd.File
	seen := make(map[string]bool)
	for name := range toRemoveSet {
		m := byBundle[name]
		if m == nil {
			continue
		}
		for _, f := range m.Files {
			if f.IsDeleted() || f.IsIgnored(true) {
				continue
			}
			if remainingFiles[f.Name] || seen[f.Name] {
				continue
			}
			seen[f.Name] = true
			owned = append(owned, f)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return len(owned[i].Name) > len(owned[j].Name) })

	for _, f := range owned {
		path := filepath.Join(e.Config.Path, f.Name)
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			counters.NotDeleted++
			continue
		}
		counters.Deleted++
	}

	for name := range toRemoveSet {
		if err := stage.RemoveBundleMarker(e.Config.Path, name); err != nil {
			return counters, errkind.Wrap(errkind.KindCouldntRemoveFile, err)
		}
	}

	return counters, nil
}
