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

// Package subscription resolves a requested bundle set against a MoM into
// the transitive closure over `includes` (required) and `also-add`
// (optional) edges, grounded on swupd-extract/main.go's resolveBundles BFS
// and extended with the required/optional "sticky downward" distinction
// and from/to version tracking spec.md §4.5 requires.
package subscription

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/clearlinux/swupd-client/swupd"
	"github.com/clearlinux/swupd-client/swupd/manifeststore"
)

// Mode selects how the initial worklist is seeded.
type Mode int

// Mode values.
const (
	Install Mode = iota
	Update
	Verify
)

// Subscription is one bundle in the resolved closure.
type Subscription struct {
	Name        string
	Required    bool // false if reached only via also-add, and never via includes
	FromVersion uint32
	ToVersion   uint32
}

// InvalidBundleError reports a requested or included bundle name that is
// not present (or is deleted) in the MoM. It is non-fatal: the caller
// reports it and continues resolving the rest.
type InvalidBundleError struct {
	Name string
}

func (e *InvalidBundleError) Error() string {
	return "invalid bundle: " + e.Name
}

// InstalledVersions answers, for a bundle name, the version at which it
// was last changed according to the manifest currently on disk.
type InstalledVersions interface {
	FromVersion(bundle string) (version uint32, installed bool)
}

// Resolve computes the transitive closure of requested against mom. For
// Update and Verify, the worklist is seeded from installedNames ∪
// {"os-core"} rather than requested, per spec. skipOptional, if true, does
// not follow also-add edges. Returns the resolved subscriptions (sorted by
// name) and any per-name InvalidBundleError encountered, keyed by name.
func Resolve(ctx context.Context, store *manifeststore.Store, mom *swupd.Mom, requested []string, installedNames []string, installed InstalledVersions, mode Mode, skipOptional bool) ([]Subscription, map[string]error) {
	type work struct {
		name     string
		optional bool
	}

	var worklist []work
	switch mode {
	case Update, Verify:
		seen := map[string]bool{"os-core": true}
		worklist = append(worklist, work{name: "os-core"})
		for _, n := range installedNames {
			if !seen[n] {
				seen[n] = true
				worklist = append(worklist, work{name: n})
			}
		}
	default:
		for _, n := range requested {
			worklist = append(worklist, work{name: n})
		}
	}

	visited := make(map[string]*Subscription)
	errs := make(map[string]error)

	for len(worklist) > 0 {
		item := worklist[0]
		worklist = worklist[1:]

		if existing, ok := visited[item.name]; ok {
			// A required edge always wins over a prior optional one
			// (optional-ness is sticky downward, not upward).
			if !item.optional {
				existing.Required = true
			}
			continue
		}

		entry, ok := mom.BundleEntry(item.name)
		if !ok || entry.IsDeleted() {
			errs[item.name] = &InvalidBundleError{Name: item.name}
			continue
		}

		sub := &Subscription{Name: item.name, Required: !item.optional, ToVersion: entry.Version}
		if installed != nil {
			if v, found := installed.FromVersion(item.name); found {
				sub.FromVersion = v
			}
		}
		visited[item.name] = sub

		m, err := store.LoadBundle(ctx, mom, item.name)
		if err != nil {
			errs[item.name] = err
			continue
		}
		for _, inc := range m.Header.Includes {
			if inc.Optional && skipOptional {
				continue
			}
			worklist = append(worklist, work{name: inc.Name, optional: inc.Optional})
		}
	}

	result := make([]Subscription, 0, len(visited))
	for _, s := range visited {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, errs
}

// RequiredBundleError is returned by ResolveRemove when a requested bundle
// is a dependency of another still-installed bundle and neither force nor
// recursive removal was requested.
type RequiredBundleError struct {
	Name        string
	ReverseDeps []string
}

func (e *RequiredBundleError) Error() string {
	return errors.Errorf("%s is required by %v", e.Name, e.ReverseDeps).Error()
}

// ResolveRemove computes the set of bundles to actually remove given a
// requested removal set and the dependency graph of currently-installed
// bundles (name -> its required `includes`). With force, reverse
// dependencies are ignored. With recursive, the requested bundles' own
// exclusive transitive dependencies (those not reachable from any
// remaining installed bundle) are included in the removal set.
func ResolveRemove(requested []string, installedGraph map[string][]string, force, recursive bool) ([]string, error) {
	requestedSet := make(map[string]bool, len(requested))
	for _, n := range requested {
		requestedSet[n] = true
	}

	if !force {
		for name, includes := range installedGraph {
			if requestedSet[name] {
				continue
			}
			for _, dep := range includes {
				if requestedSet[dep] {
					return nil, &RequiredBundleError{Name: dep, ReverseDeps: reverseDepsOf(dep, installedGraph, requestedSet)}
				}
			}
		}
	}

	if !recursive {
		out := append([]string{}, requested...)
		sort.Strings(out)
		return out, nil
	}

	// Exclusive transitive dependencies: everything reachable from the
	// requested set, minus anything also reachable from a bundle that
	// will remain installed.
	reachableFromRequested := reachable(requested, installedGraph)

	var remaining []string
	for name := range installedGraph {
		if !requestedSet[name] {
			remaining = append(remaining, name)
		}
	}
	reachableFromRemaining := reachable(remaining, installedGraph)

	out := make([]string, 0, len(reachableFromRequested))
	for name := range reachableFromRequested {
		if !reachableFromRemaining[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func reverseDepsOf(name string, graph map[string][]string, requestedSet map[string]bool) []string {
	var deps []string
	for parent, includes := range graph {
		if requestedSet[parent] {
			continue
		}
		for _, inc := range includes {
			if inc == name {
				deps = append(deps, parent)
				break
			}
		}
	}
	sort.Strings(deps)
	return deps
}

func reachable(roots []string, graph map[string][]string) map[string]bool {
	seen := make(map[string]bool)
	queue := append([]string{}, roots...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true
		queue = append(queue, graph[name]...)
	}
	return seen
}
