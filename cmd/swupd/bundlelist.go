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

package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/clearlinux/swupd-client/swupd"
	"github.com/clearlinux/swupd-client/swupd/errkind"
	"github.com/clearlinux/swupd-client/swupd/operator"
	"github.com/clearlinux/swupd-client/swupd/version"
)

var bundleListCmd = &cobra.Command{
	Use:   "bundle-list",
	Short: "List installed (or, with --all, every available) bundle",
	Run:   runBundleList,
}

var bundleListFlags struct {
	all    bool
	hasDep string
	deps   string
	status bool
}

func init() {
	bundleListCmd.Flags().BoolVarP(&bundleListFlags.all, "all", "a", false, "list every bundle available on the server, not just installed ones")
	bundleListCmd.Flags().StringVarP(&bundleListFlags.hasDep, "has-dep", "D", "", "list only bundles whose manifest directly includes B (non-optional includes only)")
	bundleListCmd.Flags().StringVar(&bundleListFlags.deps, "deps", "", "list B's own dependencies instead of the installed/available set")
	bundleListCmd.Flags().BoolVar(&bundleListFlags.status, "status", false, "annotate each bundle with its installed/not-installed status")

	RootCmd.AddCommand(bundleListCmd)
}

func runBundleList(cmd *cobra.Command, args []string) {
	e := newEngine()

	installed, err := operator.InstalledBundles(e.Config.Path)
	if err != nil {
		fail(errkind.Wrap(errkind.KindCouldntListDir, err))
	}
	installedSet := make(map[string]bool, len(installed))
	for _, n := range installed {
		installedSet[n] = true
	}

	if !bundleListFlags.all && bundleListFlags.deps == "" && bundleListFlags.hasDep == "" {
		for _, n := range installed {
			fmt.Println(n)
		}
		return
	}

	ctx := context.Background()
	current, err := version.Current(e.Config.Path)
	if err != nil {
		fail(errkind.Wrap(errkind.KindCurrentVersionUnknown, err))
	}
	mom, err := e.Store.LoadMom(ctx, current)
	if err != nil {
		fail(errkind.Wrap(errkind.KindCouldntLoadMoM, err))
	}

	allNames := bundleNamesFromMom(mom)

	switch {
	case bundleListFlags.deps != "":
		printBundleDeps(ctx, e, mom, bundleListFlags.deps)
	case bundleListFlags.hasDep != "":
		printBundlesWithDep(ctx, e, mom, allNames, bundleListFlags.hasDep)
	default: // --all
		sort.Strings(allNames)
		for _, n := range allNames {
			if bundleListFlags.status && installedSet[n] {
				fmt.Printf("%s (installed)\n", n)
			} else {
				fmt.Println(n)
			}
		}
	}
}

func bundleNamesFromMom(mom *swupd.Mom) []string {
	var names []string
	for _, f := range mom.Files {
		if f.Kind != swupd.KindManifestPtr || f.IsDeleted() {
			continue
		}
		names = append(names, f.Name)
	}
	return names
}

func nonOptionalIncludes(m *swupd.Manifest) []string {
	var names []string
	for _, inc := range m.Header.Includes {
		if !inc.Optional {
			names = append(names, inc.Name)
		}
	}
	return names
}

func printBundleDeps(ctx context.Context, e *operator.Engine, mom *swupd.Mom, bundle string) {
	m, err := e.Store.LoadBundle(ctx, mom, bundle)
	if err != nil {
		fail(errkind.Wrap(errkind.KindInvalidBundle, err))
	}
	deps := nonOptionalIncludes(m)
	sort.Strings(deps)
	for _, d := range deps {
		fmt.Println(d)
	}
}

func printBundlesWithDep(ctx context.Context, e *operator.Engine, mom *swupd.Mom, allNames []string, target string) {
	var matches []string
	for _, n := range allNames {
		if n == target {
			continue
		}
		m, err := e.Store.LoadBundle(ctx, mom, n)
		if err != nil {
			continue
		}
		for _, d := range nonOptionalIncludes(m) {
			if d == target {
				matches = append(matches, n)
				break
			}
		}
	}
	sort.Strings(matches)
	for _, n := range matches {
		fmt.Println(n)
	}
}
