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

	"github.com/clearlinux/swupd-client/swupd/errkind"
	"github.com/clearlinux/swupd-client/swupd/version"
)

var bundleInfoCmd = &cobra.Command{
	Use:   "bundle-info BUNDLE",
	Short: "Print information about a single bundle",
	Args:  cobra.ExactArgs(1),
	Run:   runBundleInfo,
}

var bundleInfoFlags struct {
	version      uint32
	dependencies bool
	files        bool
}

func init() {
	bundleInfoCmd.Flags().Uint32VarP(&bundleInfoFlags.version, "version", "V", 0, "look up the bundle at this version instead of the currently installed one")
	bundleInfoCmd.Flags().BoolVar(&bundleInfoFlags.dependencies, "dependencies", false, "also print the bundle's required dependencies")
	bundleInfoCmd.Flags().BoolVar(&bundleInfoFlags.files, "files", false, "also print every file the bundle owns")

	RootCmd.AddCommand(bundleInfoCmd)
}

func runBundleInfo(cmd *cobra.Command, args []string) {
	bundle := args[0]
	e := newEngine()
	ctx := context.Background()

	target := bundleInfoFlags.version
	if target == 0 {
		v, err := version.Current(e.Config.Path)
		if err != nil {
			fail(errkind.Wrap(errkind.KindCurrentVersionUnknown, err))
		}
		target = v
	}

	mom, err := e.Store.LoadMom(ctx, target)
	if err != nil {
		fail(errkind.Wrap(errkind.KindCouldntLoadMoM, err))
	}
	entry, ok := mom.BundleEntry(bundle)
	if !ok {
		failf("bundle %q not found at version %d", bundle, target)
	}

	m, err := e.Store.LoadBundle(ctx, mom, bundle)
	if err != nil {
		fail(errkind.Wrap(errkind.KindCouldntLoadManifest, err))
	}

	fmt.Printf("Bundle:  %s\n", bundle)
	fmt.Printf("Version: %d\n", entry.Version)

	if bundleInfoFlags.dependencies {
		deps := nonOptionalIncludes(m)
		sort.Strings(deps)
		fmt.Println("Dependencies:")
		for _, d := range deps {
			fmt.Printf("  %s\n", d)
		}
	}

	if bundleInfoFlags.files {
		var names []string
		for _, f := range m.Files {
			if f.IsDeleted() {
				continue
			}
			names = append(names, f.Name)
		}
		sort.Strings(names)
		fmt.Println("Files:")
		for _, n := range names {
			fmt.Printf("  %s\n", n)
		}
	}
}
