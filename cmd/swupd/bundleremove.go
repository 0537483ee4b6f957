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

	"github.com/spf13/cobra"

	"github.com/clearlinux/swupd-client/swupd/operator"
)

var bundleRemoveCmd = &cobra.Command{
	Use:   "bundle-remove BUNDLE...",
	Short: "Remove one or more bundles",
	Args:  cobra.MinimumNArgs(1),
	Run:   runBundleRemove,
}

var bundleRemoveFlags struct {
	force     bool
	recursive bool
}

func init() {
	bundleRemoveCmd.Flags().BoolVarP(&bundleRemoveFlags.force, "force", "x", false, "remove even if other installed bundles depend on it")
	bundleRemoveCmd.Flags().BoolVarP(&bundleRemoveFlags.recursive, "recursive", "R", false, "also remove bundles exclusively required by the named bundles")

	RootCmd.AddCommand(bundleRemoveCmd)
}

func runBundleRemove(cmd *cobra.Command, args []string) {
	e := newEngine()
	_, err := e.BundleRemove(context.Background(), operator.BundleRemoveOptions{
		Bundles:   args,
		Force:     bundleRemoveFlags.force,
		Recursive: bundleRemoveFlags.recursive,
	})
	if err != nil {
		fail(err)
	}
}
