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

var bundleAddCmd = &cobra.Command{
	Use:   "bundle-add BUNDLE...",
	Short: "Install one or more bundles",
	Args:  cobra.MinimumNArgs(1),
	Run:   runBundleAdd,
}

var bundleAddFlags struct {
	skipOptional bool
}

func init() {
	bundleAddCmd.Flags().BoolVar(&bundleAddFlags.skipOptional, "skip-optional", false, "do not also install also-add bundles")
	bundleAddCmd.Flags().Bool("skip-diskspace-check", false, "accepted but ignored: bundle-add does no free-disk-space check")

	RootCmd.AddCommand(bundleAddCmd)
}

func runBundleAdd(cmd *cobra.Command, args []string) {
	e := newEngine()
	_, err := e.BundleAdd(context.Background(), operator.BundleAddOptions{
		Bundles:      args,
		SkipOptional: bundleAddFlags.skipOptional,
	})
	if err != nil {
		fail(err)
	}
}
