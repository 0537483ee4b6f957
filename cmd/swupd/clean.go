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

	"github.com/spf13/cobra"

	"github.com/clearlinux/swupd-client/swupd/errkind"
	"github.com/clearlinux/swupd-client/swupd/statedir"
	"github.com/clearlinux/swupd-client/swupd/version"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean cached content from the state directory",
	Run:   runClean,
}

var cleanFlags struct {
	all    bool
	dryRun bool
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanFlags.all, "all", false, "also remove cached manifests that the current MoM still references")
	cleanCmd.Flags().BoolVar(&cleanFlags.dryRun, "dry-run", false, "report what would be removed without removing it")

	RootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) {
	e := newEngine()

	v, err := version.Current(e.Config.Path)
	if err != nil {
		fail(errkind.Wrap(errkind.KindCurrentVersionUnknown, err))
	}
	mom, err := e.Store.LoadMom(context.Background(), v)
	if err != nil {
		fail(errkind.Wrap(errkind.KindCouldntLoadMoM, err))
	}

	res, err := statedir.Clean(e.Config.StateDir, &mom.Manifest, cleanFlags.all, cleanFlags.dryRun)
	if err != nil {
		fail(errkind.Wrap(errkind.KindCouldntRemoveFile, err))
	}

	fmt.Printf("Removed %d file(s), %d bytes freed\n", res.Removed, res.BytesFreed)
}
