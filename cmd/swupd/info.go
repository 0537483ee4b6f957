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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clearlinux/swupd-client/swupd/errkind"
	"github.com/clearlinux/swupd-client/swupd/operator"
	"github.com/clearlinux/swupd-client/swupd/version"
)

// infoCmd reports what is already known locally: installed version,
// content source, and bundle count. It never touches the network, unlike
// check-update/autoupdate which query the version service.
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the installed version and configured content source",
	Run:   runInfo,
}

func init() {
	RootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) {
	cfg := resolveConfig()

	current, err := version.Current(cfg.Path)
	if err != nil {
		fail(errkind.Wrap(errkind.KindCurrentVersionUnknown, err))
	}

	bundles, err := operator.InstalledBundles(cfg.Path)
	if err != nil {
		fail(errkind.Wrap(errkind.KindCouldntListDir, err))
	}

	fmt.Printf("Installed version:  %d\n", current)
	fmt.Printf("Version URL:        %s\n", cfg.VersionURL)
	fmt.Printf("Content URL:        %s\n", cfg.ContentURL)
	fmt.Printf("Format:             %s\n", cfg.Format)
	fmt.Printf("Installed bundles:  %d\n", len(bundles))
}
