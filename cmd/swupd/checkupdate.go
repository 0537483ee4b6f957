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
	"github.com/clearlinux/swupd-client/swupd/version"
)

var checkUpdateCmd = &cobra.Command{
	Use:   "check-update",
	Short: "Report whether a newer version is available on the server, without installing it",
	Run:   runCheckUpdate,
}

func init() {
	RootCmd.AddCommand(checkUpdateCmd)
}

func runCheckUpdate(cmd *cobra.Command, args []string) {
	cfg := resolveConfig()
	e := newEngineWithConfig(cfg)

	current, err := version.Current(cfg.Path)
	if err != nil {
		fail(errkind.Wrap(errkind.KindCurrentVersionUnknown, err))
	}

	latest, err := version.Latest(context.Background(), cfg.VersionURL, e.Store.Format, e.Verifier, e.Store.FetchOpts)
	if err != nil {
		fail(errkind.Wrap(errkind.KindServerConnectionError, err))
	}

	if latest <= current {
		fmt.Printf("Current version %d is the latest\n", current)
		fail(errkind.Wrap(errkind.KindNo, fmt.Errorf("no update available")))
	}

	fmt.Printf("Current version: %d\n", current)
	fmt.Printf("Latest server version: %d\n", latest)
}
