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

// autoupdateCmd just queries server_latest and reports whether update
// would have anything to do; it never flips a persistent enable/disable
// switch since nothing else in the engine consults one.
var autoupdateCmd = &cobra.Command{
	Use:   "autoupdate",
	Short: "Query whether the server has a newer version than what is installed",
	Run:   runAutoupdate,
}

func init() {
	RootCmd.AddCommand(autoupdateCmd)
}

func runAutoupdate(cmd *cobra.Command, args []string) {
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
		fmt.Println("No automatic update available")
		fail(errkind.Wrap(errkind.KindNo, fmt.Errorf("no update available")))
	}

	fmt.Printf("Automatic update available: %d -> %d\n", current, latest)
}
