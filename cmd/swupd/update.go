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
	"github.com/clearlinux/swupd-client/swupd/operator"
	"github.com/clearlinux/swupd-client/swupd/version"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update the OS to the latest (or a pinned) version",
	Run:   runUpdate,
}

var updateFlags struct {
	version uint32
	status  bool
}

func init() {
	updateCmd.Flags().Uint32VarP(&updateFlags.version, "version", "V", 0, "update to this version instead of the server's latest")
	updateCmd.Flags().Bool("download", false, "accepted but ignored: update always applies what it downloads")
	updateCmd.Flags().BoolP("keepcache", "k", false, "accepted but ignored: update never cleans the state directory's cache")
	updateCmd.Flags().BoolVarP(&updateFlags.status, "status", "s", false, "print the current and latest versions and exit")
	updateCmd.Flags().StringP("repo", "R", "", "accepted but ignored: update always updates the OS")

	RootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) {
	e := newEngine()

	if updateFlags.status {
		current, err := version.Current(e.Config.Path)
		if err != nil {
			fail(errkind.Wrap(errkind.KindCurrentVersionUnknown, err))
		}
		latest, err := version.Latest(context.Background(), e.Config.VersionURL, e.Store.Format, e.Verifier, e.Store.FetchOpts)
		if err != nil {
			fail(errkind.Wrap(errkind.KindServerConnectionError, err))
		}
		fmt.Printf("Current OS version: %d\n", current)
		fmt.Printf("Latest server version: %d\n", latest)
		return
	}

	_, err := e.Update(context.Background(), operator.UpdateOptions{Version: updateFlags.version})
	if err != nil {
		fail(err)
	}
}
