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
	"strings"

	"github.com/spf13/cobra"

	"github.com/clearlinux/swupd-client/swupd/operator"
)

var installCmd = &cobra.Command{
	Use:   "os-install PATH",
	Short: "Install a new OS to PATH",
	Long: `Install a new OS to PATH, either the server's latest version or
the one pinned by -V/--version, pulling in the bundles named by
-B/--bundles (os-core alone if not given).`,
	Args: cobra.ExactArgs(1),
	Run:  runInstall,
}

var installFlags struct {
	version      uint32
	bundles      string
	skipOptional bool
}

func init() {
	installCmd.Flags().Uint32VarP(&installFlags.version, "version", "V", 0, "install this version instead of the server's latest")
	installCmd.Flags().StringVarP(&installFlags.bundles, "bundles", "B", "", "comma-separated list of bundles to install (default os-core)")
	installCmd.Flags().BoolVar(&installFlags.skipOptional, "skip-optional", false, "do not also install also-add bundles")
	installCmd.Flags().Bool("download", false, "accepted but ignored: os-install always installs what it downloads")
	installCmd.Flags().BoolP("force", "x", false, "accepted but ignored: os-install never checks whether the prefix already has content")
	installCmd.Flags().String("statedir-cache", "", "accepted but ignored: the state directory is always used as the cache")

	RootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) {
	var bundles []string
	if installFlags.bundles != "" {
		bundles = strings.Split(installFlags.bundles, ",")
	}

	// The positional PATH argument is the authority for os-install's
	// target, overriding whatever -p/--path (or its default) resolved to.
	cfg := resolveConfig()
	cfg.Path = args[0]
	e := newEngineWithConfig(cfg)

	_, err := e.Install(context.Background(), operator.InstallOptions{
		Version:      installFlags.version,
		Bundles:      bundles,
		SkipOptional: installFlags.skipOptional,
	})
	if err != nil {
		fail(err)
	}
}
