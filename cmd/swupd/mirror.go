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
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clearlinux/swupd-client/swupd/errkind"
)

// mirrorVersionURLPath and mirrorContentURLPath are relative to the
// target prefix, mirroring original_source/src/swupd.h's
// MIRROR_VERSION_URL_PATH/MIRROR_CONTENT_URL_PATH.
const (
	mirrorVersionURLPath = "etc/swupd/mirror_versionurl"
	mirrorContentURLPath = "etc/swupd/mirror_contenturl"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror [URL]",
	Short: "Configure a mirror URL to use instead of the default content/version servers",
	Args:  cobra.MaximumNArgs(1),
	Run:   runMirror,
}

var mirrorFlags struct {
	set   bool
	unset bool
}

func init() {
	mirrorCmd.Flags().BoolVarP(&mirrorFlags.set, "set", "s", false, "set the mirror url")
	mirrorCmd.Flags().BoolVarP(&mirrorFlags.unset, "unset", "U", false, "remove any configured mirror url")

	RootCmd.AddCommand(mirrorCmd)
}

func runMirror(cmd *cobra.Command, args []string) {
	if mirrorFlags.set && mirrorFlags.unset {
		failf("cannot set and unset at the same time")
	}

	cfg := resolveConfig()
	versionPath := filepath.Join(cfg.Path, mirrorVersionURLPath)
	contentPath := filepath.Join(cfg.Path, mirrorContentURLPath)

	if mirrorFlags.unset {
		_ = os.Remove(versionPath)
		_ = os.Remove(contentPath)
		fmt.Println("Mirror unset")
		return
	}

	url := rootFlags.url
	if len(args) == 1 {
		url = args[0]
	}
	if url == "" {
		failf("--set requires a URL, either -u or a positional argument")
	}
	if !cfg.AllowInsecureHTTP && strings.HasPrefix(url, "http://") {
		failf("refusing to set an insecure mirror url %q without --allow-insecure-http", url)
	}

	if err := writeMirrorFile(versionPath, url); err != nil {
		fail(errkind.Wrap(errkind.KindCouldntWriteFile, err))
	}
	if err := writeMirrorFile(contentPath, url); err != nil {
		fail(errkind.Wrap(errkind.KindCouldntWriteFile, err))
	}

	fmt.Printf("Mirror set to %s\n", url)
}

func writeMirrorFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return ioutil.WriteFile(path, []byte(content), 0644)
}
