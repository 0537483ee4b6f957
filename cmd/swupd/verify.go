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
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clearlinux/swupd-client/swupd/errkind"
	"github.com/clearlinux/swupd-client/swupd/operator"
)

var verifyCmd = &cobra.Command{
	Use:     "verify",
	Aliases: []string{"repair"},
	Short:   "Verify (and optionally repair) the currently installed content",
	Run:     runVerify,
}

var verifyFlags struct {
	version        uint32
	force          bool
	quick          bool
	bundles        string
	picky          bool
	pickyTree      string
	pickyWhitelist string
	extraFilesOnly bool
	file           string
}

func init() {
	verifyCmd.Flags().Uint32VarP(&verifyFlags.version, "version", "V", 0, "verify against this version instead of the currently installed one")
	verifyCmd.Flags().BoolVarP(&verifyFlags.force, "force", "x", false, "fix/replace mismatched or missing content")
	verifyCmd.Flags().BoolVarP(&verifyFlags.quick, "quick", "q", false, "only check for missing files, skip hash comparison")
	verifyCmd.Flags().StringVarP(&verifyFlags.bundles, "bundles", "B", "", "restrict the check to this comma-separated bundle list")
	verifyCmd.Flags().BoolVarP(&verifyFlags.picky, "picky", "Y", false, "also remove files under --picky-tree not owned by any installed bundle")
	verifyCmd.Flags().StringVarP(&verifyFlags.pickyTree, "picky-tree", "X", "", "subtree (relative to the install root) picky walks, default /usr")
	verifyCmd.Flags().StringVarP(&verifyFlags.pickyWhitelist, "picky-whitelist", "w", "", "regex of paths picky must never remove")
	verifyCmd.Flags().BoolVar(&verifyFlags.extraFilesOnly, "extra-files-only", false, "run only the picky pass, skip the missing/mismatch walk")
	verifyCmd.Flags().StringVar(&verifyFlags.file, "file", "", "verify only this single path")

	RootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) {
	e := newEngine()

	var bundles []string
	if verifyFlags.bundles != "" {
		bundles = strings.Split(verifyFlags.bundles, ",")
	}

	var whitelist *regexp.Regexp
	if verifyFlags.pickyWhitelist != "" {
		re, err := regexp.Compile(verifyFlags.pickyWhitelist)
		if err != nil {
			fail(errkind.Wrap(errkind.KindInvalidOption, err))
		}
		whitelist = re
	}

	_, err := e.Verify(context.Background(), operator.VerifyOptions{
		Version:        verifyFlags.version,
		Fix:            verifyFlags.force,
		Quick:          verifyFlags.quick,
		Picky:          verifyFlags.picky,
		ExtraFilesOnly: verifyFlags.extraFilesOnly,
		Bundles:        bundles,
		File:           verifyFlags.file,
		PickyTree:      verifyFlags.pickyTree,
		PickyWhitelist: whitelist,
	})
	if err != nil {
		fail(err)
	}
}
