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

	"github.com/clearlinux/swupd-client/swupd"
	"github.com/clearlinux/swupd-client/swupd/errkind"
)

// hashdumpCmd prints the content hash of a single on-disk path, the same
// hash the engine compares a manifest's File.Hash against during verify.
// It touches only the named path, never the network or the state dir.
var hashdumpCmd = &cobra.Command{
	Use:   "hashdump PATH",
	Short: "Print the content hash swupd would compute for a file",
	Args:  cobra.ExactArgs(1),
	Run:   runHashdump,
}

func init() {
	RootCmd.AddCommand(hashdumpCmd)
}

func runHashdump(cmd *cobra.Command, args []string) {
	h, err := swupd.Hashcalc(args[0])
	if err != nil {
		fail(errkind.Wrap(errkind.KindComputeHashError, err))
	}
	fmt.Println(h.String())
}
