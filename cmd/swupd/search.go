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
	"errors"

	"github.com/spf13/cobra"

	"github.com/clearlinux/swupd-client/swupd/errkind"
)

// ErrNotImplemented is returned by commands that are part of the
// documented CLI surface but require infrastructure this client does not
// build: search needs the full-text bundle-description index the
// original builds offline, out of scope here.
var ErrNotImplemented = errors.New("not implemented")

var searchCmd = &cobra.Command{
	Use:   "search TERM",
	Short: "Search bundle descriptions for TERM (not implemented)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fail(errkind.Wrap(errkind.KindInvalidOption, ErrNotImplemented))
	},
}

func init() {
	RootCmd.AddCommand(searchCmd)
}
