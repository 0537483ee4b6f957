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

package operator

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/clearlinux/swupd-client/swupd"
)

// preUpdateScript is the one script run_preupdate_scripts ever runs,
// grounded on original_source/src/scripts.c.
const preUpdateScript = "usr/bin/clr_pre_update.sh"

func runHelper(prefix, relPath string, extraArgs ...string) {
	path := filepath.Join(prefix, relPath)
	if _, err := os.Stat(path); err != nil {
		return
	}
	var args []string
	if prefix != "" && prefix != "/" {
		args = append([]string{"--path", prefix}, extraArgs...)
	} else {
		args = extraArgs
	}
	_ = exec.Command(path, args...).Run()
}

// runPostUpdateScripts fires the boot/kernel/systemd helper scripts that
// the side-effect flags set during this operation's file walk asked for,
// grounded on scripts.c's run_scripts. noScripts suppresses all of it
// (update's "unless no-scripts is set").
func runPostUpdateScripts(prefix string, needKernel, needBootloader, needSystemdReexec, noScripts bool) {
	if noScripts {
		return
	}
	if needKernel {
		runHelper(prefix, "usr/bin/kernel_updater.sh")
	}
	if needBootloader {
		runHelper(prefix, "usr/bin/gummiboot_updaters.sh")
		runHelper(prefix, "usr/bin/systemdboot_updater.sh")
	}
	if prefix == "" || prefix == "/" {
		if needSystemdReexec {
			_ = exec.Command("/usr/bin/systemctl", "daemon-reexec").Run()
		}
		_ = exec.Command("/usr/bin/systemctl", "daemon-reload").Run()
		_ = exec.Command("/usr/bin/systemctl", "restart", "update-triggers.target").Run()
	}
}

// runPreUpdateScripts runs <prefix>/usr/bin/clr_pre_update.sh once, but
// only when that exact path is itself listed (and satisfied on disk) in
// one of the manifests being applied - scripts.c's run_preupdate_scripts
// requires the script be a tracked, verified file, not merely present.
func runPreUpdateScripts(prefix string, manifests map[string]*swupd.Manifest) {
	target := "/" + preUpdateScript
	for _, m := range manifests {
		for _, f := range m.Files {
			if f.Name != target || f.IsDeleted() {
				continue
			}
			if fileSatisfied(prefix, f) {
				_ = exec.Command(filepath.Join(prefix, preUpdateScript)).Run()
			}
			return
		}
	}
}

// sideEffects summarizes whether any record in files asks for a
// kernel/bootloader/systemd post-update hook.
func sideEffects(files []*swupd.File) (needKernel, needBootloader, needSystemdReexec bool) {
	for _, f := range files {
		needKernel = needKernel || f.NeedsKernelUpdate
		needBootloader = needBootloader || f.NeedsBootloaderUpdate
		needSystemdReexec = needSystemdReexec || f.NeedsSystemdReexec
	}
	return
}
