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

package swupd

import "strings"

// configPaths are paths always classified as configuration, ignored by
// update on a stateless OS (spec §4.8).
var configPaths = []string{
	"/etc/",
}

func (f *File) setConfigFromPathname() {
	for _, path := range configPaths {
		if strings.HasPrefix(f.Name, path) {
			f.Modifier |= ModConfig
			return
		}
	}
}

// statePaths are mounted-away or ephemeral subtrees: the bare directory
// itself may be shipped, but its contents are always state.
var statePaths = []string{
	"/usr/src/debug",
	"/dev",
	"/home",
	"/proc",
	"/root",
	"/run",
	"/sys",
	"/tmp",
	"/var",
}

// extraStatePaths and otherStatePaths are not shipped as directories
// themselves, so any prefix match (not just trailing-slash match) counts.
var extraStatePaths = []string{
	"/usr/src/",
}

var otherStatePaths = []string{
	"/acct",
	"/cache",
	"/data",
	"/lost+found",
	"/mnt/asec",
	"/mnt/obb",
	"/mnt/shell/emulated",
	"/mnt/swupd",
	"/oem",
	"/system/rt/audio",
	"/system/rt/gfx",
	"/system/rt/media",
	"/system/rt/wifi",
	"/system/etc/firmware/virtual",
}

func (f *File) setStateFromPathname() {
	for _, path := range statePaths {
		// No trailing slash: these are state directories that are
		// actually shipped. A prefix match on path+"/" means contents
		// of the directory, which are never shipped.
		if f.Name == path {
			return
		} else if strings.HasPrefix(f.Name, path+"/") {
			f.Modifier |= ModState
			return
		}
	}

	finalStatePaths := append(append([]string{}, otherStatePaths...), extraStatePaths...)
	for _, path := range finalStatePaths {
		if strings.HasPrefix(f.Name, path) {
			f.Modifier |= ModState
			return
		}
	}
}

var bootPaths = []string{
	"/boot/",
	"/usr/lib/modules/",
	"/usr/lib/kernel/",
	"/usr/lib/gummiboot",
	"/usr/bin/gummiboot",
}

func (f *File) setBootFromPathname() {
	for _, path := range bootPaths {
		if strings.HasPrefix(f.Name, path) {
			f.Modifier |= ModBoot
			// We never remove kernel/boot artifacts: promote a
			// deletion to a ghost so it's simply skipped.
			if f.State == StateDeleted {
				f.State = StateGhosted
			}
			return
		}
	}
}

// kernelUpdatePaths, systemdPath and bootloaderUpdatePaths drive the
// post-update hook side-effect flags (spec §4.8): these are not mutually
// exclusive with the modifier classification above, they're recorded
// independently on the File so the operator can decide which hooks to run.
var kernelUpdatePaths = []string{
	"/usr/lib/kernel/",
}

const systemdPath = "/usr/lib/systemd/systemd"

var bootloaderUpdatePaths = []string{
	"/usr/lib/gummiboot",
	"/usr/bin/gummiboot",
	"/usr/bin/bootctl",
	"/usr/lib/systemd/boot",
	"/usr/bin/clr-boot-manager",
	"/usr/share/syslinux/ldlinux.c32",
}

func (f *File) setSideEffectFlags() {
	for _, p := range kernelUpdatePaths {
		if strings.HasPrefix(f.Name, p) {
			f.NeedsKernelUpdate = true
			break
		}
	}
	if f.Name == systemdPath {
		f.NeedsSystemdReexec = true
	}
	for _, p := range bootloaderUpdatePaths {
		if strings.HasPrefix(f.Name, p) {
			f.NeedsBootloaderUpdate = true
			break
		}
	}
}

// setModifierFromPathname classifies f's path against the config, state
// and boot tables, in that order. Each check ORs its own bit into
// f.Modifier; a later check never clears a bit an earlier one set.
func (f *File) setModifierFromPathname() {
	f.setConfigFromPathname()
	f.setStateFromPathname()
	f.setBootFromPathname()
	f.setSideEffectFlags()
}

// applyHeuristics classifies every file in m by path, and is re-run on
// every operation rather than trusted from the manifest alone (spec §4.8).
func (m *Manifest) applyHeuristics() {
	for _, f := range m.Files {
		f.setModifierFromPathname()
	}
}

// ApplyHeuristics re-derives every file's path-based modifier and
// side-effect flags in m. Callers outside this package (the operator
// layer) must call this once per loaded manifest before consulting
// IsIgnored or the NeedsKernelUpdate/NeedsSystemdReexec/
// NeedsBootloaderUpdate flags: ParseManifest does not classify on its
// own, since the classification must never be trusted from the wire
// format alone.
func (m *Manifest) ApplyHeuristics() {
	m.applyHeuristics()
}

// IsIgnored reports whether f must never be modified on disk by update or
// verify, per spec §4.8. statelessConfig is true when the OS runs in the
// default "stateless" mode, where /etc and config-flagged files are
// entirely hands-off for update.
func (f *File) IsIgnored(statelessConfig bool) bool {
	if statelessConfig && (f.Modifier.Has(ModConfig) || strings.HasPrefix(f.Name, "/etc/")) {
		return true
	}
	if f.Modifier.Has(ModState) {
		return true
	}
	if f.Modifier.Has(ModBoot) && f.IsDeleted() {
		return true
	}
	if f.Modifier.Has(ModOrphan) || f.IsGhosted() {
		return true
	}
	return false
}
