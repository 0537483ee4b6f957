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

import "testing"

func TestSetFlagsRoundTrip(t *testing.T) {
	cases := []string{
		"F...",
		"Dd..",
		"Lg..",
		"M...",
		"F.C.",
		"F.s.",
		"F.b.",
		"F.o.",
		"F.e.",
		"F.x.",
		"F.m.",
		"F..r",
	}

	for _, flags := range cases {
		f := &File{}
		if err := f.setFlags(flags); err != nil {
			t.Fatalf("setFlags(%q) failed: %s", flags, err)
		}
		got, err := f.GetFlagString()
		if err != nil {
			t.Fatalf("GetFlagString after setFlags(%q) failed: %s", flags, err)
		}
		if got != flags {
			t.Errorf("round trip mismatch: set %q, got %q", flags, got)
		}
	}
}

func TestSetFlagsInvalid(t *testing.T) {
	invalid := []string{
		"",
		"F..",
		"X...",
		"F?..",
		"F.?.",
		"F..?",
	}
	for _, flags := range invalid {
		f := &File{}
		if err := f.setFlags(flags); err == nil {
			t.Errorf("setFlags(%q) should have failed", flags)
		}
	}
}

func TestGetFlagStringNoFlagsSet(t *testing.T) {
	f := &File{}
	if _, err := f.GetFlagString(); err == nil {
		t.Error("GetFlagString on a File with no flags set should fail")
	}
}

func TestModifierIsBitset(t *testing.T) {
	f := &File{}
	f.Modifier |= ModConfig
	if !f.Modifier.Has(ModConfig) {
		t.Error("expected ModConfig bit to be set")
	}
	if f.Modifier.Has(ModState) {
		t.Error("did not expect ModState bit to be set")
	}
}

func TestIsDeletedGhosted(t *testing.T) {
	f := &File{State: StateDeleted}
	if !f.IsDeleted() {
		t.Error("expected IsDeleted to be true")
	}
	if f.IsGhosted() {
		t.Error("did not expect IsGhosted to be true")
	}

	f2 := &File{State: StateGhosted}
	if !f2.IsGhosted() {
		t.Error("expected IsGhosted to be true")
	}
}
