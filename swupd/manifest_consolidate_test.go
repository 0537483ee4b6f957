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

func TestConsolidateUnion(t *testing.T) {
	m1 := &Manifest{Files: []*File{{Name: "/a", Version: 10}}}
	m2 := &Manifest{Files: []*File{{Name: "/b", Version: 20}}}

	out := Consolidate([]*Manifest{m1, m2})
	if len(out) != 2 {
		t.Fatalf("got %d files, want 2", len(out))
	}
	if out[0].Name != "/a" || out[1].Name != "/b" {
		t.Errorf("result not sorted by path: %q, %q", out[0].Name, out[1].Name)
	}
}

func TestConsolidateLiveWinsOverDeleted(t *testing.T) {
	deleted := &File{Name: "/a", Version: 50, State: StateDeleted}
	live := &File{Name: "/a", Version: 10}

	out := Consolidate([]*Manifest{
		{Files: []*File{deleted}},
		{Files: []*File{live}},
	})
	if len(out) != 1 {
		t.Fatalf("got %d files, want 1", len(out))
	}
	if out[0] != live {
		t.Errorf("expected live record to win despite lower version, got version %d deleted=%v", out[0].Version, out[0].IsDeleted())
	}
}

func TestConsolidateNewestWinsAmongLive(t *testing.T) {
	older := &File{Name: "/a", Version: 10}
	newer := &File{Name: "/a", Version: 20}

	out := Consolidate([]*Manifest{
		{Files: []*File{older}},
		{Files: []*File{newer}},
	})
	if len(out) != 1 || out[0] != newer {
		t.Fatalf("expected newest live record to win, got %+v", out)
	}
}

func TestConsolidateNewestWinsAmongDeleted(t *testing.T) {
	older := &File{Name: "/a", Version: 10, State: StateDeleted}
	newer := &File{Name: "/a", Version: 20, State: StateDeleted}

	out := Consolidate([]*Manifest{
		{Files: []*File{older}},
		{Files: []*File{newer}},
	})
	if len(out) != 1 || out[0] != newer {
		t.Fatalf("expected newest deleted record to win, got %+v", out)
	}
}

func TestConsolidateEmpty(t *testing.T) {
	out := Consolidate(nil)
	if len(out) != 0 {
		t.Fatalf("got %d files, want 0", len(out))
	}
}
