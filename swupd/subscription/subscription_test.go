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

package subscription

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/clearlinux/swupd-client/swupd"
	"github.com/clearlinux/swupd-client/swupd/fetch"
	"github.com/clearlinux/swupd-client/swupd/manifeststore"
)

func makeTar(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(content)), Mode: 0644}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func hashOf(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := dir + "/" + name
	if err := ioutil.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	h, err := swupd.GetHashForFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

// setupGraph serves a MoM plus bundle manifests for a small includes/
// also-add graph: os-core -> (includes) editors -> (also-add) spellcheck.
func setupGraph(t *testing.T) (*httptest.Server, *swupd.Mom, *manifeststore.Store, func()) {
	t.Helper()
	hashDir, err := ioutil.TempDir("", "subtest-hash")
	if err != nil {
		t.Fatal(err)
	}

	osCoreText := strings.Join([]string{
		"MANIFEST\t4", "version:\t10", "previous:\t0", "filecount:\t1",
		"timestamp:\t1500000000", "contentsize:\t1", "includes:\teditors", "",
		"F...\t" + strings.Repeat("a", 64) + "\t10\t/bin/os-core", "",
	}, "\n")
	editorsText := strings.Join([]string{
		"MANIFEST\t4", "version:\t10", "previous:\t0", "filecount:\t1",
		"timestamp:\t1500000000", "contentsize:\t1", "also-add:\tspellcheck", "",
		"F...\t" + strings.Repeat("b", 64) + "\t10\t/bin/editors", "",
	}, "\n")
	spellcheckText := strings.Join([]string{
		"MANIFEST\t4", "version:\t10", "previous:\t0", "filecount:\t1",
		"timestamp:\t1500000000", "contentsize:\t1", "",
		"F...\t" + strings.Repeat("c", 64) + "\t10\t/bin/spellcheck", "",
	}, "\n")

	osCoreHash := hashOf(t, hashDir, "os-core", []byte(osCoreText))
	editorsHash := hashOf(t, hashDir, "editors", []byte(editorsText))
	spellcheckHash := hashOf(t, hashDir, "spellcheck", []byte(spellcheckText))

	momText := strings.Join([]string{
		"MANIFEST\t4", "version:\t20", "previous:\t10", "filecount:\t3",
		"timestamp:\t1500000000", "contentsize:\t1", "",
		fmt.Sprintf("M...\t%s\t10\tos-core", osCoreHash),
		fmt.Sprintf("M...\t%s\t10\teditors", editorsHash),
		fmt.Sprintf("M...\t%s\t10\tspellcheck", spellcheckHash),
		"",
	}, "\n")

	mux := http.NewServeMux()
	mux.HandleFunc("/20/Manifest.MoM.tar", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(makeTar(t, "Manifest.MoM", []byte(momText)))
	})
	mux.HandleFunc("/10/Manifest.os-core.tar", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(makeTar(t, "Manifest.os-core", []byte(osCoreText)))
	})
	mux.HandleFunc("/10/Manifest.editors.tar", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(makeTar(t, "Manifest.editors", []byte(editorsText)))
	})
	mux.HandleFunc("/10/Manifest.spellcheck.tar", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(makeTar(t, "Manifest.spellcheck", []byte(spellcheckText)))
	})
	srv := httptest.NewServer(mux)

	store := manifeststore.New(t.TempDir(), srv.URL, nil, 4, fetch.Options{AllowHTTP: true})
	mom, err := store.LoadMom(context.Background(), 20)
	if err != nil {
		t.Fatalf("LoadMom failed: %s", err)
	}

	cleanup := func() {
		srv.Close()
		_ = os.RemoveAll(hashDir)
	}
	return srv, mom, store, cleanup
}

func TestResolveRequiredAndOptional(t *testing.T) {
	_, mom, store, cleanup := setupGraph(t)
	defer cleanup()

	subs, errs := Resolve(context.Background(), store, mom, []string{"os-core"}, nil, nil, Install, false)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if len(subs) != 3 {
		t.Fatalf("got %d subscriptions, want 3: %+v", len(subs), subs)
	}

	byName := make(map[string]Subscription)
	for _, s := range subs {
		byName[s.Name] = s
	}
	if !byName["os-core"].Required {
		t.Error("os-core should be required (directly requested)")
	}
	if !byName["editors"].Required {
		t.Error("editors should be required (reached via includes)")
	}
	if byName["spellcheck"].Required {
		t.Error("spellcheck should be optional (reached only via also-add)")
	}
}

func TestResolveSkipOptional(t *testing.T) {
	_, mom, store, cleanup := setupGraph(t)
	defer cleanup()

	subs, errs := Resolve(context.Background(), store, mom, []string{"os-core"}, nil, nil, Install, true)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d subscriptions with skipOptional, want 2 (os-core, editors): %+v", len(subs), subs)
	}
}

func TestResolveOptionalBecomesRequiredIfAlsoIncluded(t *testing.T) {
	_, mom, store, cleanup := setupGraph(t)
	defer cleanup()

	// Request both os-core (which pulls spellcheck only optionally via
	// editors) and spellcheck directly (making it required).
	subs, errs := Resolve(context.Background(), store, mom, []string{"os-core", "spellcheck"}, nil, nil, Install, false)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	var spellcheck Subscription
	for _, s := range subs {
		if s.Name == "spellcheck" {
			spellcheck = s
		}
	}
	if !spellcheck.Required {
		t.Error("spellcheck directly requested should be required even though also reached optionally")
	}
}

func TestResolveInvalidBundle(t *testing.T) {
	_, mom, store, cleanup := setupGraph(t)
	defer cleanup()

	_, errs := Resolve(context.Background(), store, mom, []string{"nonexistent"}, nil, nil, Install, false)
	if _, ok := errs["nonexistent"]; !ok {
		t.Fatal("expected InvalidBundleError for nonexistent bundle")
	}
}

type fakeInstalled struct {
	versions map[string]uint32
}

func (f fakeInstalled) FromVersion(name string) (uint32, bool) {
	v, ok := f.versions[name]
	return v, ok
}

func TestResolveUpdateSeedsFromInstalled(t *testing.T) {
	_, mom, store, cleanup := setupGraph(t)
	defer cleanup()

	installed := fakeInstalled{versions: map[string]uint32{"os-core": 5, "editors": 5}}
	subs, errs := Resolve(context.Background(), store, mom, nil, []string{"editors"}, installed, Update, false)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	byName := make(map[string]Subscription)
	for _, s := range subs {
		byName[s.Name] = s
	}
	if _, ok := byName["os-core"]; !ok {
		t.Error("os-core should always be seeded for update/verify")
	}
	if byName["editors"].FromVersion != 5 {
		t.Errorf("editors FromVersion = %d, want 5", byName["editors"].FromVersion)
	}
	if byName["spellcheck"].FromVersion != 0 {
		t.Errorf("spellcheck FromVersion = %d, want 0 (not installed)", byName["spellcheck"].FromVersion)
	}
}

func TestResolveRemoveBlockedByReverseDependency(t *testing.T) {
	graph := map[string][]string{
		"os-core": nil,
		"editors": {"os-core"},
	}
	_, err := ResolveRemove([]string{"os-core"}, graph, false, false)
	rbe, ok := err.(*RequiredBundleError)
	if !ok {
		t.Fatalf("expected *RequiredBundleError, got %v", err)
	}
	if rbe.Name != "os-core" || len(rbe.ReverseDeps) != 1 || rbe.ReverseDeps[0] != "editors" {
		t.Errorf("unexpected RequiredBundleError: %+v", rbe)
	}
}

func TestResolveRemoveForceIgnoresReverseDependency(t *testing.T) {
	graph := map[string][]string{
		"os-core": nil,
		"editors": {"os-core"},
	}
	out, err := ResolveRemove([]string{"os-core"}, graph, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(out) != 1 || out[0] != "os-core" {
		t.Errorf("got %v, want [os-core]", out)
	}
}

func TestResolveRemoveRecursiveExclusiveDeps(t *testing.T) {
	// editors depends on spellcheck; spellcheck is not shared with anything
	// else installed, so removing editors recursively should also remove
	// spellcheck, but not os-core (no dependency edge) or dict (shared).
	graph := map[string][]string{
		"os-core": nil,
		"editors": {"spellcheck", "dict"},
		"other":   {"dict"},
	}
	out, err := ResolveRemove([]string{"editors"}, graph, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	want := map[string]bool{"editors": true, "spellcheck": true}
	got := map[string]bool{}
	for _, n := range out {
		got[n] = true
	}
	for n := range want {
		if !got[n] {
			t.Errorf("expected %s in removal set, got %v", n, out)
		}
	}
	if got["dict"] {
		t.Errorf("dict is shared with other, should not be removed: %v", out)
	}
	if got["os-core"] {
		t.Errorf("os-core is not a dependency of editors, should not be removed: %v", out)
	}
}
