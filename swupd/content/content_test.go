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

package content

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/clearlinux/swupd-client/swupd"
	"github.com/clearlinux/swupd-client/swupd/fetch"
)

// xzPack builds an xz-compressed tar containing the given entries, via the
// external xz binary (the same program the teacher's archive.go shells out
// to for reading), so tests exercise the real decompression path.
func xzPack(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	if _, err := exec.LookPath("xz"); err != nil {
		t.Skip("xz not available")
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range entries {
		typ := byte(tar.TypeReg)
		if err := tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(content)), Mode: 0644, Typeflag: typ}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	cmd := exec.Command("xz", "-z", "-c")
	cmd.Stdin = &buf
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("xz compress failed: %s", err)
	}
	return out
}

func hashOfBytes(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := ioutil.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	h, err := swupd.GetHashForFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestIsStagedFalseWhenAbsent(t *testing.T) {
	a := New(t.TempDir(), "http://example.invalid", fetch.Options{})
	if a.IsStaged("deadbeef") {
		t.Fatal("expected not staged")
	}
}

func TestEnsureAlreadyStagedShortCircuits(t *testing.T) {
	state := t.TempDir()
	a := New(state, "http://example.invalid", fetch.Options{})

	if err := os.MkdirAll(a.stagedDir(), 0755); err != nil {
		t.Fatal(err)
	}
	content := []byte("hello world")
	hash := hashOfBytes(t, a.stagedDir(), "staged-tmp", content)
	if err := os.Rename(filepath.Join(a.stagedDir(), "staged-tmp"), a.stagedPath(hash)); err != nil {
		t.Fatal(err)
	}

	err := a.Ensure(context.Background(), Request{ToHash: hash})
	if err != nil {
		t.Fatalf("Ensure failed: %s", err)
	}
}

func TestEnsureZeroHashIsNoop(t *testing.T) {
	a := New(t.TempDir(), "http://example.invalid", fetch.Options{})
	if err := a.Ensure(context.Background(), Request{ToHash: swupd.AllZeroHash}); err != nil {
		t.Fatalf("expected nil for zero hash target, got %s", err)
	}
}

func TestEnsureZeroPackPopulatesStaged(t *testing.T) {
	hashDir := t.TempDir()
	content := []byte("bundle payload")
	hash := hashOfBytes(t, hashDir, "payload", content)

	pack := xzPack(t, map[string][]byte{"staged/" + hash: content})

	mux := http.NewServeMux()
	mux.HandleFunc("/10/pack-os-core-from-0.tar", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pack)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := New(t.TempDir(), srv.URL, fetch.Options{AllowHTTP: true})
	err := a.Ensure(context.Background(), Request{
		Bundle: "os-core", FromHash: swupd.AllZeroHash, ToHash: hash, ToVersion: 10,
	})
	if err != nil {
		t.Fatalf("Ensure via zero-pack failed: %s", err)
	}
	if !a.IsStaged(hash) {
		t.Fatal("expected hash to be staged after zero-pack extraction")
	}
}

func TestEnsureFallsBackToFullFile(t *testing.T) {
	hashDir := t.TempDir()
	content := []byte("fullfile payload")
	hash := hashOfBytes(t, hashDir, "payload", content)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: hash, Size: int64(len(content)), Mode: 0644}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	// No pack handlers registered: zero-pack download fails (404), so Ensure
	// must fall through to the full-file path.
	mux.HandleFunc(fmt.Sprintf("/10/files/%s.tar", hash), func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := New(t.TempDir(), srv.URL, fetch.Options{AllowHTTP: true})
	err := a.Ensure(context.Background(), Request{
		Bundle: "os-core", FromHash: swupd.AllZeroHash, ToHash: hash, ToVersion: 10,
	})
	if err != nil {
		t.Fatalf("Ensure via full-file fallback failed: %s", err)
	}
	if !a.IsStaged(hash) {
		t.Fatal("expected hash to be staged after full-file extraction")
	}
}

func TestEnsureDeltaPackAppliesPatch(t *testing.T) {
	if _, err := exec.LookPath("bsdiff"); err != nil {
		t.Skip("bsdiff not available")
	}
	if _, err := exec.LookPath("bspatch"); err != nil {
		t.Skip("bspatch not available")
	}

	dir := t.TempDir()
	oldContent := []byte("the quick brown fox jumps over the lazy dog, version one")
	newContent := []byte("the quick brown fox jumps over the lazy dog, version two")

	oldPath := filepath.Join(dir, "old")
	if err := ioutil.WriteFile(oldPath, oldContent, 0644); err != nil {
		t.Fatal(err)
	}
	fromHash, err := swupd.GetHashForFile(oldPath)
	if err != nil {
		t.Fatal(err)
	}

	hashDir := t.TempDir()
	toHash := hashOfBytes(t, hashDir, "new", newContent)

	deltaPath := filepath.Join(dir, "delta")
	newPath := filepath.Join(dir, "new")
	if err := ioutil.WriteFile(newPath, newContent, 0644); err != nil {
		t.Fatal(err)
	}
	if out, err := exec.Command("bsdiff", oldPath, newPath, deltaPath).CombinedOutput(); err != nil {
		t.Skipf("bsdiff invocation failed: %s: %s", err, out)
	}
	deltaBytes, err := ioutil.ReadFile(deltaPath)
	if err != nil {
		t.Fatal(err)
	}

	pack := xzPack(t, map[string][]byte{"delta/" + fromHash + "-" + toHash: deltaBytes})

	mux := http.NewServeMux()
	mux.HandleFunc("/20/pack-os-core-from-10.tar", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pack)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := New(t.TempDir(), srv.URL, fetch.Options{AllowHTTP: true})
	err = a.Ensure(context.Background(), Request{
		Bundle: "os-core", FromVersion: 10, ToVersion: 20,
		FromHash: fromHash, ToHash: toHash, SourcePath: oldPath,
	})
	if err != nil {
		t.Fatalf("Ensure via delta-pack failed: %s", err)
	}
	if !a.IsStaged(toHash) {
		t.Fatal("expected toHash to be staged after delta application")
	}
}

func TestApplyDeltaMissingPatchIsNotAnError(t *testing.T) {
	a := New(t.TempDir(), "http://example.invalid", fetch.Options{})
	ok, err := a.applyDelta("deadbeef", "cafebabe", "/nonexistent")
	if err != nil {
		t.Fatalf("expected nil error on delta miss, got %s", err)
	}
	if ok {
		t.Fatal("expected delta miss to report ok=false")
	}
}
