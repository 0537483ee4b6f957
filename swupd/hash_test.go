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

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestAllZeroHashWidth(t *testing.T) {
	if len(AllZeroHash) != 64 {
		t.Fatalf("AllZeroHash has %d characters, want 64", len(AllZeroHash))
	}
	for _, c := range AllZeroHash {
		if c != '0' {
			t.Fatalf("AllZeroHash contains non-zero character %q", c)
		}
	}
}

func TestHashIsZero(t *testing.T) {
	if !HashIsZero(AllZeroHash) {
		t.Error("AllZeroHash should be zero")
	}
	if !HashIsZero("") {
		t.Error("empty hash should be treated as zero")
	}
	if HashIsZero("1111111111111111111111111111111111111111111111111111111111111a") {
		t.Error("non-zero hash reported as zero")
	}
}

func TestHashEqual(t *testing.T) {
	if !HashEqual("abc", "abc") {
		t.Error("equal strings should be hash-equal")
	}
	if HashEqual("abc", "ABC") {
		t.Error("hash equality must be byte-equal, no canonicalization")
	}
}

func TestGetHashForFileDeterministic(t *testing.T) {
	dir, err := ioutil.TempDir("", "hashtest")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, "file")
	if err := ioutil.WriteFile(path, []byte("hello swupd"), 0644); err != nil {
		t.Fatal(err)
	}

	h1, err := GetHashForFile(path)
	if err != nil {
		t.Fatalf("GetHashForFile failed: %s", err)
	}
	h2, err := GetHashForFile(path)
	if err != nil {
		t.Fatalf("GetHashForFile failed: %s", err)
	}
	if h1 != h2 {
		t.Fatalf("hash of same file content differs: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("hash has %d characters, want 64", len(h1))
	}

	if err := ioutil.WriteFile(path, []byte("different content"), 0644); err != nil {
		t.Fatal(err)
	}
	h3, err := GetHashForFile(path)
	if err != nil {
		t.Fatalf("GetHashForFile failed: %s", err)
	}
	if h3 == h1 {
		t.Fatal("hash did not change when content changed")
	}
}

func TestGetHashForFileDirectory(t *testing.T) {
	dir, err := ioutil.TempDir("", "hashtestdir")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	h, err := GetHashForFile(dir)
	if err != nil {
		t.Fatalf("GetHashForFile failed for directory: %s", err)
	}
	if len(h) != 64 {
		t.Fatalf("directory hash has %d characters, want 64", len(h))
	}
}

func TestGetHashForFileSymlink(t *testing.T) {
	dir, err := ioutil.TempDir("", "hashtestlink")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	link := filepath.Join(dir, "link")
	if err := os.Symlink("/some/target", link); err != nil {
		t.Fatal(err)
	}

	h, err := GetHashForFile(link)
	if err != nil {
		t.Fatalf("GetHashForFile failed for symlink: %s", err)
	}
	if len(h) != 64 {
		t.Fatalf("symlink hash has %d characters, want 64", len(h))
	}
}

func TestInternHashDeduplicates(t *testing.T) {
	before := len(Hashes)
	h1 := internHash("abcd1234")
	h2 := internHash("abcd1234")
	if h1 != h2 {
		t.Fatalf("interning the same hash twice produced different Hashval: %d != %d", h1, h2)
	}
	if len(Hashes) != before+1 {
		t.Fatalf("interning a duplicate hash grew the arena: before=%d after=%d", before, len(Hashes))
	}
	if h1.String() != "abcd1234" {
		t.Fatalf("Hashval.String() = %q, want %q", h1.String(), "abcd1234")
	}
}
