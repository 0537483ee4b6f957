// Copyright 2018 Intel Corporation
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
	"archive/tar"
	"bytes"
	"io/ioutil"
	"testing"
)

func TestNewCompressedTarReaderUncompressed(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := []byte("hello world")
	if err := tw.WriteHeader(&tar.Header{Name: "foo", Size: int64(len(content)), Mode: 0644}); err != nil {
		t.Fatalf("couldn't write tar header: %s", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("couldn't write tar content: %s", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("couldn't close tar writer: %s", err)
	}

	tr, err := NewCompressedTarReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewCompressedTarReader returned error for uncompressed tar: %s", err)
	}
	hdr, err := tr.Next()
	if err != nil {
		t.Fatalf("couldn't read tar entry: %s", err)
	}
	if hdr.Name != "foo" {
		t.Errorf("got entry name %q, want %q", hdr.Name, "foo")
	}
	got, err := ioutil.ReadAll(tr)
	if err != nil {
		t.Fatalf("couldn't read tar content: %s", err)
	}
	if string(got) != string(content) {
		t.Errorf("got content %q, want %q", got, content)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("unexpected error closing uncompressed reader: %s", err)
	}
}

func TestCompressedTarReaderCloseNil(t *testing.T) {
	ctr := CompressedTarReader{}
	if ctr.Close() != nil {
		t.Error("expected nil return with undefined close")
	}
}
