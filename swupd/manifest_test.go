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
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func sampleManifestText() string {
	return strings.Join([]string{
		"MANIFEST\t4",
		"version:\t100",
		"previous:\t90",
		"filecount:\t2",
		"timestamp:\t1500000000",
		"contentsize:\t2048",
		"includes:\tos-core",
		"also-add:\teditors",
		"",
		"F...\t" + strings.Repeat("a", 64) + "\t100\t/usr/bin/foo",
		"Dd..\t" + AllZeroHash + "\t100\t/usr/share/old",
		"",
	}, "\n")
}

func TestParseManifestHeaderAndBody(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(sampleManifestText()))
	if err != nil {
		t.Fatalf("ParseManifest failed: %s", err)
	}
	if m.Header.Format != 4 {
		t.Errorf("Format = %d, want 4", m.Header.Format)
	}
	if m.Header.Version != 100 || m.Header.Previous != 90 {
		t.Errorf("Version/Previous = %d/%d, want 100/90", m.Header.Version, m.Header.Previous)
	}
	if m.Header.FileCount != 2 {
		t.Errorf("FileCount = %d, want 2", m.Header.FileCount)
	}
	if m.Header.ContentSize != 2048 {
		t.Errorf("ContentSize = %d, want 2048", m.Header.ContentSize)
	}
	if !m.Header.TimeStamp.Equal(time.Unix(1500000000, 0)) {
		t.Errorf("TimeStamp = %v, want 1500000000", m.Header.TimeStamp)
	}
	if len(m.Header.Includes) != 2 {
		t.Fatalf("Includes has %d entries, want 2", len(m.Header.Includes))
	}
	if m.Header.Includes[0].Name != "os-core" || m.Header.Includes[0].Optional {
		t.Errorf("includes[0] = %+v, want required os-core", m.Header.Includes[0])
	}
	if m.Header.Includes[1].Name != "editors" || !m.Header.Includes[1].Optional {
		t.Errorf("includes[1] = %+v, want optional editors", m.Header.Includes[1])
	}

	if len(m.Files) != 2 {
		t.Fatalf("Files has %d entries, want 2", len(m.Files))
	}
	if len(m.DeletedFiles) != 1 {
		t.Fatalf("DeletedFiles has %d entries, want 1", len(m.DeletedFiles))
	}
	if m.DeletedFiles[0].Name != "/usr/share/old" {
		t.Errorf("DeletedFiles[0].Name = %q, want /usr/share/old", m.DeletedFiles[0].Name)
	}
}

func TestParseManifestDuplicateRequiredHeaderEntry(t *testing.T) {
	text := strings.Replace(sampleManifestText(), "previous:\t90", "previous:\t90\nprevious:\t90", 1)
	if _, err := ParseManifest(strings.NewReader(text)); err == nil {
		t.Fatal("expected error for duplicate previous: header entry")
	}
}

func TestParseManifestAllowsMultipleIncludes(t *testing.T) {
	text := strings.Replace(sampleManifestText(), "includes:\tos-core", "includes:\tos-core\nincludes:\tbsp", 1)
	m, err := ParseManifest(strings.NewReader(text))
	if err != nil {
		t.Fatalf("multiple includes: entries should be allowed: %s", err)
	}
	if len(m.Header.Includes) != 3 {
		t.Fatalf("Includes has %d entries, want 3", len(m.Header.Includes))
	}
}

func TestParseManifestMissingRequiredEntry(t *testing.T) {
	text := strings.Replace(sampleManifestText(), "contentsize:\t2048\n", "", 1)
	if _, err := ParseManifest(strings.NewReader(text)); err == nil {
		t.Fatal("expected error for missing contentsize: entry")
	}
}

func TestParseManifestNoFileEntries(t *testing.T) {
	text := strings.SplitN(sampleManifestText(), "\n\n", 2)[0] + "\n\n"
	if _, err := ParseManifest(strings.NewReader(text)); err == nil {
		t.Fatal("expected error for manifest with no file entries")
	}
}

func TestWriteManifestRoundTrip(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(sampleManifestText()))
	if err != nil {
		t.Fatalf("ParseManifest failed: %s", err)
	}

	var buf bytes.Buffer
	if err := m.WriteManifest(&buf); err != nil {
		t.Fatalf("WriteManifest failed: %s", err)
	}

	m2, err := ParseManifest(&buf)
	if err != nil {
		t.Fatalf("re-parsing written manifest failed: %s", err)
	}
	if m2.Header.Version != m.Header.Version {
		t.Errorf("round-tripped Version = %d, want %d", m2.Header.Version, m.Header.Version)
	}
	if len(m2.Files) != len(m.Files) {
		t.Errorf("round-tripped Files has %d entries, want %d", len(m2.Files), len(m.Files))
	}
}

func TestCheckFormatCompatible(t *testing.T) {
	m := &Manifest{Header: ManifestHeader{Format: SupportedManifestFormat}}
	if err := m.CheckFormatCompatible(SupportedManifestFormat); err != nil {
		t.Errorf("equal format should be compatible: %s", err)
	}

	m2 := &Manifest{Header: ManifestHeader{Format: SupportedManifestFormat + 1}}
	if err := m2.CheckFormatCompatible(SupportedManifestFormat); err != ErrIncompatibleFormat {
		t.Errorf("newer format should return ErrIncompatibleFormat, got %v", err)
	}

	m3 := &Manifest{Header: ManifestHeader{Format: SupportedManifestFormat, MinVersion: SupportedManifestFormat + 1}}
	if err := m3.CheckFormatCompatible(SupportedManifestFormat); errors.Cause(err) != ErrIncompatibleFormat {
		t.Errorf("min-version above client format should wrap ErrIncompatibleFormat, got %v", err)
	}
}

func TestGetNameForManifestFile(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/var/lib/swupd/100/Manifest.os-core", "os-core"},
		{"/var/lib/swupd/100/Manifest.os-core." + strings.Repeat("b", 64), "os-core"},
		{"/var/lib/swupd/100/Manifest.MoM", "MoM"},
		{"/var/lib/swupd/100/not-a-manifest", ""},
	}
	for _, c := range cases {
		if got := getNameForManifestFile(c.path); got != c.want {
			t.Errorf("getNameForManifestFile(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestMomBundleEntry(t *testing.T) {
	mom := &Mom{Manifest{Files: []*File{
		{Name: "os-core", Kind: KindManifestPtr},
		{Name: "editors", Kind: KindManifestPtr},
	}}}

	f, ok := mom.BundleEntry("editors")
	if !ok || f.Name != "editors" {
		t.Fatalf("BundleEntry(editors) = %+v, %v", f, ok)
	}
	if _, ok := mom.BundleEntry("missing"); ok {
		t.Error("BundleEntry(missing) should not be found")
	}
}
