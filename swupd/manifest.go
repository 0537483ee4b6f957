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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/pkg/errors"
)

const manifestFieldDelim = "\t"

// SupportedManifestFormat is the highest manifest-format version this
// client understands. A manifest whose format exceeds this is rejected with
// ErrIncompatibleFormat (spec: "Parsing rules").
const SupportedManifestFormat = 4

// ErrIncompatibleFormat is returned when a manifest declares a format
// version newer than SupportedManifestFormat.
var ErrIncompatibleFormat = errors.New("manifest format is newer than supported by this client")

// Include is one entry of a manifest's `includes:` (required) or
// `also-add:` (optional) header lines.
type Include struct {
	Name     string
	Optional bool
}

// ManifestHeader contains the metadata block of a manifest.
type ManifestHeader struct {
	Format      uint
	Version     uint32
	Previous    uint32
	FileCount   uint32
	TimeStamp   time.Time
	ContentSize uint64
	MinVersion  uint32
	Includes    []Include
}

// Manifest represents a bundle manifest or a Manifest-of-Manifests.
type Manifest struct {
	Name         string
	Header       ManifestHeader
	Files        []*File
	DeletedFiles []*File
}

// Mom is a Manifest-of-Manifests: the root manifest for a version, whose
// file entries are KindManifestPtr records naming bundle manifests.
type Mom struct {
	Manifest
}

// BundleEntry looks up the MoM's record for bundle name, if present. A
// record marked deleted is returned too; callers check IsDeleted.
func (mom *Mom) BundleEntry(name string) (*File, bool) {
	for _, f := range mom.Files {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

func readManifestFileHeaderLine(fields []string, m *Manifest) error {
	var err error
	var parsed uint64

	switch fields[0] {
	case "MANIFEST":
		if parsed, err = strconv.ParseUint(fields[1], 10, 16); err != nil {
			return fmt.Errorf("invalid manifest, %v", err)
		}
		m.Header.Format = uint(parsed)
	case "version:":
		if parsed, err = strconv.ParseUint(fields[1], 10, 32); err != nil {
			return fmt.Errorf("invalid manifest, %v", err)
		}
		m.Header.Version = uint32(parsed)
	case "previous:":
		if parsed, err = strconv.ParseUint(fields[1], 10, 32); err != nil {
			return fmt.Errorf("invalid manifest, %v", err)
		}
		m.Header.Previous = uint32(parsed)
	case "filecount:":
		if parsed, err = strconv.ParseUint(fields[1], 10, 32); err != nil {
			return fmt.Errorf("invalid manifest, %v", err)
		}
		m.Header.FileCount = uint32(parsed)
	case "timestamp:":
		var timestamp int64
		if timestamp, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
			return fmt.Errorf("invalid manifest, %v", err)
		}
		m.Header.TimeStamp = time.Unix(timestamp, 0)
	case "contentsize:":
		if parsed, err = strconv.ParseUint(fields[1], 10, 64); err != nil {
			return fmt.Errorf("invalid manifest, %v", err)
		}
		m.Header.ContentSize = parsed
	case "min-version:":
		if parsed, err = strconv.ParseUint(fields[1], 10, 32); err != nil {
			return fmt.Errorf("invalid manifest, %v", err)
		}
		m.Header.MinVersion = uint32(parsed)
	case "includes:":
		m.Header.Includes = append(m.Header.Includes, Include{Name: fields[1]})
	case "also-add:":
		m.Header.Includes = append(m.Header.Includes, Include{Name: fields[1], Optional: true})
	}

	return nil
}

// readManifestFileEntry parses a body line of the form
// "<4-char flags>\t<64-char hash>\t<version>\t<path>".
func readManifestFileEntry(fields []string, m *Manifest) error {
	if len(fields) != 4 {
		return fmt.Errorf("invalid manifest record: %v", fields)
	}
	fflags := fields[0]
	fhash := fields[1]
	fver := fields[2]
	fname := fields[3]

	if len(fflags) != 4 {
		return fmt.Errorf("invalid number of flags: %v", fflags)
	}
	if len(fhash) != 64 {
		return fmt.Errorf("invalid hash: %v", fhash)
	}

	parsed, err := strconv.ParseUint(fver, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid version: %v", err)
	}

	file := &File{Name: fname, Version: uint32(parsed)}
	file.Hash = internHash(fhash)

	if err = file.setFlags(fflags); err != nil {
		return fmt.Errorf("invalid flags: %v", err)
	}

	m.Files = append(m.Files, file)
	if file.State == StateDeleted {
		m.DeletedFiles = append(m.DeletedFiles, file)
	}

	return nil
}

// CheckHeaderIsValid verifies that all required header fields are present
// and self-consistent.
func (m *Manifest) CheckHeaderIsValid() error {
	if m.Header.Format == 0 {
		return errors.New("manifest format not set")
	}
	if m.Header.Version == 0 {
		return errors.New("manifest has version zero, version must be positive")
	}
	if m.Header.Version < m.Header.Previous {
		return errors.New("version is smaller than previous")
	}
	if m.Header.FileCount == 0 {
		return errors.New("manifest has a zero file count")
	}
	if m.Header.TimeStamp.IsZero() {
		return errors.New("manifest timestamp not set")
	}
	return nil
}

// CheckFormatCompatible enforces spec.md's §4.4 format gate: a manifest
// with an unsupported format, or whose declared min-version exceeds the
// client's own format, must not be consumed.
func (m *Manifest) CheckFormatCompatible(clientFormat uint) error {
	if m.Header.Format > SupportedManifestFormat {
		return ErrIncompatibleFormat
	}
	if m.Header.MinVersion > 0 && clientFormat < uint(m.Header.MinVersion) {
		return errors.Wrapf(ErrIncompatibleFormat, "manifest requires min-version %d, client format is %d", m.Header.MinVersion, clientFormat)
	}
	return nil
}

var requiredManifestHeaderEntries = []string{
	"MANIFEST",
	"version:",
	"previous:",
	"filecount:",
	"timestamp:",
	"contentsize:",
}

// ParseManifestFile creates a Manifest from the file at path.
func ParseManifestFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	m.Name = getNameForManifestFile(path)
	if err = f.Close(); err != nil {
		return nil, err
	}
	return m, nil
}

// getNameForManifestFile recovers the bundle name from a path such as
// ".../12345/Manifest.editors" or the hash-hinted
// ".../12345/Manifest.editors.<hash>".
func getNameForManifestFile(path string) string {
	base := filepath.Base(path)
	const prefix = "Manifest."
	if !strings.HasPrefix(base, prefix) {
		return ""
	}
	name := base[len(prefix):]
	// Strip a trailing hash-hint component if present: a 64-char hex run
	// preceded by a dot, appended by the manifest store's hash-hinted
	// cache filename convention.
	if idx := strings.LastIndex(name, "."); idx != -1 && len(name)-idx-1 == 64 {
		name = name[:idx]
	}
	return name
}

// ParseManifest creates a Manifest from an io.Reader.
func ParseManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	input := bufio.NewScanner(r)
	input.Buffer(make([]byte, 64*1024), 1024*1024)

	parsedEntries := make(map[string]uint)
	for input.Scan() {
		text := input.Text()
		if text == "" {
			break
		}

		fields := strings.Split(text, manifestFieldDelim)
		entry := fields[0]
		if entry != "includes:" && entry != "also-add:" && parsedEntries[entry] > 0 {
			return nil, fmt.Errorf("invalid manifest, duplicate entry %q in header", entry)
		}
		parsedEntries[entry]++

		if err := readManifestFileHeaderLine(fields, m); err != nil {
			return nil, err
		}
	}

	for _, e := range requiredManifestHeaderEntries {
		if parsedEntries[e] == 0 {
			return nil, fmt.Errorf("invalid manifest, missing entry %q in header", e)
		}
	}
	if err := m.CheckHeaderIsValid(); err != nil {
		return nil, err
	}

	for input.Scan() {
		text := input.Text()
		if text == "" {
			return nil, errors.New("invalid manifest, extra blank line")
		}

		fields := strings.Split(text, manifestFieldDelim)
		if err := readManifestFileEntry(fields, m); err != nil {
			return nil, err
		}
	}
	if err := input.Err(); err != nil {
		return nil, err
	}

	if len(m.Files) == 0 {
		return nil, errors.New("invalid manifest, does not have any file entries")
	}

	return m, nil
}

var manifestTemplate = template.Must(template.New("manifest").Parse(`
{{- with .Header -}}
MANIFEST	{{.Format}}
version:	{{.Version}}
previous:	{{.Previous}}
filecount:	{{.FileCount}}
timestamp:	{{(.TimeStamp.Unix)}}
contentsize:	{{.ContentSize -}}
{{range .Includes}}
{{if .Optional}}also-add:{{else}}includes:{{end}}	{{.Name}}
{{- end}}
{{- end}}
{{ range .Files}}
{{.GetFlagString}}	{{.Hash}}	{{.Version}}	{{.Name}}
{{- end}}
`))

// WriteManifest writes m to w in the canonical on-disk text format.
func (m *Manifest) WriteManifest(w io.Writer) error {
	if err := m.CheckHeaderIsValid(); err != nil {
		return err
	}
	if err := manifestTemplate.Execute(w, m); err != nil {
		return fmt.Errorf("couldn't write Manifest.%s: %s", m.Name, err)
	}
	return nil
}

// WriteManifestFile writes m to a new file at path.
func (m *Manifest) WriteManifestFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err = m.WriteManifest(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func (m *Manifest) sortFilesName() {
	sort.Slice(m.Files, func(i, j int) bool {
		return m.Files[i].Name < m.Files[j].Name
	})
	sort.Slice(m.DeletedFiles, func(i, j int) bool {
		return m.DeletedFiles[i].Name < m.DeletedFiles[j].Name
	})
}
