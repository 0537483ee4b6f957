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

// Package manifeststore downloads, caches, verifies and parses manifest
// documents: the MoM and the bundle manifests it references. Grounded on
// internal/client/state.go's GetMoM/GetBundleManifest sequencing
// (download -> hash-verify -> parse).
package manifeststore

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/clearlinux/swupd-client/swupd"
	"github.com/clearlinux/swupd-client/swupd/fetch"
	"github.com/clearlinux/swupd-client/swupd/sig"
)

// ErrUnknownBundle is returned by LoadBundle when name is not present (or
// is marked deleted) in the MoM.
var ErrUnknownBundle = errors.New("unknown bundle")

// ErrHashMismatch is returned when a downloaded bundle manifest's content
// hash disagrees with the MoM's recorded hash for it.
var ErrHashMismatch = errors.New("manifest hash mismatch")

// Store downloads and caches manifests under a state directory, one
// subdirectory per version, matching the on-disk layout the teacher's
// client.State keeps.
type Store struct {
	StateDir   string
	ContentURL string
	Verifier   *sig.Verifier // nil disables signature checking (nosigcheck)
	Format     uint
	FetchOpts  fetch.Options

	mu    sync.Mutex
	cache map[cacheKey]*swupd.Manifest
}

type cacheKey struct {
	version uint32
	bundle  string
}

// New creates a Store. verifier may be nil to disable signature checking
// (spec's "unless disabled").
func New(stateDir, contentURL string, verifier *sig.Verifier, format uint, opts fetch.Options) *Store {
	return &Store{
		StateDir:   stateDir,
		ContentURL: contentURL,
		Verifier:   verifier,
		Format:     format,
		FetchOpts:  opts,
		cache:      make(map[cacheKey]*swupd.Manifest),
	}
}

func (s *Store) versionDir(version uint32) string {
	return filepath.Join(s.StateDir, fmt.Sprintf("%d", version))
}

// downloadAndExtract fetches url (a single-file .tar, optionally
// compressed) into cacheDir if not already present, and returns the bytes
// of its sole tar entry.
func (s *Store) downloadAndExtract(ctx context.Context, url, cacheDir, tarName string) ([]byte, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, err
	}
	tarPath := filepath.Join(cacheDir, tarName)
	if _, err := os.Stat(tarPath); os.IsNotExist(err) {
		if _, ferr := fetch.FetchToFile(ctx, url, tarPath, s.FetchOpts, 0); ferr != nil {
			return nil, errors.Wrapf(ferr, "downloading %s", url)
		}
	}

	f, err := os.Open(tarPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	tr, err := swupd.NewCompressedTarReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", tarPath)
	}
	defer func() { _ = tr.Close() }()

	if _, err := tr.Next(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", tarPath)
	}
	data, err := ioutil.ReadAll(tr)
	if err != nil {
		return nil, errors.Wrapf(err, "extracting %s", tarPath)
	}
	return data, nil
}

// LoadMom downloads (if not cached), verifies and parses the MoM for
// version.
func (s *Store) LoadMom(ctx context.Context, version uint32) (*swupd.Mom, error) {
	dir := s.versionDir(version)
	base := fmt.Sprintf("%s/%d", s.ContentURL, version)

	data, err := s.downloadAndExtract(ctx, base+"/Manifest.MoM.tar", dir, "Manifest.MoM.tar")
	if err != nil {
		return nil, err
	}

	if s.Verifier != nil {
		sigData, serr := s.downloadAndExtract(ctx, base+"/Manifest.MoM.sig.tar", dir, "Manifest.MoM.sig.tar")
		if serr != nil {
			return nil, errors.Wrap(serr, "downloading MoM signature")
		}
		ok, verr := s.Verifier.VerifyDetached(data, sigData, sig.FlagDefault)
		if !ok {
			return nil, errors.Wrap(verr, "MoM signature verification failed")
		}
	}

	m, err := swupd.ParseManifest(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "parsing Manifest.MoM")
	}
	if err := m.CheckFormatCompatible(s.Format); err != nil {
		return nil, err
	}
	m.Name = "MoM"

	return &swupd.Mom{Manifest: *m}, nil
}

// LoadBundle downloads (if not cached), hash-verifies against mom, and
// parses the manifest for bundle name. It uses the hash-hint directory
// (the file's own recorded version in the MoM, not the overall target
// version) so unchanged bundle manifests are shared across many newer
// releases.
func (s *Store) LoadBundle(ctx context.Context, mom *swupd.Mom, name string) (*swupd.Manifest, error) {
	entry, ok := mom.BundleEntry(name)
	if !ok || entry.IsDeleted() {
		return nil, errors.Wrapf(ErrUnknownBundle, "%s", name)
	}

	key := cacheKey{version: entry.Version, bundle: name}
	s.mu.Lock()
	if cached, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	dir := s.versionDir(entry.Version)
	base := fmt.Sprintf("%s/%d", s.ContentURL, entry.Version)
	tarName := "Manifest." + name + ".tar"

	data, err := s.downloadAndExtract(ctx, base+"/"+tarName, dir, tarName)
	if err != nil {
		return nil, err
	}

	plainPath := filepath.Join(dir, "Manifest."+name)
	if err := ioutil.WriteFile(plainPath, data, 0644); err != nil {
		return nil, err
	}
	hash, err := swupd.GetHashForFile(plainPath)
	if err != nil {
		return nil, err
	}
	if !swupd.HashEqual(hash, entry.Hash.String()) {
		return nil, errors.Wrapf(ErrHashMismatch, "%s: got %s, MoM says %s", name, hash, entry.Hash.String())
	}

	m, err := swupd.ParseManifestFile(plainPath)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", plainPath)
	}
	if err := m.CheckFormatCompatible(s.Format); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = m
	s.mu.Unlock()
	return m, nil
}

// recurseResult pairs a loaded manifest with any error loading it, so
// Recurse can report per-bundle failures without losing the rest.
type recurseResult struct {
	name     string
	manifest *swupd.Manifest
	err      error
}

// Recurse loads, with bounded concurrency, every bundle manifest named in
// names. maxParallel bounds how many LoadBundle calls run at once; 0 means
// unbounded.
func (s *Store) Recurse(ctx context.Context, mom *swupd.Mom, names []string, maxParallel int) ([]*swupd.Manifest, map[string]error) {
	if maxParallel <= 0 {
		maxParallel = len(names)
		if maxParallel == 0 {
			maxParallel = 1
		}
	}

	sem := make(chan struct{}, maxParallel)
	results := make(chan recurseResult, len(names))
	var wg sync.WaitGroup

	for _, name := range names {
		wg.Add(1)
		sem <- struct{}{}
		go func(name string) {
			defer wg.Done()
			defer func() { <-sem }()
			m, err := s.LoadBundle(ctx, mom, name)
			results <- recurseResult{name: name, manifest: m, err: err}
		}(name)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var manifests []*swupd.Manifest
	errs := make(map[string]error)
	for r := range results {
		if r.err != nil {
			errs[r.name] = r.err
			continue
		}
		manifests = append(manifests, r.manifest)
	}
	return manifests, errs
}
