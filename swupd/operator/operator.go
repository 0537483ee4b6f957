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

// Package operator implements the verify/repair/install state machine
// (spec's install/update/verify/bundle-add/bundle-remove operations): it
// wires manifeststore, subscription, content and stage together against a
// target prefix, maintains the aggregate outcome counters, and maps
// failures onto swupd/errkind's exit-code taxonomy. There is no direct
// teacher analogue for this orchestration layer (mixer only ever builds
// content, it never applies it to a live root); it is grounded piecewise
// on original_source/src/{update,verify,bundle}.c for operation sequencing
// and on the already-built swupd/* packages for every mechanism it calls.
package operator

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/clearlinux/swupd-client/swupd"
	"github.com/clearlinux/swupd-client/swupd/content"
	"github.com/clearlinux/swupd-client/swupd/errkind"
	"github.com/clearlinux/swupd-client/swupd/fetch"
	"github.com/clearlinux/swupd-client/swupd/manifeststore"
	"github.com/clearlinux/swupd-client/swupd/sig"
	"github.com/clearlinux/swupd-client/swupd/stage"
	"github.com/clearlinux/swupd-client/swupd/statedir"
	"github.com/clearlinux/swupd-client/swupd/subscription"

	"github.com/clearlinux/swupd-client/internal/config"
	"github.com/clearlinux/swupd-client/internal/ulog"
)

// bundlesDir is the marker-file directory a bundle's presence is tracked
// under, grounded on original_source/src/subscriptions.c's BUNDLES_DIR.
const bundlesDir = "usr/share/clear/bundles"

// defaultManifestParallelism bounds concurrent bundle manifest loads; it
// is unrelated to the fetcher's own max_xfer transfer limit, which
// swupd/fetch.Options governs per HTTP request.
const defaultManifestParallelism = 4

// Counters aggregates every per-file outcome across one operation, per
// spec §4.9.
type Counters struct {
	Checked         int
	Missing         int
	Replaced        int
	NotReplaced     int
	Mismatch        int
	Fixed           int
	NotFixed        int
	Extraneous      int
	Deleted         int
	NotDeleted      int
	PickyExtraneous int
}

func (c *Counters) addStageSummary(s stage.Summary) {
	c.Fixed += s.Fixed
	c.NotFixed += s.NotFixed
	c.Deleted += s.Deleted
	c.NotDeleted += s.NotDeleted
}

// Engine holds the dependencies every operation needs: the resolved
// configuration, an optional signature verifier, and the manifest,
// content and staging layers built from them.
type Engine struct {
	Config   config.Config
	Verifier *sig.Verifier
	Store    *manifeststore.Store
	Acquirer *content.Acquirer
	Stage    *stage.Engine
	Sink     ulog.EventSink
}

// New builds an Engine from cfg. sink may be nil, in which case events are
// discarded (ulog.NopSink).
func New(cfg config.Config, sink ulog.EventSink) (*Engine, error) {
	format, err := cfg.ParseFormat()
	if err != nil {
		return nil, errkind.Wrap(errkind.KindInvalidOption, err)
	}

	var verifier *sig.Verifier
	if !cfg.NoSigCheck {
		v, err := sig.New(cfg.CertPath, "")
		if err != nil {
			return nil, errkind.Wrap(errkind.KindBadCert, err)
		}
		verifier = v
	}

	if sink == nil {
		sink = ulog.NopSink{}
	}

	opts := fetch.Options{AllowHTTP: cfg.AllowInsecureHTTP}

	acquirer := content.New(cfg.StateDir, cfg.ContentURL, opts)
	acquirer.LocalContentDir = cfg.LocalContentDir

	return &Engine{
		Config:   cfg,
		Verifier: verifier,
		Store:    manifeststore.New(cfg.StateDir, cfg.ContentURL, verifier, format, opts),
		Acquirer: acquirer,
		Stage:    stage.New(cfg.Path, cfg.StateDir),
		Sink:     sink,
	}, nil
}

func (e *Engine) emit(ev ulog.Event) { e.Sink.Emit(ev) }

// lock acquires the precondition advisory lock every mutating operation
// must hold (spec §4.10).
func (e *Engine) lock() (*statedir.Lock, error) {
	l, err := statedir.AcquireLock(e.Config.StateDir)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindLockFileFailed, err)
	}
	return l, nil
}

// installedBundleNames lists every bundle currently tracked under prefix,
// grounded on original_source/src/subscriptions.c's read_subscriptions:
// the installed set *is* the marker-file listing, not a separately
// maintained index.
func installedBundleNames(prefix string) ([]string, error) {
	dir := filepath.Join(prefix, bundlesDir)
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, fi := range entries {
		if fi.IsDir() {
			continue
		}
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

// InstalledBundles lists every bundle currently tracked under prefix
// (bundle-list's data source), exported for CLI callers that need the
// installed set without driving a full operation.
func InstalledBundles(prefix string) ([]string, error) {
	return installedBundleNames(prefix)
}

// installedVersions answers subscription.InstalledVersions by looking up
// each bundle's entry in the currently-installed version's MoM, per
// original_source/src/subscriptions.c's set_subscription_versions (a
// bundle's "from version" is not separately tracked, it is read back out
// of the MoM of the version currently on disk).
type installedVersions struct {
	mom *swupd.Mom
}

func (iv installedVersions) FromVersion(bundle string) (uint32, bool) {
	if iv.mom == nil {
		return 0, false
	}
	entry, ok := iv.mom.BundleEntry(bundle)
	if !ok {
		return 0, false
	}
	return entry.Version, true
}

// currentHash reports the on-disk hash of f's target path under prefix,
// and whether the path exists at all. A read or hash error is treated the
// same as "exists with an unknown hash" (hash == ""), which simply
// compares unequal to any real manifest hash.
func currentHash(prefix string, f *swupd.File) (hash string, existed bool) {
	path := filepath.Join(prefix, f.Name)
	if _, err := os.Lstat(path); err != nil {
		return "", false
	}
	got, err := swupd.GetHashForFile(path)
	if err != nil {
		return "", true
	}
	return got, true
}

// fileSatisfied reports whether f's target already matches its manifest
// hash on disk.
func fileSatisfied(prefix string, f *swupd.File) bool {
	hash, existed := currentHash(prefix, f)
	return existed && swupd.HashEqual(hash, f.Hash.String())
}

// bundleSucceeded reports whether every live, non-ignored record in m is
// satisfied on disk, the gate for "a failed bundle never produces a
// marker" (spec §7).
func bundleSucceeded(prefix string, m *swupd.Manifest) bool {
	if m == nil {
		return false
	}
	for _, f := range m.Files {
		if f.IsDeleted() || f.IsIgnored(true) {
			continue
		}
		if !fileSatisfied(prefix, f) {
			return false
		}
	}
	return true
}

func subscriptionNames(subs []subscription.Subscription) []string {
	names := make([]string, len(subs))
	for i, s := range subs {
		names[i] = s.Name
	}
	return names
}

func subsByName(subs []subscription.Subscription) map[string]subscription.Subscription {
	m := make(map[string]subscription.Subscription, len(subs))
	for _, s := range subs {
		m[s.Name] = s
	}
	return m
}

func manifestsByName(manifests []*swupd.Manifest) map[string]*swupd.Manifest {
	m := make(map[string]*swupd.Manifest, len(manifests))
	for _, mf := range manifests {
		m[mf.Name] = mf
	}
	return m
}

// bundleOwners maps every file path to (one of) the bundle manifests that
// list it, used only to pick a pack to probe first during acquisition;
// Consolidate's own winner selection is unaffected; the full-file fallback
// needs no bundle name at all.
func bundleOwners(byBundle map[string]*swupd.Manifest) map[string]string {
	owner := make(map[string]string, len(byBundle))
	for name, m := range byBundle {
		for _, f := range m.Files {
			owner[f.Name] = name
		}
	}
	return owner
}

func firstErr(errs map[string]error) error {
	for _, err := range errs {
		return err
	}
	return nil
}
