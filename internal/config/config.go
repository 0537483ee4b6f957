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

// Package config resolves the client engine's configuration: built-in
// defaults, overridden by an on-disk INI file's `SWUPD_*` keys, overridden
// in turn by whatever the CLI layer parsed from flags. INI loading is
// grounded on teacher swupd/config.go's readServerINI
// (go-ini/ini InsensitiveLoad + Section + GetKey, silently falling back to
// defaults when the file is absent or unreadable). The TOML mix-config is
// grounded on config/config.go's MixConfig struct-tag pattern
// (`toml:"KEY"`, `required:"true"`), trimmed to the handful of fields a
// client needs to treat a local build's output directory as its content
// source.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-ini/ini"
	"github.com/pkg/errors"
)

// Config is the immutable handle threaded through every operation, per
// the REDESIGN FLAGS note against swapping process-wide globals for an
// explicit config value.
type Config struct {
	URL        string // -u: base server URL, used to derive VersionURL/ContentURL when they are empty
	VersionURL string // -v
	ContentURL string // -c
	Format     string // -F
	Path       string // -p: target root prefix
	StateDir   string // -S
	CertPath   string // -C
	NoSigCheck bool   // -n/--nosigcheck
	IgnoreTime bool   // -I/--ignore-time
	MaxRetries int     // --max-retries
	RetryDelay time.Duration // --retry-delay
	JSONOutput bool    // -j/--json-output

	// AllowInsecureHTTP permits plain http:// URLs for VersionURL/ContentURL.
	// Refused by default (spec's "HTTP allowed only if allow-insecure-http
	// is explicitly set").
	AllowInsecureHTTP bool

	// LocalContentDir, when set, names a local build's output directory
	// ("mix") that Ensure should treat as an already-local content
	// source rather than something to fetch over HTTP, per the spec's
	// note that a local content source is equivalent to a loopback HTTP
	// server rather than a special case in the acquisition layer.
	LocalContentDir string
}

// Defaults returns the built-in configuration, matching the public
// defaults a freshly installed system ships with.
func Defaults() Config {
	return Config{
		URL:        "https://cdn.download.clearlinux.org/update",
		Format:     "1",
		Path:       "/",
		StateDir:   "/var/lib/swupd",
		CertPath:   "/usr/share/clear/update-ca/Swupd_Root.pem",
		MaxRetries: 3,
		RetryDelay: 10 * time.Second,
	}
}

// ParseFormat converts Format to the integer the rest of the engine
// compares against a manifest's declared format (spec's "format is a
// monotonically increasing integer").
func (c *Config) ParseFormat() (uint, error) {
	n, err := strconv.ParseUint(c.Format, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid format %q", c.Format)
	}
	return uint(n), nil
}

// resolveURLs fills VersionURL/ContentURL from URL wherever the caller
// left them empty, matching the CLI's documented fallback (-u alone is
// sufficient; -v/-c only need to be given when they diverge from -u,
// e.g. a mirror that proxies content but not version queries).
func (c *Config) resolveURLs() {
	if c.VersionURL == "" {
		c.VersionURL = c.URL
	}
	if c.ContentURL == "" {
		c.ContentURL = c.URL
	}
}

// LoadINI overlays SWUPD_* keys from an INI file at path onto base. A
// missing or unreadable file is not an error: the caller's base
// configuration (usually Defaults()) is returned unchanged, matching
// readServerINI's silent-fallback behavior.
func LoadINI(path string, base Config) (Config, error) {
	cfg := base

	if _, err := os.Stat(path); err != nil {
		cfg.resolveURLs()
		return cfg, nil
	}

	file, err := ini.InsensitiveLoad(path)
	if err != nil {
		cfg.resolveURLs()
		return cfg, nil
	}

	section := file.Section("swupd")

	if key, err := section.GetKey("SWUPD_URL"); err == nil {
		cfg.URL = key.Value()
	}
	if key, err := section.GetKey("SWUPD_VERSION_URL"); err == nil {
		cfg.VersionURL = key.Value()
	}
	if key, err := section.GetKey("SWUPD_CONTENT_URL"); err == nil {
		cfg.ContentURL = key.Value()
	}
	if key, err := section.GetKey("SWUPD_FORMAT"); err == nil {
		cfg.Format = key.Value()
	}
	if key, err := section.GetKey("SWUPD_PATH"); err == nil {
		cfg.Path = key.Value()
	}
	if key, err := section.GetKey("SWUPD_STATE_DIR"); err == nil {
		cfg.StateDir = key.Value()
	}
	if key, err := section.GetKey("SWUPD_CERT_PATH"); err == nil {
		cfg.CertPath = key.Value()
	}
	if key, err := section.GetKey("SWUPD_NOSIGCHECK"); err == nil {
		cfg.NoSigCheck = key.Value() == "true"
	}
	if key, err := section.GetKey("SWUPD_MAX_RETRIES"); err == nil {
		if n, convErr := strconv.Atoi(key.Value()); convErr == nil {
			cfg.MaxRetries = n
		}
	}
	if key, err := section.GetKey("SWUPD_RETRY_DELAY"); err == nil {
		if n, convErr := strconv.Atoi(key.Value()); convErr == nil {
			cfg.RetryDelay = time.Duration(n) * time.Second
		}
	}
	if key, err := section.GetKey("SWUPD_LOCAL_CONTENT_DIR"); err == nil {
		cfg.LocalContentDir = key.Value()
	}
	if key, err := section.GetKey("SWUPD_ALLOW_INSECURE_HTTP"); err == nil {
		cfg.AllowInsecureHTTP = key.Value() == "true"
	}

	cfg.resolveURLs()
	return cfg, nil
}

// MixConfig is the subset of a local build's builder.conf a client needs
// in order to treat that build's output directory as a "mix" content
// source: its content/version URLs (here repointed at a local path) and
// the format the mix was built at.
type MixConfig struct {
	Swupd struct {
		Bundle     string `required:"false" toml:"BUNDLE"`
		ContentURL string `required:"false" toml:"CONTENTURL"`
		Format     string `required:"true" toml:"FORMAT"`
		VersionURL string `required:"false" toml:"VERSIONURL"`
	}
}

// LoadMixConfig reads a local build's builder.conf (TOML) and returns the
// Config a client should use to consume that build's output directory
// directly, with LocalContentDir set to outputDir so content acquisition
// hardlinks rather than fetches over HTTP.
func LoadMixConfig(path, outputDir string) (Config, error) {
	var mc MixConfig
	if _, err := toml.DecodeFile(path, &mc); err != nil {
		return Config{}, errors.Wrapf(err, "reading mix config %s", path)
	}

	cfg := Defaults()
	cfg.Format = mc.Swupd.Format
	if mc.Swupd.ContentURL != "" {
		cfg.ContentURL = mc.Swupd.ContentURL
	}
	if mc.Swupd.VersionURL != "" {
		cfg.VersionURL = mc.Swupd.VersionURL
	}
	cfg.LocalContentDir = filepath.Clean(outputDir)
	cfg.resolveURLs()
	return cfg, nil
}
