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

// Command swupd is the client for installing and updating image-based OS
// content: one file per subcommand, wired into RootCmd in each file's
// init(), following mixer/cmd/root.go's conventions (package-level
// *cobra.Command vars, a shared global-flags struct, fail/failf
// terminating the process with the right exit code).
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/clearlinux/swupd-client/internal/config"
	"github.com/clearlinux/swupd-client/internal/ulog"
	"github.com/clearlinux/swupd-client/swupd/errkind"
	"github.com/clearlinux/swupd-client/swupd/operator"
)

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "swupd",
	Short: "swupd is the client for installing and updating image-based OS content",

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Print(cmd.UsageString())
	},
}

var rootFlags struct {
	url        string
	versionURL string
	contentURL string
	format     string
	path       string
	stateDir   string
	certPath   string
	noSigCheck bool
	ignoreTime bool
	maxRetries int
	retryDelay int
	jsonOutput bool
	iniPath    string
}

var persistentFlags *pflag.FlagSet

func init() {
	persistentFlags = RootCmd.PersistentFlags()

	persistentFlags.StringVarP(&rootFlags.url, "url", "u", "", "base server URL")
	persistentFlags.StringVarP(&rootFlags.versionURL, "versionurl", "v", "", "alternate URL for version string download")
	persistentFlags.StringVarP(&rootFlags.contentURL, "contenturl", "c", "", "alternate URL for swupd content")
	persistentFlags.StringVarP(&rootFlags.format, "format", "F", "", "format suffix for version file downloads")
	persistentFlags.StringVarP(&rootFlags.path, "path", "p", "", "use path as the root of the filesystem")
	persistentFlags.StringVarP(&rootFlags.stateDir, "statedir", "S", "", "use the given directory to cache and stage content")
	persistentFlags.StringVarP(&rootFlags.certPath, "certpath", "C", "", "path to the certificate used to verify signatures")
	persistentFlags.BoolVarP(&rootFlags.noSigCheck, "nosigcheck", "n", false, "do not check signatures for manifests")
	persistentFlags.BoolVarP(&rootFlags.ignoreTime, "ignore-time", "I", false, "ignore system time when validating certificates")
	persistentFlags.IntVar(&rootFlags.maxRetries, "max-retries", 0, "maximum number of retries for network operations")
	persistentFlags.IntVar(&rootFlags.retryDelay, "retry-delay", 0, "time in seconds to wait between retries")
	persistentFlags.BoolVarP(&rootFlags.jsonOutput, "json-output", "j", false, "emit progress/output as newline-delimited JSON")
	persistentFlags.StringVar(&rootFlags.iniPath, "config", "/etc/swupd.conf", "path to swupd's own configuration file")
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfig layers Defaults() -> the on-disk INI file -> whatever root
// flags the user actually passed, in that order, matching the teacher's
// config/config.go pattern of a file providing a baseline the CLI then
// overrides.
func resolveConfig() config.Config {
	cfg, err := config.LoadINI(rootFlags.iniPath, config.Defaults())
	if err != nil {
		fail(err)
	}

	if persistentFlags.Changed("url") {
		cfg.URL = rootFlags.url
		cfg.VersionURL = rootFlags.url
		cfg.ContentURL = rootFlags.url
	}
	if persistentFlags.Changed("versionurl") {
		cfg.VersionURL = rootFlags.versionURL
	}
	if persistentFlags.Changed("contenturl") {
		cfg.ContentURL = rootFlags.contentURL
	}
	if persistentFlags.Changed("format") {
		cfg.Format = rootFlags.format
	}
	if persistentFlags.Changed("path") {
		cfg.Path = rootFlags.path
	}
	if persistentFlags.Changed("statedir") {
		cfg.StateDir = rootFlags.stateDir
	}
	if persistentFlags.Changed("certpath") {
		cfg.CertPath = rootFlags.certPath
	}
	if persistentFlags.Changed("nosigcheck") {
		cfg.NoSigCheck = rootFlags.noSigCheck
	}
	if persistentFlags.Changed("ignore-time") {
		cfg.IgnoreTime = rootFlags.ignoreTime
	}
	if persistentFlags.Changed("max-retries") {
		cfg.MaxRetries = rootFlags.maxRetries
	}
	if persistentFlags.Changed("retry-delay") {
		cfg.RetryDelay = time.Duration(rootFlags.retryDelay) * time.Second
	}
	if persistentFlags.Changed("json-output") {
		cfg.JSONOutput = rootFlags.jsonOutput
	}
	if cfg.VersionURL == "" {
		cfg.VersionURL = cfg.URL
	}
	if cfg.ContentURL == "" {
		cfg.ContentURL = cfg.URL
	}
	return cfg
}

// newSink builds the event sink a command's Engine should emit to,
// honoring -j/--json-output.
func newSink() ulog.EventSink {
	if rootFlags.jsonOutput {
		return ulog.NewJSONSink(os.Stdout)
	}
	return ulog.NewHumanSink(os.Stdout)
}

// newEngine resolves configuration and builds the operator.Engine every
// operational subcommand drives.
func newEngine() *operator.Engine {
	return newEngineWithConfig(resolveConfig())
}

// newEngineWithConfig builds an Engine from an already-resolved cfg, for
// the rare subcommand (os-install) that must override a field - PATH - that
// resolveConfig itself has no positional argument to read.
func newEngineWithConfig(cfg config.Config) *operator.Engine {
	e, err := operator.New(cfg, newSink())
	if err != nil {
		fail(err)
	}
	return e
}

// fail terminates the process with the exit code errkind.ExitCode maps err
// to, per spec.md §6's exit code table.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	os.Exit(errkind.ExitCode(err))
}

// failf is fail with a formatted message, used for argument-validation
// errors that never touched the engine (so there is no Kind to extract;
// these map to KindInvalidOption).
func failf(format string, a ...interface{}) {
	fail(errkind.Wrap(errkind.KindInvalidOption, fmt.Errorf(format, a...)))
}
