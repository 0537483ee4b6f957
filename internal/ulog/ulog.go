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

// Package ulog is the client engine's leveled, tag-routed logger, adapted
// from log/log.go: same level set and repeat-line suppression, re-tagged
// for the commands this engine actually shells out to.
package ulog

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Log levels, unchanged from log/log.go.
const (
	LevelError = iota + 1
	LevelWarning
	LevelInfo
	LevelDebug
	LevelVerbose // same as Debug, but without repeat-line filtering
)

// Command tags this engine logs under. Replaces log/log.go's build-tool
// tags (Dnf, Rpm2Archive, CreateRepo, Git) with the external binaries the
// client engine itself shells out to.
const (
	Engine  = "ENGINE"
	Openssl = "OPENSSL"
	Bspatch = "BSPATCH"
	Bsdiff  = "BSDIFF"
	Xz      = "XZ"
	Zstd    = "ZSTD"
	Tar     = "TAR"
)

var (
	level      = LevelDebug
	levelMap   = map[int]string{}
	fileHandle *os.File
	logging    = false
	lineLast   string
	lineCount  int
	cmdMap     = map[string]bool{}
)

func init() {
	levelMap[LevelError] = "ERROR"
	levelMap[LevelWarning] = "WARNING"
	levelMap[LevelInfo] = "INFO"
	levelMap[LevelDebug] = "DEBUG"
	levelMap[LevelVerbose] = "VERBOSE"
	cmdMap[Engine] = true
	cmdMap[Openssl] = true
	cmdMap[Bspatch] = true
	cmdMap[Bsdiff] = true
	cmdMap[Xz] = true
	cmdMap[Zstd] = true
	cmdMap[Tar] = true
}

// SetLogLevel sets the default log level to l, clamped to [LevelError, LevelVerbose].
func SetLogLevel(l int) {
	if l < LevelError {
		level = LevelError
		logTag("WRN", Engine, "Log Level '%d' too low, forcing to %s (%d)", l, levelMap[level], level)
	} else if l > LevelVerbose {
		level = LevelVerbose
		logTag("WRN", Engine, "Log Level '%d' too high, forcing to %s (%d)", l, levelMap[level], level)
	} else {
		level = l
		Debug(Engine, "Log Level set to %s (%d)", levelMap[level], l)
	}
}

// SetOutputFilename sets the log output to logFile instead of stdout/stderr.
func SetOutputFilename(logFile string) (*os.File, error) {
	var err error
	fileHandle, err = os.OpenFile(logFile, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	log.SetOutput(fileHandle)
	logging = true
	return fileHandle, nil
}

// CloseLogHandler closes the log file handle opened by SetOutputFilename.
func CloseLogHandler() {
	if logging {
		if err := fileHandle.Close(); err != nil {
			fmt.Printf("WARNING: couldn't close file for log: %s\n", err)
		}
	}
}

func logTag(tag string, cmdTag, format string, a ...interface{}) {
	if len(a) < 1 {
		format = strings.ReplaceAll(format, "%", "%%")
	}

	f := "[" + tag + "]" + "[" + cmdTag + "] " + format + "\n"
	output := fmt.Sprintf(f, a...)

	if level >= LevelVerbose {
		log.Print(output)
		return
	}

	if output != lineLast {
		if lineCount > 0 {
			plural := ""
			if lineCount > 1 {
				plural = "s"
			}
			log.Print(fmt.Sprintf("[%s] [Previous line repeated %d time%s]\n", tag, lineCount, plural))
		}
		log.Print(output)
		lineLast = output
		lineCount = 0
	} else {
		lineCount++
	}
}

func resolveTag(cmdTag string) string {
	if _, ok := cmdMap[cmdTag]; !ok {
		return Engine
	}
	return cmdTag
}

// Debug logs a DBG-tagged entry.
func Debug(cmdTag, format string, a ...interface{}) {
	if level < LevelDebug || !logging {
		return
	}
	logTag("DBG", resolveTag(cmdTag), format, a...)
}

// Error logs an ERR-tagged entry, always echoed to stdout regardless of
// whether file logging is active.
func Error(cmdTag, format string, a ...interface{}) {
	fmt.Printf("Error: "+format+"\n", a...)
	if !logging {
		return
	}
	logTag("ERR", resolveTag(cmdTag), format, a...)
}

// Info logs an INF-tagged entry, always echoed to stdout.
func Info(cmdTag, format string, a ...interface{}) {
	fmt.Printf(format+"\n", a...)
	if level < LevelInfo || !logging {
		return
	}
	logTag("INF", resolveTag(cmdTag), format, a...)
}

// Warning logs a WRN-tagged entry, always echoed to stdout.
func Warning(cmdTag, format string, a ...interface{}) {
	fmt.Printf("Warning: "+format+"\n", a...)
	if level < LevelWarning || !logging {
		return
	}
	logTag("WRN", resolveTag(cmdTag), format, a...)
}

// Verbose logs a VRB-tagged entry, without repeat-line suppression.
func Verbose(cmdTag, format string, a ...interface{}) {
	if level < LevelVerbose || !logging {
		return
	}
	logTag("VRB", resolveTag(cmdTag), format, a...)
}
