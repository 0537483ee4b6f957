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
	"errors"
	"fmt"
	"os"
)

// FileKind is the orthogonal "what kind of filesystem object" classification
// of a File record (spec: sum type replacing the historical is_* booleans).
type FileKind int

// Kinds a File record can carry. ManifestPtr records only ever appear in a
// MoM, pointing at a bundle manifest blob.
const (
	KindUnset FileKind = iota
	KindFile
	KindDir
	KindLink
	KindManifestPtr
)

var kindBytes = map[FileKind]byte{
	KindUnset:       '.',
	KindFile:        'F',
	KindDir:         'D',
	KindLink:        'L',
	KindManifestPtr: 'M',
}

// LifecycleState is the orthogonal "is it live" classification of a File
// record.
type LifecycleState int

// States a File record can be in.
const (
	StateLive LifecycleState = iota
	StateDeleted
	StateGhosted
)

var stateBytes = map[LifecycleState]byte{
	StateLive:    '.',
	StateDeleted: 'd',
	StateGhosted: 'g',
}

// Modifier is a bitset of the orthogonal path classifications a File record
// can carry (config/state/boot/orphan/experimental/exported/mix). The wire
// format's "modifier" position is a single character, so only the
// highest-priority bit set is serialized; see modifierPriority below. This
// mirrors the historical wire protocol, which predates the need to express
// more than one modifier at a time.
type Modifier uint8

// Bits composing Modifier.
const (
	ModNone Modifier = 0
	ModConfig Modifier = 1 << iota
	ModState
	ModBoot
	ModOrphan
	ModExperimental
	ModExported
	ModMix
)

// modifierPriority lists modifier bits from highest to lowest priority for
// serialization into the single wire-format character.
var modifierPriority = []struct {
	bit Modifier
	b   byte
}{
	{ModConfig, 'C'},
	{ModState, 's'},
	{ModBoot, 'b'},
	{ModOrphan, 'o'},
	{ModExperimental, 'e'},
	{ModExported, 'x'},
	{ModMix, 'm'},
}

func modifierFromByte(flag byte) (Modifier, error) {
	if flag == '.' {
		return ModNone, nil
	}
	for _, m := range modifierPriority {
		if m.b == flag {
			return m.bit, nil
		}
	}
	return ModNone, fmt.Errorf("invalid file modifier flag: %c", flag)
}

func modifierToByte(m Modifier) byte {
	for _, e := range modifierPriority {
		if m&e.bit != 0 {
			return e.b
		}
	}
	return '.'
}

// Has reports whether m carries the given bit.
func (m Modifier) Has(bit Modifier) bool {
	return m&bit != 0
}

type frename bool

const (
	renameUnset = false
	renameSet   = true
)

var renameBytes = map[frename]byte{
	renameUnset: '.',
	renameSet:   'r',
}

// File represents an entry in a manifest: a path plus its content hash,
// last-changed version, and flags.
type File struct {
	Name    string
	Hash    Hashval
	Version uint32

	Kind     FileKind
	State    LifecycleState
	Modifier Modifier
	Rename   frename

	// side-effect flags set while walking the consolidated list (see
	// heuristics.go); not part of the wire format.
	NeedsKernelUpdate     bool
	NeedsSystemdReexec    bool
	NeedsBootloaderUpdate bool

	// renames
	RenameScore uint16
	RenamePeer  *File

	Info      os.FileInfo
	DeltaPeer *File
}

func kindFromFlag(flag byte) (FileKind, error) {
	switch flag {
	case 'F':
		return KindFile, nil
	case 'D':
		return KindDir, nil
	case 'L':
		return KindLink, nil
	case 'M':
		return KindManifestPtr, nil
	case '.':
		return KindUnset, nil
	default:
		return KindUnset, fmt.Errorf("invalid file type flag: %v", flag)
	}
}

func (t FileKind) String() string {
	if b, ok := kindBytes[t]; ok {
		return string(b)
	}
	return "?"
}

func stateFromFlag(flag byte) (LifecycleState, error) {
	switch flag {
	case 'd':
		return StateDeleted, nil
	case 'g':
		return StateGhosted, nil
	case '.':
		return StateLive, nil
	default:
		return StateLive, fmt.Errorf("invalid file status flag: %v", flag)
	}
}

func renameFromFlag(flag byte) (frename, error) {
	switch flag {
	case 'r':
		return renameSet, nil
	case '.':
		return renameUnset, nil
	default:
		return renameUnset, fmt.Errorf("invalid file rename flag: %v", flag)
	}
}

// setFlags parses the four positional flag characters of a manifest record
// line into the File's Kind/State/Modifier/Rename fields.
func (f *File) setFlags(flags string) error {
	if len(flags) != 4 {
		return fmt.Errorf("invalid number of flags: %v", flags)
	}

	var err error
	if f.Kind, err = kindFromFlag(flags[0]); err != nil {
		return err
	}
	if f.State, err = stateFromFlag(flags[1]); err != nil {
		return err
	}
	if f.Modifier, err = modifierFromByte(flags[2]); err != nil {
		return err
	}
	if f.Rename, err = renameFromFlag(flags[3]); err != nil {
		return err
	}

	return nil
}

// GetFlagString returns the flags in the four-character format suitable for
// a manifest record line.
func (f *File) GetFlagString() (string, error) {
	if f.Kind == KindUnset &&
		f.State == StateLive &&
		f.Modifier == ModNone &&
		f.Rename == renameUnset {
		return "", errors.New("no flags are set on file")
	}

	flagBytes := []byte{
		kindBytes[f.Kind],
		stateBytes[f.State],
		modifierToByte(f.Modifier),
		renameBytes[f.Rename],
	}

	return string(flagBytes), nil
}

// IsDeleted reports whether f is marked deleted (may still have an all-zero
// hash; callers must not assume it has staged content).
func (f *File) IsDeleted() bool {
	return f.State == StateDeleted
}

// IsGhosted reports whether f is marked ghosted (the engine must never
// touch it).
func (f *File) IsGhosted() bool {
	return f.State == StateGhosted
}

func (f *File) findFileNameInSlice(fs []*File) *File {
	for _, file := range fs {
		if file.Name == f.Name {
			return file
		}
	}
	return nil
}

func sameFile(f1 *File, f2 *File) bool {
	return f1.Name == f2.Name &&
		f1.Hash == f2.Hash &&
		f1.Kind == f2.Kind &&
		f1.State == f2.State &&
		f1.Modifier == f2.Modifier
}

func (f *File) isUnsupportedTypeChange() bool {
	if f.DeltaPeer == nil {
		// nothing to check, new or deleted file
		return false
	}

	if f.State == StateDeleted || f.DeltaPeer.State == StateDeleted {
		return false
	}

	if f.Kind == f.DeltaPeer.Kind {
		return false
	}

	// file -> link OK
	// file -> directory OK
	// link -> file OK
	// link -> directory OK
	// directory -> anything TYPE CHANGE
	return f.DeltaPeer.Kind == KindDir && f.Kind != KindDir
}
