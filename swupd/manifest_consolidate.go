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

import "sort"

// Consolidate returns the set union of the file lists of every manifest in
// manifests, with the path as identity. Within duplicates at
// the same path, a live record wins over a deleted one; among survivors,
// the record with the newest last-change version wins. The result is
// sorted by path.
func Consolidate(manifests []*Manifest) []*File {
	best := make(map[string]*File)

	for _, m := range manifests {
		for _, f := range m.Files {
			cur, ok := best[f.Name]
			if !ok {
				best[f.Name] = f
				continue
			}
			best[f.Name] = pickConsolidated(cur, f)
		}
	}

	out := make([]*File, 0, len(best))
	for _, f := range best {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// pickConsolidated implements the "live wins over deleted, then newest
// last-change wins" tie-break rule of spec.md's consolidate() operation.
func pickConsolidated(a, b *File) *File {
	aLive := !a.IsDeleted()
	bLive := !b.IsDeleted()
	if aLive != bLive {
		if aLive {
			return a
		}
		return b
	}
	if a.Version >= b.Version {
		return a
	}
	return b
}
