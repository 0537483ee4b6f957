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

package ulog

import (
	"encoding/json"
	"fmt"
	"io"
)

// EventKind identifies the shape of an Event, per the "Progress as a
// trait" redesign: the operator layer emits a stream of events instead of
// printing directly, and the CLI layer picks a sink implementation.
type EventKind int

// EventKind values.
const (
	EventStepStart EventKind = iota
	EventStepEnd
	EventBytes
)

// Event is one point in the operator's progress stream.
type Event struct {
	Kind  EventKind
	Step  string // step name, set for StepStart/StepEnd
	N     int64  // bytes transferred so far, set for Bytes
	Total int64  // total expected bytes, set for Bytes
}

// EventSink consumes an operator's Event stream. Human and JSON output are
// two implementations of this interface; neither is privileged.
type EventSink interface {
	Emit(Event)
}

// HumanSink renders events as single terminal lines, the format swupd
// users have always seen: "<step>..." on start, "<step> done" on end, and
// a percentage for byte progress.
type HumanSink struct {
	w         io.Writer
	lastPct   int
	haveBytes bool
}

// NewHumanSink builds a HumanSink writing to w.
func NewHumanSink(w io.Writer) *HumanSink {
	return &HumanSink{w: w, lastPct: -1}
}

// Emit implements EventSink.
func (s *HumanSink) Emit(e Event) {
	switch e.Kind {
	case EventStepStart:
		_, _ = fmt.Fprintf(s.w, "%s...\n", e.Step)
		s.lastPct = -1
		s.haveBytes = false
	case EventStepEnd:
		_, _ = fmt.Fprintf(s.w, "%s done\n", e.Step)
	case EventBytes:
		s.haveBytes = true
		pct := 0
		if e.Total > 0 {
			pct = int(e.N * 100 / e.Total)
		}
		if pct != s.lastPct {
			_, _ = fmt.Fprintf(s.w, "\r%3d%%", pct)
			s.lastPct = pct
		}
	}
}

// jsonEvent is the wire shape JSONSink writes, one object per line.
type jsonEvent struct {
	Kind  string `json:"kind"`
	Step  string `json:"step,omitempty"`
	N     int64  `json:"n,omitempty"`
	Total int64  `json:"total,omitempty"`
}

var eventKindNames = map[EventKind]string{
	EventStepStart: "step_start",
	EventStepEnd:   "step_end",
	EventBytes:     "bytes",
}

// JSONSink renders events as newline-delimited JSON objects, for the
// -j/--json-output CLI flag.
type JSONSink struct {
	enc *json.Encoder
}

// NewJSONSink builds a JSONSink writing to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

// Emit implements EventSink.
func (s *JSONSink) Emit(e Event) {
	_ = s.enc.Encode(jsonEvent{
		Kind:  eventKindNames[e.Kind],
		Step:  e.Step,
		N:     e.N,
		Total: e.Total,
	})
}

// NopSink discards every event. Useful for operations run without a
// progress consumer (tests, library callers that only want the final
// Summary).
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(Event) {}
