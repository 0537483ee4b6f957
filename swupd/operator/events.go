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

package operator

import "github.com/clearlinux/swupd-client/internal/ulog"

func ulogStep(name string) ulog.Event {
	return ulog.Event{Kind: ulog.EventStepStart, Step: name}
}

func ulogStepEnd(name string) ulog.Event {
	return ulog.Event{Kind: ulog.EventStepEnd, Step: name}
}
