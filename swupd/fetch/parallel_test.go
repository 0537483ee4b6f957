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

package fetch

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

func TestParallelEnqueueDedupsHashKey(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir, err := ioutil.TempDir("", "paralleltest")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	h := ParallelBegin(4, 0, Options{AllowHTTP: true})
	for i := 0; i < 5; i++ {
		h.Enqueue(context.Background(), srv.URL, filepath.Join(dir, "out"), "same-key", nil, nil, nil)
	}
	result, total := h.End()
	if total != 1 {
		t.Fatalf("expected 1 attempted transfer after dedup, got %d", total)
	}
	if result.Succeeded != 1 {
		t.Errorf("Succeeded = %d, want 1", result.Succeeded)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("server received %d requests, want 1", hits)
	}
}

func TestParallelEnqueueRespectsMaxXfer(t *testing.T) {
	const maxXfer = 2
	var current, maxObserved int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&current, 1)
		for {
			old := atomic.LoadInt32(&maxObserved)
			if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
				break
			}
		}
		atomic.AddInt32(&current, -1)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir, err := ioutil.TempDir("", "paralleltest")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	h := ParallelBegin(maxXfer, 0, Options{AllowHTTP: true})
	for i := 0; i < 20; i++ {
		h.Enqueue(context.Background(), srv.URL, filepath.Join(dir, fmt.Sprintf("out%d", i)), "", nil, nil, nil)
	}
	result, total := h.End()
	if total != 20 || result.Succeeded != 20 {
		t.Fatalf("result = %+v total=%d, want 20 succeeded", result, total)
	}
	if atomic.LoadInt32(&maxObserved) > int32(maxXfer) {
		t.Errorf("observed %d concurrent transfers, want <= %d", maxObserved, maxXfer)
	}
}

func TestParallelCallbacksInvoked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir, err := ioutil.TempDir("", "paralleltest")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	var mu sync.Mutex
	var successes, failures []string

	h := ParallelBegin(4, 0, Options{AllowHTTP: true})
	h.Enqueue(context.Background(), srv.URL+"/ok", filepath.Join(dir, "ok"), "", "ok-user",
		func(ud interface{}) { mu.Lock(); successes = append(successes, ud.(string)); mu.Unlock() },
		func(err error, ud interface{}) { mu.Lock(); failures = append(failures, ud.(string)); mu.Unlock() })
	h.Enqueue(context.Background(), srv.URL+"/fail", filepath.Join(dir, "fail"), "", "fail-user",
		func(ud interface{}) { mu.Lock(); successes = append(successes, ud.(string)); mu.Unlock() },
		func(err error, ud interface{}) { mu.Lock(); failures = append(failures, ud.(string)); mu.Unlock() })
	result, total := h.End()

	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	if result.Succeeded != 1 || result.Failed != 1 {
		t.Fatalf("result = %+v, want 1 succeeded 1 failed", result)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(successes) != 1 || successes[0] != "ok-user" {
		t.Errorf("successes = %v, want [ok-user]", successes)
	}
	if len(failures) != 1 || failures[0] != "fail-user" {
		t.Errorf("failures = %v, want [fail-user]", failures)
	}
}
