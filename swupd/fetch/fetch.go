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

// Package fetch provides single-file and bounded-concurrency parallel
// downloaders with resume, retry and backoff, grounded on
// internal/client/state.go's Download (temp-file-then-rename over plain
// net/http) and swupd/delta.go's channel+sync.WaitGroup worker pool.
package fetch

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrServerUnreachable is returned when the connection itself could not be
// established (DNS, dial, TLS handshake).
var ErrServerUnreachable = errors.New("server unreachable")

// ErrTimeout is returned when a transfer exceeds its connect timeout or
// falls below the low-speed floor for LowSpeedDuration.
var ErrTimeout = errors.New("transfer timed out")

// ErrPartial is returned when a transfer's body ends before the declared
// Content-Length is reached.
var ErrPartial = errors.New("partial transfer")

// ErrWriteError is returned when writing to dest_path fails. Write errors
// are never retried (spec: local-disk errors are not transient).
var ErrWriteError = errors.New("local write error")

// HTTPStatusError is returned when the server answers with a 4xx/5xx
// status.
type HTTPStatusError struct {
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
}

// Options configures a fetch.
type Options struct {
	ConnectTimeout   time.Duration // dial+TLS handshake budget
	LowSpeedLimit    int64         // receive-throughput floor, bytes/sec
	LowSpeedDuration time.Duration // window over which the floor is enforced
	AllowHTTP        bool          // allow plain http:// URLs, not just https://
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.LowSpeedDuration == 0 {
		o.LowSpeedDuration = 30 * time.Second
	}
	return o
}

func (o Options) client() *http.Client {
	dialer := &net.Dialer{Timeout: o.ConnectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: o.ConnectTimeout,
		Proxy:               http.ProxyFromEnvironment,
	}
	return &http.Client{Transport: transport}
}

func checkScheme(rawURL string, allowHTTP bool) error {
	if strings.HasPrefix(rawURL, "https://") {
		return nil
	}
	if strings.HasPrefix(rawURL, "http://") {
		if allowHTTP {
			return nil
		}
		return errors.New("plain http:// is not allowed by configuration")
	}
	return errors.Errorf("unsupported URL scheme: %s", rawURL)
}

// classifyTransportError maps a net/http transport-layer error to one of
// the fetch error kinds.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	return errors.Wrap(ErrServerUnreachable, err.Error())
}

// throughputReader wraps an io.Reader and returns ErrTimeout if, averaged
// over window, bytes/sec falls below floor. A floor or window of zero
// disables the check.
type throughputReader struct {
	r       io.Reader
	floor   int64
	window  time.Duration
	start   time.Time
	read    int64
	lastTot int64
	lastAt  time.Time
}

func newThroughputReader(r io.Reader, floor int64, window time.Duration) *throughputReader {
	now := time.Now()
	return &throughputReader{r: r, floor: floor, window: window, start: now, lastAt: now}
}

func (t *throughputReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.read += int64(n)
	if t.floor > 0 && t.window > 0 {
		now := time.Now()
		if elapsed := now.Sub(t.lastAt); elapsed >= t.window {
			rate := float64(t.read-t.lastTot) / elapsed.Seconds()
			if int64(rate) < t.floor {
				return n, errors.Wrapf(ErrTimeout, "throughput %d B/s below floor %d B/s", int64(rate), t.floor)
			}
			t.lastTot = t.read
			t.lastAt = now
		}
	}
	return n, err
}

// FetchToFile downloads url to destPath, writing first to destPath+".download"
// and renaming into place only on full success (grounded on
// internal/client/state.go's Download). resumeFrom, if non-zero, requests a
// Range: bytes=resumeFrom- and appends to the existing partial file; pass 0
// for a fresh download.
func FetchToFile(ctx context.Context, rawURL, destPath string, opts Options, resumeFrom int64) (written int64, err error) {
	opts = opts.withDefaults()
	if err = checkScheme(rawURL, opts.AllowHTTP); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	res, err := opts.client().Do(req)
	if err != nil {
		return 0, classifyTransportError(err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		return 0, &HTTPStatusError{Status: res.StatusCode}
	}
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusPartialContent {
		return 0, &HTTPStatusError{Status: res.StatusCode}
	}

	tempPath := destPath + ".download"
	f, err := os.OpenFile(tempPath, flags, 0644)
	if err != nil {
		return 0, errors.Wrap(ErrWriteError, err.Error())
	}

	tr := newThroughputReader(res.Body, opts.LowSpeedLimit, opts.LowSpeedDuration)
	written, copyErr := io.Copy(f, tr)
	if closeErr := f.Close(); closeErr != nil && copyErr == nil {
		copyErr = errors.Wrap(ErrWriteError, closeErr.Error())
	}
	if copyErr != nil {
		if errors.Cause(copyErr) == ErrTimeout {
			return written, copyErr
		}
		return written, errors.Wrap(ErrWriteError, copyErr.Error())
	}

	if res.ContentLength > 0 && res.StatusCode == http.StatusOK && written < res.ContentLength {
		return written, ErrPartial
	}

	if err = os.Rename(tempPath, destPath); err != nil {
		return written, errors.Wrap(ErrWriteError, err.Error())
	}
	return written, nil
}

// FetchToMemory downloads url into memory, up to maxBytes. It is used for
// small files: version strings, signatures, the `latest` endpoint.
func FetchToMemory(ctx context.Context, rawURL string, maxBytes int64, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	if err := checkScheme(rawURL, opts.AllowHTTP); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	res, err := opts.client().Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{Status: res.StatusCode}
	}

	tr := newThroughputReader(res.Body, opts.LowSpeedLimit, opts.LowSpeedDuration)
	data, err := ioutil.ReadAll(io.LimitReader(tr, maxBytes+1))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if int64(len(data)) > maxBytes {
		return nil, errors.Errorf("response exceeded %d byte limit", maxBytes)
	}
	return data, nil
}
