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

package version

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io/ioutil"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clearlinux/swupd-client/swupd/fetch"
	"github.com/clearlinux/swupd-client/swupd/sig"
)

func TestCurrentParsesVersionIDFromLibOSRelease(t *testing.T) {
	prefix := t.TempDir()
	dir := filepath.Join(prefix, "usr", "lib")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	content := "NAME=\"Test\"\nVERSION_ID=10\nID=test\n"
	if err := ioutil.WriteFile(filepath.Join(dir, "os-release"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	v, err := Current(prefix)
	if err != nil {
		t.Fatalf("Current failed: %s", err)
	}
	if v != 10 {
		t.Errorf("Current = %d, want 10", v)
	}
}

func TestCurrentFallsBackToEtcOSRelease(t *testing.T) {
	prefix := t.TempDir()
	dir := filepath.Join(prefix, "etc")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	content := "VERSION_ID=20\n"
	if err := ioutil.WriteFile(filepath.Join(dir, "os-release"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	v, err := Current(prefix)
	if err != nil {
		t.Fatalf("Current failed: %s", err)
	}
	if v != 20 {
		t.Errorf("Current = %d, want 20", v)
	}
}

func TestCurrentMissingOSRelease(t *testing.T) {
	prefix := t.TempDir()
	if _, err := Current(prefix); err == nil {
		t.Error("expected error when no os-release is present")
	}
}

func TestCurrentNoVersionID(t *testing.T) {
	prefix := t.TempDir()
	dir := filepath.Join(prefix, "usr", "lib")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(filepath.Join(dir, "os-release"), []byte("NAME=\"Test\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Current(prefix); err != ErrNoVersionID {
		t.Errorf("err = %v, want ErrNoVersionID", err)
	}
}

func requireOpenSSL(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("openssl"); err != nil {
		t.Skip("couldn't find openssl program used for test")
	}
}

func genTestCert(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}

	notBefore := time.Now().Add(-2 * time.Hour)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"swupd-version-test"}},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(24 * time.Hour),
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %s", err)
	}

	certPath = filepath.Join(dir, "primary.pem")
	keyPath = filepath.Join(dir, "primary-key.pem")

	certOut, err := os.Create(certPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatal(err)
	}
	if err := certOut.Close(); err != nil {
		t.Fatal(err)
	}

	keyOut, err := os.Create(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}); err != nil {
		t.Fatal(err)
	}
	if err := keyOut.Close(); err != nil {
		t.Fatal(err)
	}

	return certPath, keyPath
}

func signDetached(t *testing.T, data []byte, certPath, keyPath, sigPath string) {
	t.Helper()
	dataPath := sigPath + ".in"
	if err := ioutil.WriteFile(dataPath, data, 0644); err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command("openssl", "smime", "-sign", "-binary", "-in", dataPath,
		"-signer", certPath, "-inkey", keyPath, "-outform", "DER", "-out", sigPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("signing test data: %s: %s", err, out)
	}
}

func TestLatestFetchesAndVerifiesSignedVersion(t *testing.T) {
	requireOpenSSL(t)
	dir := t.TempDir()
	certPath, keyPath := genTestCert(t, dir)

	latest := []byte("42")
	sigPath := filepath.Join(dir, "latest.sig")
	signDetached(t, latest, certPath, keyPath, sigPath)
	sigBytes, err := ioutil.ReadFile(sigPath)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/latest.sig"):
			_, _ = w.Write(sigBytes)
		case strings.HasSuffix(r.URL.Path, "/latest"):
			_, _ = w.Write(latest)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	verifier, err := sig.New(certPath, "")
	if err != nil {
		t.Fatalf("sig.New failed: %s", err)
	}

	v, err := Latest(context.Background(), srv.URL, 3, verifier, fetch.Options{AllowHTTP: true})
	if err != nil {
		t.Fatalf("Latest failed: %s", err)
	}
	if v != 42 {
		t.Errorf("Latest = %d, want 42", v)
	}
}

func TestFormatFetchesInteger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/10/format") {
			_, _ = w.Write([]byte("3"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, err := Format(context.Background(), srv.URL, 10, fetch.Options{AllowHTTP: true})
	if err != nil {
		t.Fatalf("Format failed: %s", err)
	}
	if f != 3 {
		t.Errorf("Format = %d, want 3", f)
	}
}
