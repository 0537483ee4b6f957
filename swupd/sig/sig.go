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

// Package sig authenticates detached PKCS#7/CMS signatures over in-memory
// buffers, the way mcswupd's build side signs Manifest.MoM: by shelling to
// `openssl smime`. No pure-Go CMS library appears anywhere in the teacher's
// dependency pack, so the client side matches the build side instead of
// introducing one.
package sig

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"io/ioutil"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

// ErrCertExpired is returned by New when the leaf certificate's validity
// window does not cover the current time.
var ErrCertExpired = errors.New("certificate is expired or not yet valid")

// ErrCertInvalid is returned by New when the certificate file cannot be
// parsed, or carries a critical Authority Information Access extension
// (meaning OCSP would be required to fully validate it, which this verifier
// does not implement).
var ErrCertInvalid = errors.New("certificate is invalid")

// ErrVerifyFailed is returned by VerifyDetached when neither the primary
// nor (if present) the alternate certificate validates the signature.
var ErrVerifyFailed = errors.New("signature verification failed")

// oidAuthorityInfoAccess is the X.509 extension OID for AIA (RFC 5280 §4.2.2.1).
var oidAuthorityInfoAccess = []int{1, 3, 6, 1, 5, 5, 7, 1, 1}

// Flag controls VerifyDetached behavior. Flags are a bitset, combined with
// bitwise-or, mirroring spec's enumerated {default, ignore_expiration,
// print_errors} flag set.
type Flag uint8

// Flag values. FlagDefault is the zero value.
const (
	FlagDefault Flag = 0
	FlagIgnoreExpiration Flag = 1 << iota
	FlagPrintErrors
)

func (fl Flag) has(bit Flag) bool { return fl&bit != 0 }

// Verifier holds a pinned certificate (and optional alternate and CRL) used
// to authenticate detached signatures. The zero value is not usable; build
// one with New.
type Verifier struct {
	certPath    string
	altCertPath string
	crlPath     string
}

// New builds a Verifier pinned to the certificate at certPath. crlPath may
// be empty, in which case no CRL check is performed. It corresponds to
// spec's init(cert_path, crl_path?) operation.
func New(certPath, crlPath string) (*Verifier, error) {
	if err := checkCertFile(certPath); err != nil {
		return nil, err
	}

	v := &Verifier{certPath: certPath, crlPath: crlPath}
	if alt := certPath + ".alt"; fileExists(alt) {
		v.altCertPath = alt
	}
	return v, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// checkCertFile parses the PEM certificate at path and rejects it if
// expired or carrying a critical AIA extension.
func checkCertFile(path string) error {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.Wrapf(ErrCertInvalid, "reading %s: %s", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return errors.Wrapf(ErrCertInvalid, "%s is not PEM-encoded", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return errors.Wrapf(ErrCertInvalid, "parsing %s: %s", path, err)
	}

	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return errors.Wrapf(ErrCertExpired, "%s valid %s to %s", path, cert.NotBefore, cert.NotAfter)
	}

	for _, ext := range cert.Extensions {
		if ext.Critical && oidEqual(ext.Id, oidAuthorityInfoAccess) {
			return errors.Wrapf(ErrCertInvalid, "%s has a critical AIA extension, OCSP is not supported", path)
		}
	}

	return nil
}

func oidEqual(id asn1.ObjectIdentifier, b []int) bool {
	if len(id) != len(b) {
		return false
	}
	for i := range id {
		if id[i] != b[i] {
			return false
		}
	}
	return true
}

// VerifyDetached checks that sig is a valid detached PKCS#7/CMS signature
// over data. It first tries the pinned certificate; on failure, if an
// alternate certificate file (<cert_path>.alt) exists, it retries once
// against that. Corresponds to spec's verify_detached(data, sig, flags).
func (v *Verifier) VerifyDetached(data, sig []byte, flags Flag) (bool, error) {
	ok, err := v.verifyAgainst(v.certPath, data, sig, flags)
	if ok {
		return true, nil
	}
	if v.altCertPath == "" {
		return false, errors.Wrap(ErrVerifyFailed, err.Error())
	}

	ok, err2 := v.verifyAgainst(v.altCertPath, data, sig, flags)
	if ok {
		return true, nil
	}
	return false, errors.Wrapf(ErrVerifyFailed, "primary: %s; alternate: %s", err, err2)
}

func (v *Verifier) verifyAgainst(certPath string, data, sig []byte, flags Flag) (bool, error) {
	dataFile, err := writeTemp("swupd-sig-data", data)
	if err != nil {
		return false, err
	}
	defer func() { _ = os.Remove(dataFile) }()

	sigFile, err := writeTemp("swupd-sig-sig", sig)
	if err != nil {
		return false, err
	}
	defer func() { _ = os.Remove(sigFile) }()

	args := []string{"smime", "-verify", "-in", sigFile, "-inform", "der",
		"-content", dataFile, "-CAfile", certPath}
	if v.crlPath != "" {
		args = append(args, "-crl_check", "-CRLfile", v.crlPath)
	}
	if flags.has(FlagIgnoreExpiration) {
		args = append(args, "-no_check_time")
	}

	cmd := exec.Command("openssl", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if flags.has(FlagPrintErrors) {
			return false, errors.Wrapf(err, "openssl smime -verify: %s", out)
		}
		return false, err
	}
	return true, nil
}

func writeTemp(prefix string, content []byte) (string, error) {
	f, err := ioutil.TempFile("", prefix)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(content); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// Close releases any resources held by v. The verifier holds no process-wide
// state beyond the certificate paths, so this always succeeds; it exists to
// satisfy spec's init/deinit bracketing discipline.
func (v *Verifier) Close() error {
	return nil
}
