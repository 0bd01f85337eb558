// Package credential validates and places cookie jars used by the
// extraction engine.
package credential

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/cwygoda/mediagrab/internal/domain"
)

var (
	ErrNotText        = errors.New("cookie file is not plain text")
	ErrNotCookieJar   = errors.New("cookie file is not in Netscape format")
	ErrBadExtension   = errors.New("cookie file must have a .txt extension")
	ErrEmptyCookieJar = errors.New("cookie file holds no cookies")
)

const (
	netscapeHeader = "# Netscape HTTP Cookie File"
	httpOnlyPrefix = "#HttpOnly_"

	// CredentialsDir is created inside a job directory for session material.
	CredentialsDir = ".credentials"
	jarName        = "cookies.txt"
)

// CheckFilename accepts names ending in .txt or without an extension.
func CheckFilename(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || ext == ".txt" {
		return nil
	}
	return ErrBadExtension
}

// Validate checks that data is plain text in the Netscape cookie jar format.
func Validate(data []byte) error {
	if !isText(data) {
		return ErrNotText
	}

	var (
		header  bool
		cookies int
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.TrimSpace(line) == "":
			continue
		case strings.HasPrefix(line, netscapeHeader), strings.HasPrefix(line, "# HTTP Cookie File"):
			header = true
			continue
		case strings.HasPrefix(line, httpOnlyPrefix):
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		case strings.HasPrefix(line, "#"):
			continue
		}
		if !validCookieLine(line) {
			return ErrNotCookieJar
		}
		cookies++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotCookieJar, err)
	}
	if cookies == 0 {
		if header {
			return ErrEmptyCookieJar
		}
		return ErrNotCookieJar
	}
	return nil
}

// ValidateFile reads and validates a cookie jar on disk.
func ValidateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read cookie file: %w", err)
	}
	return Validate(data)
}

// isText walks the detected type's parents since tab separated jars are
// sniffed as text/tab-separated-values.
func isText(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// domain, include subdomains, path, secure, expiry, name, value
func validCookieLine(line string) bool {
	fields := strings.Split(line, "\t")
	if len(fields) != 7 || fields[0] == "" || fields[5] == "" {
		return false
	}
	if !isFlag(fields[1]) || !isFlag(fields[3]) {
		return false
	}
	_, err := strconv.ParseInt(fields[4], 10, 64)
	return err == nil
}

func isFlag(s string) bool {
	return strings.EqualFold(s, "TRUE") || strings.EqualFold(s, "FALSE")
}

// DecodeServerJar decodes a base64 cookie jar configured for the whole
// server. An empty string yields nil.
func DecodeServerJar(b64 string) ([]byte, error) {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode server cookies: %w", err)
	}
	if err := Validate(data); err != nil {
		return nil, fmt.Errorf("server cookies: %w", err)
	}
	return data, nil
}

// Install places the cookie jar a job should use inside jobDir and returns
// its path, or "" when the job runs without one. An uploaded jar is moved
// out of the uploads area; otherwise serverJar is written when set. Browser
// mode never receives the server jar.
func Install(jobDir string, cred domain.Credential, serverJar []byte) (string, error) {
	if cred.Mode == domain.CredentialBrowser {
		return "", nil
	}
	if cred.Mode != domain.CredentialCookieFile && len(serverJar) == 0 {
		return "", nil
	}

	dir := filepath.Join(jobDir, CredentialsDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create credentials dir: %w", err)
	}
	dst := filepath.Join(dir, jarName)

	if cred.Mode == domain.CredentialCookieFile {
		if err := move(cred.CookiePath, dst); err != nil {
			return "", fmt.Errorf("install cookie file: %w", err)
		}
		return dst, nil
	}
	if err := os.WriteFile(dst, serverJar, 0o600); err != nil {
		return "", fmt.Errorf("write server cookies: %w", err)
	}
	return dst, nil
}

func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename fails across filesystems.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
