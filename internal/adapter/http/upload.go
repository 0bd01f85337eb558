package http

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/cwygoda/mediagrab/internal/credential"
	"github.com/cwygoda/mediagrab/internal/domain"
)

const (
	cookiesField  = "cookies"
	maxFieldBytes = 4 << 10
)

var errUploadsDisabled = fmt.Errorf("%w: cookie uploads are not accepted", domain.ErrValidation)

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// readMultipart streams the form, storing the cookie part through Uploads.
// On error no upload is left behind.
func (s *Server) readMultipart(w http.ResponseWriter, r *http.Request) (req downloadRequest, cookiePath string, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.CookieMaxBytes+maxJSONBody)
	mr, err := r.MultipartReader()
	if err != nil {
		return req, "", fmt.Errorf("%w: invalid multipart body", domain.ErrValidation)
	}
	defer func() {
		if err != nil {
			s.removeUpload(cookiePath)
			cookiePath = ""
		}
	}()

	for {
		part, perr := mr.NextPart()
		if errors.Is(perr, io.EOF) {
			return req, cookiePath, nil
		}
		if perr != nil {
			return req, cookiePath, fmt.Errorf("%w: invalid multipart body", domain.ErrValidation)
		}

		if part.FormName() == cookiesField && part.FileName() != "" {
			if cookiePath != "" {
				return req, cookiePath, fmt.Errorf("%w: only one cookie file is accepted", domain.ErrValidation)
			}
			cookiePath, err = s.saveCookies(part)
			if err != nil {
				return req, cookiePath, err
			}
			continue
		}

		value, ferr := io.ReadAll(io.LimitReader(part, maxFieldBytes))
		if ferr != nil {
			return req, cookiePath, fmt.Errorf("%w: invalid multipart body", domain.ErrValidation)
		}
		if err := setField(&req, part.FormName(), string(value)); err != nil {
			return req, cookiePath, err
		}
	}
}

func (s *Server) saveCookies(part *multipart.Part) (string, error) {
	if s.opts.Uploads == nil {
		return "", errUploadsDisabled
	}
	if err := credential.CheckFilename(part.FileName()); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return s.opts.Uploads.SaveUpload(part, s.opts.CookieMaxBytes)
}

func setField(req *downloadRequest, name, value string) error {
	value = strings.TrimSpace(value)
	switch name {
	case "url":
		req.URL = value
	case "type":
		req.Type = value
	case "playlist":
		if value == "" {
			return nil
		}
		switch strings.ToLower(value) {
		case "1", "true", "on", "yes":
			req.Playlist = true
		case "0", "false", "off", "no":
			req.Playlist = false
		default:
			return fmt.Errorf("%w: playlist must be a boolean", domain.ErrValidation)
		}
	case "video_quality":
		req.VideoQuality = value
	case "audio_quality":
		req.AudioQuality = value
	case "browser":
		req.Browser = value
	}
	return nil
}

// contentDisposition builds an RFC 6266 attachment header with an ASCII
// fallback and an RFC 5987 encoded UTF-8 name.
func contentDisposition(name string) string {
	var fallback strings.Builder
	for _, r := range name {
		switch {
		case r == '"' || r == '\\' || r == '%':
			fallback.WriteByte('_')
		case r < 0x20 || r > 0x7e:
			fallback.WriteByte('_')
		default:
			fallback.WriteRune(r)
		}
	}
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, fallback.String(), encodeExtValue(name))
}

func encodeExtValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}
