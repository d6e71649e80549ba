package security

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Sensitive header names that should be redacted.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"proxy-authorization": true,
}

// Query parameters whose values are redacted from logged URLs.
var sensitiveParams = []string{"token", "sign", "password", "secret", "key"}

// Element names whose text is a credential: WSAA token and sign, and the signed CMS
// sent to loginCms.
var sensitiveElements = []string{"token", "sign", "Token", "Sign", "in0"}

const redactedValue = "[REDACTED]"

type elementPattern struct {
	plain   *regexp.Regexp
	escaped *regexp.Regexp
}

var elementPatterns = func() []elementPattern {
	patterns := make([]elementPattern, 0, len(sensitiveElements))
	for _, name := range sensitiveElements {
		patterns = append(patterns, elementPattern{
			plain:   regexp.MustCompile(`(?s)(<(?:[\w.-]+:)?` + name + `(?:\s[^>]*)?>)(.*?)(</(?:[\w.-]+:)?` + name + `>)`),
			escaped: regexp.MustCompile(`(?s)(&lt;(?:[\w.-]+:)?` + name + `&gt;)(.*?)(&lt;/(?:[\w.-]+:)?` + name + `&gt;)`),
		})
	}
	return patterns
}()

// SanitizeHeaders removes sensitive headers from an HTTP header map.
// Returns a new map with sensitive values redacted.
func SanitizeHeaders(headers http.Header) map[string]string {
	sanitized := make(map[string]string, len(headers))
	for key, values := range headers {
		if sensitiveHeaders[strings.ToLower(key)] {
			sanitized[key] = redactedValue
			continue
		}
		sanitized[key] = strings.Join(values, ", ")
	}
	return sanitized
}

// SanitizeXML redacts credentials from a SOAP body, including the ones nested as
// escaped XML inside another element, and truncates the result to maxSize bytes.
func SanitizeXML(body []byte, maxSize int) string {
	if len(body) == 0 {
		return ""
	}

	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		decompressed, err := decompressGzip(body)
		if err != nil {
			return fmt.Sprintf("[gzip, %d bytes, decompression failed]", len(body))
		}
		body = decompressed
	}

	if !utf8.Valid(body) {
		return "[binary] " + base64.StdEncoding.EncodeToString(truncate(body, maxSize))
	}

	for _, p := range elementPatterns {
		body = p.plain.ReplaceAll(body, []byte("${1}"+redactedValue+"${3}"))
		body = p.escaped.ReplaceAll(body, []byte("${1}"+redactedValue+"${3}"))
	}

	if maxSize > 0 && len(body) > maxSize {
		return string(body[:maxSize]) + fmt.Sprintf("...[truncated %d bytes]", len(body)-maxSize)
	}
	return string(body)
}

// SanitizeURL redacts sensitive query parameters from a URL.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}

	query := u.Query()
	changed := false
	for name := range query {
		lower := strings.ToLower(name)
		for _, sensitive := range sensitiveParams {
			if strings.Contains(lower, sensitive) {
				query.Set(name, redactedValue)
				changed = true
				break
			}
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func truncate(b []byte, maxSize int) []byte {
	if maxSize > 0 && len(b) > maxSize {
		return b[:maxSize]
	}
	return b
}

func decompressGzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
