package passport

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

var expiresLayouts = []string{
	time.RFC1123,
	"Mon, 02-Jan-2006 15:04:05 MST",
	time.RFC850,
	time.ANSIC,
	time.RFC3339,
}

// Cookie is one parsed Set-Cookie line. Attribute names keep their original
// spelling; values are percent-decoded.
type Cookie struct {
	Name       string
	Value      string
	Attributes map[string]string
	ExpiresAt  *time.Time
}

// ParseSetCookies indexes Set-Cookie header lines by cookie name. Later lines
// win on duplicate names. Max-Age takes precedence over Expires, measured
// from now.
func ParseSetCookies(lines []string, now time.Time) map[string]Cookie {
	cookies := make(map[string]Cookie, len(lines))

	for _, line := range lines {
		parts := strings.Split(line, ";")
		name, value, ok := splitPair(parts[0])
		if !ok || name == "" {
			continue
		}

		cookie := Cookie{Name: name, Value: decode(value), Attributes: map[string]string{}}
		for _, part := range parts[1:] {
			key, attr, _ := splitPair(part)
			if key == "" {
				continue
			}
			cookie.Attributes[key] = decode(attr)
		}

		cookie.ExpiresAt = expiry(cookie.Attributes, now)
		cookies[name] = cookie
	}

	return cookies
}

func expiry(attrs map[string]string, now time.Time) *time.Time {
	var expires, maxAge string
	for key, value := range attrs {
		switch strings.ToLower(key) {
		case "expires":
			expires = value
		case "max-age":
			maxAge = value
		}
	}

	if maxAge != "" {
		if seconds, err := strconv.Atoi(maxAge); err == nil {
			at := now.Add(time.Duration(seconds) * time.Second).UTC()
			return &at
		}
	}

	if expires == "" {
		return nil
	}
	for _, layout := range expiresLayouts {
		if parsed, err := time.Parse(layout, expires); err == nil {
			at := parsed.UTC()
			return &at
		}
	}

	return nil
}

func splitPair(raw string) (string, string, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(raw), "=")
	return strings.TrimSpace(key), strings.TrimSpace(value), found
}

func decode(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}
