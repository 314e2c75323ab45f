// Copyright 2024-2026 Aiku AI

package messenger

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// UnwrapURL strips Messenger's link tracking wrappers (l.facebook.com/l.php
// and safe_image.php) and returns the target URL. Anything else is returned
// unchanged.
func UnwrapURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	var param string
	switch {
	case strings.HasSuffix(u.Path, "/l.php") && isFacebookHost(u.Host):
		param = "u"
	case strings.HasSuffix(u.Path, "/safe_image.php"):
		param = "url"
	default:
		return raw
	}
	target := u.Query().Get(param)
	if target == "" {
		return raw
	}
	return target
}

func isFacebookHost(host string) bool {
	host = strings.ToLower(host)
	return host == "facebook.com" || strings.HasSuffix(host, ".facebook.com")
}

var markersRegex = regexp.MustCompile(`markers=([\d.-]+)(?:%2C|,)([\d.-]+)`)

// ParseLocationMarkers extracts the pinned coordinates from a static map URL.
func ParseLocationMarkers(s string) (lat, long float64, ok bool) {
	m := markersRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, 0, false
	}
	long, err = strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, long, true
}
