package parser

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var numberPattern = regexp.MustCompile(`(\d[\d,]*)(?:\.(\d+))?(?:\s*([kKmM])\b)?`)

// ExtractNumber returns the first count found in text. Missing or unparsable
// input yields 0; the result is never negative.
func ExtractNumber(text string) int {
	m := numberPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}

	whole, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil || whole < 0 {
		return 0
	}

	multiplier := 1
	switch strings.ToLower(m[3]) {
	case "k":
		multiplier = 1_000
	case "m":
		multiplier = 1_000_000
	}

	value := float64(whole)
	if m[2] != "" {
		if frac, err := strconv.ParseFloat("0."+m[2], 64); err == nil {
			value += frac
		}
	}
	// Counts saturate at the widest integer column the stores hold.
	n := math.Round(value * float64(multiplier))
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

// CleanText collapses runs of whitespace and trims the result.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ResolveURL resolves href against base and keeps only http(s) links.
func ResolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate reads the common datetime attribute layouts.
func ParseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
