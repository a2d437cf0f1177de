// Package naming turns record timestamps and URLs into collision-free
// filenames. Assignment is a pure function of input order: it never looks at
// the filesystem or at download outcomes, so the same input always yields the
// same names.
package naming

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode"
)

// DefaultLayout renders month, day, hour, minute and second, e.g. 0115093000
const DefaultLayout = "0102150405"

var knownExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".bmp": true, ".tif": true, ".tiff": true, ".heic": true, ".heif": true,
	".avif": true, ".svg": true, ".ico": true,
}

// Formatter renders create_time values as filename stems
type Formatter struct {
	// Layout is a Go reference-time layout
	Layout string
	// Location is the zone timestamps are rendered in, nil means time.Local
	Location *time.Location
}

// Stem formats a Unix timestamp (seconds) into a sanitized filename stem
func (f Formatter) Stem(unix int64) string {
	layout := f.Layout
	if layout == "" {
		layout = DefaultLayout
	}
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	return Sanitize(time.Unix(unix, 0).In(loc).Format(layout))
}

// NormalizeExtension lower-cases ext, replaces characters that are not safe
// in a filename and ensures a single leading dot. It returns "" when nothing
// usable is left.
func NormalizeExtension(ext string) string {
	body := clean(strings.TrimLeft(strings.ToLower(strings.TrimSpace(ext)), "."))
	if body == "" {
		return ""
	}
	return "." + body
}

// IsPlainExtension reports whether ext, with or without its leading dot, is
// non-empty and free of dots, separators, whitespace and reserved characters
func IsPlainExtension(ext string) bool {
	body := strings.TrimPrefix(ext, ".")
	if body == "" {
		return false
	}
	for _, r := range body {
		if r == '.' || unsafeRune(r) {
			return false
		}
	}
	return true
}

// Extension returns the image extension of rawURL's path, or fallback when the
// URL is unparsable or its extension is not a known image type.
func Extension(rawURL, fallback string) string {
	fallback = NormalizeExtension(fallback)

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fallback
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if knownExtensions[ext] {
		return ext
	}
	return fallback
}

// Sanitize makes s safe to use as a single path component
func Sanitize(s string) string {
	if out := clean(s); out != "" {
		return out
	}
	return "image"
}

func unsafeRune(r rune) bool {
	return unicode.IsControl(r) || unicode.IsSpace(r) || strings.ContainsRune(`/\:*?"<>|`, r)
}

// clean drops control characters, turns other unsafe runes into a single
// underscore and trims dots and underscores from both ends
func clean(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case unicode.IsControl(r):
			continue
		case unsafeRune(r):
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), "._")
}

// Assigner hands out filenames that are unique within each folder. The
// first request for a name gets it unchanged; later requests for the same
// name in the same folder get _1, _2, ... inserted before the extension.
type Assigner struct {
	taken map[string]map[string]bool
}

// NewAssigner creates an empty assigner
func NewAssigner() *Assigner {
	return &Assigner{taken: make(map[string]map[string]bool)}
}

// Assign reserves and returns a unique filename for stem+ext in folder
func (a *Assigner) Assign(folder, stem, ext string) string {
	names, ok := a.taken[folder]
	if !ok {
		names = make(map[string]bool)
		a.taken[folder] = names
	}

	candidate := stem + ext
	for n := 1; names[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
	names[candidate] = true
	return candidate
}
