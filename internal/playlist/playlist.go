// Package playlist loads m3u-style playlists of SID tune sources, each
// optionally pinned to a specific subsong via an "@N" suffix.
package playlist

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Entry is a single playlist line: a tune source plus optional metadata
// extracted from it.
type Entry struct {
	Source      string
	DisplayName string
	Subsong     *uint16
}

// IsURL reports whether this entry's source is a remote http(s) URL rather
// than a local file path.
func (e Entry) IsURL() bool {
	return strings.HasPrefix(e.Source, "http://") || strings.HasPrefix(e.Source, "https://")
}

// Playlist is an ordered list of tune sources.
type Playlist struct {
	Entries []Entry
}

// Load reads an m3u-style playlist file: one source per line, blank lines
// and lines starting with '#' ignored, relative paths resolved against the
// playlist's own directory.
func Load(path string) (*Playlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	baseDir := filepath.Dir(path)

	var pl Playlist
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		entry, ok := newEntry(scanner.Text())
		if !ok {
			continue
		}
		if !entry.IsURL() && !filepath.IsAbs(entry.Source) {
			entry.Source = filepath.Join(baseDir, entry.Source)
		}
		pl.Entries = append(pl.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &pl, nil
}

// newEntry parses a single playlist line, extracting its display name and
// any "@N" subsong suffix. Returns ok=false for blank lines and comments.
func newEntry(line string) (Entry, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Entry{}, false
	}

	source, subsong := parseSubsong(trimmed)
	return Entry{
		Source:      source,
		DisplayName: extractFilename(source),
		Subsong:     subsong,
	}, true
}

// parseSubsong splits a trailing "@N" subsong suffix off a source string,
// if present and numeric.
func parseSubsong(s string) (string, *uint16) {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return s, nil
	}
	suffix := s[at+1:]
	n, err := strconv.ParseUint(suffix, 10, 16)
	if err != nil {
		return s, nil
	}
	song := uint16(n)
	return s[:at], &song
}

// extractFilename returns the final path component of a path or URL.
func extractFilename(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// IsEmpty reports whether the playlist has no entries.
func (p *Playlist) IsEmpty() bool {
	return len(p.Entries) == 0
}

// Len returns the number of entries.
func (p *Playlist) Len() int {
	return len(p.Entries)
}
