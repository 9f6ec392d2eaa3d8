package playlist

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/grafov/m3u8"
)

// Media is a resolved media playlist: the parsed playlist, the URL it
// was finally fetched from (base for relative references) and the
// checksum of its raw bytes.
type Media struct {
	base *url.URL
	pl   *m3u8.MediaPlaylist
	sum  string
}

// Sum returns the checksum of the playlist's raw bytes.
func (m *Media) Sum() string {
	return m.sum
}

// SegmentCount returns the number of segments in the playlist.
func (m *Media) SegmentCount() int {
	return int(m.pl.Count())
}

// SegmentURLs returns the fully resolved URL of every segment, in
// playlist order.
func (m *Media) SegmentURLs() []string {
	urls := make([]string, 0, m.pl.Count())
	for _, seg := range m.pl.Segments {
		if seg == nil {
			continue
		}
		urls = append(urls, m.resolveURI(seg.URI))
	}
	return urls
}

// KeyURL returns the resolved URL of the encryption key, or "" when the
// stream is not encrypted. The key attached to the first segment wins;
// a playlist-level key (an EXT-X-KEY before the first segment) is the
// fallback.
func (m *Media) KeyURL() string {
	for _, seg := range m.pl.Segments {
		if seg == nil {
			continue
		}
		if seg.Key != nil && seg.Key.URI != "" {
			return m.resolveURI(seg.Key.URI)
		}
		break
	}
	if m.pl.Key != nil && m.pl.Key.URI != "" {
		return m.resolveURI(m.pl.Key.URI)
	}
	return ""
}

// resolveURI turns a playlist reference into an absolute URL. Absolute
// http(s) references pass through untouched; anything else is resolved
// against the base URL, or returned as-is when that is impossible.
func (m *Media) resolveURI(uri string) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	if m.base == nil {
		return uri
	}
	resolved, err := m.base.Parse(uri)
	if err != nil {
		return uri
	}
	return resolved.String()
}

// Basename returns the final path element of a URI, with any query or
// fragment stripped. Downloaded files are named with it, and the
// rewritten local manifest references it, so both sides must agree.
func Basename(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	return path.Base(uri)
}

// WriteLocal writes the playlist to outPath with every segment URI and
// key URI rewritten to its basename, so the manifest plays from the
// directory the segments were downloaded into. Ordering and all other
// directives are preserved; a live playlist is closed, since the local
// copy is finite. This consumes the playlist: the rewritten URIs are
// not resolvable remotely anymore.
func (m *Media) WriteLocal(outPath string) error {
	for _, seg := range m.pl.Segments {
		if seg == nil {
			continue
		}
		seg.URI = Basename(seg.URI)
		if seg.Key != nil && seg.Key.URI != "" {
			seg.Key.URI = Basename(seg.Key.URI)
		}
	}
	if m.pl.Key != nil && m.pl.Key.URI != "" {
		m.pl.Key.URI = Basename(m.pl.Key.URI)
	}
	// Decoded live playlists carry a sliding window; drop it so the full
	// segment list is encoded, and close the playlist since the local
	// copy is finite.
	_ = m.pl.SetWinSize(0)
	if !m.pl.Closed {
		m.pl.Close()
	}

	file, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create local manifest %s: %w", outPath, err)
	}
	defer file.Close()

	if _, err := file.Write(m.pl.Encode().Bytes()); err != nil {
		return fmt.Errorf("failed to write local manifest %s: %w", outPath, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync local manifest %s: %w", outPath, err)
	}
	return nil
}
