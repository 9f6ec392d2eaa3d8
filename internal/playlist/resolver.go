package playlist

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"

	"hlsget/internal/fetch"
	"hlsget/internal/logger"
)

var (
	// ErrNoVariants is returned when a master playlist declares no streams.
	ErrNoVariants = errors.New("master playlist has no variants")
	// ErrVariantDepth is returned when master playlists keep pointing at
	// further master playlists without ever reaching a media playlist.
	ErrVariantDepth = errors.New("too many master playlist redirects")
)

// maxVariantHops bounds the master -> variant follow loop so a malformed
// or malicious manifest chain cannot loop forever.
const maxVariantHops = 8

// Resolve fetches the target URL and follows master playlists until a
// concrete media playlist is reached. The media playlist's raw bytes are
// checksummed for change detection and its URL becomes the base for
// resolving relative segment and key URIs.
func Resolve(ctx context.Context, client *fetch.Client, target string, log logger.Logger) (*Media, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target url %q: %w", target, err)
	}

	for hop := 0; hop < maxVariantHops; hop++ {
		data, err := client.Fetch(ctx, u.String())
		if err != nil {
			return nil, err
		}

		pl, kind, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
		if err != nil {
			return nil, fmt.Errorf("failed to parse playlist at %s: %w", u, err)
		}

		switch kind {
		case m3u8.MASTER:
			master := pl.(*m3u8.MasterPlaylist)
			variant, err := pickVariant(master.Variants)
			if err != nil {
				return nil, fmt.Errorf("no usable stream at %s: %w", u, err)
			}
			next, err := u.Parse(variant.URI)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve variant uri %q: %w", variant.URI, err)
			}
			log.Infof("master playlist at %s, following variant %s", u, next)
			u = next

		case m3u8.MEDIA:
			media := pl.(*m3u8.MediaPlaylist)
			sum := fmt.Sprintf("%x", md5.Sum(data))
			log.Debugf("media playlist at %s, %d segments, sum %s", u, media.Count(), sum)
			return &Media{base: u, pl: media, sum: sum}, nil

		default:
			return nil, fmt.Errorf("unsupported playlist type at %s", u)
		}
	}

	return nil, fmt.Errorf("%w (limit %d)", ErrVariantDepth, maxVariantHops)
}

// pickVariant selects exactly one variant from a master playlist.
// When every candidate declares a resolution, the largest pixel count
// wins, with declared bandwidth breaking ties. Otherwise the highest
// bandwidth wins. Frame rate is ignored.
func pickVariant(variants []*m3u8.Variant) (*m3u8.Variant, error) {
	candidates := make([]*m3u8.Variant, 0, len(variants))
	for _, v := range variants {
		if v != nil {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoVariants
	}

	byResolution := true
	for _, v := range candidates {
		if pixels(v.Resolution) == 0 {
			byResolution = false
			break
		}
	}

	best := candidates[0]
	for _, v := range candidates[1:] {
		if byResolution {
			pv, pb := pixels(v.Resolution), pixels(best.Resolution)
			if pv > pb || (pv == pb && v.Bandwidth > best.Bandwidth) {
				best = v
			}
		} else if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best, nil
}

// pixels parses a "WxH" resolution attribute. Unparseable input counts
// as zero pixels.
func pixels(resolution string) uint64 {
	w, h, ok := strings.Cut(resolution, "x")
	if !ok {
		return 0
	}
	width, err := strconv.ParseUint(strings.TrimSpace(w), 10, 32)
	if err != nil {
		return 0
	}
	height, err := strconv.ParseUint(strings.TrimSpace(h), 10, 32)
	if err != nil {
		return 0
	}
	return width * height
}
