package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"hlsget/internal/fetch"
	"hlsget/internal/logger"
	"hlsget/internal/playlist"
	"hlsget/internal/record"
)

// DefaultIndexName is the name of the rewritten local manifest.
const DefaultIndexName = "index.m3u8"

// DefaultConcurrency bounds in-flight segment fetches unless overridden.
const DefaultConcurrency = 10

// Config carries the downloader's settings. Zero values for IndexName
// and Concurrency are replaced by defaults; everything else is
// validated by New.
type Config struct {
	// Target is the playlist URL to resolve, master or media.
	Target string
	// SaveDir is the destination directory. Defaults to ".".
	SaveDir string
	// IndexName is the local manifest file name inside SaveDir.
	IndexName string
	// Concurrency is the maximum number of in-flight segment fetches.
	Concurrency int
	// OnProgress, when set, is called after every completed segment
	// with the running completion count and the total. It may be
	// called from multiple goroutines.
	OnProgress func(done, total int)
}

// Downloader materializes one HLS stream into a local directory.
type Downloader struct {
	cfg      Config
	client   *fetch.Client
	logger   logger.Logger
	progress atomic.Int64
}

// New validates cfg and builds a Downloader. Validation happens here,
// eagerly, so a misconfigured downloader can never be run.
func New(cfg Config, client *fetch.Client, log logger.Logger) (*Downloader, error) {
	if cfg.Target == "" {
		return nil, errors.New("download: target url is required")
	}
	if client == nil {
		return nil, errors.New("download: fetch client is required")
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("download: concurrency must not be negative, got %d", cfg.Concurrency)
	}
	if cfg.SaveDir == "" {
		cfg.SaveDir = "."
	}
	if cfg.IndexName == "" {
		cfg.IndexName = DefaultIndexName
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Downloader{cfg: cfg, client: client, logger: log}, nil
}

// IndexPath returns where the rewritten local manifest will be written.
func (d *Downloader) IndexPath() string {
	return filepath.Join(d.cfg.SaveDir, d.cfg.IndexName)
}

// Run resolves the target playlist and downloads the key and every
// segment into the destination directory, then writes the rewritten
// local manifest. A destination directory whose record matches the
// resolved playlist is resumed in place; otherwise it is wiped first.
// On failure the directory is left as-is: completed segments and the
// record stay usable for the next resume attempt.
func (d *Downloader) Run(ctx context.Context) error {
	media, err := playlist.Resolve(ctx, d.client, d.cfg.Target, d.logger)
	if err != nil {
		return err
	}

	if err := d.prepareDir(media); err != nil {
		return err
	}

	if keyURL := media.KeyURL(); keyURL != "" {
		// The key must be on disk before any segment: decrypt-on-play
		// tools read it as soon as the first segment appears.
		if err := d.fetchToFile(ctx, keyURL); err != nil {
			return fmt.Errorf("key %s: %w", playlist.Basename(keyURL), err)
		}
		d.logger.Infof("encryption key downloaded")
	}

	if err := d.downloadSegments(ctx, media); err != nil {
		return err
	}

	if err := media.WriteLocal(d.IndexPath()); err != nil {
		return err
	}

	d.logger.Infof("%d segments downloaded to %s", media.SegmentCount(), d.cfg.SaveDir)
	return nil
}

// prepareDir decides between resume and restart. A record whose
// checksum matches the freshly resolved playlist proves the directory
// holds (a prefix of) the same logical target, so existing files are
// kept. Anything else invalidates the directory as a whole. The new
// record is written before any download so an interrupted run is still
// recognizable next time.
func (d *Downloader) prepareDir(media *playlist.Media) error {
	if err := os.MkdirAll(d.cfg.SaveDir, 0o755); err != nil {
		return fmt.Errorf("failed to create save dir %s: %w", d.cfg.SaveDir, err)
	}

	if rec, err := record.Load(d.cfg.SaveDir); err == nil && rec.M3U8Sum == media.Sum() {
		d.logger.Infof("record matches, resuming existing download in %s", d.cfg.SaveDir)
		return nil
	} else if err != nil {
		d.logger.Warnf("no usable record in %s: %v", d.cfg.SaveDir, err)
	} else {
		d.logger.Warnf("playlist changed (have %s, want %s), discarding %s", rec.M3U8Sum, media.Sum(), d.cfg.SaveDir)
	}

	if err := os.RemoveAll(d.cfg.SaveDir); err != nil {
		return fmt.Errorf("failed to clean save dir %s: %w", d.cfg.SaveDir, err)
	}
	if err := os.MkdirAll(d.cfg.SaveDir, 0o755); err != nil {
		return fmt.Errorf("failed to recreate save dir %s: %w", d.cfg.SaveDir, err)
	}

	rec := record.New(d.cfg.Target, d.client.Headers(), media.Sum())
	if err := rec.Save(d.cfg.SaveDir); err != nil {
		return err
	}
	d.logger.Debugf("record saved for %s", d.cfg.Target)
	return nil
}

// downloadSegments fetches every segment under a bounded-concurrency,
// fail-fast policy. The first fatal error cancels the group context:
// tasks still waiting for a permit return without doing work, tasks
// already downloading are interrupted or run out, and Wait drains them
// all before the first error is reported.
func (d *Downloader) downloadSegments(ctx context.Context, media *playlist.Media) error {
	urls := media.SegmentURLs()
	total := len(urls)

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(d.cfg.Concurrency))

	for _, segURL := range urls {
		segURL := segURL
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				// The batch is already failing; this task never started.
				return nil
			}
			defer sem.Release(1)

			if err := d.fetchToFile(gctx, segURL); err != nil {
				return fmt.Errorf("segment %s: %w", playlist.Basename(segURL), err)
			}

			done := int(d.progress.Add(1))
			if d.cfg.OnProgress != nil {
				d.cfg.OnProgress(done, total)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	// Tasks treat a cancelled permit wait as a no-op, so a cancelled
	// parent context must be surfaced here rather than read as success.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("segment batch aborted: %w", err)
	}
	return nil
}

// fetchToFile materializes one URL as a file in the destination
// directory, named by the URI's basename. A file already present is
// trusted and skipped, which is the whole resume mechanism.
func (d *Downloader) fetchToFile(ctx context.Context, rawURL string) error {
	dest := filepath.Join(d.cfg.SaveDir, playlist.Basename(rawURL))
	if _, err := os.Stat(dest); err == nil {
		d.logger.Debugf("already have %s, skipping", dest)
		return nil
	}

	data, err := d.client.Fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	return writeFileAtomic(dest, data)
}

// writeFileAtomic writes data to a sibling temp file, syncs it, then
// renames it into place. A crash at any point leaves either no file or
// the complete file at dest, never a truncated one. The temp name is
// unique per call so concurrent writers racing on the same destination
// (duplicate URIs in a playlist) never share a temp file; the last
// rename wins.
func writeFileAtomic(dest string, data []byte) error {
	file, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".writing")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", dest, err)
	}
	tmp := file.Name()
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename %s into place: %w", tmp, err)
	}
	return nil
}
