package video

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/grafov/m3u8"
)

// ProcessError reports a non-zero exit from an external tool, with its
// captured stderr for diagnostics.
type ProcessError struct {
	Name   string
	Stderr string
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s failed: %v: %s", e.Name, e.Err, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Util drives ffmpeg/mpv against a downloaded local manifest. All
// commands run with the manifest's directory as working directory so
// the basename references inside it resolve.
type Util struct {
	verbose  bool
	indexDir string
	index    string
}

// FromIndex builds a Util from the path of a local manifest.
func FromIndex(indexPath string) (*Util, error) {
	index := filepath.Base(indexPath)
	if index == "." || index == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid index path %q", indexPath)
	}
	dir := filepath.Dir(indexPath)

	return &Util{indexDir: dir, index: index}, nil
}

// SetVerbose mirrors the external tools' output to the terminal.
func (u *Util) SetVerbose(v bool) {
	u.verbose = v
}

// Merge concatenates the downloaded segments into a single output file
// by handing the local manifest to ffmpeg with stream copy.
func (u *Util) Merge(output string) error {
	outPath, err := filepath.Abs(output)
	if err != nil {
		return fmt.Errorf("failed to resolve output path %q: %w", output, err)
	}

	cmd := exec.Command("ffmpeg",
		"-allowed_extensions", "ALL",
		"-i", u.index,
		"-codec", "copy",
		outPath,
	)
	cmd.Dir = u.indexDir
	return u.run(cmd)
}

// Play hands the local manifest to a player: mpv when installed,
// ffplay otherwise.
func (u *Util) Play() error {
	var cmd *exec.Cmd
	if _, err := exec.LookPath("mpv"); err == nil {
		cmd = exec.Command("mpv",
			`--demuxer-lavf-o=allowed_extensions="ALL"`,
			u.index,
		)
	} else {
		cmd = exec.Command("ffplay",
			"-allowed_extensions", "ALL",
			"-i", u.index,
		)
	}
	cmd.Dir = u.indexDir
	return u.run(cmd)
}

func (u *Util) run(cmd *exec.Cmd) error {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if u.verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = io.MultiWriter(&stderr, os.Stderr)
	}

	if err := cmd.Run(); err != nil {
		return &ProcessError{
			Name:   filepath.Base(cmd.Path),
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return nil
}

// CleanSegments removes the segment and key files referenced by the
// local manifest, leaving only the manifest itself and the merge
// output. Meant to run after a successful Merge.
func (u *Util) CleanSegments() error {
	file, err := os.Open(filepath.Join(u.indexDir, u.index))
	if err != nil {
		return fmt.Errorf("failed to open local manifest: %w", err)
	}
	defer file.Close()

	pl, kind, err := m3u8.DecodeFrom(file, true)
	if err != nil {
		return fmt.Errorf("failed to parse local manifest: %w", err)
	}
	media, ok := pl.(*m3u8.MediaPlaylist)
	if !ok || kind != m3u8.MEDIA {
		return fmt.Errorf("local manifest is not a media playlist")
	}

	removed := map[string]bool{}
	remove := func(name string) error {
		if name == "" || removed[name] {
			return nil
		}
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(u.indexDir, name)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed[name] = true
		return nil
	}

	if media.Key != nil {
		if err := remove(media.Key.URI); err != nil {
			return err
		}
	}
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		if err := remove(seg.URI); err != nil {
			return err
		}
		if seg.Key != nil {
			if err := remove(seg.Key.URI); err != nil {
				return err
			}
		}
	}
	return nil
}
