package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/schollz/progressbar/v3"

	"hlsget/internal/download"
	"hlsget/internal/fetch"
	"hlsget/internal/logger"
	"hlsget/internal/video"
)

// headerFlags collects repeatable -H "Key: Value" arguments.
type headerFlags map[string]string

func (h headerFlags) String() string {
	pairs := make([]string, 0, len(h))
	for k, v := range h {
		pairs = append(pairs, k+": "+v)
	}
	return strings.Join(pairs, "; ")
}

func (h headerFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, ":")
	if !ok {
		return fmt.Errorf("invalid header %q, expected \"Key: Value\"", value)
	}
	h[strings.TrimSpace(key)] = strings.TrimSpace(val)
	return nil
}

func main() {
	headers := headerFlags{}
	flag.Var(headers, "H", "HTTP header to send, repeatable, e.g. -H \"User-Agent: curl/7.54.0\"")
	saveDir := flag.String("D", ".", "Destination directory")
	mergeOutput := flag.String("m", "", "Merge segments into this output file after download")
	play := flag.Bool("p", false, "Play the downloaded stream")
	concurrency := flag.Int("n", download.DefaultConcurrency, "Maximum concurrent segment downloads")
	limit := flag.Int("limit", 0, "Download bandwidth limit in bytes/sec (0 = unlimited)")
	logLevel := flag.String("L", "warn", "Log level (error, warn, info, debug)")
	verbose := flag.Bool("v", false, "Show external tool output")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <playlist-url>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	log := logger.NewLogger(*logLevel)

	client := fetch.NewClient(log, headers, *limit)

	var (
		barMu sync.Mutex
		bar   *progressbar.ProgressBar
	)
	cfg := download.Config{
		Target:      flag.Arg(0),
		SaveDir:     *saveDir,
		Concurrency: *concurrency,
		OnProgress: func(done, total int) {
			barMu.Lock()
			defer barMu.Unlock()
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("segments"),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
			}
			_ = bar.Add(1)
		},
	}

	dl, err := download.New(cfg, client, log)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dl.Run(ctx); err != nil {
		log.Errorf("download failed: %v", err)
		os.Exit(1)
	}

	util, err := video.FromIndex(dl.IndexPath())
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	util.SetVerbose(*verbose)

	if *play {
		if err := util.Play(); err != nil {
			log.Errorf("playback failed: %v", err)
			os.Exit(1)
		}
	}

	if *mergeOutput != "" {
		if err := util.Merge(*mergeOutput); err != nil {
			log.Errorf("merge failed: %v", err)
			os.Exit(1)
		}
		if err := util.CleanSegments(); err != nil {
			log.Errorf("cleanup failed: %v", err)
			os.Exit(1)
		}
	}
}
