package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/adrg/xdg"

	"github.com/NamanBalaji/segfetch/internal/config"
	"github.com/NamanBalaji/segfetch/internal/logger"
	"github.com/NamanBalaji/segfetch/internal/progress"
	"github.com/NamanBalaji/segfetch/internal/repository"
	"github.com/NamanBalaji/segfetch/internal/segment"
)

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	dir := flag.String("dir", "", "Directory segments are written to")
	list := flag.String("list", "", "File with one segment URL per line")
	retries := flag.Int("retries", -1, "Reconnect attempts per connection before giving up (0 disables reconnects)")
	conns := flag.Int("connections", 0, "Maximum concurrent connections")
	flag.Parse()

	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("Error reading config: %v\n", err)
	}

	applyFlags(cfg, *dir, *retries, *conns)

	err = logger.InitLogging(*debug, filepath.Join(xdg.StateHome, "segfetch", "segfetch.log"))
	if err != nil {
		log.Fatalf("Warning: Failed to initialize logging: %v\n", err)
	}
	defer logger.Close()

	urls, err := collectURLs(flag.Args(), *list)
	if err != nil {
		log.Fatalf("Error reading segment list: %v\n", err)
	}
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "usage: segfetch [flags] URL... (or -list FILE)")
		os.Exit(2)
	}

	repo, err := repository.NewBboltRepository(cfg.StateFile)
	if err != nil {
		log.Fatalf("Error creating repository: %v\n", err)
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Infof("Interrupted, stopping fetches")
		cancel()
	}()

	var printMu sync.Mutex
	fetcher := segment.New(cfg,
		segment.WithRepository(repo),
		segment.WithProgress(func(rawURL string, p progress.Progress) {
			printMu.Lock()
			defer printMu.Unlock()
			printProgress(rawURL, p)
		}),
	)
	defer fetcher.Close()

	results, err := fetcher.FetchAll(ctx, urls)

	for _, res := range results {
		switch {
		case res.Skipped:
			fmt.Printf("skipped   %s (already complete)\n", res.URL)
		case res.Err != nil:
			fmt.Printf("failed    %s: %v\n", res.URL, res.Err)
		case res.File != "":
			fmt.Printf("completed %s -> %s\n", res.URL, res.File)
		}
	}

	if err != nil {
		logger.Errorf("Fetch failed: %v", err)
		os.Exit(1)
	}
}

// applyFlags overrides cfg with the command line. A negative retries keeps
// the configured bound; zero is a valid bound that disables reconnects.
func applyFlags(cfg *config.Config, dir string, retries, conns int) {
	if dir != "" {
		cfg.Http.DownloadDir = dir
	}
	if retries >= 0 {
		cfg.Http.MaxRetries = retries
	}
	if conns > 0 {
		cfg.Http.Connections = conns
	}
}

func collectURLs(args []string, listPath string) ([]string, error) {
	urls := append([]string(nil), args...)
	if listPath == "" {
		return urls, nil
	}

	f, err := os.Open(listPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}

	return urls, scanner.Err()
}

func printProgress(rawURL string, p progress.Progress) {
	fmt.Printf("%s %5.1f%% %.2f MB/s eta %s %s\n",
		progressBar(p.GetPercentage(), 30),
		p.GetPercentage(),
		float64(p.GetSpeedBPS())/(1024*1024),
		p.GetETA(),
		rawURL)
}

func progressBar(percentage float64, width int) string {
	completed := int(percentage * float64(width) / 100)

	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < width; i++ {
		if i < completed {
			b.WriteByte('=')
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteByte(']')

	return b.String()
}
