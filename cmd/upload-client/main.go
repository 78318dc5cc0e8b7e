// Command upload-client uploads one or more images to the media service and
// waits for the background pipeline to finish each one.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"media-manager/pkg/mediacatalog"
	"media-manager/pkg/mediaclient"
)

func main() {
	_ = godotenv.Load()

	apiBase := flag.String("api", envOrDefault("MEDIA_API_URL", "http://localhost:8001"), "media service base URL")
	pollInterval := flag.Duration("poll-interval", mediaclient.DefaultPollInterval, "status poll interval")
	pollTimeout := flag.Duration("poll-timeout", mediaclient.DefaultPollTimeout, "give up waiting after this long")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: upload-client [-api URL] FILE [FILE...]")
		os.Exit(2)
	}

	client := mediaclient.New(*apiBase)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := 0

	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failures++
			continue
		}
		rec, err := client.Upload(ctx, path, f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: upload failed: %v\n", path, err)
			failures++
			continue
		}
		fmt.Printf("%s: uploaded as %s, processing...\n", path, rec.ID)

		// Each upload waits on its own poller so slow enrichment of one
		// file never delays the others.
		wg.Add(1)
		go func(path, mediaID string) {
			defer wg.Done()
			poller := mediaclient.NewPoller(client)
			poller.Interval = *pollInterval
			poller.Timeout = *pollTimeout

			start := time.Now()
			final, err := poller.WaitForProcessed(ctx, mediaID)
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
				if errors.Is(err, mediaclient.ErrPollTimeout) {
					fmt.Fprintf(os.Stderr, "%s: still processing after %s, giving up\n", path, *pollTimeout)
				} else {
					fmt.Fprintf(os.Stderr, "%s: polling failed: %v\n", path, err)
				}
				return
			}
			fmt.Printf("%s: done in %s\n", path, time.Since(start).Round(time.Second))
			printRecord(final)
		}(path, rec.ID)
	}

	wg.Wait()
	if failures > 0 {
		os.Exit(1)
	}
}

func printRecord(rec *mediacatalog.MediaRecord) {
	fmt.Printf("  title:       %s\n", rec.Title)
	fmt.Printf("  description: %s\n", rec.Description)
	fmt.Printf("  tags:        %s\n", strings.Join(rec.Tags, ", "))
	fmt.Printf("  medium:      %s\n", rec.MediumURL)
	fmt.Printf("  thumbnail:   %s\n", rec.ThumbnailURL)
}

func envOrDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
