// Command ingest populates the passage store from external URLs,
// spec.md section 6's output contract for the Ingester component.
// Promoted here from "external collaborator, interface-only" since
// original_source/server/src/bin/ingest.rs ships a complete
// implementation and nothing about it touches the Room's concurrency
// model. Grounded on that file for control flow, on
// wricardo-tesla-road-trip-game for the urfave/cli/v3 argument
// parsing idiom, and on internal/ingest for HTML extraction and
// ASCII normalization.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/rracer/server/internal/ingest"
	"github.com/rracer/server/internal/logging"
	"github.com/rracer/server/internal/passage"
)

const userAgent = "rracer-ingest/0.1"
const fetchTimeout = 20 * time.Second

func main() {
	log, err := logging.New(false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	cmd := &cli.Command{
		Name:  "ingest",
		Usage: "fetch URLs, extract paragraph text, and populate the passage store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: "path to a file of URLs, one per line, # starts a comment",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, cmd, log)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Errorw("ingest failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command, log *zap.SugaredLogger) error {
	urls, err := collectURLs(cmd)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs provided: pass --file or positional URL arguments")
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set for ingestion")
	}
	store, err := passage.Connect(databaseURL)
	if err != nil {
		return fmt.Errorf("connecting to passage store: %w", err)
	}

	client := &http.Client{Timeout: fetchTimeout}

	totalInserted := 0
	for _, url := range urls {
		passages, err := fetchAndExtract(ctx, client, url)
		if err != nil {
			log.Warnw("failed to fetch", "url", url, "error", err)
			continue
		}
		log.Infow("fetched passages", "url", url, "count", len(passages))

		inserted := 0
		for _, text := range passages {
			ok, err := store.Insert(ctx, text, url)
			if err != nil {
				log.Warnw("insert failed", "url", url, "error", err)
				continue
			}
			if ok {
				inserted++
			}
		}
		totalInserted += inserted
		log.Infow("inserted passages", "url", url, "count", inserted)
	}

	log.Infow("ingestion complete", "total_inserted", totalInserted)
	return nil
}

// collectURLs gathers URLs from --file (one per line, # comments, as
// in ingest.rs) or from positional arguments.
func collectURLs(cmd *cli.Command) ([]string, error) {
	if file := cmd.String("file"); file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", file, err)
		}
		defer f.Close()
		return parseURLFile(f)
	}
	return cmd.Args().Slice(), nil
}

func parseURLFile(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

func fetchAndExtract(ctx context.Context, client *http.Client, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	paragraphs := ingest.ExtractParagraphs(doc)
	passages := ingest.BuildPassages(paragraphs)
	for i, p := range passages {
		passages[i] = ingest.ASCIISanitize(p)
	}
	return passages, nil
}
