package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/docling"
	"github.com/btwld/docling-sdk-sub000/shared/logger"
	"github.com/spf13/cobra"
)

const defaultBaseURL = "http://localhost:5001"

type rootOptions struct {
	baseURL        string
	apiKey         string
	logLevel       string
	requestTimeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "doclingctl",
		Short:        "Submit docling conversions and follow them to completion",
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.baseURL, "base-url", envOr("DOCLING_BASE_URL", defaultBaseURL), "Conversion service URL (env DOCLING_BASE_URL)")
	flags.StringVar(&opts.apiKey, "api-key", os.Getenv("DOCLING_API_KEY"), "API key sent as X-Api-Key (env DOCLING_API_KEY)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	flags.DurationVar(&opts.requestTimeout, "request-timeout", 30*time.Second, "Timeout of a single HTTP request")

	cmd.AddCommand(
		newWatchCmd(opts),
		newConvertCmd(opts),
		newStatusCmd(opts),
		newResultCmd(opts),
	)

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// logger writes human-readable logs to stderr so stdout stays machine readable
func (o *rootOptions) logger() (*slog.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      o.logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.TimeOnly,
	})
	if err != nil {
		return nil, err
	}
	return l.Logger, nil
}

func (o *rootOptions) client(log *slog.Logger) *docling.Client {
	opts := []docling.ClientOption{
		docling.WithLogger(log),
		docling.WithTimeout(o.requestTimeout),
	}
	if o.apiKey != "" {
		opts = append(opts, docling.WithAPIKey(o.apiKey))
	}
	return docling.NewClient(o.baseURL, opts...)
}

// printer writes one JSON document per line, listeners call it from several goroutines
type printer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newPrinter(w io.Writer) *printer {
	return &printer{enc: json.NewEncoder(w)}
}

func (p *printer) print(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(v)
}
