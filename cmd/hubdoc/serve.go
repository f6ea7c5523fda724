package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BallaAicha/hubdoc-sub000/server"
)

// serveFlags maps flags onto configuration keys.
var serveFlags = []struct {
	name, key, usage string
}{
	{"addr", "server.addr", "address to listen on"},
	{"public-url", "server.public_url", "externally visible base URL"},
	{"store-driver", "store.driver", "session store: memory, redis or sqlite"},
	{"guides-dir", "guides.dir", "directory of Markdown guides"},
	{"log-level", "log.level", "debug, info, warn or error"},
	{"log-format", "log.format", "text or json"},
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the portal server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	for _, f := range serveFlags {
		cmd.Flags().String(f.name, "", f.usage)
		if err := opts.v.BindPFlag(f.key, cmd.Flags().Lookup(f.name)); err != nil {
			panic(err)
		}
	}
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	l, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}
	logger.Info("hubdoc starting", "version", Version, "store", cfg.Store.Driver, "guides", len(srv.Guides().List()))
	return srv.Run(ctx, l)
}
