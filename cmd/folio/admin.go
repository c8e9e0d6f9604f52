package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nainya/folio/internal/config"
	"github.com/nainya/folio/internal/server"
)

func (c *cli) reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index from the primary metadata adapter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.app.Indexing == nil {
				return errors.New("reindex: the indexing persister is not enabled")
			}
			start := time.Now()
			n, err := c.app.Indexing.Reindex(cmd.Context())
			c.log.LogPersistOperation(config.IndexingPersister, "reindex", time.Since(start), n, err)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d resources\n", n)
			return nil
		},
	}
}

func (c *cli) adaptersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "List registered metadata and storage adapters",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			mark := func(name, def string) string {
				if name == def {
					return "* "
				}
				return "  "
			}
			fmt.Fprintln(out, "metadata:")
			for _, name := range c.app.Metadata.Names() {
				fmt.Fprintf(out, "%s%s\n", mark(name, c.app.Config.Metadata.Default), name)
			}
			fmt.Fprintln(out, "storage:")
			for _, name := range c.app.Storage.Names() {
				fmt.Fprintf(out, "%s%s\n", mark(name, c.app.Config.Storage.Default), name)
			}
		},
	}
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve metrics, health checks and profiling until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := c.app.Config.Metrics.Addr
			if addr == "" {
				return errors.New("serve: no metrics address configured")
			}
			srv := server.NewObservabilityServer(addr, c.app.Gatherer, c.app.Ready, c.log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() { errc <- srv.Start() }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		},
	}
}
