// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-agent/internal/server"
)

func newServeCommand(g *GlobalOptions) *cobra.Command {
	var (
		addr       string
		allowedIPs []string
		rateLimit  float64
		burst      int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the operator HTTP API",
		Long: `Serve the operator HTTP API. Escalations wait in a queue until they are
resolved with POST /escalations/{id}/resolve.

Set server.token_hash (see "config hash-token") to require a bearer token.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := OpenRuntime(ctx, g, RuntimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			if addr == "" {
				addr = rt.Config.Server.Addr
			}
			srv, err := server.New(server.Options{
				Addr:        addr,
				Auth:        &server.AuthConfig{TokenHash: rt.Config.Server.TokenHash, AllowedIPs: allowedIPs},
				RateLimiter: server.NewRateLimiter(rateLimit, burst),
				Logger:      rt.Logger,
			}, server.Deps{
				Orchestrator: rt.Orchestrator,
				Plans:        rt.Plans,
				Sessions:     rt.Sessions,
				Processes:    rt.Processes,
				Escalations:  rt.Escalations,
				Events:       rt.Bus,
			})
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			fmt.Fprintf(cmd.ErrOrStderr(), "%s http://%s\n", InfoStyle.Render("Serving rigrun-agent API on"), addr)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringSliceVar(&allowedIPs, "allow-ip", nil, "addresses or CIDR ranges allowed to call the API")
	cmd.Flags().Float64Var(&rateLimit, "rate", 10, "requests per second per client")
	cmd.Flags().IntVar(&burst, "burst", 50, "request burst per client")
	return cmd
}
