package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/semidx/internal/debug"
	"github.com/standardbeagle/semidx/internal/mcp"
)

// mcpCommand serves the query tools over stdio, forwarding every call to the
// workspace leader. Stdout belongs to the protocol, so debug output is
// silenced and progress messages go to stderr.
func mcpCommand(c *cli.Context) error {
	debug.SetMCPMode(true)

	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}

	client, err := connectClient(c, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to index server: %w", err)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	debug.LogMCP("serving MCP tools for %s via %s", cfg.Project.Root, client.SocketPath())
	if err := mcp.NewServer(client).Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
