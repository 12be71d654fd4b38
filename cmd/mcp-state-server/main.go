// Command mcp-state-server exposes the pollbot state document to MCP clients
// over stdio. All tools are read-only.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/cexll/pollbot/internal/logging"
)

func main() {
	// Load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	// stdout carries the protocol, so logs go to stderr
	logger, err := logging.NewTo(os.Getenv("POLLBOT_LOG_LEVEL"), "stderr")
	if err != nil {
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	path := os.Getenv("POLLBOT_STATE_PATH")
	if path == "" {
		path = "config.json"
	}
	logger.Info("mcp_state_server_starting", zap.String("state_path", path))

	server := newServer(&stateTools{path: path, logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		logger.Error("mcp_state_server_failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("mcp_state_server_stopped")
}

func newServer(tools *stateTools) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "pollbot-state-server",
		Version: "v1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_watch_list",
		Description: "List the feeds the bot scans, in scan order",
	}, tools.HandleListWatchList)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_opt_outs",
		Description: "List the authors who asked the bot never to reply to them",
	}, tools.HandleListOptOuts)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_author",
		Description: "Report whether an author has opted out (handles compare case-insensitively)",
	}, tools.HandleCheckAuthor)

	return server
}
