// Command pollbot polls a discussion platform, replies to comments carrying
// the match marker and honours unsubscribe requests sent to its inbox.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/cexll/pollbot/internal/config"
	"github.com/cexll/pollbot/internal/logging"
	"github.com/cexll/pollbot/internal/platform"
)

var (
	loadDotEnv     = godotenv.Load
	newLogger      = logging.New
	newGateway     = func(cfg *config.Config, logger *zap.Logger) (platform.Gateway, error) { return cfg.NewGateway(logger) }
	listenAndServe = http.ListenAndServe
	isInteractive  = func() bool {
		fd := os.Stdin.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and maps the outcome to an exit code. Halts
// that need operator action (bootstrap, rejected login) are not errors.
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdin, stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "pollbot: %v\n", err)
		}
		return 1
	}
	return 0
}
