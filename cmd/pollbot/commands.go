package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cexll/pollbot/internal/config"
	"github.com/cexll/pollbot/internal/state"
)

var errUsage = errors.New("usage")

const bootstrapInstructions = `A new state document was written to %s.
Fill in owner, bot_handle, client_id, client_secret and agent_string,
list the feeds to watch under watch_list, then start pollbot again.
`

type options struct {
	statePath  string
	platform   string
	logLevel   string
	interval   time.Duration
	statusPort int
	noWait     bool

	stdin  io.Reader
	stdout io.Writer
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	o := &options{stdin: stdin, stdout: stdout}

	root := &cobra.Command{
		Use:           "pollbot",
		Short:         "Reply to marked comments and honour unsubscribe requests",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.runBot(cmd, true)
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n\n%s", err, cmd.UsageString())
		return errUsage
	})

	pf := root.PersistentFlags()
	pf.StringVar(&o.statePath, "state", "", "path to the state document (POLLBOT_STATE_PATH)")
	pf.StringVar(&o.platform, "platform", "", "platform backend: reddit or github (POLLBOT_PLATFORM)")
	pf.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error (POLLBOT_LOG_LEVEL)")
	pf.BoolVar(&o.noWait, "no-wait", false, "exit without waiting for return after a halt")

	loopFlags := func(cmd *cobra.Command) {
		cmd.Flags().DurationVar(&o.interval, "interval", 0, "sleep between cycles (POLLBOT_INTERVAL_SECONDS)")
		cmd.Flags().IntVar(&o.statusPort, "status-port", 0, "serve status pages on this port, 0 disables (POLLBOT_STATUS_PORT)")
	}
	loopFlags(root)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Scan continuously until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.runBot(cmd, true)
		},
	}
	loopFlags(runCmd)

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.runBot(cmd, false)
		},
	}

	optOutsCmd := &cobra.Command{
		Use:   "optouts",
		Short: "Print the authors who asked not to be replied to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.printOptOuts(cmd)
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a placeholder state document if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.initDocument(cmd)
		},
	}

	root.AddCommand(runCmd, onceCmd, optOutsCmd, initCmd)
	return root
}

// loadConfig reads .env and the environment, then applies explicit flags.
func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	// Load .env file (ignore error if file doesn't exist)
	_ = loadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("state") {
		cfg.StatePath = o.statePath
	}
	if flags.Changed("platform") {
		cfg.Platform = o.platform
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("interval") {
		cfg.Interval = o.interval
	}
	if flags.Changed("status-port") {
		cfg.StatusPort = o.statusPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *options) printOptOuts(cmd *cobra.Command) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}

	doc, err := state.ReadDocument(cfg.StatePath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("no state document at %s (run pollbot init)", cfg.StatePath)
	}
	if err != nil {
		return err
	}

	for _, author := range doc.OptOutSet {
		fmt.Fprintln(o.stdout, author)
	}
	return nil
}

func (o *options) initDocument(cmd *cobra.Command) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}

	_, err = state.NewStore(cfg.StatePath, zap.NewNop()).Load()
	switch {
	case errors.Is(err, state.ErrBootstrapRequired):
		fmt.Fprintf(o.stdout, bootstrapInstructions, cfg.StatePath)
		return nil
	case err != nil:
		return err
	default:
		fmt.Fprintf(o.stdout, "%s already exists; left unchanged\n", cfg.StatePath)
		return nil
	}
}

// acknowledge blocks until the operator presses return, unless stdin is not a
// terminal or --no-wait was given.
func (o *options) acknowledge() {
	if o.noWait || !isInteractive() {
		return
	}
	fmt.Fprint(o.stdout, "Press return to exit...")
	_, _ = bufio.NewReader(o.stdin).ReadString('\n')
}

func printSummary(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
