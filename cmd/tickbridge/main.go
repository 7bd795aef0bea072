package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/tickbridge/internal/cliconfig"
)

const helpDescription = `
Drive a validator's block producer from the outside.

tickbridge serves a tick socket, a batch socket and an HTTP control API so
test harnesses can advance the clock one tick at a time, submit batches of
transactions and wait until each one is decided.

Settings come from ~/.tickbridge/config.toml, TICKBRIDGE_* environment
variables and flags, in increasing order of precedence.
`

var exampleUsage = strings.TrimSpace(`
  tickbridge serve --upstream ipc:/var/run/validator-tick.sock --engine-addr :8999
  tickbridge tick --count 64
  tickbridge transfer --to <pubkey> --lamports 5000 --memo 0x00112233445566778899aabbccddeeff00112233
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// cli carries the resolved configuration to every subcommand.
type cli struct {
	cfg     cliconfig.Config
	cfgPath string
	// cfgFile is the config file that was applied, if any.
	cfgFile string
	log     zerolog.Logger
}

// load applies file, env and flag settings in that order and validates
// the result.
func (c *cli) load(cmd *cobra.Command) error {
	cfgFile := c.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&c.cfg, fc, changed); err != nil {
			return err
		}
		c.cfgFile = cfgFile
	} else if c.cfgPath != "" {
		return fmt.Errorf("config file %s not found", c.cfgPath)
	}

	if err := cliconfig.ApplyEnvConfig(&c.cfg, changed); err != nil {
		return err
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.log = cliconfig.NewLogger(os.Stderr, c.cfg.LogLevel, c.cfg.LogFormat)
	c.log.Debug().Interface("config", c.cfg.Masked()).Str("file", c.cfgFile).Msg("configuration")
	return nil
}

func (c *cli) registerFlags(fs *pflag.FlagSet) {
	cfg := &c.cfg
	fs.StringVar(&c.cfgPath, "config", "", "path to config file (default: $HOME/.tickbridge/config.toml)")

	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "validator JSON-RPC endpoint")
	fs.StringVar(&cfg.AuthRPCURL, "auth-rpc-url", cfg.AuthRPCURL, "endpoint for authenticated submission (defaults to rpc-url)")
	fs.StringVar(&cfg.AuthSecret, "auth-secret", cfg.AuthSecret, "hex secret for auth tokens")
	fs.StringVar(&cfg.TickSocket, "tick-socket", cfg.TickSocket, "tick IPC socket path (empty disables)")
	fs.StringVar(&cfg.BatchSocket, "batch-socket", cfg.BatchSocket, "batch IPC socket path (empty disables)")
	fs.StringVar(&cfg.EngineAddr, "engine-addr", cfg.EngineAddr, "engine control server listen address (empty disables)")
	fs.StringVar(&cfg.EngineURL, "engine-url", cfg.EngineURL, "engine control server URL for client commands")
	fs.StringVar(&cfg.Upstream, "upstream", cfg.Upstream, "tick source for serve: ipc:<path> or an engine URL")

	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "status polls before a confirmation times out")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "sleep between status polls")
	fs.DurationVar(&cfg.ConfirmTimeout, "confirm-timeout", cfg.ConfirmTimeout, "deadline for unauthenticated confirmation")
	fs.DurationVar(&cfg.ConfirmInterval, "confirm-interval", cfg.ConfirmInterval, "interval between unauthenticated status polls")
	fs.DurationVar(&cfg.IOTimeout, "io-timeout", cfg.IOTimeout, "IPC read/write timeout (0 disables)")
	fs.Float64Var(&cfg.RPCRateLimit, "rpc-rate-limit", cfg.RPCRateLimit, "RPC requests per second (0 = unlimited)")
	fs.Uint64Var(&cfg.TicksPerSlot, "ticks-per-slot", cfg.TicksPerSlot, "ticks per slot for engine_step_slot")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (console or json)")
	fs.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "serve prometheus metrics on the engine server")
	fs.BoolVar(&cfg.EngineAuth, "engine-auth", cfg.EngineAuth, "require bearer tokens on the engine API")
}

func newCLI() *cli {
	return &cli{cfg: cliconfig.DefaultConfig(), log: cliconfig.Logger()}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "tickbridge",
		Short:         "Drive a validator's block producer over IPC and JSON-RPC",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return c.load(cmd)
		},
	}
	c.registerFlags(root.PersistentFlags())

	root.AddCommand(
		c.serveCmd(),
		c.tickCmd(),
		c.stepSlotCmd(),
		c.transferCmd(),
		c.airdropCmd(),
		c.parseCmd(),
		c.keysCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tickbridge %s %s/%s\n", getVersion(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func main() {
	if err := newRootCmd(newCLI()).Execute(); err != nil {
		log := cliconfig.Logger()
		log.Error().Err(err).Msg("tickbridge")
		os.Exit(1)
	}
}
