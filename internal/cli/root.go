package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/egorkaBurkenya/resilient-api/internal/logger"
)

// app carries state shared by every subcommand.
type app struct {
	cfgFile string
	verbose bool

	v        *viper.Viper
	settings *Settings
	log      zerolog.Logger
	// logOut overrides the logger destination. Used by tests.
	logOut io.Writer
}

// NewRootCommand builds the apiwatch command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{v: newViper()})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "apiwatch",
		Short: "Call and watch rate-limited HTTP APIs with retry and token refresh",
		Long: `apiwatch issues requests through a resilient HTTP client: calls are rate
limited, retryable failures are retried with exponential backoff and OAuth2
client-credentials tokens are refreshed on demand.

Configuration is read from --config (YAML) and APIWATCH_* environment variables,
e.g. APIWATCH_BASE_URL or APIWATCH_AUTH_CLIENT_ID.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	root.PersistentFlags().String("base-url", "", "prefix for relative request paths")
	root.PersistentFlags().Float64("rate", 0, "max calls per second (0 = unlimited)")
	root.PersistentFlags().Int("retries", 0, "max retries per request")
	root.PersistentFlags().Duration("timeout", 0, "per-attempt timeout")

	_ = a.v.BindPFlag("base_url", root.PersistentFlags().Lookup("base-url"))
	_ = a.v.BindPFlag("calls_per_second", root.PersistentFlags().Lookup("rate"))
	_ = a.v.BindPFlag("max_retries", root.PersistentFlags().Lookup("retries"))
	_ = a.v.BindPFlag("request_timeout", root.PersistentFlags().Lookup("timeout"))

	root.AddCommand(newGetCommand(a), newWatchCommand(a))
	return root
}

func (a *app) setup() error {
	out := a.logOut
	if out == nil {
		a.log = logger.New(a.verbose)
	} else {
		a.log = logger.NewDevelopment(out)
		if !a.verbose {
			a.log = a.log.Level(zerolog.InfoLevel)
		}
	}

	s, err := loadSettings(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.settings = s

	a.log.Debug().
		Str("base_url", s.BaseURL).
		Float64("calls_per_second", s.CallsPerSecond).
		Int("max_retries", s.MaxRetries).
		Dur("request_timeout", s.RequestTimeout).
		Msg("config loaded")
	return nil
}

// ExecuteContext runs the root command and exits non-zero on failure.
func ExecuteContext(ctx context.Context) {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
