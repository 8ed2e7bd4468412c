// Package cli wires the wpcache commands: the server itself and a few
// diagnostics that talk to origins or to a running instance.
package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hearthlist/wpcache/internal/cache"
	"github.com/hearthlist/wpcache/internal/config"
	"github.com/hearthlist/wpcache/internal/content"
	"github.com/hearthlist/wpcache/internal/fetch"
)

// app is shared by every subcommand of one root command.
type app struct {
	v *viper.Viper
	p *printer
}

type commandFactory func(*app) *cobra.Command

var defaultCommands = []commandFactory{
	newServeCmd,
	newFetchCmd,
	newStatsCmd,
	newClearCmd,
	newConfigCmd,
}

func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New(), p: newPrinter()}

	cmd := &cobra.Command{
		Use:   "wpcache",
		Short: "Stale-while-revalidate cache in front of a WordPress REST API",
		Long: `wpcache serves listing and page content from an in-memory cache, refreshes
stale entries in the background and fails over across several origins when
the primary content API is down.`,
		Example: `wpcache serve --primary-origin https://cms.example.com/wp-json
wpcache fetch "/properties?page=1"`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(a.v, cmd.Flags())
		},
		SilenceUsage: true,
	}

	addConfigFlags(cmd.PersistentFlags())
	for _, factory := range defaultCommands {
		cmd.AddCommand(factory(a))
	}
	return cmd
}

func Execute() error {
	return NewRootCmd().Execute()
}

func addConfigFlags(fs *pflag.FlagSet) {
	fs.String(flagName(config.KeyConfigFile), "", "YAML config file (env WPCACHE_CONFIG)")
	fs.String(flagName(config.KeyListenAddr), ":8080", "HTTP listen address")
	fs.String(flagName(config.KeyPrimaryOrigin), "", "primary content API base URL")
	fs.StringSlice(flagName(config.KeyFallbackOrigins), nil, "fallback origins, tried in order (http(s):// or s3://bucket/prefix)")
	fs.Duration(flagName(config.KeyFreshWindow), cache.DefaultFreshWindow, "age below which entries are served without revalidation")
	fs.Duration(flagName(config.KeyStaleWindow), cache.DefaultStaleWindow, "age below which stale entries are still served")
	fs.Duration(flagName(config.KeyRequestTimeout), fetch.DefaultTimeout, "timeout for each origin attempt")
	fs.Duration(flagName(config.KeyRefreshTimeout), content.DefaultRefreshTimeout, "timeout for a background refresh")
	fs.Int(flagName(config.KeyRefreshConcurrency), content.DefaultRefreshConcurrency, "maximum concurrent background refreshes")
	fs.String(flagName(config.KeyRedisAddr), "", "redis address for clear fan-out across replicas")
	fs.Int(flagName(config.KeyRedisDB), 0, "redis database")
	fs.String(flagName(config.KeyRedisChannel), "", "redis pub/sub channel")
	fs.String(flagName(config.KeyS3Endpoint), "", "S3 endpoint for s3:// mirrors")
	fs.String(flagName(config.KeyS3Region), "", "S3 region for s3:// mirrors")
	fs.String(flagName(config.KeyDownstreamPurgeURL), "", "URL receiving a PURGE after each clear")
	fs.String(flagName(config.KeyLogLevel), "info", "log level (debug, info, warn, error)")
	fs.Bool(flagName(config.KeyLogJSON), false, "log as JSON lines")
}

// bindFlags makes every config flag a viper override for its key.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	return err
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

func (a *app) loadConfig() (config.Config, error) {
	return config.Load(a.v)
}
