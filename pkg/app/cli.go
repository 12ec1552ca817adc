package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/small-frappuccino/guilddash/pkg/config"
	"github.com/small-frappuccino/guilddash/pkg/util"
)

// NewRootCmd builds the guilddash command tree. Running the root command serves the
// dashboard.
func NewRootCmd() *cobra.Command {
	v := config.NewViper()
	var configFile string
	var envFiles []string

	serve := func(cmd *cobra.Command, _ []string) error {
		if _, err := util.LoadEnvFiles(envFiles...); err != nil {
			return err
		}
		cfg, err := config.Load(v, configFile)
		if err != nil {
			return err
		}
		return Run(cmd.Context(), cfg)
	}

	root := &cobra.Command{
		Use:   "guilddash",
		Short: "Web dashboard for the welcome bot's per-guild settings",
		Long: `guilddash serves a browser dashboard for the welcome bot's per-guild
configuration. Sign in through Discord, pick a guild, then edit its configuration
as raw JSON or through the settings form with live card previews.

Settings are read from flags, DASHBOARD_* environment variables, the optional
$HOME/.local/bin/.env file and an optional config file.`,
		SilenceUsage: true,
		RunE:         serve,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (toml, yaml or json)")
	flags.StringSliceVar(&envFiles, "env-file", nil, "additional .env files to load")
	flags.String("backend-url", "", "bot backend origin (default http://127.0.0.1:8000)")
	flags.String("listen-addr", "", "address to serve the dashboard on (default 127.0.0.1:5174)")
	flags.String("data-dir", "", "directory for logs and the audit database")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.Duration("session-ttl", 0, "idle lifetime of a browser session")
	flags.Duration("backend-timeout", 0, "timeout of each backend request")
	flags.Bool("audit", true, "record configuration changes in the audit database")
	flags.Bool("cookie-secure", false, "mark the session cookie Secure (serve behind HTTPS)")

	bindFlag(v, root, config.KeyBackendURL, "backend-url")
	bindFlag(v, root, config.KeyListenAddr, "listen-addr")
	bindFlag(v, root, config.KeyDataDir, "data-dir")
	bindFlag(v, root, config.KeyLogLevel, "log-level")
	bindFlag(v, root, config.KeySessionTTL, "session-ttl")
	bindFlag(v, root, config.KeyBackendTimeout, "backend-timeout")
	bindFlag(v, root, config.KeyAuditEnabled, "audit")
	bindFlag(v, root, config.KeyCookieSecure, "cookie-secure")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard (default)",
		RunE:  serve,
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "guilddash", Version)
		},
	})
	return root
}

// bindFlag lets a flag override key only when it was set on the command line.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}
