// Package cli provides the command-line interface of the portscout port
// scanner. It implements the Cobra command tree for local scans, host
// lookups, the API server and the history commands that talk to a running
// server.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/portscout/internal/config"
	"github.com/anstrom/portscout/internal/logging"
)

// envPrefix prefixes every environment override, e.g. PORTSCOUT_API_PORT.
const envPrefix = "PORTSCOUT"

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "portscout",
	Short: "TCP port scanner with scan history",
	Long: `portscout scans TCP port ranges of a single host, identifies the services
behind open ports from their banners and rates the exposure of the host.

Scans run locally from the command line or through the REST API server,
which keeps a scan history, serves reports and runs scheduled scans.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./portscout.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{"verbose": "verbose"})
}

// bindFlags binds each flag name to a viper key, so a flag given on the
// command line wins over the config file and the environment.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", name, err)
		}
	}
}

// initConfig locates the config file and enables environment overrides.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("portscout")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	initLogging()
}

// loadConfig loads the config file found by initConfig and applies
// environment and flag overrides bound through viper.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, viper.GetViper())
	return cfg, nil
}

// applyOverrides copies the keys set in v over cfg.
func applyOverrides(cfg *config.Config, v *viper.Viper) {
	if v.IsSet("api.host") {
		cfg.API.Host = v.GetString("api.host")
	}
	if v.IsSet("api.port") {
		cfg.API.Port = v.GetInt("api.port")
	}
	if v.IsSet("logging.level") {
		cfg.Logging.Level = v.GetString("logging.level")
	}
	if v.IsSet("logging.format") {
		cfg.Logging.Format = v.GetString("logging.format")
	}
	if v.IsSet("history.user_key") {
		cfg.History.UserKey = v.GetString("history.user_key")
	}
	if v.IsSet("history.postgres.password") {
		cfg.History.Postgres.Password = v.GetString("history.postgres.password")
	}
	if v.IsSet("scanning.seed") {
		cfg.Scanning.Seed = v.GetInt64("scanning.seed")
	}
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := loadConfig()
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}

	logConfig := cfg.Logging.ToLogging()
	if verbose {
		logConfig.Level = logging.LevelDebug
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	}
}
