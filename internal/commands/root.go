// internal/commands/root.go
package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mwiater/relay/internal/appconfig"
	"github.com/mwiater/relay/internal/logging"
	"github.com/mwiater/relay/internal/metrics"
)

var (
	cfgFile       string
	envFile       string
	currentConfig *appconfig.Config
	appVersion    = "dev"
	appCommit     = "none"
	appDate       = "unknown"

	// recorder collects metrics for every command; serve exposes it on /metrics.
	recorder = metrics.NewRecorder()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "relay — chat relay that splits model replies into message-sized fragments",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := appconfig.LoadEnv(envFile); err != nil {
			return err
		}
		if err := ensureConfigLoaded(); err != nil {
			return err
		}

		if !cmd.Flags().Changed("debug") {
			_ = cmd.Flags().Set("debug", strconv.FormatBool(viper.GetBool("debug")))
		}
		if !cmd.Flags().Changed("logFile") {
			_ = cmd.Flags().Set("logFile", viper.GetString("logFile"))
		}
		if !cmd.Flags().Changed("maxLength") {
			_ = cmd.Flags().Set("maxLength", strconv.Itoa(viper.GetInt("maxLength")))
		}

		var cfg appconfig.Config
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("unmarshal config: %w", err)
		}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg.ConfigPath = viper.ConfigFileUsed()
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			cfg.ConfigPath = ""
		}
		currentConfig = &cfg

		initLog := logging.Init
		if cmd.Annotations[annotationQuietLog] == "true" {
			initLog = logging.InitFile
		}
		if err := initLog(currentConfig.LogFilePath()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.SetDebug(currentConfig.Debug)

		return nil
	},
}

// annotationQuietLog marks commands whose stdout belongs to the user; their log
// lines go only to the log file.
const annotationQuietLog = "relay.quietLog"

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", appVersion, appCommit, appDate)

	defer logging.Close()
	if err := rootCmd.Execute(); err != nil {
		logging.Close()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", appconfig.DefaultConfigPath, "config file (e.g., config/config.json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", appconfig.DefaultEnvFile, "dotenv file with credentials")

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("logFile", "", "path to the log file")
	rootCmd.PersistentFlags().Int("maxLength", appconfig.DefaultMaxLength, "maximum fragment length in characters")

	configureViper()
}

// configureViper binds flags and registers every configuration key so
// environment overrides reach viper.Unmarshal even when the config file omits them.
func configureViper() {
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("logFile", rootCmd.PersistentFlags().Lookup("logFile"))
	_ = viper.BindPFlag("maxLength", rootCmd.PersistentFlags().Lookup("maxLength"))

	d := appconfig.Defaults()
	defaults := map[string]any{
		"provider":            d.Provider,
		"host.name":           "",
		"host.url":            d.Host.URL,
		"host.model":          "",
		"apiKey":              "",
		"systemPrompt":        "",
		"maxTokens":           d.MaxTokens,
		"maxLength":           d.MaxLength,
		"fencePolicy":         "",
		"errorReply":          d.ErrorReply,
		"botId":               "",
		"history.backend":     d.History.Backend,
		"history.keep":        d.History.Keep,
		"history.trimAt":      d.History.TrimAt,
		"history.redisAddr":   "",
		"history.redisDb":     0,
		"history.redisPrefix": d.History.RedisKey,
		"history.ttl":         0,
		"discord.webhookURL":  "",
		"discord.username":    "",
		"server.addr":         d.Server.Addr,
		"server.maxBodyBytes": d.Server.MaxBodyBytes,
		"metrics":             false,
		"timeout":             d.TimeoutSeconds,
	}
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}

	viper.SetEnvPrefix("RELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("apiKey", "RELAY_API_KEY", "API_KEY")
	_ = viper.BindEnv("discord.webhookURL", "RELAY_DISCORD_WEBHOOK", "DISCORD_WEBHOOK_URL")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// ensureConfigLoaded validates and reads the config file. A missing file leaves the defaults in place.
func ensureConfigLoaded() error {
	if cfgFile != "" {
		if err := appconfig.ValidateFile(cfgFile); err != nil {
			return fmt.Errorf("config file %q: %w", cfgFile, err)
		}
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load config: %w", err)
	}
	return nil
}

// GetConfig returns the loaded application configuration for other packages.
func GetConfig() *appconfig.Config {
	return currentConfig
}

// SetVersionInfo allows the main package to inject build-time variables.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}
