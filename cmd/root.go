package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/endorses/tlsniff/cmd/decode"
	"github.com/endorses/tlsniff/internal/pkg/logger"
	"github.com/endorses/tlsniff/internal/pkg/version"
)

var cfgFile string

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tlsniff",
		Short: "tlsniff decodes TLS sessions from captures",
		Long: fmt.Sprintf(`tlsniff %s - passive TLS decoder

Decrypts captured TLS 1.0-1.2 sessions that used RSA key exchange, given
the server's private key.`, version.GetVersion()),
		Version:       version.GetFullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := viper.GetString("log_level")
			if !logger.SetLevel(level) {
				return fmt.Errorf("unknown log level %q", level)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tlsniff.yaml)")
	cmd.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn or error")
	_ = viper.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(decode.NewCommand())
	return cmd
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	logger.Initialize()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tlsniff")
	}

	viper.SetEnvPrefix("tlsniff")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
