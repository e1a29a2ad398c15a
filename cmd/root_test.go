package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  bool
		contains []string
	}{
		{
			name:     "No arguments shows help",
			args:     []string{},
			contains: []string{"passive TLS decoder", "decode"},
		},
		{
			name:     "Help flag",
			args:     []string{"--help"},
			contains: []string{"passive TLS decoder", "--log-level"},
		},
		{
			name:     "Decode help",
			args:     []string{"decode", "--help"},
			contains: []string{"--read-file", "--named-key", "[name@]address[:port]=file[,password]"},
		},
		{
			name:     "Version flag",
			args:     []string{"--version"},
			contains: []string{"tlsniff version"},
		},
		{
			name:    "Unknown command",
			args:    []string{"sniff"},
			wantErr: true,
		},
		{
			name:    "Unknown log level",
			args:    []string{"decode", "--log-level", "chatty", "-r", "x.pcap", "--key", "=k.pem"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestCommandStructure(t *testing.T) {
	assert.Equal(t, "tlsniff", rootCmd.Use)
	assert.Contains(t, rootCmd.Short, "tlsniff decodes TLS sessions")

	var decodeCmd *cobra.Command
	for _, c := range rootCmd.Commands() {
		if c.Name() == "decode" {
			decodeCmd = c
		}
	}
	require.NotNil(t, decodeCmd, "Should have decode subcommand")

	for _, name := range []string{"read-file", "write-file", "key", "named-key", "keys", "trace", "recovery", "max-memory"} {
		assert.NotNil(t, decodeCmd.Flags().Lookup(name), "decode should have --%s", name)
	}
	for _, name := range []string{"config", "log-level"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "root should have --%s", name)
	}
}

func TestInitConfig(t *testing.T) {
	t.Cleanup(func() {
		viper.Reset()
		cfgFile = ""
	})

	t.Run("Custom config file", func(t *testing.T) {
		viper.Reset()
		cfgFile = filepath.Join(t.TempDir(), "tlsniff.yaml")
		require.NoError(t, os.WriteFile(cfgFile, []byte("sniffer:\n  max_sessions: 42\ndecode:\n  keys:\n    - 10.0.0.1=server.pem\n"), 0o600))

		initConfig()
		assert.Equal(t, cfgFile, viper.ConfigFileUsed())
		assert.Equal(t, 42, viper.GetInt("sniffer.max_sessions"))
		assert.Equal(t, []string{"10.0.0.1=server.pem"}, viper.GetStringSlice("decode.keys"))
	})

	t.Run("Non-existent config is ignored", func(t *testing.T) {
		viper.Reset()
		cfgFile = "/path/that/does/not/exist/config.yaml"
		initConfig()
		assert.False(t, viper.IsSet("sniffer.max_sessions"))
	})

	t.Run("Environment overrides", func(t *testing.T) {
		viper.Reset()
		cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
		t.Setenv("TLSNIFF_SNIFFER_MAX_SESSIONS", "7")
		t.Setenv("TLSNIFF_LOG_LEVEL", "debug")

		initConfig()
		assert.Equal(t, 7, viper.GetInt("sniffer.max_sessions"))
		assert.Equal(t, "debug", viper.GetString("log_level"))
	})
}
