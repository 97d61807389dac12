package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvia/claimscore/pkg/config"
)

func TestParseCLIConfig(t *testing.T) {
	tests := []struct {
		name        string
		flags       map[string]string
		expectError bool
		expected    *CLIConfig
	}{
		{
			name:  "default values",
			flags: map[string]string{},
			expected: &CLIConfig{
				Config:       "",
				ListenAddr:   "",
				ArtifactsDir: "",
				LogLevel:     "",
				Pretty:       false,
				PrettySet:    false,
			},
		},
		{
			name: "custom listen address",
			flags: map[string]string{
				"listen": ":9000",
			},
			expected: &CLIConfig{
				ListenAddr: ":9000",
			},
		},
		{
			name: "all flags set",
			flags: map[string]string{
				"config":    "/path/to/config.yaml",
				"listen":    ":8080",
				"artifacts": "/srv/artifacts",
				"log-level": "debug",
				"pretty":    "true",
			},
			expected: &CLIConfig{
				Config:       "/path/to/config.yaml",
				ListenAddr:   ":8080",
				ArtifactsDir: "/srv/artifacts",
				LogLevel:     "debug",
				Pretty:       true,
				PrettySet:    true,
			},
		},
		{
			name: "pretty explicitly false is still marked set",
			flags: map[string]string{
				"pretty": "false",
			},
			expected: &CLIConfig{
				Pretty:    false,
				PrettySet: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()

			for key, value := range tt.flags {
				err := cmd.Flags().Set(key, value)
				require.NoError(t, err)
			}

			cli, err := parseCLIConfig(cmd)

			if tt.expectError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected.Config, cli.Config)
			assert.Equal(t, tt.expected.ListenAddr, cli.ListenAddr)
			assert.Equal(t, tt.expected.ArtifactsDir, cli.ArtifactsDir)
			assert.Equal(t, tt.expected.LogLevel, cli.LogLevel)
			assert.Equal(t, tt.expected.Pretty, cli.Pretty)
			assert.Equal(t, tt.expected.PrettySet, cli.PrettySet)
		})
	}
}

func TestBuildConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `listen_addr: ":9100"
artifacts_dir: "/opt/models"
log:
  level: warn
`
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0o644))

	tests := []struct {
		name              string
		cliConfig         *CLIConfig
		expectError       bool
		expectedAddr      string
		expectedArtifacts string
		expectedLogLevel  string
		expectedPretty    bool
	}{
		{
			name:              "defaults without config file",
			cliConfig:         &CLIConfig{},
			expectedAddr:      config.DefaultListenAddr,
			expectedArtifacts: config.DefaultArtifactsDir,
			expectedLogLevel:  "info",
		},
		{
			name: "CLI flags override defaults",
			cliConfig: &CLIConfig{
				ListenAddr:   ":9000",
				ArtifactsDir: "/srv/artifacts",
				LogLevel:     "debug",
				Pretty:       true,
				PrettySet:    true,
			},
			expectedAddr:      ":9000",
			expectedArtifacts: "/srv/artifacts",
			expectedLogLevel:  "debug",
			expectedPretty:    true,
		},
		{
			name: "config file values",
			cliConfig: &CLIConfig{
				Config: configPath,
			},
			expectedAddr:      ":9100",
			expectedArtifacts: "/opt/models",
			expectedLogLevel:  "warn",
		},
		{
			name: "CLI flags override config file",
			cliConfig: &CLIConfig{
				Config:     configPath,
				ListenAddr: ":9200",
				LogLevel:   "error",
			},
			expectedAddr:      ":9200",
			expectedArtifacts: "/opt/models",
			expectedLogLevel:  "error",
		},
		{
			name: "unset pretty flag keeps config file value",
			cliConfig: &CLIConfig{
				Config:    configPath,
				Pretty:    false,
				PrettySet: false,
			},
			expectedAddr:      ":9100",
			expectedArtifacts: "/opt/models",
			expectedLogLevel:  "warn",
		},
		{
			name: "non-existent config file",
			cliConfig: &CLIConfig{
				Config: "/non/existent/path.yaml",
			},
			expectError: true,
		},
		{
			name: "invalid override fails validation",
			cliConfig: &CLIConfig{
				ListenAddr: "   ",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := buildConfig(tt.cliConfig)

			if tt.expectError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedAddr, cfg.ListenAddr)
			assert.Equal(t, tt.expectedArtifacts, cfg.ArtifactsDir)
			assert.Equal(t, tt.expectedLogLevel, cfg.Log.Level)
			assert.Equal(t, tt.expectedPretty, cfg.Log.Pretty)
		})
	}
}

func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()

	assert.Equal(t, "claimscore", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)

	configFlag := cmd.Flags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "", configFlag.DefValue)

	listenFlag := cmd.Flags().Lookup("listen")
	require.NotNil(t, listenFlag)
	assert.Equal(t, "", listenFlag.DefValue)

	artifactsFlag := cmd.Flags().Lookup("artifacts")
	require.NotNil(t, artifactsFlag)
	assert.Equal(t, "a", artifactsFlag.Shorthand)
	assert.Equal(t, "", artifactsFlag.DefValue)

	logLevelFlag := cmd.Flags().Lookup("log-level")
	require.NotNil(t, logLevelFlag)
	assert.Equal(t, "l", logLevelFlag.Shorthand)
	assert.Equal(t, "", logLevelFlag.DefValue)

	prettyFlag := cmd.Flags().Lookup("pretty")
	require.NotNil(t, prettyFlag)
	assert.Equal(t, "false", prettyFlag.DefValue)
}

func TestTracingEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.Config
		expected string
	}{
		{
			name:     "tracing disabled",
			cfg:      config.DefaultConfig(),
			expected: "",
		},
		{
			name: "tracing enabled",
			cfg: &config.Config{
				Tracing: &config.TracingConfig{
					Enabled:  true,
					Endpoint: "collector:4317",
				},
			},
			expected: "collector:4317",
		},
		{
			name:     "nil tracing config",
			cfg:      &config.Config{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tracingEndpoint(tt.cfg))
		})
	}
}
