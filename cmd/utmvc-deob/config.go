package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "UTMVC"

type config struct {
	Input  string
	Output string

	Partial     bool
	Virtualize  bool
	Timeout     time.Duration
	KeyLength   int
	Report      string
	ProbeInput  string
	ProbeCookie string
	Verbose     bool
}

// loadConfig merges flags, UTMVC_* environment variables and the optional
// config file, in that order of precedence.
func loadConfig(cmd *cobra.Command, args []string) (*config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &config{
		Input:       "./script",
		Output:      "./output",
		Partial:     v.GetBool("partial"),
		Virtualize:  v.GetBool("virtualize"),
		Timeout:     v.GetDuration("timeout"),
		KeyLength:   v.GetInt("key-length"),
		Report:      v.GetString("report"),
		ProbeInput:  v.GetString("probe-input"),
		ProbeCookie: v.GetString("probe-cookie"),
		Verbose:     v.GetBool("verbose"),
	}
	if len(args) > 0 {
		cfg.Input = args[0]
	}
	if len(args) > 1 {
		cfg.Output = args[1]
	}

	if cfg.ProbeInput != "" && !cfg.Virtualize {
		return nil, fmt.Errorf("--probe-input needs --virtualize")
	}
	return cfg, nil
}

// outputPaths returns the deobfuscated and partial file names for output,
// which may or may not carry the .js extension.
func outputPaths(output string) (string, string) {
	base := strings.TrimSuffix(output, ".js")
	if base == "" {
		base = "./output"
	}
	return base + ".js", base + ".partial.js"
}

func isURL(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}
