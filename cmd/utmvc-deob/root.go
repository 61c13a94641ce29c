package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/glizzykingdreko/Incapsula-utmvc-Deobfuscator/deobfuscator"
	"github.com/glizzykingdreko/Incapsula-utmvc-Deobfuscator/sandbox"
	"github.com/glizzykingdreko/Incapsula-utmvc-Deobfuscator/visitors"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "utmvc-deob [input|url] [output]",
		Short: "Deobfuscate Incapsula utmvc scripts",
		Long: `utmvc-deob unpacks the hex wrapper of an Incapsula utmvc script, decrypts its
RC4 string tables, flattens switch dispatch loops, inlines call tables and folds
constant expressions. Optionally the ___utmvc cookie encryption routine is
extracted and can be probed with custom inputs.`,
		Example: `
# Deobfuscate script.js into output.js
utmvc-deob script.js output

# Fetch a live resource, keep the unpacked intermediate and extract the routine
utmvc-deob --partial --virtualize "https://example.com/_Incapsula_Resource?SWJIYLWA=..." out
  `,
		Args:          cobra.RangeArgs(0, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			err = run(cfg)
			if err != nil {
				color.New(color.FgHiRed).Fprintf(os.Stderr, "----| %v\n", err)
			}
			return err
		},
	}

	cmd.Flags().BoolP("partial", "p", false, "Save the unpacked payload to <output>.partial.js")
	cmd.Flags().BoolP("virtualize", "z", false, "Extract the cookie encryption routine")
	cmd.Flags().Duration("timeout", sandbox.DefaultBudget, "Evaluation budget per sandbox call")
	cmd.Flags().Int("key-length", visitors.DefaultInlineKeyLength, "Key length of inline call tables")
	cmd.Flags().String("report", "", "Write a JSON stage report to file")
	cmd.Flags().String("probe-input", "", "Run the extracted routine with this input (needs --virtualize)")
	cmd.Flags().String("probe-cookie", "", "Cookie value passed to the extracted routine")
	cmd.Flags().BoolP("verbose", "v", false, "Log every stage")
	cmd.Flags().StringP("config", "c", "", "Config file (yaml, json or toml)")

	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	cfg.Encoding = "console"
	return cfg.Build()
}

func run(cfg *config) error {
	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	step := color.New(color.FgHiGreen)
	warn := color.New(color.FgYellow)
	dim := color.New(color.FgHiBlack)

	dim.Println("------------------------- Incapsula UTMVC Deobfuscator -------------------------")

	d := deobfuscator.New(deobfuscator.Options{
		SavePartial:     cfg.Partial,
		Virtualize:      cfg.Virtualize,
		EvalTimeout:     cfg.Timeout,
		InlineKeyLength: cfg.KeyLength,
		Logger:          logger,
	})

	src, err := readInput(d, cfg.Input)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	res, err := d.Deobfuscate(src)
	if err != nil {
		return err
	}

	outFile, partialFile := outputPaths(cfg.Output)
	if res.Stats.HexExtracted {
		step.Println("----| Extracted code from hex")
	} else {
		warn.Println("----| Failed to extract code from hex, parsed the file as is")
	}
	if cfg.Partial && res.Stats.HexExtracted {
		if err := os.WriteFile(partialFile, []byte(res.Partial), 0644); err != nil {
			return err
		}
		step.Printf("----| Saved partial deobfuscated code to %s\n", partialFile)
	}

	step.Printf("----| Normalized %d string literals\n", res.Stats.LiteralsNormalized)
	step.Printf("----| Deobfuscated RC4 encryption, replaced %d matches\n", res.Stats.StringsDecrypted)
	step.Printf("----| Reordered switch cases, replaced %d matches\n", res.Stats.SwitchesFlattened)
	step.Printf("----| Replaced %d inlining functions\n", res.Stats.CallsInlined)
	step.Printf("----| Simplified %d binary expressions\n", res.Stats.ExpressionsFolded)

	if err := os.WriteFile(outFile, []byte(res.Code), 0644); err != nil {
		return err
	}
	step.Printf("----| Saved deobfuscated code to %s\n", outFile)

	if cfg.Virtualize {
		if res.Routine != nil {
			step.Println("----| Virtualized encryption function")
		} else {
			warn.Printf("----| Failed to virtualize encryption function: %v\n", res.VirtualizeErr)
		}
	}

	if cfg.ProbeInput != "" && res.Routine != nil {
		out, err := res.Routine.Call(visitors.RoutineName, cfg.ProbeInput, cfg.ProbeCookie)
		if err != nil {
			return fmt.Errorf("probe failed: %w", err)
		}
		step.Printf("----| %s(%q, %q) = %s\n", visitors.RoutineName, cfg.ProbeInput, cfg.ProbeCookie, out)
	}

	if cfg.Report != "" {
		data, err := json.MarshalIndent(res.Report(), "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(cfg.Report, data, 0644); err != nil {
			return err
		}
		step.Printf("----| Saved report to %s\n", cfg.Report)
	}

	dim.Println("---------------------------------------------------------------------------------")
	return nil
}

// readInput fetches URLs and reads files, retrying bare names with a .js extension.
func readInput(d *deobfuscator.Deobfuscator, input string) (string, error) {
	if isURL(input) {
		return d.Fetch(input)
	}
	data, err := os.ReadFile(input)
	if errors.Is(err, fs.ErrNotExist) && !strings.HasSuffix(input, ".js") {
		data, err = os.ReadFile(input + ".js")
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
