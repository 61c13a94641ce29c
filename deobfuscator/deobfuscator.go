// Package deobfuscator runs the utmvc deobfuscation pipeline over a script.
package deobfuscator

import (
	"fmt"
	"time"

	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/t14raptor/go-fast/ast"
	fastgen "github.com/t14raptor/go-fast/generator"
	"github.com/t14raptor/go-fast/parser"
	"go.uber.org/zap"

	"github.com/glizzykingdreko/Incapsula-utmvc-Deobfuscator/sandbox"
	"github.com/glizzykingdreko/Incapsula-utmvc-Deobfuscator/visitors"
)

type Options struct {
	// SavePartial keeps the program as it was right after hex extraction.
	SavePartial bool
	// Virtualize extracts the cookie encryption routine into a sandbox.
	Virtualize  bool

	EvalTimeout     time.Duration
	InlineKeyLength int
	Logger          *zap.Logger
}

// Stats holds the match count of every stage.
type Stats struct {
	HexExtracted       bool `json:"hex_extracted"`
	LiteralsNormalized int  `json:"literals_normalized"`
	StringsDecrypted   int  `json:"strings_decrypted"`
	SwitchesFlattened  int  `json:"switches_flattened"`
	CallsInlined       int  `json:"calls_inlined"`
	ExpressionsFolded  int  `json:"expressions_folded"`
	Virtualized        bool `json:"virtualized"`
}

type Result struct {
	Code    string
	Partial string

	// Routine hosts utmvcEncryption(input, cookie) when virtualization succeeded.
	Routine       *sandbox.Context
	VirtualizeErr error

	Stats Stats
}

type Deobfuscator struct {
	opts   Options
	logger *zap.Logger
	client tls_client.HttpClient
}

func New(opts Options) *Deobfuscator {
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = sandbox.DefaultBudget
	}
	if opts.InlineKeyLength <= 0 {
		opts.InlineKeyLength = visitors.DefaultInlineKeyLength
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deobfuscator{opts: opts, logger: logger}
}

// Deobfuscate runs every stage over src. Only an unparsable input is fatal;
// stages that find nothing to do leave the program as they found it.
func (d *Deobfuscator) Deobfuscate(src string) (*Result, error) {
	res := &Result{}

	prog, err := visitors.ExtractHexPayload(src)
	if err == nil {
		res.Stats.HexExtracted = true
		d.logger.Info("extracted hex payload")
	} else {
		d.logger.Info("no usable hex payload, using input as is", zap.Error(err))
		prog, err = parser.ParseFile(src)
		if err != nil {
			return nil, fmt.Errorf("parse error: %w", err)
		}
	}

	if d.opts.SavePartial {
		res.Partial = fastgen.Generate(prog)
	}

	ctx, err := sandbox.New(d.opts.EvalTimeout)
	if err != nil {
		return nil, err
	}

	d.runStages(prog, ctx, &res.Stats)
	res.Code = fastgen.Generate(prog)

	if d.opts.Virtualize {
		logger := d.logger.Named("virtualize")
		routine, err := visitors.VirtualizeEncryption(prog, ctx, logger)
		if err != nil {
			logger.Warn("virtualization failed", zap.Error(err))
			res.VirtualizeErr = err
		} else {
			res.Routine = routine
			res.Stats.Virtualized = true
		}
	}

	return res, nil
}

func (d *Deobfuscator) runStages(prog *ast.Program, ctx *sandbox.Context, stats *Stats) {
	stats.LiteralsNormalized = visitors.NormalizeStringLiterals(prog)
	d.logger.Info("normalized string literals", zap.Int("matches", stats.LiteralsNormalized))

	logger := d.logger.Named("rc4")
	n, err := visitors.DeobfuscateStringTables(prog, ctx, logger)
	if err != nil {
		logger.Warn("string tables skipped", zap.Error(err))
	}
	stats.StringsDecrypted = n
	logger.Info("decrypted strings", zap.Int("matches", n))

	stats.SwitchesFlattened = visitors.ReorderSwitchCases(prog)
	d.logger.Info("reordered switch cases", zap.Int("matches", stats.SwitchesFlattened))

	stats.CallsInlined = visitors.InlineFunctionTables(prog, d.opts.InlineKeyLength, d.logger.Named("inline"))
	d.logger.Info("inlined function tables", zap.Int("matches", stats.CallsInlined))

	stats.ExpressionsFolded = visitors.SimplifyBinaryExpressions(prog)
	d.logger.Info("simplified binary expressions", zap.Int("matches", stats.ExpressionsFolded))
}
