package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerwatch/buildcalc/engine"
	"github.com/ledgerwatch/buildcalc/envelope"
	"github.com/ledgerwatch/buildcalc/log"
	"github.com/ledgerwatch/buildcalc/tagset"
)

var (
	tagPolicyFlag string
	armorKFlag    float64
	traceFlag     bool
)

func newEngine() (*engine.Engine, error) {
	policy := tagset.PolicyAutoIntern
	if tagPolicyFlag == "fail" {
		policy = tagset.PolicyFail
	}
	builder := tagset.DefaultCatalog(tagset.NewBuilder(policy))
	return engine.New(builder, engine.WithTagPolicy(policy), engine.WithDefaultArmorConstant(armorKFlag))
}

func loadInput(path string) (*envelope.InputEnvelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var in envelope.InputEnvelope
	if err := json.NewDecoder(f).Decode(&in); err != nil {
		return nil, err
	}
	return &in, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "buildcalc",
		Short: "Deterministic ARPG build-calculation engine",
	}
	root.PersistentFlags().StringVar(&tagPolicyFlag, "tag-policy", "autointern", "unknown tag policy: autointern|fail")
	root.PersistentFlags().Float64Var(&armorKFlag, "armor-k", 10.0, "default armor mitigation constant")
	root.PersistentFlags().BoolVar(&traceFlag, "trace", false, "opt this call into the per-stage debug_trace event log")

	root.AddCommand(calculateCommand())
	root.AddCommand(diffCommand())
	root.AddCommand(cacheStatsCommand())
	root.AddCommand(versionCommand())
	return root
}

func calculateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "calculate <input.json>",
		Short: "Run calculate(input) -> output against a JSON fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			in, err := loadInput(args[0])
			if err != nil {
				return err
			}
			if traceFlag {
				in.DebugTrace = true
			}
			out, err := e.Calculate(in)
			if err != nil {
				log.Error("calculate failed", "err", err)
				return err
			}
			return printJSON(out)
		},
	}
}

func diffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <base.json> <preview.json>",
		Short: "Run calculate_diff(base, preview) -> diff against two JSON fixtures",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			base, err := loadInput(args[0])
			if err != nil {
				return err
			}
			preview, err := loadInput(args[1])
			if err != nil {
				return err
			}
			if traceFlag {
				base.DebugTrace = true
				preview.DebugTrace = true
			}
			diff, err := e.CalculateDiff(base, preview)
			if err != nil {
				log.Error("diff failed", "err", err)
				return err
			}
			return printJSON(diff)
		},
	}
}

func cacheStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cache-stats",
		Short: "Report get_cache_stats() for a freshly constructed engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			return printJSON(e.CacheStats())
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine's semver string",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			cmd.Println(e.Version())
			return nil
		},
	}
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
