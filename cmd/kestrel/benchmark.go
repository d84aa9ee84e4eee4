package main

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/kestrellm/kestrel/internal/benchmark"
	"github.com/kestrellm/kestrel/internal/executor"
	"github.com/kestrellm/kestrel/internal/pipeline"
	"github.com/kestrellm/kestrel/internal/sampler"
	"github.com/kestrellm/kestrel/internal/tensor"
	"github.com/kestrellm/kestrel/internal/tokenizer"
	"github.com/kestrellm/kestrel/internal/toy"
)

func benchmarkCmd() *cli.Command {
	var (
		warmupRuns   int64
		benchRuns    int64
		prompt       string
		decodeTokens int64
		external     bool
		seed         int64
		jsonOut      bool
	)

	flags := append([]cli.Flag{}, commonFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of benchmark runs",
			Value:       3,
			Destination: &benchRuns,
		},
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text for benchmarking",
			Value:       "the quick brown fox jumps over the lazy dog",
			Destination: &prompt,
		},
		&cli.Int64Flag{
			Name:        "decode-tokens",
			Aliases:     []string{"n"},
			Usage:       "number of decode steps per run (stops are ignored until the budget is spent)",
			Value:       128,
			Destination: &decodeTokens,
		},
		&cli.BoolFlag{
			Name:        "external-sampling",
			Usage:       "benchmark the external sampling path",
			Destination: &external,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "random seed for weights and sampling",
			Value:       42,
			Destination: &seed,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "emit the per-run reports as JSON",
			Destination: &jsonOut,
		},
	)

	return &cli.Command{
		Name:  "benchmark",
		Usage: "Run standardized pipeline benchmarks against the reference model",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := stderrLogger()
			if decodeTokens <= 0 {
				return cli.Exit("error: --decode-tokens must be positive", 1)
			}

			runOnce := func(record bool) (benchmark.Report, error) {
				vocab := tokenizer.NewByteVocab(extraPieces...)
				lm := toy.NewLM(vocab.Size(), toyHiddenSize, int(maxContext), seed)
				pipe := pipeline.New(lm, vocab, pipeline.WithLogger(log))

				ids, err := vocab.Encode(prompt)
				if err != nil {
					return benchmark.Report{}, fmt.Errorf("encode prompt: %w", err)
				}
				bench := benchmark.New(benchmark.Params{NumDecodeTokens: int(decodeTokens)})
				inputs := executor.Inputs{TextTokens: tensor.NewTokenMatFromData(1, len(ids), ids)}
				lastID, err := pipe.Prefill(inputs, true, bench)
				if err != nil {
					return benchmark.Report{}, fmt.Errorf("prefill: %w", err)
				}

				det, err := pipeline.NewStopTokenDetector(1, nil)
				if err != nil {
					return benchmark.Report{}, err
				}

				var cancel atomic.Bool
				if external {
					smp := sampler.New(sampler.Config{Seed: seed, Temperature: 0.8, TopK: 40, TopP: 0.95})
					seedIDs := tensor.NewTokenMatFromData(1, 1, []int32{lastID})
					if _, err := pipe.DecodeCustomSampling(det, 1, smp, seedIDs, bench, &cancel); err != nil {
						return benchmark.Report{}, fmt.Errorf("decode: %w", err)
					}
				} else {
					if _, err := pipe.Decode(det, bench, &cancel); err != nil {
						return benchmark.Report{}, fmt.Errorf("decode: %w", err)
					}
				}

				report, err := bench.Report()
				if err != nil {
					return benchmark.Report{}, err
				}
				if record {
					report.RequestID = uuid.NewString()
				}
				return report, nil
			}

			for i := int64(0); i < warmupRuns; i++ {
				if _, err := runOnce(false); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}

			reports := make([]benchmark.Report, 0, benchRuns)
			for i := int64(0); i < benchRuns; i++ {
				report, err := runOnce(true)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
				}
				reports = append(reports, report)
				log.Info("benchmark run complete",
					"run", i+1,
					"decode_tokens", report.DecodeTokens,
					"decode_tok_per_sec", report.DecodeTokensPerSec)
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(reports)
			}

			var totalTok int
			var totalSec float64
			for _, r := range reports {
				totalTok += r.DecodeTokens
				totalSec += r.DecodeSeconds
			}
			fmt.Printf("runs:              %d\n", len(reports))
			fmt.Printf("decode tokens:     %d\n", totalTok)
			if totalSec > 0 {
				fmt.Printf("decode tokens/sec: %.2f\n", float64(totalTok)/totalSec)
			}
			return nil
		},
	}
}
