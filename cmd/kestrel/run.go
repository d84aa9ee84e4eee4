package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/kestrellm/kestrel/internal/benchmark"
	"github.com/kestrellm/kestrel/internal/executor"
	"github.com/kestrellm/kestrel/internal/logger"
	"github.com/kestrellm/kestrel/internal/pipeline"
	"github.com/kestrellm/kestrel/internal/sampler"
	"github.com/kestrellm/kestrel/internal/tensor"
	"github.com/kestrellm/kestrel/internal/tokenizer"
	"github.com/kestrellm/kestrel/internal/toy"
)

// extraPieces supplements the byte-fallback vocabulary with a few word
// pieces so the reference model produces something word-shaped.
var extraPieces = []string{
	"▁the", "▁and", "▁of", "▁to", "▁a", "▁in", "▁is", "▁it",
	"ing", "ed", "er", "ly", "tion",
}

const toyHiddenSize = 64

func runCmd() *cli.Command {
	var (
		prompt     string
		steps      int64
		candidates int64
		external   bool
		temp       float64
		topK       int64
		topP       float64
		seed       int64
		stops      []string
		streamMode string
		noStream   bool
	)

	flags := append([]cli.Flag{}, commonFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text",
			Destination: &prompt,
		},
		&cli.Int64Flag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "number of decode steps (0 = run until a stop or the cache bound)",
			Value:       64,
			Destination: &steps,
		},
		&cli.Int64Flag{
			Name:        "candidates",
			Usage:       "number of output candidates (requires external sampling for >1)",
			Value:       1,
			Destination: &candidates,
		},
		&cli.BoolFlag{
			Name:        "external-sampling",
			Usage:       "sample outside the executor (top-k/top-p with scores)",
			Destination: &external,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       0.8,
			Destination: &temp,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Usage:       "top-k shortlist size",
			Value:       40,
			Destination: &topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "nucleus sampling threshold",
			Value:       0.95,
			Destination: &topP,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "random seed for weights and sampling",
			Value:       42,
			Destination: &seed,
		},
		&cli.StringSliceFlag{
			Name:        "stop",
			Usage:       "stop sequence text (repeatable)",
			Destination: &stops,
		},
		&cli.StringFlag{
			Name:        "stream-mode",
			Usage:       "streaming mode (instant, smooth, quiet)",
			Value:       "instant",
			Destination: &streamMode,
		},
		&cli.BoolFlag{
			Name:        "no-stream",
			Usage:       "collect the full response before printing",
			Destination: &noStream,
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Generate text with the built-in reference model",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(configPath())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load config: %v", err), 1)
			}
			applyRunConfig(cmd, cfg, &temp, &topK, &topP, &seed,
				&steps, &candidates, &stops, &streamMode)

			log := stderrLogger().With("request_id", uuid.NewString())
			ctx = logger.WithContext(ctx, log)

			if prompt == "" {
				return cli.Exit("error: --prompt is required", 1)
			}
			if candidates > 1 && !external {
				return cli.Exit("error: more than one candidate requires --external-sampling", 1)
			}

			vocab := tokenizer.NewByteVocab(extraPieces...)
			lm := toy.NewLM(vocab.Size(), toyHiddenSize, int(maxContext), seed)
			pipe := pipeline.New(lm, vocab, pipeline.WithLogger(log))

			ids, err := vocab.Encode(prompt)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: encode prompt: %v", err), 1)
			}

			bench := benchmark.New(benchmark.Params{NumDecodeTokens: int(steps)})
			inputs := executor.Inputs{TextTokens: tensor.NewTokenMatFromData(1, len(ids), ids)}
			lastID, err := pipe.Prefill(inputs, true, bench)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: prefill: %v", err), 1)
			}
			log.Debug("prefill complete", "prompt_tokens", len(ids), "last_token", lastID)

			seqs, err := encodeStops(vocab, stops)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: encode stop sequences: %v", err), 1)
			}
			det, err := pipeline.NewStopTokenDetector(int(candidates), seqs)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			var cancel atomic.Bool
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			defer signal.Stop(sigCh)
			go func() {
				<-sigCh
				log.Warn("interrupt received, cancelling")
				cancel.Store(true)
			}()

			if external {
				return runExternal(log, pipe, det, int(candidates), lastID,
					sampler.Config{
						Seed:        seed,
						Temperature: float32(temp),
						TopK:        int(topK),
						TopP:        float32(topP),
					}, bench, &cancel, noStream, StreamMode(streamMode))
			}
			return runInternal(log, pipe, det, bench, &cancel, noStream, StreamMode(streamMode))
		},
	}
}

func runInternal(log logger.Logger, pipe *pipeline.Pipeline, det *pipeline.StopTokenDetector,
	bench *benchmark.Info, cancel *atomic.Bool, noStream bool, mode StreamMode) error {
	if noStream {
		resp, err := pipe.Decode(det, bench, cancel)
		if err != nil {
			return cli.Exit(fmt.Sprintf("error: decode: %v", err), 1)
		}
		fmt.Println(resp.Text(0))
		return reportBench(log, bench)
	}

	w := NewStreamWriter(mode)
	obs := &writerObserver{w: w, log: log}
	if err := pipe.DecodeStreaming(det, bench, obs, cancel); err != nil {
		return cli.Exit(fmt.Sprintf("error: decode: %v", err), 1)
	}
	w.Flush()
	fmt.Println()
	return reportBench(log, bench)
}

func runExternal(log logger.Logger, pipe *pipeline.Pipeline, det *pipeline.StopTokenDetector,
	candidates int, lastID int32, cfg sampler.Config, bench *benchmark.Info,
	cancel *atomic.Bool, noStream bool, mode StreamMode) error {
	smp := sampler.New(cfg)
	seedIDs := tensor.NewTokenMat(candidates, 1)
	for i := range seedIDs.Data {
		seedIDs.Data[i] = lastID
	}

	if noStream || candidates > 1 {
		resp, err := pipe.DecodeCustomSampling(det, candidates, smp, seedIDs, bench, cancel)
		if err != nil {
			return cli.Exit(fmt.Sprintf("error: decode: %v", err), 1)
		}
		for i := 0; i < resp.NumCandidates(); i++ {
			fmt.Printf("[%d] score=%.4f\n%s\n", i, resp.Score(i), resp.Text(i))
		}
		return reportBench(log, bench)
	}

	w := NewStreamWriter(mode)
	obs := &writerObserver{w: w, log: log}
	if err := pipe.DecodeCustomSamplingStreaming(det, candidates, smp, seedIDs, bench, obs, cancel); err != nil {
		return cli.Exit(fmt.Sprintf("error: decode: %v", err), 1)
	}
	w.Flush()
	fmt.Println()
	return reportBench(log, bench)
}

// writerObserver adapts a StreamWriter to the pipeline observer.
type writerObserver struct {
	w   *StreamWriter
	log logger.Logger
}

func (o *writerObserver) OnNext(step pipeline.Responses) {
	o.w.Write(step.Text(0))
}

func (o *writerObserver) OnError(err error) {
	o.log.Error("stream aborted", "error", err)
}

func (o *writerObserver) OnDone() {
	o.log.Debug("stream complete")
}

func encodeStops(vocab *tokenizer.Vocab, stops []string) ([][]int32, error) {
	seqs := make([][]int32, 0, len(stops))
	for _, s := range stops {
		ids, err := vocab.Encode(s)
		if err != nil {
			return nil, fmt.Errorf("stop %q: %w", s, err)
		}
		seqs = append(seqs, ids)
	}
	return seqs, nil
}

func reportBench(log logger.Logger, bench *benchmark.Info) error {
	report, err := bench.Report()
	if err != nil {
		log.Warn("benchmark report unavailable", "error", err)
		return nil
	}
	log.Debug("timing",
		"prefill_tokens", report.PrefillTokens,
		"decode_tokens", report.DecodeTokens,
		"decode_tok_per_sec", report.DecodeTokensPerSec)
	return nil
}
