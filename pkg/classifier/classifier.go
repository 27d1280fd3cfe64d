// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package classifier implements the perception stage (C2): one
// Classifier per semantic dimension, each combining an always-on regex
// pass with an optional gated LLM enhancement call, run concurrently by
// a Bank.
package classifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/signalforge/cortex/pkg/fact"
	"golang.org/x/sync/errgroup"
)

// softBudget is the per-classifier soft timeout (§4.1): exceeding it
// logs a performance warning but never cancels the in-flight call.
const softBudget = 2 * time.Second

// Classifier analyzes a thread along one dimension. Regex always runs;
// Gate and Enhance are optional capabilities a classifier may implement
// (see Gater, Enhancer) to add LLM enhancement behind a predicate.
type Classifier interface {
	Dimension() fact.Dimension
	// Regex always runs: pattern-matches the thread's last message. The
	// built-in classifiers do not read earlier messages as context.
	Regex(ctx context.Context, thread *fact.Thread) []fact.Signal
}

// Gater is implemented by classifiers that gate LLM enhancement behind a
// pure predicate over the last message and recent context.
type Gater interface {
	Gate(last *fact.Message, context []*fact.Message) bool
}

// Enhancer is implemented by classifiers with an LLM enhancement pass. A
// classifier without this interface is regex-only.
type Enhancer interface {
	Enhance(ctx context.Context, thread *fact.Thread) ([]fact.Signal, error)
}

// Bank runs every registered Classifier concurrently and merges results.
type Bank struct {
	classifiers []Classifier
	llmEnabled  bool
}

// NewBank creates a Bank over the module's classifier set. llmEnabled
// gates whether Enhance is ever invoked; the bank runs in regex-only
// mode when false (§4.1: "runs even if no LLM is configured").
func NewBank(llmEnabled bool, classifiers ...Classifier) *Bank {
	return &Bank{classifiers: classifiers, llmEnabled: llmEnabled}
}

// Run classifies thread along every registered dimension concurrently
// and returns the merged, confidence-floor-filtered signal set.
func (bk *Bank) Run(ctx context.Context, thread *fact.Thread) ([]fact.Signal, error) {
	results := make([][]fact.Signal, len(bk.classifiers))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range bk.classifiers {
		i, c := i, c
		g.Go(func() error {
			results[i] = bk.runOne(gctx, c, thread)
			return nil
		})
	}
	// errgroup.Go's functions never return an error here (classifier
	// failure is non-fatal per §4.1); Wait only propagates context
	// cancellation from the caller.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []fact.Signal
	for _, signals := range results {
		out = append(out, signals...)
	}
	return out, nil
}

func (bk *Bank) runOne(ctx context.Context, c Classifier, thread *fact.Thread) []fact.Signal {
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed > softBudget {
			slog.Warn("classifier: exceeded soft budget", "dimension", c.Dimension(), "elapsed", elapsed)
		}
	}()

	regexSignals := c.Regex(ctx, thread)
	merged := stampAndFilter(regexSignals, string(c.Dimension()))

	enhancer, ok := c.(Enhancer)
	if !bk.llmEnabled || !ok {
		return merged
	}

	if gater, ok := c.(Gater); ok {
		last := thread.Last()
		window := thread.LastN(3)
		if !gater.Gate(last, window) {
			return merged
		}
	}

	enhanced, err := enhancer.Enhance(ctx, thread)
	if err != nil {
		slog.Warn("classifier: LLM enhancement failed, using regex results", "dimension", c.Dimension(), "error", err)
		return merged
	}
	enhanced = stampAndFilter(enhanced, string(c.Dimension()))

	return mergeByLabel(merged, enhanced)
}

// stampAndFilter drops signals outside [MinConfidence, MaxConfidence]
// (I4) and stamps provenance.
func stampAndFilter(signals []fact.Signal, producer string) []fact.Signal {
	var out []fact.Signal
	for _, s := range signals {
		if !s.InRange() {
			continue
		}
		if s.Provenance.Source == "" {
			s.Provenance.Source = "classifier"
		}
		if s.Provenance.Producer == "" {
			s.Provenance.Producer = producer
		}
		out = append(out, s)
	}
	return out
}

// mergeByLabel starts with regex results; for each LLM result, keeps the
// higher-confidence entry when the label already exists, else inserts.
func mergeByLabel(regex, llm []fact.Signal) []fact.Signal {
	out := make([]fact.Signal, len(regex))
	copy(out, regex)

	byLabel := make(map[string]int, len(out))
	for i, s := range out {
		byLabel[s.Label] = i
	}

	for _, s := range llm {
		if idx, ok := byLabel[s.Label]; ok {
			if s.Confidence > out[idx].Confidence {
				out[idx] = s
			}
			continue
		}
		byLabel[s.Label] = len(out)
		out = append(out, s)
	}
	return out
}
