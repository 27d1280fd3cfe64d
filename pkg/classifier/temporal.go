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

package classifier

import (
	"context"
	"regexp"

	"github.com/signalforge/cortex/pkg/fact"
)

var (
	forecastPattern = regexp.MustCompile(`(?i)\b(will|going to|by (next|Q[1-4]|20\d{2})|projected|forecast|expect(ed|s)? to)\b`)
	stalePattern    = regexp.MustCompile(`(?i)\b(last (year|month|week)|back in 20\d{2}|a while ago|used to be)\b`)
)

// TemporalClassifier detects forward-looking claims (forecast) and
// references to potentially outdated information (stale-reference).
type TemporalClassifier struct{}

func (TemporalClassifier) Dimension() fact.Dimension { return fact.DimensionTemporal }

func (TemporalClassifier) Regex(_ context.Context, thread *fact.Thread) []fact.Signal {
	last := thread.Last()
	if last == nil {
		return nil
	}
	var out []fact.Signal
	if forecastPattern.MatchString(last.Text) {
		out = append(out, fact.Signal{Dimension: fact.DimensionTemporal, Label: "forecast", Confidence: 0.75})
	}
	if stalePattern.MatchString(last.Text) {
		out = append(out, fact.Signal{Dimension: fact.DimensionTemporal, Label: "stale-reference", Confidence: 0.65})
	}
	return out
}
