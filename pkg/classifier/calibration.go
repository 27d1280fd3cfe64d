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

var highCertaintyPattern = regexp.MustCompile(`(?i)\b(definitely|certainly|guaranteed|without a doubt|100%|for sure|no question)\b`)

// CalibrationClassifier detects overconfident phrasing in the user's
// claim, so downstream rules can ask for more grounding before agreeing.
type CalibrationClassifier struct{}

func (CalibrationClassifier) Dimension() fact.Dimension { return fact.DimensionCalibration }

func (CalibrationClassifier) Regex(_ context.Context, thread *fact.Thread) []fact.Signal {
	last := thread.Last()
	if last == nil {
		return nil
	}
	if highCertaintyPattern.MatchString(last.Text) {
		return []fact.Signal{{Dimension: fact.DimensionCalibration, Label: "high-certainty", Confidence: 0.8}}
	}
	return nil
}
