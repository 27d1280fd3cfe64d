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

var claimPattern = regexp.MustCompile(`(?i)\b(is|are|will be|was|were)\b.+\b(because|due to|since)\b`)

// ClaimClassifier detects when the user's turn asserts a factual claim
// with an attached justification, as opposed to a question or request.
type ClaimClassifier struct{}

func (ClaimClassifier) Dimension() fact.Dimension { return fact.DimensionClaim }

func (ClaimClassifier) Regex(_ context.Context, thread *fact.Thread) []fact.Signal {
	last := thread.Last()
	if last == nil {
		return nil
	}
	if claimPattern.MatchString(last.Text) {
		return []fact.Signal{{Dimension: fact.DimensionClaim, Label: "asserted-claim", Confidence: 0.7}}
	}
	return nil
}
