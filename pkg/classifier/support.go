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
	citationPattern   = regexp.MustCompile(`(?i)\b(according to|source:|https?://|study|report|paper)\b`)
	unsupportedMarker = regexp.MustCompile(`(?i)\b(definitely|obviously|everyone knows|clearly)\b`)
)

// SupportClassifier detects whether a claim carries a citation
// ("cited") or rests on assertion alone ("unsupported").
type SupportClassifier struct{}

func (SupportClassifier) Dimension() fact.Dimension { return fact.DimensionSupport }

func (SupportClassifier) Regex(_ context.Context, thread *fact.Thread) []fact.Signal {
	last := thread.Last()
	if last == nil {
		return nil
	}
	if citationPattern.MatchString(last.Text) {
		return []fact.Signal{{Dimension: fact.DimensionSupport, Label: "cited", Confidence: 0.75}}
	}
	if unsupportedMarker.MatchString(last.Text) {
		return []fact.Signal{{Dimension: fact.DimensionSupport, Label: "unsupported", Confidence: 0.65}}
	}
	return nil
}
