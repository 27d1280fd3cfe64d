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

var investigatePattern = regexp.MustCompile(`(?i)\b(find|search|look for|explore|investigate|list|locate|scan)\b.*\b(file|files|project|directory|codebase|repo)\b`)

// IntentClassifier detects what the user wants done: investigation
// (tool-using exploration) versus a direct answer.
type IntentClassifier struct{}

func (IntentClassifier) Dimension() fact.Dimension { return fact.DimensionIntent }

func (IntentClassifier) Regex(_ context.Context, thread *fact.Thread) []fact.Signal {
	last := thread.Last()
	if last == nil {
		return nil
	}
	if investigatePattern.MatchString(last.Text) {
		return []fact.Signal{{Dimension: fact.DimensionIntent, Label: "investigate", Confidence: 0.75}}
	}
	return nil
}
