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
	"fmt"
	"regexp"
	"strings"

	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/model"
)

// ackMaxRunes is the heuristic length threshold below which a short
// affirmative reply is treated as ack-only. Documented per §9 Open
// Question 2 — a heuristic, not a spec-enforced constant.
const ackMaxRunes = 20

var ackPattern = regexp.MustCompile(`(?i)^\s*(ok(ay)?|sure|yes|yep|thanks?|got it|sounds good|will do|roger|sure thing|no problem)[.!]?\s*$`)

// ContractClassifier detects the contract dimension: whether the user's
// turn is a terse acknowledgement ("ack-only"), requests something more
// substantial ("contract-breach" against an established constraint), or
// neither.
type ContractClassifier struct {
	LLM model.LLM // optional; nil disables Enhance
}

func (ContractClassifier) Dimension() fact.Dimension { return fact.DimensionContract }

func (ContractClassifier) Regex(_ context.Context, thread *fact.Thread) []fact.Signal {
	last := thread.Last()
	if last == nil || last.Role != fact.RoleUser {
		return nil
	}
	text := strings.TrimSpace(last.Text)
	if len([]rune(text)) <= ackMaxRunes && ackPattern.MatchString(text) {
		return []fact.Signal{{Dimension: fact.DimensionContract, Label: "ack-only", Confidence: 0.85}}
	}
	return nil
}

// Gate short-circuits enhancement for ack-style short input: any turn of
// ackMaxRunes runes or fewer (after trimming) skips the LLM call, whether
// or not the regex matched it.
func (ContractClassifier) Gate(last *fact.Message, _ []*fact.Message) bool {
	if last == nil {
		return false
	}
	return len([]rune(strings.TrimSpace(last.Text))) > ackMaxRunes
}

var contractLabels = map[string]bool{"ack-only": true, "contract-breach": true}

// Enhance asks whether the turn conflicts with an established
// constraint, a judgment the regex pass can't make.
func (c ContractClassifier) Enhance(ctx context.Context, thread *fact.Thread) ([]fact.Signal, error) {
	last := thread.Last()
	if last == nil {
		return nil, nil
	}
	prompt := fmt.Sprintf(
		"Classify the contract dimension of this user turn. Respond with JSON {\"detected\":[{\"signal\":...,\"confidence\":...}]} using only the labels \"ack-only\" or \"contract-breach\", confidence in [0.6,1.0]. Turn: %q",
		last.Text,
	)
	return EnhanceViaLLM(ctx, c.LLM, fact.DimensionContract, prompt, contractLabels)
}
