// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package instruction

// PromptTable maps signal labels to the two text fragments the composer
// splices into a composed instruction: an adaptation (a behavioral
// modifier) and a length-guidance hint. Lookups are table-of-strings, in
// the teacher's prompt_slots idiom, rather than templated per signal.
type PromptTable struct {
	adaptations     map[string]string
	lengthGuidance  map[string]string
	toolInstruction string
}

// NewPromptTable returns the module's default table, grounded on the six
// classifier dimensions in the spec.
func NewPromptTable() *PromptTable {
	return &PromptTable{
		adaptations: map[string]string{
			"ack-only":       "The user's turn is a brief acknowledgement. Do not re-explain prior content; reply briefly.",
			"investigate":    "The user wants you to explore the workspace before answering. Use the available tools before drawing conclusions.",
			"high-certainty": "The user stated a claim with high certainty. Weigh it but verify before agreeing outright.",
			"forecast":       "The user is asking about a future outcome. Separate what is known from what is projected.",
			"unsupported":    "The prior claim lacks cited support. Ask for or supply grounding before proceeding.",
			"stale-reference": "The user is referencing something that may be out of date. Confirm recency before relying on it.",
			"contract-breach": "The user's request conflicts with an established constraint. Flag the conflict explicitly.",
		},
		lengthGuidance: map[string]string{
			"ack-only":    "Keep the response to one short sentence.",
			"investigate": "Use as much space as needed to report findings, but lead with a summary.",
			"forecast":    "State the forecast and its basis in two to four sentences.",
		},
		toolInstruction: "You have access to the tools listed below. Call a tool only when it is necessary to answer correctly; narrate your plan before tool calls that have side effects.",
	}
}

// AdaptationsFor returns the adaptation text for each signal label in
// labels, in the order given, skipping labels with no table entry and
// de-duplicating repeated labels (insertion order preserved as required
// by §4.4: "order is deterministic, signal insertion order with
// de-duplication").
func (p *PromptTable) AdaptationsFor(labels []string) []string {
	return p.lookupDeduped(p.adaptations, labels)
}

// LengthGuidanceFor returns the length-guidance text for each signal
// label in labels, same ordering rules as AdaptationsFor.
func (p *PromptTable) LengthGuidanceFor(labels []string) []string {
	return p.lookupDeduped(p.lengthGuidance, labels)
}

func (p *PromptTable) lookupDeduped(table map[string]string, labels []string) []string {
	seen := make(map[string]bool, len(labels))
	var out []string
	for _, l := range labels {
		if seen[l] {
			continue
		}
		seen[l] = true
		if text, ok := table[l]; ok {
			out = append(out, text)
		}
	}
	return out
}

// ToolInstructions returns the fixed tool-use preamble spliced into the
// system instruction when a plan's strategy has tools attached.
func (p *PromptTable) ToolInstructions() string {
	return p.toolInstruction
}
