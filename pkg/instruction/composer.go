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

import (
	"fmt"
	"math"
	"strings"

	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/utils"
)

// CompositionType selects how Compose assembles the output thread (§4.4).
type CompositionType string

const (
	// CompositionDefault builds a full thread: optional frame exchange,
	// system instruction, optional task-alignment micro-dialogue, primary
	// prompt, tee prompt, user input.
	CompositionDefault CompositionType = "default"
	// CompositionContinuation reuses an existing built thread and
	// optionally appends a new user message, to progress a task without
	// repeating system/primary prompts.
	CompositionContinuation CompositionType = "continuation"
	// CompositionAccumulation appends a new system+primary pair to an
	// accumulated history without a new user input, used for synthesis
	// steps.
	CompositionAccumulation CompositionType = "accumulation"
)

// Literal strings carried over from the spec's glossary verbatim.
const (
	teePrompt          = "The following is your primary instruction for this session:"
	frameUserText      = "I'd like you to maintain context across this session."
	frameAssistantText = "Understood. I will maintain this context across our session."
	taskAlignmentUser  = "You are entering a task-execution loop. Use the available tools to make progress, and state when you have completed the task."
	taskAlignmentAsst  = "Understood. I will use the available tools as needed and report completion explicitly."
	synthesisPrompt    = "What did you discover?"
)

// Input is everything Compose needs to assemble one instruction thread.
type Input struct {
	Plan            fact.ExecutionPlan
	Facts           []fact.Fact
	Thread          *fact.Thread // prior conversation (default/accumulation base)
	ExistingBuilt   *fact.Thread // previously composed thread (continuation base)
	UserInput       string
	Frame           bool
	CompositionType CompositionType
	Cwd             string
	RoleBaseTokens  int // 0 => default 500
	SystemPersona   string
}

// Composed is the instruction composer's output: a ready-to-send thread
// plus the auxiliary text and budget the plan executor and task loop
// consult separately.
type Composed struct {
	Thread           *fact.Thread
	Indices          map[string]int // semantic position -> message index
	Adaptations      string
	LengthGuidance   string
	ToolInstructions string
	MaxTokens        int
	Metadata         map[string]any
}

// Composer assembles the final instruction thread for a plan, folding in
// rule-derived adaptations, length guidance, and the token budget.
type Composer struct {
	prompts  *PromptTable
	counter  *utils.TokenCounter
}

// NewComposer builds a Composer with the module's default prompt table.
// counter may be nil; when set, Compose reports the composed thread's
// measured token count in Composed.Metadata["measuredTokens"], grounded
// on the teacher's tiktoken-backed TokenCounter rather than a hand-rolled
// approximation.
func NewComposer(counter *utils.TokenCounter) *Composer {
	return &Composer{prompts: NewPromptTable(), counter: counter}
}

// Compose implements §4.4's three composition types.
func (c *Composer) Compose(in Input) (*Composed, error) {
	switch in.CompositionType {
	case CompositionContinuation:
		return c.composeContinuation(in)
	case CompositionAccumulation:
		return c.composeAccumulation(in)
	default:
		return c.composeDefault(in)
	}
}

func (c *Composer) composeDefault(in Input) (*Composed, error) {
	thread := &fact.Thread{}
	indices := map[string]int{}

	if in.Frame {
		indices["frame_user"] = len(thread.Messages)
		thread.Append(&fact.Message{Role: fact.RoleUser, Text: frameUserText, SemanticTag: "frame"})
		indices["frame_assistant"] = len(thread.Messages)
		thread.Append(&fact.Message{Role: fact.RoleAssistant, Text: frameAssistantText, SemanticTag: "frame"})
	}

	adaptations, lengthGuidance, toolInstructions := c.resolveText(in)

	systemText := c.buildSystemText(in, adaptations, lengthGuidance, toolInstructions)
	indices["system"] = len(thread.Messages)
	thread.Append(&fact.Message{Role: fact.RoleSystem, Text: systemText, SemanticTag: "system"})

	if in.Plan.Strategy == fact.StrategyTask {
		indices["task_alignment_user"] = len(thread.Messages)
		thread.Append(&fact.Message{Role: fact.RoleUser, Text: taskAlignmentUser, SemanticTag: "task_alignment"})
		indices["task_alignment_assistant"] = len(thread.Messages)
		thread.Append(&fact.Message{Role: fact.RoleAssistant, Text: taskAlignmentAsst, SemanticTag: "task_alignment"})
	}

	primaryText := c.buildPrimaryText(in)
	indices["primary"] = len(thread.Messages)
	thread.Append(&fact.Message{Role: fact.RoleUser, Text: primaryText, SemanticTag: "primary"})

	indices["tee"] = len(thread.Messages)
	thread.Append(&fact.Message{Role: fact.RoleUser, Text: teePrompt, SemanticTag: "tee"})

	indices["user_input"] = len(thread.Messages)
	thread.Append(&fact.Message{Role: fact.RoleUser, Text: in.UserInput, SemanticTag: "user_input"})

	return c.finish(in, thread, indices, adaptations, lengthGuidance, toolInstructions)
}

func (c *Composer) composeContinuation(in Input) (*Composed, error) {
	base := in.ExistingBuilt
	if base == nil {
		base = &fact.Thread{}
	}
	thread := base.Clone()
	indices := map[string]int{"continued_from": len(base.Messages) - 1}

	if in.UserInput != "" {
		indices["user_input"] = len(thread.Messages)
		thread.Append(&fact.Message{Role: fact.RoleUser, Text: in.UserInput, SemanticTag: "user_input"})
	}

	adaptations, lengthGuidance, toolInstructions := c.resolveText(in)
	return c.finish(in, thread, indices, adaptations, lengthGuidance, toolInstructions)
}

func (c *Composer) composeAccumulation(in Input) (*Composed, error) {
	base := in.Thread
	thread := base.Clone()
	indices := map[string]int{}

	adaptations, lengthGuidance, toolInstructions := c.resolveText(in)

	systemText := c.buildSystemText(in, adaptations, lengthGuidance, toolInstructions)
	indices["system"] = len(thread.Messages)
	thread.Append(&fact.Message{Role: fact.RoleSystem, Text: systemText, SemanticTag: "system"})

	primaryText := in.UserInput
	if primaryText == "" {
		primaryText = synthesisPrompt
	}
	indices["primary"] = len(thread.Messages)
	thread.Append(&fact.Message{Role: fact.RoleUser, Text: primaryText, SemanticTag: "primary"})

	return c.finish(in, thread, indices, adaptations, lengthGuidance, toolInstructions)
}

func (c *Composer) resolveText(in Input) (adaptations, lengthGuidance, toolInstructions string) {
	var labels []string
	for _, f := range in.Facts {
		switch v := f.(type) {
		case fact.Signal:
			labels = append(labels, v.Label)
		case fact.Adaptation:
			labels = append(labels, v.Key)
		}
	}
	adaptations = strings.Join(c.prompts.AdaptationsFor(labels), "\n")
	lengthGuidance = strings.Join(c.prompts.LengthGuidanceFor(labels), "\n")
	if in.Plan.HasTools || len(in.Plan.Tools) > 0 {
		toolInstructions = c.prompts.ToolInstructions()
	}
	return
}

func (c *Composer) buildSystemText(in Input, adaptations, lengthGuidance, toolInstructions string) string {
	var b strings.Builder
	if in.SystemPersona != "" {
		b.WriteString(in.SystemPersona)
	} else {
		fmt.Fprintf(&b, "You are operating under the %q execution plan.", in.Plan.Name)
	}
	if in.Plan.Rationale != "" {
		fmt.Fprintf(&b, "\n\nRationale: %s", in.Plan.Rationale)
	}
	if toolInstructions != "" {
		b.WriteString("\n\n")
		b.WriteString(toolInstructions)
	}
	if adaptations != "" {
		b.WriteString("\n\n")
		b.WriteString(adaptations)
	}
	if lengthGuidance != "" {
		b.WriteString("\n\n")
		b.WriteString(lengthGuidance)
	}
	if in.Cwd != "" {
		fmt.Fprintf(&b, "\n\nWorking directory: %s", in.Cwd)
	}
	return b.String()
}

func (c *Composer) buildPrimaryText(in Input) string {
	if in.Plan.Role != "" {
		return fmt.Sprintf("Acting as %s, address the user's request below.", in.Plan.Role)
	}
	return "Address the user's request below."
}

func (c *Composer) finish(in Input, thread *fact.Thread, indices map[string]int, adaptations, lengthGuidance, toolInstructions string) (*Composed, error) {
	maxTokens := c.tokenBudget(in)
	out := &Composed{
		Thread:           thread,
		Indices:          indices,
		Adaptations:      adaptations,
		LengthGuidance:   lengthGuidance,
		ToolInstructions: toolInstructions,
		MaxTokens:        maxTokens,
		Metadata:         map[string]any{"compositionType": string(in.CompositionType)},
	}
	if c.counter != nil {
		var sb strings.Builder
		for _, m := range thread.Messages {
			sb.WriteString(m.Text)
			sb.WriteString("\n")
		}
		out.Metadata["measuredTokens"] = c.counter.Count(sb.String())
	}
	return out, nil
}

// signalMultipliers is the static signal-indexed multiplier table
// referenced by §4.4's token budget formula. Signals whose multiplier a
// module rule already contributes via a TokenMultiplier fact (ack-only,
// forecast, high-certainty) are deliberately absent here — each
// conceptual multiplier is applied exactly once, never from both the
// signal label and the fact it triggers.
var signalMultipliers = map[string]float64{
	"investigate": 1.2,
}

// tokenBudget implements: clamp(round(baseTokens * product(multipliers)), 50, 4000).
func (c *Composer) tokenBudget(in Input) int {
	base := in.RoleBaseTokens
	if base <= 0 {
		base = 500
	}
	product := 1.0
	for _, f := range in.Facts {
		switch v := f.(type) {
		case fact.Signal:
			if m, ok := signalMultipliers[v.Label]; ok {
				product *= m
			}
		case fact.TokenMultiplier:
			product *= v.Multiplier
		}
	}
	value := int(math.Round(float64(base) * product))
	return clamp(value, 50, 4000)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
