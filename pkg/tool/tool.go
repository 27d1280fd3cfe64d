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

// Package tool defines the contract that the task loop uses to discover
// and invoke tools, including the human-in-the-loop gate.
//
// # Tool Interface Hierarchy
//
//	Tool (base)
//	  ├── CallableTool       - synchronous execution
//	  ├── StreamingTool      - incremental output
//	  ├── IsLongRunning()    - async operations (returns job ID, polls for completion)
//	  └── RequiresApproval() - human approval before execution
package tool

import (
	"context"
	"iter"
)

// Tool defines the base interface for a callable tool.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description returns a human-readable description of what the tool does.
	Description() string

	// IsLongRunning indicates whether this tool is a long-running async operation.
	IsLongRunning() bool

	// RequiresApproval indicates whether this tool needs human approval before
	// execution. When true, the task loop suspends the cycle and hands the
	// pending call to the approval coordinator before invoking Call.
	RequiresApproval() bool
}

// CallableTool extends Tool with synchronous execution capability.
type CallableTool interface {
	Tool

	// Call executes the tool with the given arguments. Blocks until completion.
	Call(ctx Context, args map[string]any) (map[string]any, error)

	// Schema returns the JSON schema for the tool's parameters, or nil.
	Schema() map[string]any
}

// StreamingTool extends Tool with incremental output capability.
type StreamingTool interface {
	Tool

	// CallStreaming executes the tool and yields incremental results.
	CallStreaming(ctx Context, args map[string]any) iter.Seq2[*Result, error]

	// Schema returns the JSON schema for the tool's parameters.
	Schema() map[string]any
}

// Result represents the output of a tool execution.
type Result struct {
	Content   any
	Streaming bool
	Error     string
	Metadata  map[string]any
}

// Context provides the execution context for a tool invocation. It is
// deliberately narrow: a tool should not be able to reach outside the
// boundary it was invoked under.
type Context interface {
	context.Context

	// CallID returns the unique ID of this tool invocation (matches the
	// tool_call id the model produced).
	CallID() string

	// BoundaryID returns the id of the execution boundary (cycle/step) this
	// call is running under, for attaching observability events.
	BoundaryID() string

	// RequireApproval records that the current call needs human sign-off.
	// The flag is only recorded: approval gating is decided from the tool's
	// RequiresApproval() before Call runs, so setting it does not suspend
	// the call.
	RequireApproval(reason string)
}

// Toolset groups related tools and provides dynamic resolution.
type Toolset interface {
	// Name returns the name of this toolset.
	Name() string

	// Tools returns the available tools.
	Tools(ctx context.Context) ([]Tool, error)
}

// Predicate determines whether a tool should be available to the model.
type Predicate func(tool Tool) bool

// StringPredicate creates a Predicate that allows only named tools.
func StringPredicate(allowedTools []string) Predicate {
	allowed := make(map[string]bool, len(allowedTools))
	for _, name := range allowedTools {
		allowed[name] = true
	}
	return func(tool Tool) bool {
		return allowed[tool.Name()]
	}
}

// AllowAll returns a Predicate that allows all tools.
func AllowAll() Predicate {
	return func(tool Tool) bool { return true }
}

// DenyAll returns a Predicate that denies all tools.
func DenyAll() Predicate {
	return func(tool Tool) bool { return false }
}

// Combine combines multiple predicates with AND logic.
func Combine(predicates ...Predicate) Predicate {
	return func(tool Tool) bool {
		for _, p := range predicates {
			if !p(tool) {
				return false
			}
		}
		return true
	}
}

// Or combines multiple predicates with OR logic.
func Or(predicates ...Predicate) Predicate {
	return func(tool Tool) bool {
		for _, p := range predicates {
			if p(tool) {
				return true
			}
		}
		return false
	}
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return func(tool Tool) bool { return !p(tool) }
}

// Definition represents a tool definition for model function calling.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToDefinition converts a tool to a Definition.
func ToDefinition(t Tool) Definition {
	def := Definition{
		Name:        t.Name(),
		Description: t.Description(),
	}
	if ct, ok := t.(CallableTool); ok {
		def.Parameters = ct.Schema()
	} else if st, ok := t.(StreamingTool); ok {
		def.Parameters = st.Schema()
	}
	return def
}

// Call represents a model's request to invoke a tool.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// CallResult represents the result of a tool invocation, folded back into
// conversation history as a tool-role message.
type CallResult struct {
	CallID   string
	Content  string
	Error    string
	Metadata map[string]any
}
