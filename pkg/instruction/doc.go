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

// Package instruction implements the instruction composer (C5): building
// the final system instruction for a task-loop LLM call from the static
// system prompt, the rules engine's conclusions, and policy constraints.
// The package also provides placeholder templates (Template, InjectState)
// that are resolved from a state when rendered; Composer.Compose does not
// render them.
//
// # Placeholder Syntax
//
//	{variable}           - composer state variable
//	{app:variable}       - app-scoped state
//	{user:variable}      - user-scoped state
//	{temp:variable}      - temp-scoped state
//	{variable?}          - optional (empty string if not found, no error)
//
// # Usage
//
//	template := "Hello {user_name}, you are working on {app:project_name}."
//	resolved, err := instruction.InjectState(state, template)
//	if err != nil {
//	    return err
//	}
//	// resolved: "Hello Alice, you are working on MyProject."
//
// Using the Template type:
//
//	tmpl := instruction.New("Task: {task}\nRules: {temp:rule_summary?}")
//	resolved, err := tmpl.Render(state)
//
// # Error Handling
//
// Required placeholders (without ?) return an error if not found.
// Optional placeholders (with ?) return an empty string if not found.
// Invalid placeholder names (not valid identifiers) are left as-is.
package instruction
