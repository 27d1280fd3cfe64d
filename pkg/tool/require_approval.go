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

package tool

// RequireApproval wraps a CallableTool so that RequiresApproval always
// reports true, without otherwise touching Call. Unlike a coordinator-aware
// gate, this performs no approval request of its own: it only flips the
// flag that the task loop's own approval handshake reads before invoking
// Call. Use this for tools handed directly to the task loop; a decorator
// that also calls the coordinator would race the loop's own request for
// the same call ID.
func RequireApproval(inner CallableTool) CallableTool {
	return &requireApprovalTool{CallableTool: inner}
}

type requireApprovalTool struct {
	CallableTool
}

func (t *requireApprovalTool) RequiresApproval() bool { return true }
