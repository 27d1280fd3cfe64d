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

package fact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreadAppendAndLast(t *testing.T) {
	th := &Thread{}
	assert.Nil(t, th.Last())

	th.Append(&Message{Role: RoleUser, Text: "hello"})
	th.Append(&Message{Role: RoleAssistant, Text: "hi"})

	last := th.Last()
	assert.NotNil(t, last)
	assert.Equal(t, "hi", last.Text)
	assert.Len(t, th.Messages, 2)
}

func TestThreadLastN(t *testing.T) {
	th := &Thread{}
	assert.Nil(t, th.LastN(3))

	for i := 0; i < 5; i++ {
		th.Append(&Message{Role: RoleUser, Text: "m"})
	}

	assert.Len(t, th.LastN(2), 2)
	assert.Len(t, th.LastN(100), 5)
	assert.Nil(t, th.LastN(0))
}

func TestThreadCloneIsIndependent(t *testing.T) {
	th := &Thread{}
	th.Append(&Message{Role: RoleUser, Text: "one"})

	clone := th.Clone()
	clone.Append(&Message{Role: RoleUser, Text: "two"})

	assert.Len(t, th.Messages, 1)
	assert.Len(t, clone.Messages, 2)
}

func TestThreadCloneOfNil(t *testing.T) {
	var th *Thread
	clone := th.Clone()
	assert.NotNil(t, clone)
	assert.Empty(t, clone.Messages)
}

func TestSignalInRange(t *testing.T) {
	cases := []struct {
		name       string
		confidence float64
		want       bool
	}{
		{"below floor", 0.59, false},
		{"at floor", MinConfidence, true},
		{"mid range", 0.8, true},
		{"at ceiling", MaxConfidence, true},
		{"above ceiling", 1.01, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Signal{Dimension: DimensionIntent, Label: "x", Confidence: tc.confidence}
			assert.Equal(t, tc.want, s.InRange())
		})
	}
}

func TestFactNamespaceAndType(t *testing.T) {
	assert.Equal(t, "perception", Signal{}.Namespace())
	assert.Equal(t, "signal", Signal{}.Type())
	assert.Equal(t, "plan", ExecutionPlan{}.Namespace())
	assert.Equal(t, "execution_plan", ExecutionPlan{}.Type())
	assert.Equal(t, "plan", SelectedPlan{}.Namespace())
	assert.Equal(t, "selected_plan", SelectedPlan{}.Type())
	assert.Equal(t, "context", TurnContext{}.Namespace())
	assert.Equal(t, "turn_context", TurnContext{}.Type())
}
