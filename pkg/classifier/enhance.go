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
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/signalforge/cortex/pkg/fact"
	"github.com/signalforge/cortex/pkg/model"
)

// detectedSchemaDoc is the strict JSON schema every enhancement call is
// validated against before any entry is accepted, per §4.1: "Parsing
// rejects entries outside the dimension's signal set or outside
// [0.6, 1.0]".
const detectedSchemaDoc = `{
  "type": "object",
  "properties": {
    "detected": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "signal": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0.6, "maximum": 1.0}
        },
        "required": ["signal", "confidence"]
      }
    }
  },
  "required": ["detected"]
}`

var detectedSchema = compileDetectedSchema()

func compileDetectedSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("detected.json", bytes.NewReader([]byte(detectedSchemaDoc))); err != nil {
		panic(fmt.Sprintf("classifier: invalid embedded schema: %v", err))
	}
	schema, err := compiler.Compile("detected.json")
	if err != nil {
		panic(fmt.Sprintf("classifier: schema compile failed: %v", err))
	}
	return schema
}

type detectedEntry struct {
	Signal     string  `json:"signal"`
	Confidence float64 `json:"confidence"`
}

type detectedResponse struct {
	Detected []detectedEntry `json:"detected"`
}

// EnhanceViaLLM issues a short completion asking the model for
// {"detected": [{"signal": ..., "confidence": ...}]}, validates the raw
// JSON against detectedSchema, and filters entries to allowedLabels and
// [MinConfidence, MaxConfidence]. Shared by every classifier's Enhance
// implementation so the JSON-schema-validated LLM path is written once.
func EnhanceViaLLM(ctx context.Context, llm model.LLM, dimension fact.Dimension, prompt string, allowedLabels map[string]bool) ([]fact.Signal, error) {
	if llm == nil {
		return nil, fmt.Errorf("classifier: no LLM configured")
	}

	req := &model.Request{
		SystemInstruction: prompt,
		Config: &model.GenerateConfig{
			ResponseMIMEType: "application/json",
			ResponseSchemaName: "detected",
		},
	}

	var raw string
	for resp, err := range llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return nil, fmt.Errorf("classifier: enhancement call failed: %w", err)
		}
		if resp != nil && !resp.Partial {
			raw = resp.Text
		}
	}
	if raw == "" {
		return nil, fmt.Errorf("classifier: empty enhancement response")
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("classifier: malformed JSON response: %w", err)
	}
	if err := detectedSchema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("classifier: response failed schema validation: %w", err)
	}

	var parsed detectedResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("classifier: decode failed: %w", err)
	}

	var out []fact.Signal
	for _, e := range parsed.Detected {
		if !allowedLabels[e.Signal] {
			continue
		}
		if e.Confidence < fact.MinConfidence || e.Confidence > fact.MaxConfidence {
			continue
		}
		out = append(out, fact.Signal{Dimension: dimension, Label: e.Signal, Confidence: e.Confidence})
	}
	return out, nil
}
