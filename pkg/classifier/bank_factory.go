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

import "github.com/signalforge/cortex/pkg/model"

// DefaultBank assembles the six spec dimensions into one Bank. llm may
// be nil, in which case the bank runs regex-only even though
// ContractClassifier declares an Enhance method (NewBank's llmEnabled
// gate short-circuits before Enhance is ever called).
func DefaultBank(llm model.LLM) *Bank {
	return NewBank(llm != nil,
		ClaimClassifier{},
		SupportClassifier{},
		CalibrationClassifier{},
		TemporalClassifier{},
		ContractClassifier{LLM: llm},
		IntentClassifier{},
	)
}
