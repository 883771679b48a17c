// Copyright 2025 Poiesic Systems
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


// Package ai provides abstractions for the external models used by policyrag.
//
// Two collaborators are consumed through narrow interfaces and never
// reimplemented here:
//
//   - Embedder: turns text into a fixed-length vector
//   - ChatModel: answers a conversation given a system prompt
//
// AIProvider bundles both so they share configuration.
//
// # Implementation Packages
//
//   - ai/openai: production implementation using OpenAI-compatible APIs
//   - ai/mock: test doubles for unit testing without external services
//
// Public constructors in ai/openai return interface types. The mock
// constructors return concrete types so tests can inject behavior and
// assert on call counts.
//
// # Usage Example
//
//	config := ai.DefaultConfig()
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vector, err := provider.Embedder().EmbedText(ctx, "청년 월세 지원")
//	answer, err := provider.ChatModel().Complete(ctx, system, messages)
package ai
