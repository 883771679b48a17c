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


// Package search provides the hybrid retriever over policy documents.
//
// The Retriever answers one request with exactly one branch:
//   - Vector search over the ANN index, scored by cosine similarity and cut at a threshold
//   - Keyword search by case-insensitive substring, ranked by the field that matched
//
// Filters restrict the candidate set before either branch runs. Rank holds the
// ordering rules as a pure function so they can be tested on their own.
package search
