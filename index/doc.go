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


// Package index keeps the secondary indexes that make retrieval fast.
//
// A Manager subscribes to the document store and maintains:
//   - exact and prefix indexes over policy name, category and region
//   - an inverted tag index
//   - a containment index over the open metadata maps
//   - age bounds taken from eligibility
//   - an HNSW graph over embeddings for approximate nearest-neighbor search
//
// All indexes sit behind one lock, so a reader sees each document either
// fully indexed or not at all.
package index
