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
// limitations under the License.// Package storage provides the storage abstraction layer for policyrag.
//

// This package defines the DocumentRepository interface that decouples the
// document store from retrieval and ingestion logic. Two backends implement it:
// storage/badger (embedded, the default) and storage/postgres (pgvector).
//
// # Backends
//
// Backend packages return their concrete repository types; consumers should
// depend on storage.DocumentRepository:
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	repo, err := badger.NewDocumentRepository(backend, 1024)
//
// # Index Maintenance
//
// Secondary indexes live outside the store. They register through Subscribe and
// receive OnUpsert/OnDelete after every committed mutation, in commit order for
// any single source filename.
//
// # Usage
//
// Use in tests with in-memory storage:
//
//	repo, backend, err := badger.NewMemoryRepository(3)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//	defer repo.Close()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
