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


package core

import "errors"

// Error taxonomy shared by every component. Callers match with errors.Is.
var (
	// ErrValidation indicates malformed or missing required input. Not retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates an unknown document id or filename.
	ErrNotFound = errors.New("not found")

	// ErrEmbeddingUnavailable indicates the embedding model could not produce a vector.
	// Recoverable: callers may retry in keyword mode.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrIndexInconsistency indicates an index write failed after a successful store write.
	ErrIndexInconsistency = errors.New("index inconsistency")

	// ErrInvalidArgument indicates a malformed request, such as a non-positive limit.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Validation details, wrapped inside ErrValidation.
var (
	ErrEmptyPolicyName     = errors.New("policy name cannot be empty")
	ErrEmptySourceFilename = errors.New("source filename cannot be empty")
	ErrEmptyFullText       = errors.New("full text cannot be empty")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrNegativeCounter     = errors.New("counters cannot be negative")
)
