// Package rag answers questions about youth policies with retrieval-augmented generation.
//
// An Assistant retrieves the policies most related to a question, renders them as
// context blocks in the system prompt and asks the chat model for an answer. The
// answer is returned together with the policies it was grounded on.
package rag
