// Package mock provides test double implementations of AI service interfaces.
//
// # Usage in Tests
//
//	embedder := mock.NewMockEmbedder(3).
//	    WithVector("청년 주거", []float32{1, 0, 0})
//	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
//	    return nil, errors.New("model offline")
//	}
//	count := embedder.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: returns registered vectors, or deterministic unit vectors derived from the text hash
//   - MockChatModel: records calls and returns a canned reply
//   - MockProvider: aggregates both
package mock
