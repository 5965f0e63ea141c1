package embedding

import "context"

// FakeProvider is a deterministic in-process Provider for tests: it
// derives a vector from each text's byte length rather than any real
// model, and can be configured to fail on demand.
type FakeProvider struct {
	Dims int // default 8 if zero

	// FailWith, if set, is returned unchanged from every Embed call.
	FailWith error

	calls int
}

// NewFakeProvider constructs a FakeProvider with the given vector width.
func NewFakeProvider(dims int) *FakeProvider {
	if dims <= 0 {
		dims = 8
	}
	return &FakeProvider{Dims: dims}
}

// Calls reports how many times Embed has been invoked, for retry tests.
func (f *FakeProvider) Calls() int {
	return f.calls
}

func (f *FakeProvider) Embed(ctx context.Context, modelID string, texts []string) ([][]float32, error) {
	f.calls++
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.Dims)
		for j := range vec {
			vec[j] = float32(len(text)+j) / float32(f.Dims)
		}
		out[i] = vec
	}
	return out, nil
}

func (f *FakeProvider) Dimension(modelID string) int {
	return f.Dims
}
