package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider implements Provider plus ChatCapability.
type fakeProvider struct {
	name      string
	connected bool
	caps      map[Capability]bool
	reply     string
	lastErr   error
}

func (f *fakeProvider) Name() string                          { return f.name }
func (f *fakeProvider) Configured() bool                      { return true }
func (f *fakeProvider) Connected(context.Context) bool        { return f.connected }
func (f *fakeProvider) HasCapability(cap Capability) bool     { return f.caps[cap] }
func (f *fakeProvider) ModelsFor(Capability) []string         { return nil }
func (f *fakeProvider) LastError() error                      { return f.lastErr }
func (f *fakeProvider) Capabilities() []Capability {
	var out []Capability
	for cap, ok := range f.caps {
		if ok {
			out = append(out, cap)
		}
	}
	return out
}

func (f *fakeProvider) GenerateCompletion(context.Context, []Message, CompletionOptions) (CompletionResult, error) {
	return CompletionResult{Content: f.reply, Model: f.name}, nil
}

func chatProvider(name string, connected bool) *fakeProvider {
	return &fakeProvider{
		name:      name,
		connected: connected,
		caps:      map[Capability]bool{CapabilityChat: true},
		reply:     "from " + name,
	}
}

func TestProviderForPrefersPrimary(t *testing.T) {
	primary := chatProvider("primary", true)
	fallback := chatProvider("fallback", true)
	svc := NewService(nil, primary, fallback)

	got := svc.ProviderFor(context.Background(), CapabilityChat)
	require.NotNil(t, got)
	assert.Equal(t, "primary", got.Name())
}

func TestFallbackRouting(t *testing.T) {
	primary := chatProvider("primary", false)
	fallback := chatProvider("fallback", true)
	svc := NewService(nil, primary, fallback)
	ctx := context.Background()

	result, err := svc.GenerateCompletion(ctx, []Message{{Role: RoleUser, Content: "hi"}}, CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", result.Content)

	status := svc.GetStatus(ctx)
	assert.True(t, status.Available)
	assert.Equal(t, "fallback", status.Provider)
}

func TestFallbackOrderIsDeterministic(t *testing.T) {
	primary := chatProvider("primary", false)
	first := chatProvider("first", true)
	second := chatProvider("second", true)
	svc := NewService(nil, primary, first, second)

	got := svc.ProviderFor(context.Background(), CapabilityChat)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.Name())
}

func TestNoProviderAvailable(t *testing.T) {
	svc := NewService(nil, chatProvider("primary", false))
	ctx := context.Background()

	_, err := svc.GenerateCompletion(ctx, nil, CompletionOptions{})
	require.Error(t, err)
	assert.Equal(t, ErrKindNoProviderAvailable, KindOf(err))

	// Capability absence fails the same way as disconnection.
	_, err = svc.TextToSpeech(ctx, "hello", SpeechOptions{})
	assert.Equal(t, ErrKindNoProviderAvailable, KindOf(err))

	assert.False(t, svc.Available(ctx))
	status := svc.GetStatus(ctx)
	assert.False(t, status.Available)
	assert.Empty(t, status.Provider)
}

func TestCapabilityWithoutInterfaceFails(t *testing.T) {
	// A provider can claim a capability tag without implementing its
	// interface; the facade must not panic on the assertion.
	p := &fakeProvider{
		name:      "claims-vision",
		connected: true,
		caps:      map[Capability]bool{CapabilityVision: true},
	}
	svc := NewService(nil, p)

	_, err := svc.AnalyzeFiles(context.Background(), nil, "describe", CompletionOptions{})
	require.Error(t, err)
	assert.Equal(t, ErrKindNoProviderAvailable, KindOf(err))
}
