package prompt

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/internal/domain"
	"gateway/internal/infra"
)

type countingRefiner struct {
	calls  atomic.Int32
	source domain.RefineSource
	delay  time.Duration
}

func (c *countingRefiner) Refine(_ context.Context, text string, target domain.Modality) domain.RefinedPrompt {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return domain.RefinedPrompt{Original: text, Refined: "refined " + text, Target: target, Source: c.source}
}

func TestCachedRefinerMemoizesModelResults(t *testing.T) {
	inner := &countingRefiner{source: domain.RefineSourceLLM}
	cached := NewCachedRefiner(inner, 8, time.Minute)

	first := cached.Refine(context.Background(), "city", domain.ModalityImage)
	second := cached.Refine(context.Background(), "city", domain.ModalityImage)
	third := cached.Refine(context.Background(), "city", domain.ModalityAudio)

	assert.Equal(t, first, second)
	assert.Equal(t, domain.ModalityAudio, third.Target)
	assert.EqualValues(t, 2, inner.calls.Load())
	assert.Equal(t, 2, cached.Len())
}

func TestCachedRefinerSkipsFallbackResults(t *testing.T) {
	inner := &countingRefiner{source: domain.RefineSourceFallback}
	cached := NewCachedRefiner(inner, 8, time.Minute)

	cached.Refine(context.Background(), "city", domain.ModalityImage)
	cached.Refine(context.Background(), "city", domain.ModalityImage)

	assert.EqualValues(t, 2, inner.calls.Load())
	assert.Zero(t, cached.Len())
}

func TestCachedRefinerCollapsesConcurrentCalls(t *testing.T) {
	inner := &countingRefiner{source: domain.RefineSourceLLM, delay: 50 * time.Millisecond}
	cached := NewCachedRefiner(inner, 8, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := cached.Refine(context.Background(), "storm", domain.ModalityAudio)
			assert.Equal(t, "refined storm", res.Refined)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, inner.calls.Load())
}

// gatedRefiner blocks until released and degrades to the fallback when its
// context ends first, like the model-backed refiners do.
type gatedRefiner struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRefiner) Refine(ctx context.Context, text string, target domain.Modality) domain.RefinedPrompt {
	g.calls.Add(1)
	close(g.entered)
	select {
	case <-g.release:
		return llmPrompt(text, "refined "+text, target, "gated")
	case <-ctx.Done():
		return fallbackPrompt(text, target)
	}
}

func TestCachedRefinerCallerCancelDoesNotDegradeOthers(t *testing.T) {
	inner := &gatedRefiner{entered: make(chan struct{}), release: make(chan struct{})}
	cached := NewCachedRefiner(inner, 8, time.Minute)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leader := make(chan domain.RefinedPrompt, 1)
	go func() { leader <- cached.Refine(leaderCtx, "x", domain.ModalityAudio) }()
	<-inner.entered

	follower := make(chan domain.RefinedPrompt, 1)
	go func() { follower <- cached.Refine(context.Background(), "x", domain.ModalityAudio) }()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	select {
	case res := <-leader:
		assert.Equal(t, domain.RefineSourceFallback, res.Source)
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not return")
	}

	close(inner.release)
	select {
	case res := <-follower:
		assert.Equal(t, domain.RefineSourceLLM, res.Source)
		assert.Equal(t, "refined x", res.Refined)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.EqualValues(t, 1, inner.calls.Load())
	assert.Equal(t, 1, cached.Len())
}

func TestNewFromConfigSelectsRefiner(t *testing.T) {
	base := infra.Config{PromptProvider: "gemini", RefineCacheSize: 4, RefineCacheTTL: time.Minute}

	r, err := NewFromConfig(&base, nil)
	require.NoError(t, err)
	assert.IsType(t, &StaticRefiner{}, r)

	withGemini := base
	withGemini.GeminiAPIKey = "g"
	r, err = NewFromConfig(&withGemini, nil)
	require.NoError(t, err)
	require.IsType(t, &CachedRefiner{}, r)
	assert.IsType(t, &GeminiRefiner{}, r.(*CachedRefiner).next)

	withOpenAI := base
	withOpenAI.PromptProvider = "openai"
	withOpenAI.OpenAIAPIKey = "o"
	r, err = NewFromConfig(&withOpenAI, nil)
	require.NoError(t, err)
	require.IsType(t, &CachedRefiner{}, r)
	assert.IsType(t, &OpenAIRefiner{}, r.(*CachedRefiner).next)
}
