package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cligate/internal/backend"
	"cligate/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubProber struct {
	calls  atomic.Int32
	models []models.ModelDescriptor
	err    error
}

func (p *stubProber) Probe(context.Context) ([]models.ModelDescriptor, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return p.models, nil
}

func TestDynamicProbesOnce(t *testing.T) {
	prober := &stubProber{models: []models.ModelDescriptor{{ID: "gpt-5", OwnedBy: models.OwnerOpenAI}}}
	svc := NewDynamic(prober, NewCache())

	first := svc.Models(context.Background())
	second := svc.Models(context.Background())

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"gpt-5"}, IDs(first))
	assert.EqualValues(t, 1, prober.calls.Load())
}

func TestDynamicConcurrentCallersShareProbe(t *testing.T) {
	prober := &stubProber{models: []models.ModelDescriptor{{ID: "gpt-5"}}}
	svc := NewDynamic(prober, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, svc.IsValid(context.Background(), "gpt-5"))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, prober.calls.Load())
}

func TestProbeFailureCachesFallback(t *testing.T) {
	prober := &stubProber{err: errors.New("spawn failed")}
	svc := NewDynamic(prober, NewCache())

	assert.Equal(t, Fallback(), svc.Models(context.Background()))
	assert.True(t, svc.IsValid(context.Background(), "gpt-5-mini"))
	assert.EqualValues(t, 1, prober.calls.Load())
}

func TestClearCacheProbesAgain(t *testing.T) {
	prober := &stubProber{models: []models.ModelDescriptor{{ID: "gpt-5"}}}
	svc := NewDynamic(prober, NewCache())

	svc.Models(context.Background())
	svc.ClearCache()
	svc.Models(context.Background())
	assert.EqualValues(t, 2, prober.calls.Load())
}

func TestCancelledCallerDoesNotCacheFallback(t *testing.T) {
	prober := &ctxProber{}
	svc := NewDynamic(prober, NewCache())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, []string{"gpt-4.1"}, IDs(svc.Models(ctx)))
}

type ctxProber struct{}

func (ctxProber) Probe(ctx context.Context) ([]models.ModelDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []models.ModelDescriptor{{ID: "gpt-4.1"}}, nil
}

func TestFixedNeverProbes(t *testing.T) {
	svc := NewFixed("claude-haiku-4-5-20251001")

	set := svc.Models(context.Background())
	require.Len(t, set, 1)
	assert.Equal(t, models.ModelDescriptor{ID: "claude-haiku-4-5-20251001", OwnedBy: models.OwnerAnthropic}, set[0])
	assert.False(t, svc.IsValid(context.Background(), "gpt-4.1"))
	svc.ClearCache()
	assert.Len(t, svc.Preload(context.Background()), 1)
}

func TestLookupFold(t *testing.T) {
	svc := NewDynamic(&stubProber{models: []models.ModelDescriptor{{ID: "claude-sonnet-4.5"}}}, nil)

	_, ok := svc.Lookup(context.Background(), "Claude-Sonnet-4.5")
	assert.False(t, ok)

	m, ok := svc.LookupFold(context.Background(), "Claude-Sonnet-4.5")
	assert.True(t, ok)
	assert.Equal(t, "claude-sonnet-4.5", m.ID)
}

func TestCacheReturnsCopies(t *testing.T) {
	c := NewCache()
	_, ok := c.Get()
	assert.False(t, ok)

	c.Set([]models.ModelDescriptor{{ID: "a"}})
	got, ok := c.Get()
	require.True(t, ok)
	got[0].ID = "mutated"

	again, _ := c.Get()
	assert.Equal(t, "a", again[0].ID)

	c.Clear()
	_, ok = c.Get()
	assert.False(t, ok)
}

func TestParseAllowedChoices(t *testing.T) {
	out := "error: option '--model <model>' argument 'invalid-model-for-discovery' is invalid. Allowed choices are claude-sonnet-4.5, gpt-5.1, , gemini-3-pro-preview, o3-mini, mystery.\n"

	found, err := ParseAllowedChoices(out)
	require.NoError(t, err)
	assert.Equal(t, []models.ModelDescriptor{
		{ID: "claude-sonnet-4.5", OwnedBy: models.OwnerAnthropic},
		{ID: "gpt-5.1", OwnedBy: models.OwnerOpenAI},
		{ID: "gemini-3-pro-preview", OwnedBy: models.OwnerGoogle},
		{ID: "o3-mini", OwnedBy: models.OwnerOpenAI},
		{ID: "mystery", OwnedBy: models.OwnerUnknown},
	}, found)
}

func TestParseAllowedChoicesRejectsOtherOutput(t *testing.T) {
	_, err := ParseAllowedChoices("unknown option --model")
	assert.ErrorIs(t, err, ErrUnparsable)
}

func TestInferOwner(t *testing.T) {
	cases := map[string]models.Owner{
		"claude-opus-4.5": models.OwnerAnthropic,
		"gpt-4.1":         models.OwnerOpenAI,
		"o1-preview":      models.OwnerOpenAI,
		"o4-mini":         models.OwnerOpenAI,
		"gemini-2.5-pro":  models.OwnerGoogle,
		"llama-3":         models.OwnerUnknown,
	}
	for id, want := range cases {
		assert.Equal(t, want, InferOwner(id), id)
	}
}

func helperCommand(mode string) backend.CommandFunc {
	return func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, arg...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode)
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("HELPER_MODE") {
	case "choices":
		fmt.Fprintln(os.Stderr, "error: argument 'invalid-model-for-discovery' is invalid. Allowed choices are gpt-5, claude-sonnet-4.5.")
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stdout, "usage: cli [options]")
	}
	os.Exit(0)
}

func TestCLIProber(t *testing.T) {
	runner := backend.NewRunner(backend.RunnerOptions{Command: helperCommand("choices")})

	found, err := NewCLIProber(runner, "copilot", "copilot").Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-5", "claude-sonnet-4.5"}, IDs(found))
}

func TestCLIProberUnparsable(t *testing.T) {
	runner := backend.NewRunner(backend.RunnerOptions{Command: helperCommand("usage")})

	_, err := NewCLIProber(runner, "copilot", "copilot").Probe(context.Background())
	assert.ErrorIs(t, err, ErrUnparsable)
}

func TestCLIProberMissingBinary(t *testing.T) {
	runner := backend.NewRunner(backend.RunnerOptions{})

	_, err := NewCLIProber(runner, "copilot", "/nonexistent/cligate-cli").Probe(context.Background())
	assert.Equal(t, backend.KindSpawn, backend.KindOf(err))
}
