package backend

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cligate/internal/models"
	"cligate/internal/workspace"
)

type testVariant struct {
	artifact workspace.Artifact
}

func (testVariant) Name() string                   { return "copilot" }
func (testVariant) CLIPath() string                { return "fake-cli" }
func (v testVariant) Artifact() workspace.Artifact { return v.artifact }
func (testVariant) Model(requested string) string  { return requested }
func (testVariant) Clean(output string) string     { return strings.TrimSpace(StripSystemReminders(output)) }
func (testVariant) Args(prompt, model, _ string, _ bool) []string {
	return []string{"-p", prompt, "--model", model}
}

type recordingSink struct {
	fragments []string
	done      int
}

func (s *recordingSink) Fragment(text string) error {
	s.fragments = append(s.fragments, text)
	return nil
}

func (s *recordingSink) Done() error {
	s.done++
	return nil
}

func newTestCLI(t *testing.T, mode string, opts RunnerOptions) (*CLI, string) {
	t.Helper()
	base := t.TempDir()
	workspaces, err := workspace.NewManager(base, "cligate-test")
	require.NoError(t, err)

	opts.Command = helperCommand(mode)
	cli, err := NewCLI(testVariant{artifact: workspace.ArtifactAgentsFile}, NewRunner(opts), workspaces)
	require.NoError(t, err)
	return cli, base
}

func assertNoWorkspaces(t *testing.T, base string) {
	t.Helper()
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries, "per-request directories must be removed")
}

func TestNewCLIValidatesInputs(t *testing.T) {
	workspaces, err := workspace.NewManager(t.TempDir(), "")
	require.NoError(t, err)
	runner := NewRunner(RunnerOptions{})

	_, err = NewCLI(nil, runner, workspaces)
	assert.Error(t, err)
	_, err = NewCLI(testVariant{}, nil, workspaces)
	assert.Error(t, err)
	_, err = NewCLI(testVariant{}, runner, nil)
	assert.Error(t, err)
}

func TestExecuteRunsInFreshWorkspace(t *testing.T) {
	cli, base := newTestCLI(t, "pwd", RunnerOptions{})

	completion, err := cli.Execute(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}, "gpt-4.1")
	require.NoError(t, err)

	assert.Equal(t, "gpt-4.1", completion.Model)
	assert.True(t, strings.HasPrefix(completion.Text, base), "cwd %q should live under %q", completion.Text, base)
	assertNoWorkspaces(t, base)
}

func TestExecuteWritesSystemPromptArtifact(t *testing.T) {
	cli, base := newTestCLI(t, "agents", RunnerOptions{})

	completion, err := cli.Execute(context.Background(), []models.ChatMessage{
		{Role: models.RoleSystem, Content: "Be brief."},
		{Role: models.RoleSystem, Content: "Use Go."},
		{Role: models.RoleUser, Content: "hi"},
	}, "gpt-4.1")
	require.NoError(t, err)
	assert.Equal(t, "Be brief.\n\nUse Go.", completion.Text)
	assertNoWorkspaces(t, base)
}

func TestExecutePassesTransformedPrompt(t *testing.T) {
	cli, base := newTestCLI(t, "args", RunnerOptions{})

	completion, err := cli.Execute(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "What is 2+2?"}}, "gpt-5")
	require.NoError(t, err)
	assert.Equal(t, "-p|What is 2+2?|--model|gpt-5", completion.Text)
	assertNoWorkspaces(t, base)
}

func TestExecuteFailureStillCleansUp(t *testing.T) {
	cli, base := newTestCLI(t, "fail", RunnerOptions{})

	_, err := cli.Execute(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}, "gpt-4.1")
	assert.Equal(t, KindExecution, KindOf(err))
	assertNoWorkspaces(t, base)
}

func TestExecuteTimeoutStillCleansUp(t *testing.T) {
	cli, base := newTestCLI(t, "sleep", RunnerOptions{Timeout: 200 * time.Millisecond})

	_, err := cli.Execute(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}, "gpt-4.1")
	assert.ErrorIs(t, err, ErrTimeout)
	assertNoWorkspaces(t, base)
}

func TestExecuteStreamCallsDoneAfterFragments(t *testing.T) {
	cli, base := newTestCLI(t, "stream", RunnerOptions{})
	sink := &recordingSink{}

	err := cli.ExecuteStream(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}, "gpt-4.1", sink)
	require.NoError(t, err)
	assert.Equal(t, "Hello wörld", strings.Join(sink.fragments, ""))
	assert.Equal(t, 1, sink.done)
	assertNoWorkspaces(t, base)
}

func TestExecuteStreamFailureSkipsDone(t *testing.T) {
	cli, base := newTestCLI(t, "stream-fail", RunnerOptions{})
	sink := &recordingSink{}

	err := cli.ExecuteStream(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}, "gpt-4.1", sink)
	assert.Equal(t, KindExecution, KindOf(err))
	assert.Zero(t, sink.done)
	assertNoWorkspaces(t, base)
}

type cancellingSink struct {
	recordingSink
	cancel context.CancelFunc
}

func (s *cancellingSink) Fragment(text string) error {
	s.cancel()
	return s.recordingSink.Fragment(text)
}

func TestExecuteStreamCancelledStillCleansUp(t *testing.T) {
	cli, base := newTestCLI(t, "stream-stall", RunnerOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &cancellingSink{cancel: cancel}

	start := time.Now()
	err := cli.ExecuteStream(ctx, []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}, "gpt-4.1", sink)

	assert.Less(t, time.Since(start), terminateGrace, "a disconnected client must stop the child promptly")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, KindTimeout, KindOf(err))
	assert.Equal(t, []string{"Hel"}, sink.fragments)
	assert.Zero(t, sink.done)
	assertNoWorkspaces(t, base)
}

func TestExecuteStreamTimeoutStillCleansUp(t *testing.T) {
	cli, base := newTestCLI(t, "stream-stall", RunnerOptions{Timeout: 500 * time.Millisecond})
	sink := &recordingSink{}

	err := cli.ExecuteStream(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}, "gpt-4.1", sink)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, sink.done)
	assertNoWorkspaces(t, base)
}

func TestExecuteDeltas(t *testing.T) {
	cli, base := newTestCLI(t, "stream", RunnerOptions{})

	var got strings.Builder
	err := cli.ExecuteDeltas(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}, "gpt-4.1", func(d Delta) error {
		got.WriteString(d.Content)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello wörld", got.String())
	assertNoWorkspaces(t, base)
}

func TestExecuteDeltasConsumerError(t *testing.T) {
	cli, base := newTestCLI(t, "stream", RunnerOptions{})
	stop := errors.New("stop")

	err := cli.ExecuteDeltas(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}, "gpt-4.1", func(Delta) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assertNoWorkspaces(t, base)
}

func TestVersion(t *testing.T) {
	cli, _ := newTestCLI(t, "version", RunnerOptions{})

	version, err := cli.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", version)
}

func TestVersionNonZeroExit(t *testing.T) {
	cli, _ := newTestCLI(t, "fail", RunnerOptions{})

	_, err := cli.Version(context.Background())
	assert.Error(t, err)
}

func TestStripSystemReminders(t *testing.T) {
	in := "a<system-reminder>x\ny</system-reminder>b<system-reminder>z</system-reminder>c"
	assert.Equal(t, "abc", StripSystemReminders(in))
}
