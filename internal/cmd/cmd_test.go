package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/agentbridge/internal/api"
	"github.com/steveyegge/agentbridge/internal/client"
	"github.com/steveyegge/agentbridge/internal/exitcode"
	"github.com/steveyegge/agentbridge/internal/testutil"
)

// execute runs the root command with args and returns combined output.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(client.EnvURL, "")
	t.Setenv(client.EnvAPIKey, "")
	t.Setenv("NO_COLOR", "1")

	configPath, bridgeURL = "", ""
	statusJSON = false
	hookHintDir = ""
	installCheckOnly = false
	transcriptRaw = false
	configInitForce = false
	configInitFormat = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func exitCodeOf(err error) int {
	var silent *SilentExitError
	if errors.As(err, &silent) {
		return silent.Code
	}
	return exitcode.Code(err)
}

func jsonHandler(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func sampleStatus(running bool) api.Status {
	return api.Status{
		ClaudeRunning:    running,
		SlackConnected:   true,
		CurrentChannel:   "C1",
		CurrentDirectory: "/workspace/a",
		Version:          "test",
		Channels: map[string]api.ChannelStatus{
			"C1": {Name: "alpha", Repo: "/workspace/a", QueueSize: 1, Session: &api.SessionInfo{
				MessageCount: 4, LastActivity: time.Now(),
			}},
			"C2": {Name: "beta", Repo: "/workspace/b"},
		},
	}
}

func TestStatus_RendersChannels(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusOK, sampleStatus(true)))
	defer srv.Close()

	out, err := execute(t, "", "status", "--url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "C1")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "/workspace/b")
}

func TestStatus_JSON(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusOK, sampleStatus(true)))
	defer srv.Close()

	out, err := execute(t, "", "status", "--json", "--url", srv.URL)
	require.NoError(t, err)
	var st api.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "C1", st.CurrentChannel)
	assert.Len(t, st.Channels, 2)
}

func TestStatus_AgentDown(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusOK, sampleStatus(false)))
	defer srv.Close()

	out, err := execute(t, "", "status", "--url", srv.URL)
	assert.Equal(t, exitcode.ErrAgentDown, exitCodeOf(err))
	assert.Contains(t, out, "stopped")
}

func TestStatus_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusUnauthorized, api.ErrorResponse{Error: "API key required."}))
	defer srv.Close()

	_, err := execute(t, "", "status", "--url", srv.URL)
	assert.Equal(t, exitcode.ErrUnauthorized, exitCodeOf(err))
}

func TestStatus_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := execute(t, "", "status", "--url", url)
	code := exitCodeOf(err)
	assert.True(t, code == exitcode.ErrBridgeUnreachable || code == exitcode.ErrTimeout, "code %d", code)
}

func TestClear(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		jsonHandler(http.StatusOK, api.ClearSessionResponse{
			Status: api.StatusOK, ChannelID: "C1", HadSession: true, DiscardedMessages: 2,
		})(w, r)
	}))
	defer srv.Close()

	out, err := execute(t, "", "clear", "C1", "--url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "DELETE /sessions/C1", gotPath)
	assert.Contains(t, out, "session cleared")
	assert.Contains(t, out, "2 pending")
}

func TestClear_UnknownChannel(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusNotFound, api.ErrorResponse{Error: "unknown channel CX"}))
	defer srv.Close()

	_, err := execute(t, "", "clear", "CX", "--url", srv.URL)
	assert.Equal(t, exitcode.ErrChannelNotFound, exitCodeOf(err))
}

func TestTest_ReportsFailures(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusOK, api.TestResponse{
		Status:  api.StatusOK,
		Results: map[string]string{"C1": "sent", "C2": "failed"},
	}))
	defer srv.Close()

	out, err := execute(t, "", "test", "--url", srv.URL)
	assert.Equal(t, exitcode.ErrGeneral, exitCodeOf(err))
	assert.Contains(t, out, "C1")
	assert.Contains(t, out, "failed")
}

func TestRestart_Failure(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusInternalServerError, api.StatusResponse{
		Status: api.StatusError, Message: "Failed to restart Claude Code",
	}))
	defer srv.Close()

	_, err := execute(t, "", "restart", "--url", srv.URL)
	assert.Equal(t, exitcode.ErrAgentDown, exitCodeOf(err))
}

func TestHookStop_PostsToBridge(t *testing.T) {
	var (
		mu     sync.Mutex
		events []api.HookEvent
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev api.HookEvent
		_ = json.NewDecoder(r.Body).Decode(&ev)
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		jsonHandler(http.StatusOK, api.HookResponse{Status: api.StatusOK})(w, r)
	}))
	defer srv.Close()

	transcriptPath := testutil.WriteTranscript(t, testutil.AssistantText("all done"))
	input := `{"session_id":"s1","hook_event_name":"Stop","transcript_path":"` + transcriptPath + `"}`

	out, err := execute(t, input, "hook", "stop", "--url", srv.URL, "--state-dir", t.TempDir())
	require.NoError(t, err)
	assert.JSONEq(t, `{"continue":false}`, strings.TrimSpace(out))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "all done", events[0].StopHookMessage)
}

func TestHookStop_BridgeDownStillExitsZero(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	transcriptPath := testutil.WriteTranscript(t, testutil.AssistantText("x"))
	input := `{"session_id":"s1","hook_event_name":"Stop","transcript_path":"` + transcriptPath + `"}`

	out, err := execute(t, input, "hook", "stop", "--url", url, "--state-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, `"continue":false`)
	assert.Contains(t, out, "Warning:")
}

func TestHookInstall(t *testing.T) {
	settings := filepath.Join(t.TempDir(), "settings.json")

	out, err := execute(t, "", "hook", "install", "--settings", settings)
	require.NoError(t, err)
	assert.Contains(t, out, "Stop hook added")

	out, err = execute(t, "", "hook", "install", "--settings", settings)
	require.NoError(t, err)
	assert.Contains(t, out, "already present")

	_, err = execute(t, "", "hook", "install", "--settings", settings, "--check")
	require.NoError(t, err)
}

func TestHook_RequiresSubcommand(t *testing.T) {
	_, err := execute(t, "", "hook")
	assert.Equal(t, exitcode.ErrUsage, exitCodeOf(err))
}

func TestTranscriptLast(t *testing.T) {
	path := testutil.WriteTranscript(t,
		testutil.AssistantText("## Summary\nfixed it"),
		testutil.AssistantToolUse("Bash"),
	)

	out, err := execute(t, "", "transcript", "last", path, "--raw")
	require.NoError(t, err)
	assert.Equal(t, "## Summary\nfixed it\n", out)

	_, err = execute(t, "", "transcript", "last", filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Equal(t, exitcode.ErrFileNotFound, exitCodeOf(err))
}

func TestConfigInitShowValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("SLACK_APP_TOKEN", "")

	_, err := execute(t, "", "config", "init", path)
	require.NoError(t, err)
	require.FileExists(t, path)

	_, err = execute(t, "", "config", "init", path)
	assert.Equal(t, exitcode.ErrAlreadyExists, exitCodeOf(err))

	out, err := execute(t, "", "config", "show", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "xoxb-****")
	assert.NotContains(t, out, "your-bot-token")

	_, err = execute(t, "", "config", "validate", "-c", path)
	assert.NoError(t, err)
}

func TestConfigValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("slack:\n  bot_token: nope\n"), 0o600))
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("SLACK_APP_TOKEN", "")

	_, err := execute(t, "", "config", "validate", "-c", path)
	assert.Equal(t, exitcode.ErrConfig, exitCodeOf(err))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "agentbridge "+Version)
}
