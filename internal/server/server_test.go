package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alchemistral/internal/agent"
	"alchemistral/internal/broadcast"
	"alchemistral/internal/cliadapter"
	"alchemistral/internal/config"
	"alchemistral/internal/llm"
	"alchemistral/internal/mission"
	"alchemistral/internal/project"
	"alchemistral/internal/scanner"
)

func newTestServer(t *testing.T) (*Server, *broadcast.Broadcaster) {
	t.Helper()
	cfg := config.Load()
	bus := broadcast.NewBroadcaster()
	store := project.NewStoreAt(t.TempDir())
	client := llm.NewClient(config.Static{})

	mgr := agent.NewManager(config.Static{Demo: true}, bus.Publish)
	mgr.NewAdapter = func(string) (cliadapter.Adapter, error) {
		mock := cliadapter.NewMockAdapter()
		mock.StepDelay = 2 * time.Millisecond
		return mock, nil
	}
	executor := mission.NewExecutor(mgr, bus.Publish)
	executor.PollInterval = 5 * time.Millisecond
	pipeline := mission.NewPipeline(store, client, executor, bus.Publish)

	s := New(cfg, store, mgr, pipeline, client, scanner.New(nil, bus.Publish), bus)
	s.envPath = filepath.Join(t.TempDir(), ".env")
	s.vibeEnvPath = filepath.Join(t.TempDir(), ".vibe", ".env")
	return s, bus
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "dev@example.com")
	run("config", "user.name", "dev")
	run("commit", "--allow-empty", "-m", "init")
	return dir
}

func createProject(t *testing.T, s *Server) map[string]any {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/projects", map[string]any{
		"name":       "demo",
		"source":     "local",
		"local_path": initRepo(t),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var proj map[string]any
	decode(t, w, &proj)
	return proj
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestProjectCRUD(t *testing.T) {
	s, _ := newTestServer(t)
	proj := createProject(t, s)
	id := proj["id"].(string)
	require.NotEmpty(t, id)

	w := doJSON(t, s, http.MethodGet, "/api/projects", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	decode(t, w, &list)
	assert.Len(t, list, 1)

	w = doJSON(t, s, http.MethodGet, "/api/projects/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodDelete, "/api/projects/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/projects/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateProjectRejectsBadSource(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/projects", map[string]any{
		"name": "x", "source": "ftp",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGlobalMemoryRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	proj := createProject(t, s)
	id := proj["id"].(string)

	w := doJSON(t, s, http.MethodPut, "/api/projects/"+id+"/memory/global",
		map[string]any{"content": "# Custom\nUse sqlite."})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/projects/"+id+"/memory/global", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "# Custom\nUse sqlite.", body["content"])
}

func TestAgentMemoryEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	proj := createProject(t, s)
	id := proj["id"].(string)

	w := doJSON(t, s, http.MethodGet, "/api/projects/"+id+"/memory/agents/backend.md", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, s, http.MethodPut, "/api/projects/"+id+"/memory/agents/backend.md",
		map[string]any{"content": "implemented /api/users"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/projects/"+id+"/memory/agents", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var names []string
	decode(t, w, &names)
	assert.Equal(t, []string{"backend.md"}, names)
}

func TestDecisionsEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	proj := createProject(t, s)
	id := proj["id"].(string)

	w := doJSON(t, s, http.MethodPost, "/api/projects/"+id+"/memory/decisions",
		map[string]any{"entry": "chose sqlite over postgres"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/projects/"+id+"/memory/decisions", nil)
	var body map[string]string
	decode(t, w, &body)
	assert.Contains(t, body["content"], "chose sqlite over postgres")
}

func TestContractEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	proj := createProject(t, s)
	id := proj["id"].(string)
	alch := filepath.Join(proj["local_path"].(string), ".alchemistral")
	require.NoError(t, project.WriteContract(alch, "api-schema.json", `{"endpoints":[]}`))

	w := doJSON(t, s, http.MethodGet, "/api/projects/"+id+"/contracts", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "api-schema.json", list[0]["file"])

	w = doJSON(t, s, http.MethodGet, "/api/projects/"+id+"/contracts/api-schema.json", nil)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, `{"endpoints":[]}`, body["content"])

	w = doJSON(t, s, http.MethodGet, "/api/projects/"+id+"/contracts/missing.json", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRepromptEndpointFallsBackWithoutKey(t *testing.T) {
	s, _ := newTestServer(t)
	proj := createProject(t, s)
	id := proj["id"].(string)

	w := doJSON(t, s, http.MethodPost, "/api/projects/"+id+"/reprompt",
		map[string]any{"message": "fix the login bug"})
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Original string                 `json:"original"`
		Refined  mission.RepromptResult `json:"refined"`
	}
	decode(t, w, &body)
	assert.Equal(t, "fix the login bug", body.Original)
	assert.Equal(t, "mission", body.Refined.Intent)
	assert.Equal(t, "fix the login bug", body.Refined.Refined)
}

func TestOrchestrateEndpointReturnsMockPlan(t *testing.T) {
	s, _ := newTestServer(t)
	proj := createProject(t, s)
	id := proj["id"].(string)

	w := doJSON(t, s, http.MethodPost, "/api/projects/"+id+"/orchestrate",
		map[string]any{"message": "build a pong game"})
	assert.Equal(t, http.StatusOK, w.Code)

	var plan mission.Plan
	decode(t, w, &plan)
	assert.Len(t, plan.DAG, 4)
	assert.Contains(t, plan.Analysis, "MISTRAL_API_KEY not configured")
}

func TestMissionEndpointStartsPipeline(t *testing.T) {
	s, bus := newTestServer(t)
	proj := createProject(t, s)
	id := proj["id"].(string)

	w := doJSON(t, s, http.MethodPost, "/api/projects/"+id+"/mission",
		map[string]any{"message": "add a hello endpoint"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"started"`)

	// The pipeline runs in the background; wait for mission_complete.
	deadline := time.After(15 * time.Second)
	for {
		complete := false
		for _, e := range bus.History() {
			if e.Type == "mission_complete" {
				complete = true
			}
		}
		if complete {
			break
		}
		select {
		case <-deadline:
			t.Fatal("mission never completed")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestMissionEndpointUnknownProject(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/projects/nope/mission",
		map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAgentEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/agents", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

	w = doJSON(t, s, http.MethodGet, "/api/agents/backend-t1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/agents/backend-t1/kill", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSettingsKeys(t *testing.T) {
	s, _ := newTestServer(t)
	t.Setenv("MISTRAL_API_KEY", "")

	// Unrelated entries in the .env must survive a key update.
	require.NoError(t, godotenv.Write(map[string]string{"OTHER_SETTING": "keep"}, s.envPath))

	w := doJSON(t, s, http.MethodGet, "/api/settings/keys", nil)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "", body["mistral_api_key"])

	w = doJSON(t, s, http.MethodPut, "/api/settings/keys",
		map[string]any{"mistral_api_key": "sk-1234567890abcdef"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Key reached process env, the server .env, and the CLI env file.
	assert.Equal(t, "sk-1234567890abcdef", os.Getenv("MISTRAL_API_KEY"))
	env, err := godotenv.Read(s.envPath)
	require.NoError(t, err)
	assert.Equal(t, "sk-1234567890abcdef", env["MISTRAL_API_KEY"])
	assert.Equal(t, "keep", env["OTHER_SETTING"])
	vibeEnv, err := godotenv.Read(s.vibeEnvPath)
	require.NoError(t, err)
	assert.Equal(t, "sk-1234567890abcdef", vibeEnv["MISTRAL_API_KEY"])

	// GET masks to the first 8 chars.
	w = doJSON(t, s, http.MethodGet, "/api/settings/keys", nil)
	decode(t, w, &body)
	assert.Equal(t, "sk-12345...", body["mistral_api_key"])
}

func TestWebSocketStreamsEvents(t *testing.T) {
	s, bus := newTestServer(t)
	ts := httptest.NewServer(s.Engine())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	// First frame is the online heartbeat.
	var first broadcast.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first.Type)
	assert.Equal(t, "Alchemistral online", first.Text)

	bus.Publish(broadcast.New(broadcast.OrchestratorID, "thinking", "planning..."))

	// Skip heartbeats until the published event arrives.
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "event never arrived")
		var event broadcast.Event
		require.NoError(t, conn.ReadJSON(&event))
		if event.Type == "thinking" {
			assert.Equal(t, "planning...", event.Text)
			return
		}
	}
}
