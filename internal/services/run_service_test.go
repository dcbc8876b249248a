package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"comfyrun/internal/comfy"
	"comfyrun/internal/repository"
	"comfyrun/internal/workflow"
	"comfyrun/pkg/models"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Info(msg string, args ...any)  {}
func (l *NoOpLogger) Error(msg string, args ...any) {}

// MockJobClient satisfies JobClient
type MockJobClient struct {
	mock.Mock
}

func (m *MockJobClient) Run(ctx context.Context, g models.Graph, pollInterval, maxWait time.Duration) (*comfy.Result, error) {
	args := m.Called(ctx, g, pollInterval, maxWait)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*comfy.Result), args.Error(1)
}

func newService(t *testing.T, client JobClient, store repository.RunStore) *RunService {
	svc, err := NewRunService(store, client, RunOptions{PollInterval: time.Millisecond, MaxWait: time.Second}, &NoOpLogger{})
	require.NoError(t, err)
	return svc
}

func TestPrepare_SeedTokenSubstituted(t *testing.T) {
	svc := newService(t, nil, nil)
	g := models.Graph{
		"3": {Inputs: map[string]interface{}{"seed": "%%SEED:int%%", "noise_seed": 1}},
		"6": {Inputs: map[string]interface{}{"text": "%%PROMPT%% (seed %%SEED%%)"}},
	}

	s, specs := svc.Prepare(g, map[string]interface{}{"PROMPT": "a fox", "SEED": "123.0"}, nil)

	assert.Equal(t, int64(123), s)
	assert.Len(t, specs, 2)
	assert.Equal(t, int64(123), g["3"].Inputs["seed"])
	assert.Equal(t, 1, g["3"].Inputs["noise_seed"], "no broadcast when the SEED token exists")
	assert.Equal(t, "a fox (seed 123)", g["6"].Inputs["text"])
}

func TestPrepare_BlankSeedValueStillGeneratesSeed(t *testing.T) {
	svc := newService(t, nil, nil)
	g := models.Graph{"3": {Inputs: map[string]interface{}{"seed": "%%SEED:int%%"}}}

	s, _ := svc.Prepare(g, map[string]interface{}{"SEED": ""}, nil)

	assert.Equal(t, s, g["3"].Inputs["seed"])
	assert.LessOrEqual(t, s, int64(math.MaxUint32))
}

func TestPrepare_NoTokenBroadcasts(t *testing.T) {
	svc := newService(t, nil, nil)
	g := models.Graph{
		"3":  {Inputs: map[string]interface{}{"seed": 0}},
		"10": {Inputs: map[string]interface{}{"noise_seed": 0}},
	}

	s, _ := svc.Prepare(g, nil, 77)

	assert.Equal(t, int64(77), s)
	assert.Equal(t, int64(77), g["3"].Inputs["seed"])
	assert.Equal(t, int64(77), g["10"].Inputs["noise_seed"])
}

func TestExecute_Success(t *testing.T) {
	client := new(MockJobClient)
	store := repository.NewMemoryRunStore()
	svc := newService(t, client, store)

	template := models.Graph{"3": {ClassType: "KSampler", Inputs: map[string]interface{}{"seed": 0, "steps": 20}}}
	arts := []models.Artifact{{Filename: "a.png", Kind: models.ArtifactKindImage, Bytes: []byte("x")}}
	client.On("Run", mock.Anything, mock.MatchedBy(func(g models.Graph) bool {
		return g["3"].Inputs["seed"] == int64(5) && g["3"].Inputs["steps"] == 30
	}), time.Millisecond, time.Second).Return(&comfy.Result{PromptID: "p-1", Artifacts: arts}, nil)

	out, err := svc.Execute(context.Background(), RunRequest{
		Workflow:  "txt2img.json",
		Graph:     template,
		Seed:      "5",
		Overrides: map[string]interface{}{"3.steps": 30},
	})
	require.NoError(t, err)

	assert.Equal(t, arts, out.Artifacts)
	assert.Equal(t, models.RunStatusCompleted, out.Record.Status)
	assert.Equal(t, "p-1", out.Record.PromptID)
	assert.Equal(t, int64(5), out.Record.Seed)
	assert.Equal(t, 1, out.Record.ArtifactCount)
	assert.NotNil(t, out.Record.FinishedAt)
	assert.Equal(t, 0, template["3"].Inputs["seed"], "template is cloned before mutation")

	saved, err := store.Get(context.Background(), out.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, saved.Status)
	client.AssertExpectations(t)
}

func TestExecute_Timeout(t *testing.T) {
	client := new(MockJobClient)
	store := repository.NewMemoryRunStore()
	svc := newService(t, client, store)

	client.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&comfy.Result{PromptID: "p-2"}, &comfy.TimeoutError{PromptID: "p-2", Waited: time.Second})

	out, err := svc.Execute(context.Background(), RunRequest{Workflow: "slow.json", Graph: models.Graph{}})

	var tErr *comfy.TimeoutError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, models.RunStatusTimedOut, out.Record.Status)
	assert.Equal(t, "p-2", out.Record.PromptID)
	assert.Contains(t, out.Record.Error, "p-2")
	assert.Empty(t, out.Artifacts)
}

func TestExecute_UnknownOverrideNode(t *testing.T) {
	client := new(MockJobClient)
	svc := newService(t, client, repository.NewMemoryRunStore())

	out, err := svc.Execute(context.Background(), RunRequest{
		Graph:     models.Graph{"1": {Inputs: map[string]interface{}{}}},
		Overrides: map[string]interface{}{"99.seed": 1},
	})

	assert.ErrorIs(t, err, workflow.ErrNodeNotFound)
	assert.Equal(t, models.RunStatusFailed, out.Record.Status)
	client.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_SubmissionFailure(t *testing.T) {
	client := new(MockJobClient)
	svc := newService(t, client, nil)

	client.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &comfy.SubmissionError{Body: "{}"})

	out, err := svc.Execute(context.Background(), RunRequest{Graph: models.Graph{}})

	var sErr *comfy.SubmissionError
	assert.True(t, errors.As(err, &sErr))
	assert.Equal(t, models.RunStatusFailed, out.Record.Status)
	assert.Empty(t, out.Record.PromptID)
}

// End to end against a fake remote service: a graph without a SEED token
// gets a fresh random seed broadcast into its seed field on every run.
func TestExecute_EndToEndSeedBroadcast(t *testing.T) {
	var (
		mu     sync.Mutex
		seeds  []float64
		nextID int
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt models.Graph `json:"prompt"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		seeds = append(seeds, body.Prompt["3"].Inputs["seed"].(float64))
		nextID++
		id := nextID
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{"prompt_id": "p-" + strconv.Itoa(id)})
	})
	mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/history/"):]
		json.NewEncoder(w).Encode(map[string]interface{}{
			id: map[string]interface{}{"outputs": map[string]interface{}{}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := comfy.NewClient(comfy.Options{BaseURL: srv.URL})
	svc := newService(t, client, repository.NewMemoryRunStore())
	template := models.Graph{"3": {ClassType: "KSampler", Inputs: map[string]interface{}{"seed": 0}}}

	first, err := svc.Execute(context.Background(), RunRequest{Workflow: "w.json", Graph: template})
	require.NoError(t, err)
	second, err := svc.Execute(context.Background(), RunRequest{Workflow: "w.json", Graph: template})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seeds, 2)
	assert.Equal(t, float64(first.Record.Seed), seeds[0])
	assert.Equal(t, first.Record.Seed, first.Graph["3"].Inputs["seed"])
	assert.LessOrEqual(t, seeds[0], float64(math.MaxUint32))
	// 1 in 2^32 chance of a false failure for each comparison
	assert.NotEqual(t, float64(0), seeds[0])
	assert.NotEqual(t, seeds[0], seeds[1])
	assert.Equal(t, second.Record.Seed, int64(seeds[1]))
}

func TestHistory(t *testing.T) {
	store := repository.NewMemoryRunStore()
	svc := newService(t, nil, store)
	require.NoError(t, store.Save(context.Background(), &models.RunRecord{ID: "r1"}))

	runs, err := svc.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	rec, err := svc.Lookup(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", rec.ID)
}
