package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfyrun/pkg/models"
)

const captionWorkflow = `{
  "3": {"class_type": "KSampler", "inputs": {"seed": "%%SEED:int%%", "steps": 20}},
  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": "%%PROMPT:ml%%"}},
  "9": {"class_type": "SaveImage", "inputs": {"filename_prefix": "out"}}
}`

// execute runs the CLI in an empty working directory so no config file is
// picked up.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeWorkflow(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestTokensCommand(t *testing.T) {
	path := writeWorkflow(t, t.TempDir(), "caption.json", captionWorkflow)

	out, err := execute(t, "tokens", path)
	require.NoError(t, err)
	assert.Contains(t, out, "PROMPT")
	assert.Contains(t, out, "%%SEED:int%%")
	assert.Contains(t, out, "true")
}

func TestListCommand(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "b.json", "{}")
	writeWorkflow(t, dir, "a/x.json", "{}")

	out, err := execute(t, "list", "--dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "a/x.json\nb.json\n", out)
}

func TestRunCommand(t *testing.T) {
	var submitted map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt map[string]interface{} `json:"prompt"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		submitted = body.Prompt
		w.Write([]byte(`{"prompt_id":"p-1"}`))
	})
	mux.HandleFunc("/history/p-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"p-1":{"outputs":{"9":{"images":[{"filename":"out_00001_.png","subfolder":"","type":"output"}]}}}}`))
	})
	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "out_00001_.png", r.URL.Query().Get("filename"))
		w.Write([]byte("PNGDATA"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Setenv("COMFYRUN_COMFY_BASE_URL", srv.URL)
	t.Setenv("COMFYRUN_COMFY_POLL_INTERVAL", "10ms")
	path := writeWorkflow(t, t.TempDir(), "caption.json", captionWorkflow)
	outDir := filepath.Join(t.TempDir(), "out")

	out, err := execute(t, "run", path,
		"--set", "PROMPT=a red fox",
		"--override", "3.steps=30",
		"--seed", "99",
		"--out", outDir,
	)
	require.NoError(t, err)

	assert.Contains(t, out, "Prompt:  p-1")
	assert.Contains(t, out, "Seed:    99")
	assert.Contains(t, out, "completed")

	require.NotNil(t, submitted)
	ks := submitted["3"].(map[string]interface{})["inputs"].(map[string]interface{})
	assert.Equal(t, float64(99), ks["seed"])
	assert.Equal(t, float64(30), ks["steps"])
	enc := submitted["6"].(map[string]interface{})["inputs"].(map[string]interface{})
	assert.Equal(t, "a red fox", enc["text"])

	data, err := os.ReadFile(filepath.Join(outDir, "out_00001_.png"))
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))
}

func TestRunCommand_BadAssignment(t *testing.T) {
	path := writeWorkflow(t, t.TempDir(), "caption.json", captionWorkflow)
	_, err := execute(t, "run", path, "--set", "nokey")
	assert.ErrorContains(t, err, "KEY=VALUE")
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"3.steps=30", "6.text=hello", "4.flag=true", "5.expr=a=b"}, true)
	require.NoError(t, err)
	assert.Equal(t, float64(30), got["3.steps"])
	assert.Equal(t, "hello", got["6.text"])
	assert.Equal(t, true, got["4.flag"])
	assert.Equal(t, "a=b", got["5.expr"])

	raw, err := parseAssignments([]string{"SEED=30"}, false)
	require.NoError(t, err)
	assert.Equal(t, "30", raw["SEED"])
}

func TestWriteArtifacts_NameClashes(t *testing.T) {
	dir := t.TempDir()
	arts := []models.Artifact{
		{NodeID: "9", Filename: "x.png", Subfolder: "a", Bytes: []byte("a")},
		{NodeID: "9", Filename: "x.png", Subfolder: "b", Bytes: []byte("b")},
		{NodeID: "9", Filename: "x.png", Subfolder: "c", Bytes: []byte("c")},
		{NodeID: "12", Filename: "x.png", Bytes: []byte("d")},
	}

	paths, err := writeArtifacts(arts, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "x.png"),
		filepath.Join(dir, "9_x.png"),
		filepath.Join(dir, "9_2_x.png"),
		filepath.Join(dir, "12_x.png"),
	}, paths)

	for i, p := range paths {
		raw, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, arts[i].Bytes, raw)
	}
}
