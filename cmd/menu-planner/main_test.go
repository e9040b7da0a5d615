package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeGroq answers every chat completion with the first item id listed
// in the prompt.
func newFakeGroq(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		prompt := req.Messages[len(req.Messages)-1].Content
		_, table, _ := strings.Cut(prompt, "CSV CONTEXT:\n")
		rows := strings.Split(table, "\n")
		id, _, _ := strings.Cut(rows[1], ",")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "fake",
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": id}}},
			"usage":   map[string]int{"prompt_tokens": 50, "completion_tokens": 2, "total_tokens": 52},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	closeResources()
	require.NoError(t, err, strings.Join(args, " "))
	return out.String()
}

func TestCommands(t *testing.T) {
	var calls atomic.Int32
	groq := newFakeGroq(t, &calls)

	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "menu.db"))
	t.Setenv("LLM_PROVIDER", "groq")
	t.Setenv("GROQ_API_KEY", "test-key")
	t.Setenv("GROQ_BASE_URL", groq.URL)
	t.Setenv("PLANNER_DEFAULT_ALLERGENS", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("LOG_LEVEL", "error")

	out := run(t, "import-catalog", filepath.Join("..", "..", "data", "catalog.example.yaml"))
	assert.Equal(t, "imported 4 restaurants and 11 items\n", out)

	out = run(t, "show", "--user", "alice")
	assert.Equal(t, "No meals planned yet.\n", out)

	out = run(t, "profile", "--user", "alice", "--allergens", "Peanuts")
	assert.Contains(t, out, "allergens:   Peanuts")

	out = run(t, "plan", "--user", "alice", "--date", "2025-10-14", "--meals", "breakfast,dinner")
	assert.Contains(t, out, "plan: [2025-10-14,101,1],[2025-10-14,201,3]")
	assert.Equal(t, int32(2), calls.Load())

	out = run(t, "plan", "--user", "alice", "--date", "2025-10-14", "--meals", "breakfast,dinner")
	assert.Contains(t, out, "Nothing to add")
	assert.Equal(t, int32(2), calls.Load())

	out = run(t, "show", "--user", "alice")
	assert.Contains(t, out, "2025-10-14 (Tue)")
	assert.Contains(t, out, "breakfast: Steel-cut oatmeal @ Sunrise Cafe - $6.50, 380 kcal")
	assert.Contains(t, out, "dinner: Quinoa power bowl @ Green Bowl - $13.95, 610 kcal")

	out = run(t, "usage")
	assert.Contains(t, out, "DAY")
	assert.Contains(t, out, "100")

	out = run(t, "metrics-cleanup")
	assert.Equal(t, "removed 0 metric rows\n", out)
}
