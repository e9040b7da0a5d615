package planner

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"sync"
	"time"

	"menu-planner/internal/catalog"
	"menu-planner/internal/llm"
	"menu-planner/internal/shared"
)

func everyDay(hours ...int) catalog.WeeklyHours {
	week := catalog.WeeklyHours{}
	for _, day := range []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"} {
		week[day] = hours
	}
	return week
}

func testSnapshot() catalog.Snapshot {
	return catalog.Snapshot{
		Restaurants: []catalog.Restaurant{
			{ID: 1, Name: "Sunrise Cafe", Status: catalog.StatusOpen, Hours: everyDay(700, 1500)},
			{ID: 2, Name: "Night Grill", Status: catalog.StatusOpen, Hours: everyDay(1700, 2300)},
			{ID: 3, Name: "Shuttered", Status: catalog.StatusClosed, Hours: everyDay(0, 2359)},
			{ID: 4, Name: "Odd Hours", Status: catalog.StatusOpen, Hours: everyDay(1000, 1700, 2130)},
		},
		Items: []catalog.Item{
			{ID: 101, RestaurantID: 1, Name: "Oatmeal", Description: "Rolled oats", Price: 450, Calories: 300, InStock: true},
			{ID: 102, RestaurantID: 1, Name: "Peanut pancakes", Description: "Fluffy, nutty", Price: 725, Calories: 650,
				AllergenTags: []string{"Peanuts"}, InStock: true},
			{ID: 103, RestaurantID: 1, Name: "Muffin", Price: 300, InStock: false},
			{ID: 201, RestaurantID: 2, Name: "Steak", Price: 2400, Calories: 900, InStock: true},
			{ID: 202, RestaurantID: 2, Name: "Shrimp pasta", Price: 1800, Calories: 800,
				AllergenTags: []string{"Shellfish", "Gluten"}, InStock: true},
			{ID: 301, RestaurantID: 3, Name: "Ghost burger", InStock: true},
			{ID: 401, RestaurantID: 4, Name: "Odd soup", InStock: true},
		},
	}
}

// answer wraps a model reply in a transcript the way the real clients do.
func answer(reply string) llm.ContentResponse {
	return llm.ContentResponse{
		Content: llm.RenderTranscript("system", "prompt", reply),
		Usage:   shared.TokenUsage{PromptTokens: 10, CompletionTokens: 1, TotalTokens: 11, Model: "test"},
	}
}

type fakeCall struct {
	System string
	Prompt string
}

// fakeGenerator replays a script of replies. When the script runs out it
// falls back to fallback, and with no fallback it fails.
type fakeGenerator struct {
	mu       sync.Mutex
	calls    []fakeCall
	script   []func(ctx context.Context, prompt string) (llm.ContentResponse, error)
	fallback func(ctx context.Context, prompt string) (llm.ContentResponse, error)
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, system, prompt string) (llm.ContentResponse, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, fakeCall{System: system, Prompt: prompt})
	var step func(context.Context, string) (llm.ContentResponse, error)
	if n < len(f.script) {
		step = f.script[n]
	} else {
		step = f.fallback
	}
	f.mu.Unlock()

	if step == nil {
		return llm.ContentResponse{}, errors.New("unexpected generation call")
	}
	return step(ctx, prompt)
}

func (f *fakeGenerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func reply(s string) func(context.Context, string) (llm.ContentResponse, error) {
	return func(context.Context, string) (llm.ContentResponse, error) {
		return answer(s), nil
	}
}

func rawReply(content string) func(context.Context, string) (llm.ContentResponse, error) {
	return func(context.Context, string) (llm.ContentResponse, error) {
		return llm.ContentResponse{Content: content}, nil
	}
}

// firstCandidate answers with the first item id listed in the prompt context.
func firstCandidate(_ context.Context, prompt string) (llm.ContentResponse, error) {
	ids := contextIDs(prompt)
	if len(ids) == 0 {
		return answer(""), nil
	}
	return answer(ids[0]), nil
}

func contextIDs(prompt string) []string {
	_, table, ok := strings.Cut(prompt, "CSV CONTEXT:\n")
	if !ok {
		return nil
	}
	records, err := csv.NewReader(strings.NewReader(table)).ReadAll()
	if err != nil || len(records) < 2 {
		return nil
	}
	var ids []string
	for _, rec := range records[1:] {
		ids = append(ids, rec[0])
	}
	return ids
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveAttempt(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

type fixedPerm []int

func (p fixedPerm) Perm(int) []int { return p }
