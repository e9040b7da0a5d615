package planner

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"menu-planner/internal/candidates"
	"menu-planner/internal/catalog"
	"menu-planner/internal/llm"
	"menu-planner/internal/menuplan"
	"menu-planner/internal/shared"

	"go.uber.org/zap"
)

//go:embed selector_system.md
var selectorSystemPrompt string

//go:embed selector_prompt.md
var selectorPrompt string

var selectorTmpl = template.Must(template.New("Selector").Parse(selectorPrompt))

const (
	DefaultMaxAttempts   = 3
	DefaultPoolIncrement = 10

	// NoMatch is returned by ValidateOutput when the response holds no usable answer.
	NoMatch = -1

	selectorAgentName = "Selector"
)

var (
	// ErrInjectionDetected means the response carried more than one answer
	// marker. It is never retried.
	ErrInjectionDetected = errors.New("multiple assistant turns in response, possible prompt injection")
	// ErrSelectionExhausted matches every *ExhaustedError.
	ErrSelectionExhausted = errors.New("selection attempts exhausted")
)

// ExhaustedError is returned when no attempt produced a valid in-scope item.
type ExhaustedError struct {
	Attempts     int
	LastResponse string
	// NoCandidates is set when the filters left nothing to choose from.
	NoCandidates bool
}

func (e *ExhaustedError) Error() string {
	if e.NoCandidates {
		return fmt.Sprintf("%s: no candidate items after filtering", ErrSelectionExhausted)
	}
	return fmt.Sprintf("%s after %d attempts, last response: %q", ErrSelectionExhausted, e.Attempts, e.LastResponse)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrSelectionExhausted
}

// Outcome is the result of a single selection attempt.
type Outcome string

const (
	OutcomeSelected     Outcome = "selected"
	OutcomeEmptyAnswer  Outcome = "empty_answer"
	OutcomeOutOfScope   Outcome = "out_of_scope"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeInjection    Outcome = "injection"
	OutcomeNoCandidates Outcome = "no_candidates"
)

// AttemptObserver is notified after every selection attempt.
type AttemptObserver interface {
	ObserveAttempt(outcome string, latency time.Duration)
}

// SelectorOptions tunes a Selector. Zero values fall back to defaults.
type SelectorOptions struct {
	MaxAttempts    int
	PoolIncrement  int
	AttemptTimeout time.Duration
	Permuter       candidates.Permuter
	Observer       AttemptObserver
	Logger         *zap.Logger
}

// Selection is the item chosen for one (weekday, meal slot).
type Selection struct {
	ItemID   int
	Attempts int
	Metas    []shared.AgentMeta
}

// Selector picks one catalog item per meal with the text generator.
type Selector struct {
	snapshot       catalog.Snapshot
	textGen        llm.TextGenerator
	maxAttempts    int
	poolIncrement  int
	attemptTimeout time.Duration
	observer       AttemptObserver
	logger         *zap.Logger
	perm           *lockedPermuter
}

// lockedPermuter lets a seeded *rand.Rand be shared by concurrent selections.
type lockedPermuter struct {
	mu sync.Mutex
	p  candidates.Permuter
}

func (l *lockedPermuter) Perm(n int) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.Perm(n)
}

// NewSelector creates a Selector over an immutable catalog snapshot.
func NewSelector(snapshot catalog.Snapshot, textGen llm.TextGenerator, opts SelectorOptions) *Selector {
	s := &Selector{
		snapshot:       snapshot,
		textGen:        textGen,
		maxAttempts:    opts.MaxAttempts,
		poolIncrement:  opts.PoolIncrement,
		attemptTimeout: opts.AttemptTimeout,
		observer:       opts.Observer,
		logger:         opts.Logger,
		perm:           &lockedPermuter{p: opts.Permuter},
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.poolIncrement <= 0 {
		s.poolIncrement = DefaultPoolIncrement
	}
	if s.perm.p == nil {
		s.perm.p = candidates.DefaultPermuter
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// BuildContext filters the snapshot for the weekday and order time, limits
// it to maxChoices items and renders the survivors as CSV. The returned ids
// are exactly the items present in the CSV.
func (s *Selector) BuildContext(allergens, weekday string, orderTime, maxChoices int) (string, []int) {
	open := make([]catalog.Restaurant, 0, len(s.snapshot.Restaurants))
	for _, r := range s.snapshot.Restaurants {
		if r.IsOpen() {
			open = append(open, r)
		}
	}

	serving := make(map[int]struct{})
	for _, r := range candidates.FilterOpenRestaurants(open, weekday, orderTime) {
		serving[r.ID] = struct{}{}
	}

	var joined []catalog.Item
	for _, it := range s.snapshot.Items {
		if !it.InStock {
			continue
		}
		if _, ok := serving[it.RestaurantID]; ok {
			joined = append(joined, it)
		}
	}

	pool := candidates.FilterAllergens(joined, allergens)
	picked := candidates.LimitScope(len(pool), maxChoices, s.perm)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"item_id", "name", "description", "price", "calories"})

	ids := make([]int, 0, len(picked))
	for _, idx := range picked {
		it := pool[idx]
		_ = w.Write([]string{
			strconv.Itoa(it.ID),
			it.Name,
			it.Description,
			formatPrice(it.Price),
			strconv.Itoa(it.Calories),
		})
		ids = append(ids, it.ID)
	}
	w.Flush()

	return buf.String(), ids
}

func formatPrice(cents int) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

type promptData struct {
	Preferences string
	Meal        string
	Context     string
}

func buildSelectorPrompt(data promptData) (string, error) {
	var buf bytes.Buffer
	if err := selectorTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render selector prompt: %w", err)
	}
	return buf.String(), nil
}

type attemptInput struct {
	preferences string
	allergens   string
	weekday     string
	meal        string
	orderTime   int
	poolSize    int
}

type attemptOutcome struct {
	outcome    Outcome
	itemID     int
	raw        string
	candidates int
	meta       *shared.AgentMeta
}

// attempt runs one build-generate-validate step. Only generator failures
// other than an attempt timeout are returned as errors.
func (s *Selector) attempt(ctx context.Context, in attemptInput) (attemptOutcome, error) {
	csvText, ids := s.BuildContext(in.allergens, in.weekday, in.orderTime, in.poolSize)
	if len(ids) == 0 {
		return attemptOutcome{outcome: OutcomeNoCandidates}, nil
	}

	prompt, err := buildSelectorPrompt(promptData{
		Preferences: in.preferences,
		Meal:        in.meal,
		Context:     csvText,
	})
	if err != nil {
		return attemptOutcome{}, err
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.attemptTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.attemptTimeout)
	}

	start := time.Now()
	resp, err := s.textGen.GenerateContent(callCtx, strings.TrimSpace(selectorSystemPrompt), prompt)
	timedOut := err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	meta := &shared.AgentMeta{
		AgentName: selectorAgentName,
		Usage:     resp.Usage,
		Latency:   time.Since(start),
	}
	out := attemptOutcome{raw: resp.Content, candidates: len(ids), meta: meta}

	if err != nil {
		if timedOut {
			out.outcome = OutcomeTimedOut
			meta.Outcome = string(out.outcome)
			return out, nil
		}
		return attemptOutcome{}, fmt.Errorf("failed to generate selection: %w", err)
	}

	id, err := ValidateOutput(resp.Content)
	switch {
	case errors.Is(err, ErrInjectionDetected):
		out.outcome = OutcomeInjection
	case id > 0 && containsID(ids, id):
		out.outcome = OutcomeSelected
		out.itemID = id
	case id == NoMatch:
		out.outcome = OutcomeEmptyAnswer
	default:
		out.outcome = OutcomeOutOfScope
	}
	meta.Outcome = string(out.outcome)
	return out, nil
}

func containsID(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// SelectItem chooses one item for the meal slot on weekday. Each attempt
// widens the candidate pool by the pool increment. An invalid meal slot
// fails before the generator is called.
func (s *Selector) SelectItem(ctx context.Context, preferences, allergens, weekday string, slot menuplan.MealSlot) (Selection, error) {
	meal, orderTime, err := candidates.MealAndOrderTime(slot)
	if err != nil {
		return Selection{}, err
	}

	var (
		sel          Selection
		lastResponse string
		poolSize     int
	)
	for n := 1; n <= s.maxAttempts; n++ {
		poolSize += s.poolIncrement

		out, err := s.attempt(ctx, attemptInput{
			preferences: preferences,
			allergens:   allergens,
			weekday:     weekday,
			meal:        meal,
			orderTime:   orderTime,
			poolSize:    poolSize,
		})
		sel.Attempts = n
		if err != nil {
			return sel, err
		}
		if out.meta != nil {
			sel.Metas = append(sel.Metas, *out.meta)
			s.observe(out.outcome, out.meta.Latency)
		} else {
			s.observe(out.outcome, 0)
		}

		s.logger.Debug("selection attempt",
			zap.Int("attempt", n),
			zap.Int("pool_size", poolSize),
			zap.Int("candidates", out.candidates),
			zap.String("weekday", weekday),
			zap.String("meal", meal),
			zap.String("outcome", string(out.outcome)),
		)

		switch out.outcome {
		case OutcomeSelected:
			sel.ItemID = out.itemID
			return sel, nil
		case OutcomeInjection:
			s.logger.Warn("possible prompt injection in model response",
				zap.String("weekday", weekday),
				zap.String("meal", meal),
				zap.String("response", out.raw),
			)
			return sel, fmt.Errorf("%w: %q", ErrInjectionDetected, out.raw)
		case OutcomeNoCandidates:
			return sel, &ExhaustedError{Attempts: n, NoCandidates: true}
		}
		if out.raw != "" {
			lastResponse = out.raw
		}
	}

	return sel, &ExhaustedError{Attempts: s.maxAttempts, LastResponse: lastResponse}
}

func (s *Selector) observe(outcome Outcome, latency time.Duration) {
	if s.observer != nil {
		s.observer.ObserveAttempt(string(outcome), latency)
	}
}

const assistantHeader = llm.StartOfRole + "assistant" + llm.EndOfRole

// ValidateOutput extracts the numeric answer of the single assistant turn
// in raw. It returns NoMatch when there is no terminated turn or the answer
// is not a number, and ErrInjectionDetected when the response holds a
// second assistant header or a second end marker after the answer.
func ValidateOutput(raw string) (int, error) {
	switch strings.Count(raw, assistantHeader) {
	case 0:
		return NoMatch, nil
	case 1:
	default:
		return NoMatch, ErrInjectionDetected
	}

	_, turn, _ := strings.Cut(raw, assistantHeader)
	answer, rest, terminated := strings.Cut(turn, llm.EndOfText)
	if !terminated {
		return NoMatch, nil
	}
	if strings.Contains(rest, llm.EndOfText) {
		return NoMatch, ErrInjectionDetected
	}

	answer = strings.TrimSpace(answer)
	if answer == "" || strings.TrimLeft(answer, "0123456789") != "" {
		return NoMatch, nil
	}
	id, err := strconv.Atoi(answer)
	if err != nil {
		return NoMatch, nil
	}
	return id, nil
}
