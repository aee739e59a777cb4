package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ifuryst/herald/internal/models"
)

func sampleContent() *models.Content {
	return &models.Content{
		ShortForm: &models.ShortForm{Text: "Agents went to production this week.", SourceItems: []string{"https://example.com/a"}},
		LongForm: &models.LongForm{
			Title:    "This Week in Agents",
			Markdown: "# This Week in Agents\n\nBody.",
			Tags:     []string{"AI", "Agents"},
		},
	}
}

func clonePipeline(p *models.Pipeline) *models.Pipeline {
	data, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}
	var out models.Pipeline
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

// memoryRepo is an in-memory PipelineRepository with the same version semantics
// as PipelineStore. saveErrs are returned by successive Save calls before any
// write; beforeSave runs unlocked ahead of each Save.
type memoryRepo struct {
	mu        sync.Mutex
	pipelines map[string]*models.Pipeline
	events    []models.PipelineEvent
	attempts  []models.PublishAttempt

	getCalls   int
	saveCalls  int
	saveErrs   []error
	beforeSave func(call int)
	saveCtxErr []error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{pipelines: map[string]*models.Pipeline{}}
}

func (r *memoryRepo) put(p *models.Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[p.ID] = clonePipeline(p)
}

func (r *memoryRepo) stored(id string) *models.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pipelines[id]
	if !ok {
		return nil
	}
	return clonePipeline(p)
}

func (r *memoryRepo) Create(_ context.Context, p *models.Pipeline, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[p.ID] = clonePipeline(p)
	r.events = append(r.events, models.PipelineEvent{PipelineID: p.ID, ToStatus: p.Status, Actor: actor, CreatedAt: p.CreatedAt})
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id string) (*models.Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	p, ok := r.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	return clonePipeline(p), nil
}

func (r *memoryRepo) List(_ context.Context, opts ListOptions) ([]models.Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Pipeline
	for _, p := range r.pipelines {
		if opts.Status == "" || p.Status == opts.Status {
			out = append(out, *clonePipeline(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) Save(ctx context.Context, p *models.Pipeline, change Change) error {
	r.mu.Lock()
	r.saveCalls++
	call := r.saveCalls
	r.saveCtxErr = append(r.saveCtxErr, ctx.Err())
	hook := r.beforeSave
	r.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.saveErrs) > 0 {
		err := r.saveErrs[0]
		r.saveErrs = r.saveErrs[1:]
		if err != nil {
			return err
		}
	}

	current, ok := r.pipelines[p.ID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNotFound, p.ID)
	}
	if current.Version != p.Version {
		return fmt.Errorf("%w: %s", models.ErrConcurrentUpdate, p.ID)
	}

	p.Version++
	r.pipelines[p.ID] = clonePipeline(p)
	if change.Event != nil {
		event := *change.Event
		event.PipelineID = p.ID
		r.events = append(r.events, event)
	}
	r.attempts = append(r.attempts, change.Attempts...)
	return nil
}

func (r *memoryRepo) History(_ context.Context, id string) (*PipelineHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pipelines[id]; !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	history := &PipelineHistory{}
	for _, e := range r.events {
		if e.PipelineID == id {
			history.Events = append(history.Events, e)
		}
	}
	for _, a := range r.attempts {
		if a.PipelineID == id {
			history.Attempts = append(history.Attempts, a)
		}
	}
	return history, nil
}

type recordedError struct {
	Source, Title, Message string
}

type fakeRecorder struct {
	mu      sync.Mutex
	errors  []recordedError
	metrics map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{metrics: map[string]int{}}
}

func (f *fakeRecorder) RecordError(level, source, title, message string, options ...ErrorLogOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, recordedError{Source: source, Title: title, Message: message})
	return nil
}

func (f *fakeRecorder) RecordMetric(name, metricType string, value float64, tags map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics[fmt.Sprintf("%s/%v", name, tags["platform"])] += int(value)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
