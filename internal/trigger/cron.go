package trigger

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// CronTrigger runs a single cron.Cron instance over every scheduled
// catalog playbook entry, calling the same Starter.Start path a manual or
// HTTP trigger would. This is an enrichment beyond spec.md's minimum
// trigger set (see SPEC_FULL.md §C.1): the teacher's own internal/trigger
// package has no scheduled variant, so this is newly designed in the
// teacher's constructor/builder idiom rather than adapted from a specific
// teacher file.
type CronTrigger struct {
	mu      sync.Mutex
	cron    *cron.Cron
	starter Starter
	log     zerolog.Logger
	ids     map[string]cron.EntryID // catalog path -> scheduled entry
}

func NewCron(starter Starter, log zerolog.Logger) *CronTrigger {
	return &CronTrigger{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		starter: starter,
		log:     log,
		ids:     make(map[string]cron.EntryID),
	}
}

func (t *CronTrigger) Start() { t.cron.Start() }

func (t *CronTrigger) Stop() context.Context { return t.cron.Stop() }

// Schedule registers path/version to fire on schedule (a standard 5 or
// 6-field cron expression; the optional leading field is seconds).
func (t *CronTrigger) Schedule(schedule, path string, version int, workload map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.ids[path]; ok {
		t.cron.Remove(id)
	}
	id, err := t.cron.AddFunc(schedule, func() {
		if _, err := t.starter.Start(context.Background(), path, version, workload, nil, ""); err != nil {
			t.log.Error().Err(err).Str("path", path).Msg("cron trigger failed to start execution")
		}
	})
	if err != nil {
		return fmt.Errorf("trigger/cron: invalid schedule %q for %q: %w", schedule, path, err)
	}
	t.ids[path] = id
	return nil
}

func (t *CronTrigger) Unschedule(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[path]; ok {
		t.cron.Remove(id)
		delete(t.ids, path)
	}
}
