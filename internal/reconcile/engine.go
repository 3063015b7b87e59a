package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/user/examslots/internal/config"
	"github.com/user/examslots/internal/crawler"
	"github.com/user/examslots/internal/model"
	"github.com/user/examslots/internal/store"
)

// Notifier is invoked once for every newly inserted slot
type Notifier interface {
	NotifyNewSlot(ctx context.Context, slot *model.Slot)
}

// Summary holds the counts of one reconciliation pass
type Summary struct {
	Opened  int   `json:"opened"`
	Updated int   `json:"updated"`
	Total   int   `json:"total"`
	Swept   int64 `json:"-"`
}

// Engine reconciles scraped drafts against persisted slot state
type Engine struct {
	store    store.SlotStore
	notifier Notifier
	policy   string
}

// NewEngine creates a reconciliation engine. policy is one of
// config.NotifyAllNew or config.NotifyAvailableNew.
func NewEngine(slots store.SlotStore, notifier Notifier, policy string) *Engine {
	if policy == "" {
		policy = config.NotifyAllNew
	}
	return &Engine{
		store:    slots,
		notifier: notifier,
		policy:   policy,
	}
}

// Reconcile upserts every draft with last_seen_at = ts, notifies on inserts,
// then sweeps slots not seen in this pass and records ts as the last scrape time.
// A persistence error stops the pass and returns the counts reached so far;
// the sweep and the metadata update are skipped in that case.
func (e *Engine) Reconcile(ctx context.Context, drafts []*model.SlotDraft, ts time.Time) (Summary, error) {
	ts = ts.UTC().Truncate(time.Millisecond)
	summary := Summary{Total: len(drafts)}

	for _, draft := range drafts {
		if draft == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		slot := BuildSlot(draft, ts)
		inserted, err := e.store.UpsertSlot(ctx, slot)
		if err != nil {
			return summary, fmt.Errorf("failed to persist slot %s: %w", slot.SlotKey, err)
		}

		if !inserted {
			summary.Updated++
			continue
		}

		summary.Opened++
		log.Info().
			Str("date", slot.DateStr).
			Str("time", slot.TimeStr).
			Str("location", slot.Location).
			Int("places", slot.PlacesLeft).
			Msg("New slot opened")

		if e.shouldNotify(slot) && e.notifier != nil {
			e.notifier.NotifyNewSlot(ctx, slot)
		}
	}

	swept, err := e.store.SweepStale(ctx, ts)
	if err != nil {
		return summary, fmt.Errorf("failed to sweep stale slots: %w", err)
	}
	summary.Swept = swept

	if err := e.store.SetLastScrapedAt(ctx, ts); err != nil {
		return summary, fmt.Errorf("failed to record scrape time: %w", err)
	}

	log.Info().
		Int("opened", summary.Opened).
		Int("updated", summary.Updated).
		Int("total", summary.Total).
		Int64("swept", summary.Swept).
		Msg("Reconciliation completed")

	return summary, nil
}

func (e *Engine) shouldNotify(slot *model.Slot) bool {
	if e.policy == config.NotifyAvailableNew {
		return slot.Available
	}
	return true
}

// BuildSlot derives the persisted form of a draft as observed at ts
func BuildSlot(d *model.SlotDraft, ts time.Time) *model.Slot {
	places := 0
	if d.PlacesLeft != nil && *d.PlacesLeft > 0 {
		places = *d.PlacesLeft
	}

	timeISO := d.TimeStr
	if timeISO == "" {
		timeISO = "00:00"
	}

	var dateISO *time.Time
	if t, ok := crawler.ParseSlotDate(d.DateStr); ok {
		dateISO = &t
	}

	seen := ts
	return &model.Slot{
		SlotKey:       d.Key(),
		DateStr:       d.DateStr,
		TimeStr:       d.TimeStr,
		DateISO:       dateISO,
		TimeISO:       timeISO,
		Region:        d.Region,
		Town:          d.Town,
		ExamType:      d.ExamType,
		PlacesLeft:    places,
		HasTranslator: d.HasTranslator,
		Categories:    d.Categories,
		SourcePage:    d.SourcePage,
		Location:      Location(d.Region, d.Town),
		Available:     places > 0,
		CreatedAt:     ts,
		UpdatedAt:     ts,
		LastSeenAt:    &seen,
	}
}

// Location renders "Region N, Town", the town alone when the region is unknown
func Location(region *int, town *string) string {
	var townName string
	if town != nil {
		townName = *town
	}
	if region == nil {
		return townName
	}
	loc := "Region " + strconv.Itoa(*region)
	if townName != "" {
		loc += ", " + townName
	}
	return loc
}
