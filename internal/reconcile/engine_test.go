package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/user/examslots/internal/config"
	"github.com/user/examslots/internal/model"
	"github.com/user/examslots/internal/store"
)

// MockSlotStore is an in-memory store.SlotStore keyed by slot_key
type MockSlotStore struct {
	mu          sync.Mutex
	slots       map[string]*model.Slot
	nextID      uint
	lastScraped *time.Time
	failOnKey   string
}

func NewMockSlotStore() *MockSlotStore {
	return &MockSlotStore{slots: make(map[string]*model.Slot)}
}

var _ store.SlotStore = (*MockSlotStore)(nil)

func (m *MockSlotStore) UpsertSlot(ctx context.Context, slot *model.Slot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failOnKey != "" && slot.SlotKey == m.failOnKey {
		return false, errors.New("database unavailable")
	}

	existing, ok := m.slots[slot.SlotKey]
	if !ok {
		m.nextID++
		cp := *slot
		cp.ID = m.nextID
		m.slots[slot.SlotKey] = &cp
		slot.ID = cp.ID
		return true, nil
	}

	existing.DateISO = slot.DateISO
	existing.TimeISO = slot.TimeISO
	existing.ExamType = slot.ExamType
	existing.PlacesLeft = slot.PlacesLeft
	existing.HasTranslator = slot.HasTranslator
	existing.SourcePage = slot.SourcePage
	existing.Location = slot.Location
	existing.Available = slot.Available
	existing.LastSeenAt = slot.LastSeenAt
	existing.UpdatedAt = slot.UpdatedAt
	return false, nil
}

func (m *MockSlotStore) SweepStale(ctx context.Context, ts time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.slots {
		if s.Available && (s.LastSeenAt == nil || s.LastSeenAt.Before(ts)) {
			s.Available = false
			s.PlacesLeft = 0
			n++
		}
	}
	return n, nil
}

func (m *MockSlotStore) SetLastScrapedAt(ctx context.Context, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastScraped = &ts
	return nil
}

func (m *MockSlotStore) GetLastScrapedAt(ctx context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastScraped, nil
}

func (m *MockSlotStore) ListAvailableSlots(ctx context.Context) ([]*model.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Slot
	for _, s := range m.slots {
		if s.Available {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockSlotStore) CountSlots(ctx context.Context) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var available int64
	for _, s := range m.slots {
		if s.Available {
			available++
		}
	}
	return int64(len(m.slots)), available, nil
}

func (m *MockSlotStore) get(key string) *model.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[key]
}

// MockNotifier records the keys of slots it was called with
type MockNotifier struct {
	mu       sync.Mutex
	notified []string
}

func (n *MockNotifier) NotifyNewSlot(ctx context.Context, slot *model.Slot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, slot.SlotKey)
}

func (n *MockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notified)
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func draft(date, clock string, places *int) *model.SlotDraft {
	return &model.SlotDraft{
		DateStr:    date,
		TimeStr:    clock,
		Region:     intPtr(2),
		Town:       strPtr("Ljubljana"),
		Categories: "B",
		PlacesLeft: places,
	}
}

var t0 = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

func TestReconcile_InsertThenUpdate(t *testing.T) {
	slots := NewMockSlotStore()
	notifier := &MockNotifier{}
	engine := NewEngine(slots, notifier, config.NotifyAllNew)
	ctx := context.Background()

	drafts := []*model.SlotDraft{draft("10. 05. 2025", "09:00", intPtr(3))}

	sum, err := engine.Reconcile(ctx, drafts, t0)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if sum.Opened != 1 || sum.Updated != 0 || sum.Total != 1 {
		t.Errorf("first run summary = %+v", sum)
	}

	sum, err = engine.Reconcile(ctx, drafts, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if sum.Opened != 0 || sum.Updated != 1 || sum.Total != 1 {
		t.Errorf("second run summary = %+v", sum)
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}

	last, _ := slots.GetLastScrapedAt(ctx)
	if last == nil || !last.Equal(t0.Add(time.Hour)) {
		t.Errorf("last_scraped_at = %v", last)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	slots := NewMockSlotStore()
	notifier := &MockNotifier{}
	engine := NewEngine(slots, notifier, config.NotifyAllNew)
	ctx := context.Background()

	drafts := []*model.SlotDraft{
		draft("10. 05. 2025", "09:00", intPtr(3)),
		draft("11. 05. 2025", "10:00", intPtr(1)),
		draft("12. 05. 2025", "11:00", nil),
	}

	if _, err := engine.Reconcile(ctx, drafts, t0); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	before, _ := slots.ListAvailableSlots(ctx)
	sentBefore := notifier.count()

	if _, err := engine.Reconcile(ctx, drafts, t0.Add(time.Minute)); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	after, _ := slots.ListAvailableSlots(ctx)

	if notifier.count() != sentBefore {
		t.Errorf("second run sent %d notifications", notifier.count()-sentBefore)
	}
	if len(before) != len(after) {
		t.Fatalf("available slots changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].SlotKey != after[i].SlotKey || before[i].PlacesLeft != after[i].PlacesLeft {
			t.Errorf("slot %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestReconcile_SweepsUnseen(t *testing.T) {
	slots := NewMockSlotStore()
	engine := NewEngine(slots, nil, config.NotifyAllNew)
	ctx := context.Background()

	gone := draft("10. 05. 2025", "09:00", intPtr(3))
	kept := draft("11. 05. 2025", "10:00", intPtr(2))

	if _, err := engine.Reconcile(ctx, []*model.SlotDraft{gone, kept}, t0); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	sum, err := engine.Reconcile(ctx, []*model.SlotDraft{kept}, t0.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if sum.Swept != 1 {
		t.Errorf("swept = %d, want 1", sum.Swept)
	}

	s := slots.get(gone.Key())
	if s.Available || s.PlacesLeft != 0 {
		t.Errorf("unseen slot not swept: available=%v places=%d", s.Available, s.PlacesLeft)
	}
	if k := slots.get(kept.Key()); !k.Available || k.PlacesLeft != 2 {
		t.Errorf("seen slot changed: available=%v places=%d", k.Available, k.PlacesLeft)
	}
}

func TestReconcile_DuplicateDraftsLastWins(t *testing.T) {
	slots := NewMockSlotStore()
	engine := NewEngine(slots, nil, config.NotifyAllNew)

	first := draft("10. 05. 2025", "09:00", intPtr(3))
	second := draft("10. 05. 2025", "09:00", intPtr(1))

	sum, err := engine.Reconcile(context.Background(), []*model.SlotDraft{first, second}, t0)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if sum.Opened != 1 || sum.Updated != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if total, _, _ := slots.CountSlots(context.Background()); total != 1 {
		t.Errorf("stored %d rows, want 1", total)
	}
	if s := slots.get(first.Key()); s.PlacesLeft != 1 {
		t.Errorf("places_left = %d, want 1 from the second draft", s.PlacesLeft)
	}
}

func TestReconcile_PersistenceFailureSkipsSweep(t *testing.T) {
	slots := NewMockSlotStore()
	engine := NewEngine(slots, nil, config.NotifyAllNew)
	ctx := context.Background()

	old := draft("09. 05. 2025", "08:00", intPtr(1))
	if _, err := engine.Reconcile(ctx, []*model.SlotDraft{old}, t0); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	ok := draft("10. 05. 2025", "09:00", intPtr(3))
	bad := draft("11. 05. 2025", "10:00", intPtr(3))
	slots.failOnKey = bad.Key()

	sum, err := engine.Reconcile(ctx, []*model.SlotDraft{ok, bad}, t0.Add(time.Hour))
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if sum.Opened != 1 {
		t.Errorf("opened = %d, want 1", sum.Opened)
	}
	if s := slots.get(old.Key()); !s.Available {
		t.Error("sweep must not run after a persistence failure")
	}
	if last, _ := slots.GetLastScrapedAt(ctx); !last.Equal(t0) {
		t.Errorf("last_scraped_at moved to %v", last)
	}
}

func TestReconcile_ScenarioXY(t *testing.T) {
	slotX := draft("10. 05. 2025", "09:00", intPtr(3))
	slotY := draft("11. 05. 2025", "10:00", intPtr(0))

	tests := []struct {
		policy       string
		wantNotified []string
	}{
		{config.NotifyAllNew, []string{slotX.Key(), slotY.Key()}},
		{config.NotifyAvailableNew, []string{slotX.Key()}},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			slots := NewMockSlotStore()
			notifier := &MockNotifier{}
			engine := NewEngine(slots, notifier, tt.policy)

			sum, err := engine.Reconcile(context.Background(), []*model.SlotDraft{slotX, slotY}, t0)
			if err != nil {
				t.Fatalf("Reconcile failed: %v", err)
			}
			if sum.Opened != 2 {
				t.Errorf("opened = %d, want 2", sum.Opened)
			}

			x, y := slots.get(slotX.Key()), slots.get(slotY.Key())
			if !x.Available || x.PlacesLeft != 3 {
				t.Errorf("X: available=%v places=%d", x.Available, x.PlacesLeft)
			}
			if y.Available || y.PlacesLeft != 0 {
				t.Errorf("Y: available=%v places=%d", y.Available, y.PlacesLeft)
			}

			if len(notifier.notified) != len(tt.wantNotified) {
				t.Fatalf("notified = %v, want %v", notifier.notified, tt.wantNotified)
			}
			for i := range tt.wantNotified {
				if notifier.notified[i] != tt.wantNotified[i] {
					t.Errorf("notified[%d] = %q, want %q", i, notifier.notified[i], tt.wantNotified[i])
				}
			}
		})
	}
}

func TestBuildSlot(t *testing.T) {
	ts := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

	t.Run("derived fields", func(t *testing.T) {
		s := BuildSlot(draft("10. 05. 2025", "09:00", intPtr(3)), ts)
		if s.Location != "Region 2, Ljubljana" {
			t.Errorf("Location = %q", s.Location)
		}
		if s.DateISO == nil || s.DateISO.Format("2006-01-02") != "2025-05-10" {
			t.Errorf("DateISO = %v", s.DateISO)
		}
		if s.TimeISO != "09:00" || !s.Available {
			t.Errorf("TimeISO=%q Available=%v", s.TimeISO, s.Available)
		}
		if s.LastSeenAt == nil || !s.LastSeenAt.Equal(ts) {
			t.Errorf("LastSeenAt = %v", s.LastSeenAt)
		}
	})

	t.Run("missing values", func(t *testing.T) {
		s := BuildSlot(&model.SlotDraft{DateStr: "soon", Town: strPtr("Koper")}, ts)
		if s.DateISO != nil {
			t.Errorf("DateISO = %v, want nil", s.DateISO)
		}
		if s.TimeISO != "00:00" {
			t.Errorf("TimeISO = %q", s.TimeISO)
		}
		if s.PlacesLeft != 0 || s.Available {
			t.Errorf("PlacesLeft=%d Available=%v", s.PlacesLeft, s.Available)
		}
		if s.Location != "Koper" {
			t.Errorf("Location = %q", s.Location)
		}
	})
}

func TestLocation(t *testing.T) {
	tests := []struct {
		region *int
		town   *string
		want   string
	}{
		{intPtr(1), strPtr("Kranj"), "Region 1, Kranj"},
		{intPtr(4), nil, "Region 4"},
		{nil, strPtr("Celje"), "Celje"},
		{nil, nil, ""},
	}
	for _, tt := range tests {
		if got := Location(tt.region, tt.town); got != tt.want {
			t.Errorf("Location() = %q, want %q", got, tt.want)
		}
	}
}
