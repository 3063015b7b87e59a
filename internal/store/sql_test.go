package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/user/examslots/internal/config"
	"github.com/user/examslots/internal/model"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var _ Store = (*SQLStore)(nil)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// setupTestStore connects to the test database or skips the test
func setupTestStore(t *testing.T) (*SQLStore, func()) {
	port, _ := strconv.Atoi(envOr("TEST_DB_PORT", "3306"))
	cfg := &config.DBConfig{
		Driver:   envOr("TEST_DB_DRIVER", "mysql"),
		Host:     envOr("TEST_DB_HOST", "localhost"),
		Port:     port,
		User:     envOr("TEST_DB_USER", "root"),
		Password: envOr("TEST_DB_PASSWORD", "root"),
		Database: envOr("TEST_DB_NAME", "exam_slots_test"),
		SSLMode:  "disable",
		MaxConns: 5,
	}

	if cfg.Driver == "mysql" {
		// create the database first; the store connects to it by name
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port)
		db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			t.Skipf("Skipping test: cannot connect to MySQL: %v", err)
		}
		db.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", cfg.Database))
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}

	store, err := NewSQLStore(cfg)
	if err != nil {
		t.Skipf("Skipping test: cannot create store: %v", err)
	}

	wipe := func() {
		store.db.Exec("DELETE FROM question_votes")
		store.db.Exec("DELETE FROM exam_questions")
		store.db.Exec("DELETE FROM subscriptions")
		store.db.Exec("DELETE FROM slots")
		store.db.Exec("DELETE FROM scrape_meta")
	}
	wipe()

	cleanup := func() {
		wipe()
		store.Close()
	}

	return store, cleanup
}

func testSlot(date, clock string, region int, town string, places int, ts time.Time) *model.Slot {
	r, tw := region, town
	slot := &model.Slot{
		DateStr:    date,
		TimeStr:    clock,
		TimeISO:    clock,
		Region:     &r,
		Town:       &tw,
		PlacesLeft: places,
		Categories: "B",
		Location:   fmt.Sprintf("Region %d, %s", region, town),
		Available:  places > 0,
		CreatedAt:  ts,
		UpdatedAt:  ts,
		LastSeenAt: &ts,
	}
	slot.SlotKey = model.NaturalKey(slot.DateStr, slot.TimeStr, slot.Region, slot.Town, slot.Categories)
	return slot
}

func msNow() time.Time {
	return time.Now().Truncate(time.Millisecond)
}

func TestUpsertSlot_InsertThenUpdate(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	ts := msNow()
	inserted, err := store.UpsertSlot(ctx, testSlot("10. 05. 2025", "09:00", 2, "Ljubljana", 3, ts))
	if err != nil || !inserted {
		t.Fatalf("first UpsertSlot() = %v, %v; want true, nil", inserted, err)
	}

	later := ts.Add(time.Minute)
	inserted, err = store.UpsertSlot(ctx, testSlot("10. 05. 2025", "09:00", 2, "Ljubljana", 1, later))
	if err != nil || inserted {
		t.Fatalf("second UpsertSlot() = %v, %v; want false, nil", inserted, err)
	}

	var slots []model.Slot
	store.db.Find(&slots)
	if len(slots) != 1 {
		t.Fatalf("stored slots = %d, want 1", len(slots))
	}
	if slots[0].PlacesLeft != 1 {
		t.Errorf("PlacesLeft = %d, want 1 after update", slots[0].PlacesLeft)
	}
}

func TestUpsertSlot_NullRegionAndTownShareKey(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	build := func() *model.Slot {
		s := testSlot("10. 05. 2025", "09:00", 0, "", 2, msNow())
		s.Region, s.Town = nil, nil
		s.SlotKey = model.NaturalKey(s.DateStr, s.TimeStr, nil, nil, s.Categories)
		return s
	}

	if _, err := store.UpsertSlot(ctx, build()); err != nil {
		t.Fatalf("UpsertSlot() error = %v", err)
	}
	inserted, err := store.UpsertSlot(ctx, build())
	if err != nil || inserted {
		t.Errorf("UpsertSlot() with null key parts = %v, %v; want update", inserted, err)
	}
}

func TestSweepStale(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	t0 := msNow()
	store.UpsertSlot(ctx, testSlot("10. 05. 2025", "09:00", 2, "Ljubljana", 3, t0))
	store.UpsertSlot(ctx, testSlot("11. 05. 2025", "09:00", 2, "Ljubljana", 2, t0))

	t1 := t0.Add(time.Hour)
	store.UpsertSlot(ctx, testSlot("11. 05. 2025", "09:00", 2, "Ljubljana", 2, t1))

	swept, err := store.SweepStale(ctx, t1)
	if err != nil {
		t.Fatalf("SweepStale() error = %v", err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}

	available, err := store.ListAvailableSlots(ctx)
	if err != nil {
		t.Fatalf("ListAvailableSlots() error = %v", err)
	}
	if len(available) != 1 || available[0].DateStr != "11. 05. 2025" {
		t.Errorf("available = %v, want only the re-observed slot", available)
	}

	var stale model.Slot
	store.db.Where("date_str = ?", "10. 05. 2025").First(&stale)
	if stale.Available || stale.PlacesLeft != 0 {
		t.Errorf("stale slot available=%v places=%d, want false/0", stale.Available, stale.PlacesLeft)
	}
}

func TestListAvailableSlots_Ordering(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	ts := msNow()
	d1 := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 5, 11, 0, 0, 0, 0, time.UTC)

	for _, s := range []struct {
		date  *time.Time
		str   string
		clock string
	}{
		{&d2, "11. 5. 2025", "08:00"},
		{nil, "nekoč", "07:00"},
		{&d1, "10. 5. 2025", "12:00"},
		{&d1, "10. 5. 2025", "09:00"},
	} {
		slot := testSlot(s.str, s.clock, 2, "Kranj", 1, ts)
		slot.DateISO = s.date
		if _, err := store.UpsertSlot(ctx, slot); err != nil {
			t.Fatalf("UpsertSlot() error = %v", err)
		}
	}

	slots, err := store.ListAvailableSlots(ctx)
	if err != nil {
		t.Fatalf("ListAvailableSlots() error = %v", err)
	}
	var got []string
	for _, s := range slots {
		got = append(got, s.DateStr+" "+s.TimeStr)
	}
	want := []string{"10. 5. 2025 09:00", "10. 5. 2025 12:00", "11. 5. 2025 08:00", "nekoč 07:00"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestLastScrapedAt(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	got, err := store.GetLastScrapedAt(ctx)
	if err != nil || got != nil {
		t.Fatalf("GetLastScrapedAt() on empty table = %v, %v; want nil, nil", got, err)
	}

	first := msNow()
	second := first.Add(time.Minute)
	if err := store.SetLastScrapedAt(ctx, first); err != nil {
		t.Fatalf("SetLastScrapedAt() error = %v", err)
	}
	if err := store.SetLastScrapedAt(ctx, second); err != nil {
		t.Fatalf("SetLastScrapedAt() error = %v", err)
	}

	var count int64
	store.db.Model(&model.ScrapeRun{}).Count(&count)
	if count != 1 {
		t.Errorf("scrape_meta rows = %d, want 1", count)
	}

	got, err = store.GetLastScrapedAt(ctx)
	if err != nil || got == nil || !got.Equal(second) {
		t.Errorf("GetLastScrapedAt() = %v, %v; want %v", got, err, second)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	sub := &model.Subscription{
		Email:            "user@example.com",
		Active:           true,
		UnsubscribeToken: uuid.NewString(),
	}
	if err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}

	active, err := store.GetActiveSubscriptions(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("GetActiveSubscriptions() = %d, %v; want 1", len(active), err)
	}

	if err := store.TouchNotified(ctx, sub.ID, msNow()); err != nil {
		t.Errorf("TouchNotified() error = %v", err)
	}

	if err := store.DeactivateSubscription(ctx, "unknown-token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeactivateSubscription(unknown) = %v, want ErrNotFound", err)
	}
	if err := store.DeactivateSubscription(ctx, sub.UnsubscribeToken); err != nil {
		t.Fatalf("DeactivateSubscription() error = %v", err)
	}

	count, err := store.CountActiveSubscriptions(ctx)
	if err != nil || count != 0 {
		t.Errorf("CountActiveSubscriptions() = %d, %v; want 0", count, err)
	}

	var stored model.Subscription
	store.db.First(&stored, sub.ID)
	if stored.LastNotifiedAt == nil {
		t.Error("LastNotifiedAt not recorded")
	}
}

func TestVote_Toggle(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	q := &model.ExamQuestion{
		QuestionText:   "Kdo ima prednost?",
		AnswerA:        "A",
		AnswerB:        "B",
		AnswerC:        "C",
		AnswerD:        "D",
		CorrectAnswers: "B",
		ExamType:       model.ExamTypeTheory,
		Category:       "B",
		SubmittedBy:    "Anonymous",
	}
	if err := store.CreateQuestion(ctx, q); err != nil {
		t.Fatalf("CreateQuestion() error = %v", err)
	}

	steps := []struct {
		vote            model.VoteType
		likes, dislikes int
	}{
		{model.VoteLike, 1, 0},
		{model.VoteDislike, 0, 1},
		{model.VoteDislike, 0, 0},
		{model.VoteLike, 1, 0},
	}
	for i, step := range steps {
		got, err := store.Vote(ctx, q.ID, "10.0.0.1", step.vote)
		if err != nil {
			t.Fatalf("step %d: Vote() error = %v", i, err)
		}
		if got.LikesCount != step.likes || got.DislikesCount != step.dislikes {
			t.Errorf("step %d: counts = %d/%d, want %d/%d", i, got.LikesCount, got.DislikesCount, step.likes, step.dislikes)
		}
	}

	if _, err := store.Vote(ctx, q.ID, "10.0.0.1", model.VoteType("love")); !errors.Is(err, ErrInvalidVote) {
		t.Errorf("Vote(invalid) error = %v, want ErrInvalidVote", err)
	}
	if _, err := store.Vote(ctx, q.ID+1000, "10.0.0.1", model.VoteLike); !errors.Is(err, ErrNotFound) {
		t.Errorf("Vote(missing question) error = %v, want ErrNotFound", err)
	}

	questions, err := store.ListQuestions(ctx, QuestionFilter{ExamType: model.ExamTypeTheory}, 100)
	if err != nil || len(questions) != 1 {
		t.Errorf("ListQuestions() = %d, %v; want 1", len(questions), err)
	}
	questions, _ = store.ListQuestions(ctx, QuestionFilter{ExamType: model.ExamTypeDriving}, 100)
	if len(questions) != 0 {
		t.Errorf("ListQuestions(driving) = %d, want 0", len(questions))
	}
}

// Upserting the same natural key any number of times leaves one row.
func TestProperty_SlotNaturalKeyUniqueness(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated upserts keep exactly one row", prop.ForAll(
		func(day, hour, region, times int) bool {
			ctx := context.Background()
			date := fmt.Sprintf("%d. 6. 2025", day)
			clock := fmt.Sprintf("%02d:00", hour)

			inserts := 0
			for i := 0; i < times; i++ {
				inserted, err := store.UpsertSlot(ctx, testSlot(date, clock, region, "Celje", i, msNow()))
				if err != nil {
					return false
				}
				if inserted {
					inserts++
				}
			}

			var count int64
			key := model.NaturalKey(date, clock, &region, strPtr("Celje"), "B")
			store.db.Model(&model.Slot{}).Where("slot_key = ?", key).Count(&count)
			store.db.Where("slot_key = ?", key).Delete(&model.Slot{})

			return count == 1 && inserts == 1
		},
		gen.IntRange(1, 28),
		gen.IntRange(6, 18),
		gen.IntRange(1, 5),
		gen.IntRange(2, 5),
	))

	properties.TestingRun(t)
}

func strPtr(s string) *string { return &s }
