package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/user/examslots/internal/crawler"
	"github.com/user/examslots/internal/reconcile"
	"github.com/user/examslots/internal/scheduler"
)

// Stats is the part of the store the status command reads
type Stats interface {
	CountSlots(ctx context.Context) (total int64, available int64, err error)
	CountActiveSubscriptions(ctx context.Context) (int64, error)
	GetLastScrapedAt(ctx context.Context) (*time.Time, error)
}

// Cycles runs scrape cycles and exposes their state
type Cycles interface {
	TryRun(ctx context.Context, trigger string) (reconcile.Summary, error)
	IsRunning() bool
	LastResult() *scheduler.CycleResult
}

// Handler handles admin commands and reports cycle results to the admin chat
type Handler struct {
	stats       Stats
	cycles      Cycles
	telegram    Sender
	adminChatID int64
	startTime   time.Time
}

// NewHandler creates a new command handler
func NewHandler(stats Stats, cycles Cycles, telegram Sender, adminChatID int64) *Handler {
	return &Handler{
		stats:       stats,
		cycles:      cycles,
		telegram:    telegram,
		adminChatID: adminChatID,
		startTime:   time.Now(),
	}
}

// HandleUpdate processes an incoming Telegram update
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	h.handleCommand(ctx, update.Message)
}

// handleCommand routes commands to their respective handlers
func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	command := msg.Command()

	log.Info().
		Int64("chatID", chatID).
		Str("command", command).
		Msg("Received command")

	if chatID != h.adminChatID {
		h.sendError(chatID, "This bot only answers its admin chat.")
		return
	}

	switch command {
	case "start", "help":
		h.handleHelp(chatID)
	case "status":
		h.handleStatus(ctx, chatID)
	case "scrape":
		h.handleScrape(ctx, chatID)
	case "last":
		h.handleLast(chatID)
	default:
		h.sendError(chatID, "Unknown command. Use /help to see available commands.")
	}
}

// handleHelp handles /start and /help
func (h *Handler) handleHelp(chatID int64) {
	helpText := `🤖 *Exam Slots Admin*

/status \- Slot and subscription counts
/scrape \- Run a scrape cycle now
/last \- Result of the latest cycle

_Cycle results are posted here automatically\._`

	if err := h.telegram.SendMarkdown(chatID, helpText); err != nil {
		log.Error().Err(err).Int64("chatID", chatID).Msg("Failed to send help message")
	}
}

// handleStatus handles /status
func (h *Handler) handleStatus(ctx context.Context, chatID int64) {
	total, available, err := h.stats.CountSlots(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count slots")
		total, available = -1, -1
	}

	subs, err := h.stats.CountActiveSubscriptions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count subscriptions")
		subs = -1
	}

	lastScraped := "never"
	if last, err := h.stats.GetLastScrapedAt(ctx); err == nil && last != nil {
		lastScraped = last.UTC().Format("2006-01-02 15:04:05") + " UTC"
	}

	state := "idle"
	if h.cycles.IsRunning() {
		state = "running"
	}

	lines := []string{
		"📊 *Status*\n",
		escape(fmt.Sprintf("📅 Slots: %d available / %d stored", available, total)),
		escape(fmt.Sprintf("📬 Active subscriptions: %d", subs)),
		escape(fmt.Sprintf("🕐 Last scrape: %s", lastScraped)),
		escape(fmt.Sprintf("🔄 Cycle: %s", state)),
		escape(fmt.Sprintf("⏱ Uptime: %s", formatDuration(time.Since(h.startTime)))),
	}

	if err := h.telegram.SendMarkdown(chatID, strings.Join(lines, "\n")); err != nil {
		log.Error().Err(err).Int64("chatID", chatID).Msg("Failed to send status")
	}
}

// handleScrape handles /scrape. The cycle runs in the background and its
// result arrives through ReportCycle.
func (h *Handler) handleScrape(ctx context.Context, chatID int64) {
	if h.cycles.IsRunning() {
		h.sendError(chatID, "A scrape cycle is already running.")
		return
	}

	if err := h.telegram.SendMessage(chatID, "🔄 Starting scrape cycle..."); err != nil {
		log.Error().Err(err).Int64("chatID", chatID).Msg("Failed to send scrape acknowledgment")
	}

	go func() {
		if _, err := h.cycles.TryRun(ctx, "telegram"); errors.Is(err, scheduler.ErrCycleInProgress) {
			h.sendError(chatID, "A scrape cycle is already running.")
		}
	}()
}

// handleLast handles /last
func (h *Handler) handleLast(chatID int64) {
	res := h.cycles.LastResult()
	if res == nil {
		if err := h.telegram.SendMessage(chatID, "📭 No cycle has run yet."); err != nil {
			log.Error().Err(err).Int64("chatID", chatID).Msg("Failed to send last result")
		}
		return
	}
	if err := h.telegram.SendMessage(chatID, FormatCycleReport(*res)); err != nil {
		log.Error().Err(err).Int64("chatID", chatID).Msg("Failed to send last result")
	}
}

// ReportCycle posts a finished cycle to the admin chat
func (h *Handler) ReportCycle(res scheduler.CycleResult) {
	if h.adminChatID == 0 {
		return
	}
	// quiet periodic runs that changed nothing
	if res.Err == nil && res.Trigger == "schedule" && res.Summary.Opened == 0 && res.Summary.Swept == 0 {
		return
	}
	if err := h.telegram.SendMessage(h.adminChatID, FormatCycleReport(res)); err != nil {
		log.Error().Err(err).Msg("Failed to send cycle report")
	}
}

// FormatCycleReport renders a cycle result as plain text
func FormatCycleReport(res scheduler.CycleResult) string {
	var b strings.Builder

	switch {
	case res.Err == nil:
		b.WriteString("✅ Scrape cycle completed")
	case errors.Is(res.Err, crawler.ErrSourceUnavailable):
		b.WriteString("⚠️ Source unavailable, nothing changed")
	default:
		b.WriteString("❌ Scrape cycle failed")
	}

	fmt.Fprintf(&b, " (%s, %s)\n", res.Trigger, res.Duration.Round(time.Second))
	fmt.Fprintf(&b, "🆕 Opened: %d\n", res.Summary.Opened)
	fmt.Fprintf(&b, "🔄 Updated: %d\n", res.Summary.Updated)
	fmt.Fprintf(&b, "📦 Scraped: %d\n", res.Summary.Total)
	fmt.Fprintf(&b, "🗑 Gone: %d", res.Summary.Swept)

	if res.Err != nil {
		fmt.Fprintf(&b, "\nError: %s", res.Err)
	}
	return b.String()
}

// sendError sends an error message to a chat
func (h *Handler) sendError(chatID int64, message string) {
	if err := h.telegram.SendMessage(chatID, "❌ "+message); err != nil {
		log.Error().Err(err).Int64("chatID", chatID).Msg("Failed to send error message")
	}
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
