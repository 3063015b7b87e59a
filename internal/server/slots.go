package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/user/examslots/internal/crawler"
	"github.com/user/examslots/internal/export"
	"github.com/user/examslots/internal/model"
	"github.com/user/examslots/internal/notify"
	"github.com/user/examslots/internal/scheduler"
)

// SlotsResponse is the body of GET /api/slots
type SlotsResponse struct {
	LastScrapedAt *time.Time    `json:"last_scraped_at"`
	Count         int           `json:"count"`
	Items         []*model.Slot `json:"items"`
	Error         string        `json:"error,omitempty"`
}

// handleTriggerScrape runs one scrape cycle and reports its counts
func (s *Server) handleTriggerScrape(c *gin.Context) {
	// the cycle outlives a dropped client connection
	ctx := context.WithoutCancel(c.Request.Context())

	summary, err := s.cycles.TryRun(ctx, "http")
	switch {
	case err == nil:
		c.JSON(http.StatusOK, summary)
	case errors.Is(err, scheduler.ErrCycleInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, crawler.ErrSourceUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   err.Error(),
			"opened":  summary.Opened,
			"updated": summary.Updated,
		})
	}
}

// handleListSlots returns the available slots, optionally filtered.
// A store failure still answers 200 with an empty list and an error field.
func (s *Server) handleListSlots(c *gin.Context) {
	filter, err := slotFilterFromQuery(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	resp := SlotsResponse{Items: []*model.Slot{}}

	slots, err := s.store.ListAvailableSlots(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list slots")
		resp.Error = "Failed to load slots"
		c.JSON(http.StatusOK, resp)
		return
	}

	if last, err := s.store.GetLastScrapedAt(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to read last scrape time")
	} else {
		resp.LastScrapedAt = last
	}

	for _, slot := range slots {
		if notify.MatchesSubscription(slot, filter) {
			resp.Items = append(resp.Items, slot)
		}
	}
	resp.Count = len(resp.Items)

	c.JSON(http.StatusOK, resp)
}

// handleExportSlots returns the filtered available slots as an xlsx workbook
func (s *Server) handleExportSlots(c *gin.Context) {
	filter, err := slotFilterFromQuery(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	slots, err := s.store.ListAvailableSlots(ctx)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load slots"})
		return
	}

	matched := make([]*model.Slot, 0, len(slots))
	for _, slot := range slots {
		if notify.MatchesSubscription(slot, filter) {
			matched = append(matched, slot)
		}
	}

	last, _ := s.store.GetLastScrapedAt(ctx)
	buf, filename, err := export.SlotsWorkbook(matched, last)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build export"})
		return
	}

	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.QueryEscape(filename))
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

// slotFilterFromQuery maps list query parameters onto a subscription
// shaped filter so listing and notifications share one matcher.
func slotFilterFromQuery(q url.Values) (*model.Subscription, error) {
	filter := &model.Subscription{}

	if v := q.Get("region"); v != "" {
		region, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("region must be a number")
		}
		filter.FilterRegion = &region
	}
	if v := q.Get("town"); v != "" {
		filter.FilterTown = &v
	}
	if v := q.Get("exam_type"); v != "" {
		et, ok := model.ParseExamType(v)
		if !ok {
			return nil, errors.New("exam_type must be driving or theory")
		}
		filter.FilterExamType = &et
	}
	if v := q.Get("category"); v != "" {
		filter.FilterCategories = categoryFilter(&v)
	}
	if v := q.Get("translator"); v != "" {
		translator, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.New("translator must be true or false")
		}
		filter.FilterTranslator = &translator
	}

	return filter, nil
}
