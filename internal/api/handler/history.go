package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/scrapejobs/internal/api/response"
	"github.com/kiranshivaraju/scrapejobs/internal/store"
	"github.com/kiranshivaraju/scrapejobs/pkg/models"
)

// ArchiveLister reads archived job outcomes.
type ArchiveLister interface {
	ListArchivedJobs(ctx context.Context, filter store.ArchiveFilter) ([]*models.ArchivedJob, error)
}

// NewHistoryHandler returns an http.HandlerFunc for GET /api/v1/history.
// Query parameters: state (completed|failed), since (RFC3339), limit (1-100).
func NewHistoryHandler(archive ArchiveLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter store.ArchiveFilter

		if s := q.Get("state"); s != "" {
			state := models.JobState(s)
			if !state.Terminal() {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"state must be completed or failed", nil)
				return
			}
			filter.State = state
		}

		if s := q.Get("since"); s != "" {
			since, err := time.Parse(time.RFC3339, s)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"since must be a valid RFC3339 timestamp", nil)
				return
			}
			filter.Since = since
		}

		filter.Limit = 20
		if s := q.Get("limit"); s != "" {
			limit, err := strconv.Atoi(s)
			if err != nil || limit < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"limit must be a positive integer", nil)
				return
			}
			if limit > 100 {
				limit = 100
			}
			filter.Limit = limit
		}

		jobs, err := archive.ListArchivedJobs(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE",
				"The job archive is not available", nil)
			return
		}
		if jobs == nil {
			jobs = []*models.ArchivedJob{}
		}
		response.Collection(w, jobs, response.ListMeta{Limit: filter.Limit, Count: len(jobs)})
	}
}
