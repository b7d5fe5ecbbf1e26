package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/scrapejobs/internal/api/response"
	"github.com/kiranshivaraju/scrapejobs/internal/dispatch"
	"github.com/kiranshivaraju/scrapejobs/internal/input"
	"github.com/kiranshivaraju/scrapejobs/pkg/models"
)

const maxSubmitBody = 1 << 20

// Jobs defines the job operations the handlers depend on.
type Jobs interface {
	Submit(ctx context.Context, accounts []string) (models.Job, error)
	Poll(ctx context.Context, id uuid.UUID) (models.Job, error)
	Result(id uuid.UUID) (models.Result, error)
	Delete(ctx context.Context, id uuid.UUID) bool
	Status() dispatch.Status
}

var _ Jobs = (*dispatch.Dispatcher)(nil)

func TaskLocation(id uuid.UUID) string   { return "/api/v1/tasks/" + id.String() }
func ResultLocation(id uuid.UUID) string { return "/api/v1/results/" + id.String() }

type submitRequest struct {
	Accounts []string `json:"accounts"`
	Account  string   `json:"account"`
}

type submitResponse struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type taskResponse struct {
	ID        uuid.UUID       `json:"id"`
	State     models.JobState `json:"state"`
	Done      int             `json:"done"`
	Total     int             `json:"total"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/reports.
func NewSubmitHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		src := input.FromSingle(req.Account)
		if len(req.Accounts) > 0 {
			src = input.FromList(req.Accounts)
		}
		accounts, err := src.Resolve()
		if err != nil {
			switch {
			case errors.Is(err, input.ErrNoAccounts):
				response.Error(w, http.StatusBadRequest, "NO_ACCOUNT_PROVIDED",
					"No account has been provided", nil)
			case errors.Is(err, input.ErrBadAccount):
				response.Error(w, http.StatusBadRequest, "WRONG_FORMAT_ACCOUNT_LIST",
					"Accounts must be a profile URL, @handle or handle", err.Error())
			default:
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			}
			return
		}

		job, err := jobs.Submit(r.Context(), accounts)
		if err != nil {
			if errors.Is(err, dispatch.ErrInvalidInput) {
				response.Error(w, http.StatusBadRequest, "NO_ACCOUNT_PROVIDED",
					"No account has been provided", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.Accepted(w, TaskLocation(job.ID), submitResponse{
			ID:        job.ID,
			CreatedAt: job.CreatedAt,
			ExpiresAt: job.ExpiresAt,
		})
	}
}

// NewPollHandler returns an http.HandlerFunc for GET /api/v1/tasks/{taskID}.
// A completed task answers 201 with the location of its result.
func NewPollHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(r)
		if !ok {
			taskNotFound(w)
			return
		}

		job, err := jobs.Poll(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, dispatch.ErrResultLost):
				response.Error(w, http.StatusNotFound, "PROCESSED_DATA_LOST",
					"The task completed but its data was lost; please resubmit", nil)
			case errors.Is(err, dispatch.ErrNotFound):
				taskNotFound(w)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		body := taskResponse{
			ID:        job.ID,
			State:     job.State,
			Done:      job.Progress.Done,
			Total:     job.Progress.Total,
			ElapsedMs: time.Since(job.CreatedAt).Milliseconds(),
		}
		if job.State == models.JobStateCompleted {
			response.Created(w, ResultLocation(job.ID), body)
			return
		}
		response.JSON(w, body)
	}
}

// NewResultHandler returns an http.HandlerFunc for GET /api/v1/results/{taskID}.
func NewResultHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(r)
		if !ok {
			dataNotFound(w)
			return
		}

		result, err := jobs.Result(id)
		if err != nil {
			dataNotFound(w)
			return
		}
		if result.Payload == nil {
			result.Payload = models.Payload{}
		}
		response.JSON(w, result)
	}
}

// NewDeleteHandler returns an http.HandlerFunc for DELETE /api/v1/tasks/{taskID}.
func NewDeleteHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(r)
		if !ok || !jobs.Delete(r.Context(), id) {
			taskNotFound(w)
			return
		}
		response.NoContent(w)
	}
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/status.
func NewStatusHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		st := jobs.Status()
		if st.Jobs == nil {
			st.Jobs = []models.JobSummary{}
		}
		if st.ResultIDs == nil {
			st.ResultIDs = []uuid.UUID{}
		}
		response.JSON(w, st)
	}
}

// NewLiveHandler returns the liveness probe for GET /live.
func NewLiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, map[string]string{"status": "system running"})
	}
}

// taskID parses the {taskID} route parameter. Malformed ids are reported as
// unknown tasks.
func taskID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func taskNotFound(w http.ResponseWriter) {
	response.Error(w, http.StatusNotFound, "TASK_NOT_FOUND", "Task not found", nil)
}

func dataNotFound(w http.ResponseWriter) {
	response.Error(w, http.StatusNotFound, "PROCESSED_DATA_NOT_FOUND", "Processed data not found", nil)
}
