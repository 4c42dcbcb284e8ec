package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activity-tracker/internal/model"
	"activity-tracker/internal/pkg/guard"
	"activity-tracker/internal/rating"
	"activity-tracker/internal/repository"
	"activity-tracker/internal/service"
)

// handlerStore is the minimal store wiring needed to drive the handlers
// through a real CompletionService and SyncService.
type handlerStore struct {
	activity     *model.Activity
	category     *model.Category
	participants []*model.Participant
	results      map[int64]*model.ActivityResult
	records      map[int64]*model.RatingRecord
	processing   map[int64]*model.ProcessingStatus
	entries      []*model.ChangeLogEntry
}

func newHandlerStore() *handlerStore {
	return &handlerStore{
		activity: &model.Activity{ID: 100, CategoryID: 7, CreatorID: 1, Status: model.ActivityStatusOpen},
		category: &model.Category{
			ID: 7, Name: "tennis", RatingEnabled: true,
			StartingScore: 1200, MinParticipants: 2, AllowDraws: true,
			KNew: 40, KEstablished: 32, KExpert: 24,
			NewGamesThreshold: 10, EstabGamesThreshold: 50,
			SkillMidpoint: 5.0, SkillBonusCap: 10,
		},
		participants: []*model.Participant{
			{ActivityID: 100, UserID: 1, Status: model.ParticipantStatusAccepted},
			{ActivityID: 100, UserID: 2, Status: model.ParticipantStatusAccepted},
		},
		results:    make(map[int64]*model.ActivityResult),
		records:    make(map[int64]*model.RatingRecord),
		processing: make(map[int64]*model.ProcessingStatus),
	}
}

func (s *handlerStore) GetByID(_ context.Context, id int64) (*model.Activity, error) {
	if s.activity.ID != id {
		return nil, repository.ErrActivityNotFound
	}
	return s.activity, nil
}

func (s *handlerStore) GetCategory(_ context.Context, _ int64) (*model.Category, error) {
	return s.category, nil
}

func (s *handlerStore) GetAcceptedParticipants(_ context.Context, _ int64) ([]*model.Participant, error) {
	return s.participants, nil
}

func (s *handlerStore) GetResults(_ context.Context, _ int64) ([]*model.ActivityResult, error) {
	var out []*model.ActivityResult
	for _, r := range s.results {
		out = append(out, r)
	}
	return out, nil
}

func (s *handlerStore) SaveResults(_ context.Context, _ int64, results []*model.ActivityResult) error {
	for _, r := range results {
		s.results[r.UserID] = r
	}
	return nil
}

func (s *handlerStore) MarkCompleted(_ context.Context, _ int64) error {
	if s.activity.Status == model.ActivityStatusCompleted {
		return repository.ErrActivityNotFound
	}
	s.activity.Status = model.ActivityStatusCompleted
	return nil
}

func (s *handlerStore) GetSkillRatings(_ context.Context, _ int64) (map[int64][]int, error) {
	return nil, nil
}

func (s *handlerStore) GetForUsers(_ context.Context, _ int64, userIDs []int64) (map[int64]*model.RatingRecord, error) {
	out := make(map[int64]*model.RatingRecord)
	for _, id := range userIDs {
		if rec, ok := s.records[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (s *handlerStore) ApplyChanges(_ context.Context, _ int64, changes []rating.Change) error {
	for _, c := range changes {
		s.records[c.UserID] = &model.RatingRecord{
			UserID: c.UserID, Score: c.NewScore, PeakScore: c.NewPeak,
			GamesPlayed: c.NewGamesPlayed, Volatility: c.NewVolatility,
			Version: c.ExpectedVersion + 1,
		}
	}
	return nil
}

func (s *handlerStore) Get(_ context.Context, id int64) (*model.ProcessingStatus, error) {
	ps, ok := s.processing[id]
	if !ok {
		return nil, repository.ErrStatusNotFound
	}
	return ps, nil
}

func (s *handlerStore) AcquireLock(_ context.Context, id int64, holder string, _ time.Duration) error {
	ps, ok := s.processing[id]
	if ok && ps.Status == model.ProcessingCompleted {
		return repository.ErrNotRetriable
	}
	now := time.Now()
	s.processing[id] = &model.ProcessingStatus{
		ActivityID: id, Status: model.ProcessingCalculating,
		LockHolder: &holder, LockedAt: &now,
	}
	return nil
}

func (s *handlerStore) OwnsLock(_ context.Context, id int64, holder string) (bool, error) {
	ps, ok := s.processing[id]
	return ok && ps.LockHolder != nil && *ps.LockHolder == holder, nil
}

func (s *handlerStore) ReleaseCompleted(_ context.Context, id int64, _ string) error {
	s.processing[id].Status = model.ProcessingCompleted
	s.processing[id].LockHolder = nil
	return nil
}

func (s *handlerStore) ReleaseFailed(_ context.Context, id int64, _, message string, _ int) (string, error) {
	ps := s.processing[id]
	ps.Status = model.ProcessingError
	ps.ErrorMessage = &message
	ps.RetryCount++
	return ps.Status, nil
}

func (s *handlerStore) ResetForRetry(_ context.Context, id int64) error {
	ps, ok := s.processing[id]
	if !ok {
		return repository.ErrStatusNotFound
	}
	if ps.Status != model.ProcessingError {
		return repository.ErrNotRetriable
	}
	ps.Status = model.ProcessingPending
	return nil
}

func (s *handlerStore) Append(_ context.Context, e *model.ChangeLogEntry) (*model.ChangeLogEntry, error) {
	stored := *e
	stored.ID = int64(len(s.entries) + 1)
	stored.CreatedAt = time.Now()
	s.entries = append(s.entries, &stored)
	return &stored, nil
}

func (s *handlerStore) GetChangesSince(_ context.Context, userID int64, cursor time.Time, _ []string, limit int) ([]*model.ChangeLogEntry, error) {
	var out []*model.ChangeLogEntry
	for _, e := range s.entries {
		if e.UserID == userID && e.CreatedAt.After(cursor) && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *handlerStore) SummarizeBefore(_ context.Context, _ time.Time) (int64, error) { return 0, nil }
func (s *handlerStore) PruneBefore(_ context.Context, _ time.Time) (int64, error)     { return 0, nil }
func (s *handlerStore) GetDailySummaries(_ context.Context, _ int64, _ int) ([]*model.DailySummary, error) {
	return nil, nil
}

// handlerCursors is a separate fake because its Get signature differs
// from the processing store's.
type handlerCursors struct {
	cursors map[int64]*model.DeltaCursor
}

func (s *handlerCursors) Get(_ context.Context, userID int64, stream string) (*model.DeltaCursor, error) {
	if c, ok := s.cursors[userID]; ok {
		return c, nil
	}
	return &model.DeltaCursor{UserID: userID, Stream: stream}, nil
}

func (s *handlerCursors) Advance(_ context.Context, userID int64, stream string, to time.Time, clientType string) (*model.DeltaCursor, error) {
	c, ok := s.cursors[userID]
	if !ok {
		c = &model.DeltaCursor{UserID: userID, Stream: stream}
		s.cursors[userID] = c
	}
	if to.After(c.LastSyncedAt) {
		c.LastSyncedAt = to
	}
	c.ClientType = clientType
	return c, nil
}

func (s *handlerCursors) TouchActive(_ context.Context, _ int64, _ string) error { return nil }

func setupApp(t *testing.T) (*fiber.App, *handlerStore) {
	t.Helper()
	store := newHandlerStore()
	cursors := &handlerCursors{cursors: make(map[int64]*model.DeltaCursor)}

	completion := service.NewCompletionService(
		store, store, store, guard.NoopGuard{}, service.NewChangeWriter(store),
		service.CompletionConfig{},
	)
	sync := service.NewSyncService(store, cursors, service.SyncConfig{})

	app := fiber.New()
	Register(app, NewActivityHandler(completion), NewSyncHandler(sync), pingOK{})
	return app, store
}

type pingOK struct{}

func (pingOK) Ping(context.Context) error { return nil }

func postJSON(t *testing.T, app *fiber.App, path string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	return resp.StatusCode, decoded
}

func completeBody(actorID int64) map[string]any {
	return map[string]any{
		"actor_id": actorID,
		"results": []map[string]any{
			{"user_id": 1, "result": "win"},
			{"user_id": 2, "result": "loss"},
		},
	}
}

func TestCompleteEndpoint(t *testing.T) {
	app, _ := setupApp(t)

	status, body := postJSON(t, app, "/api/v1/activities/100/complete", completeBody(1))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["rating_applied"])
	assert.Len(t, body["changes"], 2)
}

func TestCompleteEndpointErrorMapping(t *testing.T) {
	t.Run("activity not found", func(t *testing.T) {
		app, _ := setupApp(t)
		status, _ := postJSON(t, app, "/api/v1/activities/999/complete", completeBody(1))
		assert.Equal(t, fiber.StatusNotFound, status)
	})

	t.Run("already completed", func(t *testing.T) {
		app, _ := setupApp(t)
		status, _ := postJSON(t, app, "/api/v1/activities/100/complete", completeBody(1))
		require.Equal(t, fiber.StatusOK, status)
		status, _ = postJSON(t, app, "/api/v1/activities/100/complete", completeBody(1))
		assert.Equal(t, fiber.StatusConflict, status)
	})

	t.Run("unauthorized actor", func(t *testing.T) {
		app, _ := setupApp(t)
		status, _ := postJSON(t, app, "/api/v1/activities/100/complete", completeBody(42))
		assert.Equal(t, fiber.StatusForbidden, status)
	})

	t.Run("invalid results", func(t *testing.T) {
		app, _ := setupApp(t)
		status, _ := postJSON(t, app, "/api/v1/activities/100/complete", map[string]any{
			"actor_id": 1,
			"results": []map[string]any{
				{"user_id": 1, "result": "loss"},
				{"user_id": 2, "result": "loss"},
			},
		})
		assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	})

	t.Run("validation rejects bad result kind", func(t *testing.T) {
		app, _ := setupApp(t)
		status, _ := postJSON(t, app, "/api/v1/activities/100/complete", map[string]any{
			"actor_id": 1,
			"results": []map[string]any{
				{"user_id": 1, "result": "forfeit"},
				{"user_id": 2, "result": "loss"},
			},
		})
		assert.Equal(t, fiber.StatusBadRequest, status)
	})

	t.Run("malformed activity id", func(t *testing.T) {
		app, _ := setupApp(t)
		status, _ := postJSON(t, app, "/api/v1/activities/abc/complete", completeBody(1))
		assert.Equal(t, fiber.StatusBadRequest, status)
	})
}

func TestStatusEndpoint(t *testing.T) {
	app, _ := setupApp(t)

	req := httptest.NewRequest("GET", "/api/v1/activities/100/status", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	status, _ := postJSON(t, app, "/api/v1/activities/100/complete", completeBody(1))
	require.Equal(t, fiber.StatusOK, status)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/activities/100/status", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "completed", body["status"])
}

func TestChangesEndpoint(t *testing.T) {
	app, _ := setupApp(t)

	status, _ := postJSON(t, app, "/api/v1/activities/100/complete", completeBody(1))
	require.Equal(t, fiber.StatusOK, status)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/users/1/changes", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var batch service.DeltaBatch
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&batch))
	require.NotEmpty(t, batch.Entries)
	assert.False(t, batch.HasMore)

	// Acknowledge the cursor, then the stream is drained.
	ackStatus, _ := postJSON(t, app, "/api/v1/users/1/changes/ack", map[string]any{
		"cursor":      batch.NewCursor.Format(time.RFC3339Nano),
		"client_type": "mobile",
	})
	require.Equal(t, fiber.StatusOK, ackStatus)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/users/1/changes", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var drained service.DeltaBatch
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&drained))
	assert.Empty(t, drained.Entries)
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := setupApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
