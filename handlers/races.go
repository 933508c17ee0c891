package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tcprescott/sahabot2/lifecycle"
	"github.com/tcprescott/sahabot2/models"
)

type raceResponse struct {
	Race    *models.Race `json:"race"`
	Applied bool         `json:"applied"`
}

// Claim creates a pending race for the permalink and schedules its room.
func (h *Handler) Claim(c echo.Context) error {
	ctx := c.Request().Context()
	permalinkID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid permalink id")
	}
	runnerID := runnerIDFrom(c)

	pl, err := h.races.PermalinkWithPool(ctx, permalinkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "permalink not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if pl.Pool == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "permalink has no pool")
	}

	active, err := h.races.HasActiveClaim(ctx, permalinkID, runnerID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if active {
		return echo.NewHTTPError(http.StatusConflict, "you already have an active race for this seed")
	}

	now := time.Now().UTC()
	forfeitAt := now.Add(h.live.MaxPending())
	race := &models.Race{
		ID:              uuid.NewString(),
		TournamentID:    pl.Pool.TournamentID,
		PermalinkID:     permalinkID,
		RunnerID:        runnerID,
		Status:          models.RacePending,
		ThreadOpenTime:  now,
		WarningDeadline: forfeitAt.Add(-h.live.WarningLead()),
		ForfeitDeadline: forfeitAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.races.Insert(ctx, race); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	task, err := models.NewOpenRoomTask(race.ID, now)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.tasks.Insert(ctx, task); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusCreated, race)
}

// GetRace returns one race. Runners see their own races; admins see all.
func (h *Handler) GetRace(c echo.Context) error {
	race, err := h.loadOwnedRace(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, race)
}

type resultRequest struct {
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	VODURL         *string `json:"vod_url,omitempty"`
	Notes          *string `json:"notes,omitempty"`
}

// SubmitResult is the manual finish path.
func (h *Handler) SubmitResult(c echo.Context) error {
	race, err := h.loadOwnedRace(c)
	if err != nil {
		return err
	}

	var req resultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ElapsedSeconds <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "elapsed_seconds must be positive")
	}

	out, err := h.engine.Apply(c.Request().Context(), race, lifecycle.FinishEvent{
		ElapsedSeconds: req.ElapsedSeconds,
		VOD:            req.VODURL,
		Notes:          req.Notes,
	}, actorFrom(c))
	if err != nil {
		return transitionHTTPError(err)
	}
	return c.JSON(http.StatusOK, raceResponse{Race: out.Race, Applied: out.Applied})
}

// Forfeit lets the runner give up a claimed or running race.
func (h *Handler) Forfeit(c echo.Context) error {
	race, err := h.loadOwnedRace(c)
	if err != nil {
		return err
	}
	out, err := h.engine.Apply(c.Request().Context(), race, lifecycle.ForfeitEvent{}, actorFrom(c))
	if err != nil {
		return transitionHTTPError(err)
	}
	return c.JSON(http.StatusOK, raceResponse{Race: out.Race, Applied: out.Applied})
}

// Cancel is the admin path for voiding any non-terminal race.
func (h *Handler) Cancel(c echo.Context) error {
	if !isAdmin(c) {
		return echo.NewHTTPError(http.StatusForbidden, "admin access required")
	}
	race, err := h.loadRace(c)
	if err != nil {
		return err
	}
	out, err := h.engine.Apply(c.Request().Context(), race, lifecycle.AdminCancelEvent{}, actorFrom(c))
	if err != nil {
		return transitionHTTPError(err)
	}
	return c.JSON(http.StatusOK, raceResponse{Race: out.Race, Applied: out.Applied})
}

type reviewRequest struct {
	Reason string `json:"reason"`
}

// RequestReview flags a finished race for review. Status is unchanged.
func (h *Handler) RequestReview(c echo.Context) error {
	race, err := h.loadOwnedRace(c)
	if err != nil {
		return err
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason is required")
	}

	ok, err := h.races.RequestReview(c.Request().Context(), race.ID, req.Reason)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusConflict, "race is not finished")
	}
	updated, err := h.races.Get(c.Request().Context(), race.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

type reviewVerdict struct {
	Approved bool    `json:"approved"`
	Notes    *string `json:"notes,omitempty"`
}

// ResolveReview records a reviewer verdict on a flagged race.
func (h *Handler) ResolveReview(c echo.Context) error {
	if !isAdmin(c) {
		return echo.NewHTTPError(http.StatusForbidden, "admin access required")
	}
	race, err := h.loadRace(c)
	if err != nil {
		return err
	}
	var req reviewVerdict
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ok, err := h.races.ResolveReview(c.Request().Context(), race.ID, runnerIDFrom(c), req.Approved, req.Notes)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusConflict, "race is not finished or has no review request")
	}
	updated, err := h.races.Get(c.Request().Context(), race.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) loadRace(c echo.Context) (*models.Race, error) {
	race, err := h.races.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "race not found")
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return race, nil
}

func (h *Handler) loadOwnedRace(c echo.Context) (*models.Race, error) {
	race, err := h.loadRace(c)
	if err != nil {
		return nil, err
	}
	if race.RunnerID != runnerIDFrom(c) && !isAdmin(c) {
		return nil, echo.NewHTTPError(http.StatusForbidden, "not your race")
	}
	return race, nil
}

func transitionHTTPError(err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, lifecycle.ErrStale):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func actorFrom(c echo.Context) lifecycle.Actor {
	username, _ := c.Get("username").(string)
	return lifecycle.Actor{Name: username}
}

func runnerIDFrom(c echo.Context) int64 {
	id, _ := c.Get("runner_id").(int64)
	return id
}

func isAdmin(c echo.Context) bool {
	admin, _ := c.Get("admin").(bool)
	return admin
}
