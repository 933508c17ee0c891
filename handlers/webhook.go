package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/tcprescott/sahabot2/racing"
)

// racingEvent is the push payload from the racing service relay.
type racingEvent struct {
	Type    string          `json:"type"` // entrant | race_status | join_request
	Room    string          `json:"room"`
	Status  string          `json:"status,omitempty"`
	Entrant *racing.Entrant `json:"entrant,omitempty"`
}

// RacingEvents receives pushed entrant/race status changes and join requests.
// Delivery is at-least-once; duplicates are absorbed by the lifecycle engine.
func (h *Handler) RacingEvents(c echo.Context) error {
	secret := c.Request().Header.Get("X-Racing-Secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.WebhookSecret)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "bad webhook secret")
	}

	var ev racingEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if ev.Room == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "room is required")
	}
	ctx := c.Request().Context()

	switch ev.Type {
	case "entrant":
		if ev.Entrant == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "entrant is required")
		}
		if err := h.reconciler.EntrantEvent(ctx, ev.Room, *ev.Entrant); err != nil {
			h.log.Error("entrant event failed",
				zap.String("room", ev.Room),
				zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "event not applied")
		}

	case "race_status":
		if err := h.reconciler.RaceStatusEvent(ctx, ev.Room, ev.Status); err != nil {
			h.log.Error("race status event failed",
				zap.String("room", ev.Room),
				zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "event not applied")
		}

	case "join_request":
		if ev.Entrant == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "entrant is required")
		}
		accepted, err := h.rooms.JoinRequest(ctx, ev.Room, ev.Entrant.UserID)
		if err != nil {
			h.log.Error("join request handling failed",
				zap.String("room", ev.Room),
				zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "join request not processed")
		}
		return c.JSON(http.StatusOK, map[string]bool{"accepted": accepted})

	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown event type")
	}

	return c.NoContent(http.StatusOK)
}
