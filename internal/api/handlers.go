// Package api defines the HTTP handlers for the location integrity service
// and the minimal user read surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-presence-service/internal/auth"
	"github.com/tinywideclouds/go-presence-service/internal/location"
)

// Profile is the user record shape returned by /user/me.
type Profile struct {
	ID              string     `json:"id"`
	SelfieURL       string     `json:"selfieUrl"`
	VideoURL        string     `json:"videoUrl"`
	LocationConsent bool       `json:"locationConsent"`
	LocationShared  *time.Time `json:"locationLastShared,omitempty"`
}

// UserReader loads the profile fields the API exposes.
type UserReader interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// API holds the dependencies for the stateless HTTP handlers.
type API struct {
	locations *location.Service
	users     UserReader
	logger    zerolog.Logger
}

// NewAPI creates a new, stateless API handler.
func NewAPI(locations *location.Service, users UserReader, logger zerolog.Logger) *API {
	return &API{
		locations: locations,
		users:     users,
		logger:    logger.With().Str("component", "API").Logger(),
	}
}

// Register attaches the authenticated routes to the echo instance.
func (a *API) Register(e *echo.Echo, verifier *auth.Verifier) {
	g := e.Group("", auth.Middleware(verifier))
	g.POST("/location/update", a.UpdateLocation)
	g.DELETE("/location/clear", a.ClearLocation)
	g.GET("/location/status", a.LocationStatus)
	g.GET("/user/me", a.Me)
}

func userID(c echo.Context) string {
	id, _ := c.Get(auth.ContextUserIDKey).(string)
	return id
}

type updateRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
}

// UpdateLocation accepts a coordinate update. Validation failures return
// 400 with a reason, rate-limited updates 429 with a retryAfter hint;
// nothing is partially applied on failure.
func (a *API) UpdateLocation(c echo.Context) error {
	uid := userID(c)
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid JSON body"})
	}

	err := a.locations.Update(c.Request().Context(), uid, location.UpdateInput{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Accuracy:  req.Accuracy,
	})
	if err != nil {
		var rateErr *location.RateLimitError
		if errors.As(err, &rateErr) {
			secs := int(rateErr.RetryAfter / time.Second)
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":      "location update too frequent",
				"retryAfter": secs,
			})
		}
		var valErr *location.ValidationError
		if errors.As(err, &valErr) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": valErr.Reason})
		}
		a.logger.Error().Err(err).Str("user", uid).Msg("Location update failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update location"})
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// ClearLocation removes the caller's stored location. It is idempotent:
// clearing a location that does not exist still succeeds.
func (a *API) ClearLocation(c echo.Context) error {
	uid := userID(c)
	if err := a.locations.Clear(c.Request().Context(), uid); err != nil {
		a.logger.Error().Err(err).Str("user", uid).Msg("Location clear failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to clear location"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// LocationStatus reports whether a non-expired record exists and its
// remaining time to live in milliseconds.
func (a *API) LocationStatus(c echo.Context) error {
	uid := userID(c)
	status, err := a.locations.GetStatus(c.Request().Context(), uid)
	if err != nil {
		a.logger.Error().Err(err).Str("user", uid).Msg("Location status check failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to check status"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"active":    status.Active,
		"updatedAt": status.UpdatedAt,
		"expiresIn": status.ExpiresIn.Milliseconds(),
	})
}

// Me returns the caller's minimal profile: the media assets the queue join
// precondition depends on, and location consent state.
func (a *API) Me(c echo.Context) error {
	uid := userID(c)
	profile, err := a.users.GetProfile(c.Request().Context(), uid)
	if err != nil {
		a.logger.Error().Err(err).Str("user", uid).Msg("Profile lookup failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load profile"})
	}
	if profile == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}
	return c.JSON(http.StatusOK, profile)
}
