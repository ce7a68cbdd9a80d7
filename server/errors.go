package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aluiziolira/reviewdash/filter"
	"github.com/aluiziolira/reviewdash/loader"
	"github.com/aluiziolira/reviewdash/remote"
	"github.com/aluiziolira/reviewdash/scraper"
	"github.com/aluiziolira/reviewdash/session"
)

// statusFor maps a domain error onto an HTTP status code.
func statusFor(err error) int {
	var (
		rangeErr   *filter.InvalidFilterRangeError
		shapeErr   *filter.ShapeError
		requestErr *scraper.RequestError
		unknownErr *scraper.UnknownStatusError
		formatErr  *loader.DataFormatError
	)
	switch {
	case remote.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrClosed), errors.Is(err, session.ErrUnknownRestaurant):
		return http.StatusNotFound
	case errors.Is(err, scraper.ErrJobOutstanding),
		errors.Is(err, session.ErrNoSnapshot),
		errors.Is(err, session.ErrNoSelection):
		return http.StatusConflict
	case errors.As(err, &rangeErr), errors.As(err, &shapeErr), errors.Is(err, filter.ErrUnconfigured):
		return http.StatusBadRequest
	case errors.As(err, &requestErr), errors.As(err, &unknownErr), errors.As(err, &formatErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	abortWith(c, statusFor(err), err, nil)
}

// abortWith writes an error body; extra fields are merged into it.
func abortWith(c *gin.Context, status int, err error, extra gin.H) {
	body := gin.H{"error": err.Error()}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}
