package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aluiziolira/reviewdash/parser"
	"github.com/aluiziolira/reviewdash/session"
)

const sessionKey = "session"

type selectRequest struct {
	Name string `json:"name" binding:"required"`
}

type includeEmptyRequest struct {
	IncludeEmpty *bool `json:"include_empty" binding:"required"`
}

// filterRequest carries exactly one kind of selection.
type filterRequest struct {
	Values  []string `json:"values"`
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	Start   string   `json:"start"`
	End     string   `json:"end"`
	Pattern *string  `json:"pattern"`
}

type scrapeRequest struct {
	Restaurant string `json:"restaurant" binding:"required"`
	Location   string `json:"location"`
	Limit      int    `json:"limit" binding:"omitempty,min=1"`
}

func (s *Server) createSession(c *gin.Context) {
	sess := s.sessions.Create()
	c.JSON(http.StatusCreated, gin.H{"session_id": sess.ID, "created_at": sess.CreatedAt})
}

func (s *Server) lookupSession(c *gin.Context) {
	sess, ok := s.sessions.Get(c.Param("id"))
	if !ok {
		abortWith(c, http.StatusNotFound, session.ErrClosed, gin.H{"session_id": c.Param("id")})
		return
	}
	c.Set(sessionKey, sess)
	c.Next()
}

func current(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

func (s *Server) deleteSession(c *gin.Context) {
	s.sessions.Delete(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) view(c *gin.Context) {
	sess := current(c)
	d, err := sess.View(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	setPollHeader(c, sess.PollInterval())
	c.JSON(http.StatusOK, d)
}

func (s *Server) restaurants(c *gin.Context) {
	sess := current(c)
	if _, err := sess.Refresh(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	names, err := sess.Restaurants(c.Query("q"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"restaurants": names})
}

func (s *Server) selectRestaurant(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, err, nil)
		return
	}
	sess := current(c)
	if _, err := sess.Refresh(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	if err := sess.Select(req.Name); err != nil {
		abortWith(c, statusFor(err), err, gin.H{"restaurant": req.Name, "not_found": errors.Is(err, session.ErrUnknownRestaurant)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"restaurant": req.Name})
}

func (s *Server) setIncludeEmpty(c *gin.Context) {
	var req includeEmptyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, err, nil)
		return
	}
	if err := current(c).SetIncludeEmpty(*req.IncludeEmpty); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"include_empty": *req.IncludeEmpty})
}

func (s *Server) setFilter(c *gin.Context) {
	var req filterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, err, nil)
		return
	}
	column := c.Param("column")
	sess := current(c)

	var err error
	switch {
	case req.Values != nil:
		err = sess.SetCategories(column, req.Values)
	case req.Min != nil && req.Max != nil:
		err = sess.SetRange(column, *req.Min, *req.Max)
	case req.Start != "" && req.End != "":
		for _, label := range []string{req.Start, req.End} {
			if _, perr := parser.ParseMonthBucket(label); perr != nil {
				abortWith(c, http.StatusBadRequest, perr, gin.H{"column": column})
				return
			}
		}
		err = sess.SetMonthRange(column, req.Start, req.End)
	case req.Pattern != nil:
		err = sess.SetPattern(column, *req.Pattern)
	default:
		abortWith(c, http.StatusBadRequest,
			fmt.Errorf("filter %s: want values, min and max, start and end, or pattern", column), nil)
		return
	}
	if err != nil {
		abortWith(c, statusFor(err), err, gin.H{"column": column})
		return
	}
	c.JSON(http.StatusOK, gin.H{"column": column})
}

func (s *Server) resetFilters(c *gin.Context) {
	if err := current(c).ResetFilters(); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) submitScrape(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, err, nil)
		return
	}
	if req.Limit == 0 {
		req.Limit = s.opts.DefaultReviewLimit
	}
	sess := current(c)
	job, err := sess.SubmitScrape(c.Request.Context(), req.Restaurant, req.Location, req.Limit)
	if err != nil {
		abortWith(c, statusFor(err), err, gin.H{"job": job})
		return
	}
	setPollHeader(c, sess.PollInterval())
	c.JSON(http.StatusAccepted, job)
}

// pollJob asks the backend for the job status. A backend outage is reported
// with the unchanged job so clients keep polling.
func (s *Server) pollJob(c *gin.Context) {
	sess := current(c)
	job, err := sess.PollJob(c.Request.Context())
	setPollHeader(c, sess.PollInterval())
	if err != nil {
		abortWith(c, statusFor(err), err, gin.H{"job": job})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) acknowledgeJob(c *gin.Context) {
	job, ok := current(c).AcknowledgeJob()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) analyze(c *gin.Context) {
	analysis, err := current(c).Analyze(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func setPollHeader(c *gin.Context, every time.Duration) {
	c.Header("Retry-After", strconv.Itoa(int(every.Seconds())))
}
