package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cpuguy83/calslot/internal/availability"
)

var errRateLimited = errors.New("rate limited")

type errorResponse struct {
	Error struct {
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

// abortWithError records err on the context for the request log and
// replies with msg and the request ID the log line carries.
func abortWithError(c *gin.Context, status int, err error, msg string) {
	var resp errorResponse
	resp.Error.Message = msg
	resp.Error.RequestID = c.GetString(requestIDKey)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}

// providerError maps an engine error to a response.
func providerError(c *gin.Context, err error) {
	if errors.Is(err, availability.ErrInvalidInterval) {
		abortWithError(c, http.StatusBadRequest, err, err.Error())
		return
	}
	abortWithError(c, http.StatusBadGateway, err, "calendar provider failed: "+err.Error())
}

// bindOptionalJSON decodes the body into v. An empty body keeps v's zero value.
func bindOptionalJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, http.StatusBadRequest, err, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type availabilityRequest struct {
	Duration string `json:"duration"`
	Day      string `json:"day"`
}

func (s *Server) checkAvailability(c *gin.Context) {
	var req availabilityRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	res, err := s.sched.CheckAvailability(c.Request.Context(), req.Duration, req.Day)
	if err != nil {
		providerError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type meetingRequest struct {
	Duration string `json:"duration"`
	Day      string `json:"day"`
	Time     string `json:"time"`
	Title    string `json:"title"`
}

func (s *Server) scheduleMeeting(c *gin.Context) {
	var req meetingRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	res, err := s.sched.ScheduleMeeting(c.Request.Context(), req.Duration, req.Day, req.Time, req.Title)
	if err != nil {
		providerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) listEvents(c *gin.Context) {
	limit := 0
	if v := c.Query("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			abortWithError(c, http.StatusBadRequest, errors.New("bad max"), "max must be a non-negative integer")
			return
		}
		limit = n
	}

	res, err := s.sched.ListUpcoming(c.Request.Context(), limit)
	if err != nil {
		providerError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
