package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lorekeeper/internal/chat"
	"github.com/fyrsmithlabs/lorekeeper/internal/records"
	"github.com/fyrsmithlabs/lorekeeper/internal/retrieval"
	"github.com/fyrsmithlabs/lorekeeper/internal/sanitize"
	"github.com/fyrsmithlabs/lorekeeper/internal/vectorstore"
)

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.config.Version}
	if len(s.deps.Checks) > 0 {
		resp.Services = make(map[string]string, len(s.deps.Checks))
	}
	for name, check := range s.deps.Checks {
		ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.HealthTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			resp.Status = "degraded"
			resp.Services[name] = err.Error()
			continue
		}
		resp.Services[name] = "ok"
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}

func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return badRequest("message field is required")
	}

	res, err := s.deps.Chat.HandleTurn(c.Request().Context(), c.Param("tenant"), req.Message, req.History)
	if err != nil {
		return s.fail(c, err)
	}

	resp := ChatResponse{
		TurnID:    res.TurnID,
		Reply:     res.Reply,
		Knowledge: res.Knowledge,
		TimingsMS: make(map[string]float64, len(res.Timings)),
		Verdict:   res.Verdict,
	}
	for stage, d := range res.Timings {
		resp.TimingsMS[stage] = float64(d.Microseconds()) / 1000
	}
	if debug, _ := strconv.ParseBool(c.QueryParam("debug")); debug {
		resp.Prompt = &res.Prompt
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSearch(c echo.Context) error {
	namespace := c.Param("namespace")
	if err := sanitize.ValidateNamespace(namespace); err != nil {
		return s.fail(c, err)
	}
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return badRequest("query field is required")
	}
	threshold := retrieval.DefaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if req.Limit < 0 || threshold < 0 || threshold > 1 {
		return badRequest("limit must be >= 0 and threshold within [0,1]")
	}

	matches := s.deps.Knowledge.Retrieve(c.Request().Context(), req.Query, namespace, req.Limit, threshold)
	return c.JSON(http.StatusOK, SearchResponse{Matches: matches})
}

func (s *Server) handlePutRecord(c echo.Context) error {
	namespace := c.Param("namespace")
	if err := sanitize.ValidateNamespace(namespace); err != nil {
		return s.fail(c, err)
	}
	var req RecordRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	switch req.Kind {
	case vectorstore.KindEntity, vectorstore.KindKnowledge:
	default:
		return badRequest("kind must be entity or knowledge")
	}

	r := records.Record{
		ID:             c.Param("id"),
		Namespace:      namespace,
		Name:           req.Name,
		Kind:           req.Kind,
		Type:           req.Type,
		Description:    req.Description,
		Attributes:     req.Attributes,
		Content:        req.Content,
		VectorIdentity: req.VectorIdentity,
		CreatedAt:      req.CreatedAt,
		UpdatedAt:      req.UpdatedAt,
	}

	ctx := c.Request().Context()
	var res vectorstore.WriteResult
	if r.VectorIdentity == "" {
		res = s.deps.Records.OnRecordCreated(ctx, r)
	} else {
		res = s.deps.Records.OnRecordUpdated(ctx, r)
	}

	resp := RecordResponse{
		VectorIdentity: res.Identity,
		State:          res.State.String(),
		Degraded:       res.Degraded,
	}
	if res.Err != nil {
		resp.Reason = res.Err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteRecord(c echo.Context) error {
	namespace := c.Param("namespace")
	if err := sanitize.ValidateNamespace(namespace); err != nil {
		return s.fail(c, err)
	}
	r := records.Record{
		ID:             c.Param("id"),
		Namespace:      namespace,
		VectorIdentity: c.QueryParam("vector_identity"),
	}
	if err := s.deps.Records.OnRecordDeleted(c.Request().Context(), r); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handlePutCollection creates the collection when absent. An existing
// collection with the wrong shape is a conflict unless ?recreate=true.
func (s *Server) handlePutCollection(c echo.Context) error {
	namespace := c.Param("namespace")
	ctx := c.Request().Context()
	admin := s.deps.Collections
	cfg := admin.Config()

	if recreate, _ := strconv.ParseBool(c.QueryParam("recreate")); recreate {
		if err := admin.PrepareCollection(ctx, namespace); err != nil {
			return s.fail(c, err)
		}
	} else {
		if err := admin.EnsureCollection(ctx, namespace, cfg.Dimension, cfg.Metric); err != nil {
			return s.fail(c, err)
		}
		if err := admin.CheckCollection(ctx, namespace, cfg.Dimension); err != nil {
			return s.fail(c, err)
		}
	}
	return s.writeCollection(c, namespace)
}

func (s *Server) handleGetCollection(c echo.Context) error {
	return s.writeCollection(c, c.Param("namespace"))
}

func (s *Server) writeCollection(c echo.Context, namespace string) error {
	admin := s.deps.Collections
	info, err := admin.Info(c.Request().Context(), namespace)
	if err != nil {
		return s.fail(c, err)
	}
	cfg := admin.Config()
	return c.JSON(http.StatusOK, CollectionResponse{
		Name:        info.Name,
		VectorSize:  info.VectorSize,
		Metric:      string(info.Metric),
		PointsCount: info.PointsCount,
		Valid:       info.VectorSize == cfg.Dimension && info.Metric == cfg.Metric,
	})
}

func (s *Server) handleDeleteCollection(c echo.Context) error {
	if err := s.deps.Collections.DropCollection(c.Request().Context(), c.Param("namespace")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: msg})
}

// fail maps domain errors to responses. Only violations, not-found and
// generation failures carry user-facing text; everything else is generic.
func (s *Server) fail(c echo.Context, err error) error {
	var violation *chat.ViolationError
	if errors.As(err, &violation) {
		return c.JSON(http.StatusUnprocessableEntity, ViolationResponse{
			Error:   "moderation_violation",
			Message: violation.Message,
			Verdict: violation.Verdict,
		})
	}

	status, resp := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", zap.Int("status", status), zap.Error(err))
	}
	return c.JSON(status, resp)
}

func classify(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "tenant not found"}
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "collection not found"}
	case errors.Is(err, chat.ErrGenerationFailure):
		return http.StatusBadGateway, ErrorResponse{Error: "generation_failure", Message: chat.ErrGenerationFailure.Error()}
	case errors.Is(err, chat.ErrInvalidInput),
		errors.Is(err, sanitize.ErrInvalidNamespace),
		errors.Is(err, records.ErrInvalidRecord):
		return http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()}
	case errors.Is(err, vectorstore.ErrDimensionMismatch):
		return http.StatusConflict, ErrorResponse{Error: "dimension_mismatch", Message: err.Error()}
	case errors.Is(err, vectorstore.ErrStoreUnavailable), errors.Is(err, chat.ErrFetch):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "unavailable", Message: "a backing service is unavailable, please retry"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "timeout", Message: "request timed out"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "internal error"}
	}
}
