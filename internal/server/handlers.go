package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"PoolIndexer/internal/core"
	"PoolIndexer/internal/ingestion"
	"PoolIndexer/internal/query"
	"PoolIndexer/internal/state"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxInjectBody = 1 << 20

// handlerFunc returns a JSON body or an error mapped through toStatus.
type handlerFunc func(ctx context.Context, r *http.Request, params map[string]string) (any, error)

func (s *Server) instrument(endpoint string, h handlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		body, err := h(r.Context(), r, params)

		code := codes.OK
		if err != nil {
			st := toStatus(err)
			code = st.Code()
			if code == codes.Internal {
				s.logger.Error().Err(err).Str("endpoint", endpoint).Msg("query failed")
			}
			writeJSON(w, runtime.HTTPStatusFromCode(code), map[string]string{
				"code":  code.String(),
				"error": st.Message(),
			})
		} else {
			writeJSON(w, http.StatusOK, body)
		}

		if m := s.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(endpoint, code.String()).Inc()
			m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) *status.Status {
	switch {
	case errors.Is(err, state.ErrNotFound):
		return status.New(codes.NotFound, err.Error())
	case errors.Is(err, query.ErrUnknownKind),
		errors.Is(err, query.ErrInvalidAddress),
		errors.Is(err, ingestion.ErrMalformed):
		return status.New(codes.InvalidArgument, err.Error())
	case errors.Is(err, core.ErrIntegrity), errors.Is(err, core.ErrOutOfOrder):
		return status.New(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, err.Error())
	}
	if st, ok := status.FromError(err); ok {
		return st
	}
	return status.New(codes.Internal, err.Error())
}

func (s *Server) getEntity(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
	return s.deps.QueryService.GetEntity(ctx, p["kind"], p["id"])
}

func (s *Server) listEntities(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid limit %q", v)
		}
		limit = n
	}
	return s.deps.QueryService.ListEntities(ctx, p["kind"], limit)
}

func (s *Server) getPool(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
	return s.deps.QueryService.GetPool(ctx, p["address"])
}

func (s *Server) getPosition(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
	return s.deps.QueryService.GetPosition(ctx, p["user"], p["pool"])
}

func (s *Server) getProtocol(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
	return s.deps.QueryService.GetProtocol(ctx, s.deps.ProtocolID)
}

func (s *Server) verifyIntegrity(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
	return s.deps.QueryService.VerifyIntegrity(ctx)
}

func (s *Server) injectEvent(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
	if s.deps.Injector == nil {
		return nil, status.Error(codes.Unimplemented, "event injection disabled")
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxInjectBody))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "read body: %v", err)
	}
	err = s.deps.Injector.Inject(ctx, p["type"], data)
	switch {
	case errors.Is(err, core.ErrDuplicate):
		return map[string]string{"status": "duplicate"}, nil
	case err != nil:
		return nil, err
	}
	return map[string]string{"status": "applied"}, nil
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
