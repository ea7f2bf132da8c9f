package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nextconvert/shorts/internal/api/middleware"
	"github.com/nextconvert/shorts/internal/modules/compose"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeCompositionError maps a composition failure onto a status code and
// category. Nothing is written when the client has already gone away.
func writeCompositionError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		logger.Info("Client went away before the composition finished", zap.String("path", r.URL.Path))
		return
	}

	var (
		verr *compose.ValidationError
		aerr *compose.GraphAssemblyError
		rerr *compose.RenderError
	)
	switch {
	case errors.As(err, &verr):
		middleware.WriteError(w, http.StatusBadRequest, verr.Error(), "validation")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("Composition timed out", zap.String("path", r.URL.Path), zap.Error(err))
		middleware.WriteError(w, http.StatusGatewayTimeout, "composition timed out", "timeout")
	case errors.As(err, &aerr):
		logger.Error("Filter graph assembly failed", zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, aerr.Error(), "assembly")
	case errors.As(err, &rerr):
		logger.Error("Render failed",
			zap.Int("exit_code", rerr.ExitCode),
			zap.Strings("stderr", rerr.Stderr),
			zap.Error(err),
		)
		middleware.WriteError(w, http.StatusBadGateway, "render failed", "render")
	default:
		logger.Error("Composition failed", zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, "internal error", "internal")
	}
}
