package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/npcforge/npcforge/pkg/api/middleware"
	"github.com/npcforge/npcforge/pkg/api/response"
	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/model"
)

// decodeJSON reads a JSON body into v. Malformed bodies become a
// *model.ValidationError; an oversized body keeps its *http.MaxBytesError.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return model.NewValidation("body", "is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return err
		case errors.Is(err, io.EOF):
			return model.NewValidation("body", "is required")
		default:
			return model.NewValidation("body", "invalid JSON: %v", err)
		}
	}
	return nil
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewValidation(name, "must be an integer, got %q", raw)
	}
	return n, nil
}

// queryBool parses an optional boolean query parameter; absent means false.
func queryBool(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, model.NewValidation(name, "must be a boolean, got %q", raw)
	}
	return b, nil
}

// fail logs err at a level matching its status and writes the envelope.
func fail(w http.ResponseWriter, r *http.Request, log logger.Logger, msg string, err error) {
	ctx := r.Context()
	status, _, _ := response.Classify(err)
	switch {
	case status >= http.StatusInternalServerError:
		log.ErrorContext(ctx, msg, "error", err)
	default:
		log.DebugContext(ctx, msg, "status", status, "error", err)
	}
	response.HandleError(w, err, middleware.GetRequestID(ctx))
}

func orNop(log logger.Logger) logger.Logger {
	if log == nil {
		return logger.Nop()
	}
	return log
}
