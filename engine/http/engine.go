// Package http contains read-only HTTP handlers for inspecting the tenant engine.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/micromdm/nanotenant/engine/storage"
	"github.com/micromdm/nanotenant/http/api"
	"github.com/micromdm/nanotenant/logkeys"
	"github.com/micromdm/nanotenant/payload"
	"github.com/micromdm/nanotenant/workflow"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

var (
	ErrMissingStore     = errors.New("missing store")
	ErrNoCheckpoint     = errors.New("no checkpoint stored")
	ErrNoID             = errors.New("missing id parameter")
	ErrInstanceNotFound = errors.New("instance not found")
)

// InstanceSummary describes a tracked workflow instance.
type InstanceSummary struct {
	ID       string   `json:"id"`
	Steps    []string `json:"steps"`
	Queued   int      `json:"queued"`
	Stalled  int      `json:"stalled"`
	Complete bool     `json:"complete"`
}

func retrieveCheckpoint(ctx context.Context, store storage.CheckpointStorage) (*storage.Checkpoint, error) {
	if store == nil {
		return nil, ErrMissingStore
	}
	c, err := store.RetrieveCheckpoint(ctx)
	if err == nil && c == nil {
		err = ErrNoCheckpoint
	}
	return c, err
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrNoCheckpoint), errors.Is(err, ErrInstanceNotFound), errors.Is(err, storage.ErrArchiveNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrUnknownKind), errors.Is(err, storage.ErrEmptyArchiveName):
		return http.StatusBadRequest
	}
	return 0
}

// CheckpointHandler returns the last stored checkpoint.
func CheckpointHandler(store storage.CheckpointStorage, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		c, err := retrieveCheckpoint(r.Context(), store)
		if err != nil {
			logger.Info(logkeys.Message, "retrieve checkpoint", logkeys.Error, err)
			api.JSONError(w, err, statusCode(err))
			return
		}
		raw, err := storage.Marshal(c)
		if err != nil {
			logger.Info(logkeys.Message, "encoding checkpoint", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		logger.Debug(
			logkeys.Message, "retrieved checkpoint",
			logkeys.GenericCount, len(c.Instances),
		)
		if err = api.WriteJSON(w, raw); err != nil {
			logger.Info(logkeys.Message, "writing response", logkeys.Error, err)
		}
	}
}

// InstancesHandler returns a summary of every checkpointed instance.
func InstancesHandler(store storage.CheckpointStorage, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		c, err := retrieveCheckpoint(r.Context(), store)
		if err != nil {
			logger.Info(logkeys.Message, "retrieve checkpoint", logkeys.Error, err)
			api.JSONError(w, err, statusCode(err))
			return
		}

		summaries := make([]InstanceSummary, 0, len(c.Instances))
		for _, i := range c.Instances {
			steps := i.StepNames()
			if steps == nil {
				steps = []string{}
			}
			summaries = append(summaries, InstanceSummary{
				ID:       i.ID,
				Steps:    steps,
				Queued:   c.Queue.CountOwner(i.ID),
				Stalled:  workflow.CountStalled(c.Stalled, i.ID),
				Complete: !i.Root.Result.IsNull(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err = json.NewEncoder(w).Encode(summaries); err != nil {
			logger.Info(logkeys.Message, "encode response", logkeys.Error, err)
		}
	}
}

// InstanceHandler returns the checkpointed instance named by the id parameter.
func InstanceHandler(store storage.CheckpointStorage, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		id := flow.Param(r.Context(), "id")
		if id == "" {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, ErrNoID)
			api.JSONError(w, ErrNoID, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.InstanceID, id)

		c, err := retrieveCheckpoint(r.Context(), store)
		if err != nil {
			logger.Info(logkeys.Message, "retrieve checkpoint", logkeys.Error, err)
			api.JSONError(w, err, statusCode(err))
			return
		}
		for _, i := range c.Instances {
			if i.ID != id {
				continue
			}
			raw, err := payload.MarshalIndent(i.Value())
			if err != nil {
				logger.Info(logkeys.Message, "encoding instance", logkeys.Error, err)
				api.JSONError(w, err, 0)
				return
			}
			if err = api.WriteJSON(w, raw); err != nil {
				logger.Info(logkeys.Message, "writing response", logkeys.Error, err)
			}
			return
		}
		logger.Debug(logkeys.Message, "retrieve instance", logkeys.Error, ErrInstanceNotFound)
		api.JSONError(w, ErrInstanceNotFound, http.StatusNotFound)
	}
}

// RegistrationDocumenter produces the tenant registration document.
type RegistrationDocumenter interface {
	RegistrationDocument() payload.Value
}

// TenantHandler returns the tenant registration document.
func TenantHandler(caps RegistrationDocumenter, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		raw, err := payload.MarshalIndent(caps.RegistrationDocument())
		if err != nil {
			logger.Info(logkeys.Message, "encoding registration", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		if err = api.WriteJSON(w, raw); err != nil {
			logger.Info(logkeys.Message, "writing response", logkeys.Error, err)
		}
	}
}
