package http

import (
	"encoding/json"
	"net/http"

	"github.com/micromdm/nanotenant/engine/storage"
	"github.com/micromdm/nanotenant/http/api"
	"github.com/micromdm/nanotenant/logkeys"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// ArchivesHandler lists the archive names of the kind parameter.
func ArchivesHandler(store storage.ArchiveStorage, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		if store == nil {
			logger.Info(logkeys.Error, ErrMissingStore)
			api.JSONError(w, ErrMissingStore, 0)
			return
		}

		kind := storage.Kind(flow.Param(r.Context(), "kind"))
		logger = logger.With("kind", kind)
		names, err := store.ListArchives(r.Context(), kind)
		if err != nil {
			logger.Info(logkeys.Message, "list archives", logkeys.Error, err)
			api.JSONError(w, err, statusCode(err))
			return
		}
		if names == nil {
			names = []string{}
		}

		logger.Debug(
			logkeys.Message, "listed archives",
			logkeys.GenericCount, len(names),
		)
		w.Header().Set("Content-Type", "application/json")
		if err = json.NewEncoder(w).Encode(names); err != nil {
			logger.Info(logkeys.Message, "encode response", logkeys.Error, err)
		}
	}
}

// ArchiveHandler returns the archived document named by the kind and name parameters.
func ArchiveHandler(store storage.ArchiveStorage, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		if store == nil {
			logger.Info(logkeys.Error, ErrMissingStore)
			api.JSONError(w, ErrMissingStore, 0)
			return
		}

		kind := storage.Kind(flow.Param(r.Context(), "kind"))
		name := flow.Param(r.Context(), "name")
		logger = logger.With("kind", kind, "name", name)
		doc, err := store.RetrieveArchive(r.Context(), kind, name)
		if err != nil {
			logger.Info(logkeys.Message, "retrieve archive", logkeys.Error, err)
			api.JSONError(w, err, statusCode(err))
			return
		}
		if err = api.WriteJSON(w, doc); err != nil {
			logger.Info(logkeys.Message, "writing response", logkeys.Error, err)
		}
	}
}
