package http

import (
	"net/http"

	"github.com/micromdm/nanotenant/engine/storage"
	"github.com/micromdm/nanolib/log"
)

// Mux can register HTTP handlers.
// Ostensibly this supports flow router.
type Mux interface {
	// Handle registers the handler for the given pattern.
	Handle(pattern string, handler http.Handler, methods ...string)
}

// HandleAPIv1 registers the various API handlers into mux.
// API endpoint paths are prepended with prefix.
// Authentication or any other layered handlers are not present.
// They are assumed to be layered with mux, possibly at the Handle call.
// All handlers read from storage and never from the running engine.
// The logger is adorned with a "handler" key of the endpoint name.
func HandleAPIv1(prefix string, mux Mux, logger log.Logger, s storage.AllStorage, caps RegistrationDocumenter) {
	mux.Handle(
		prefix+"/checkpoint",
		CheckpointHandler(s, logger.With("handler", "get checkpoint")),
		"GET",
	)

	mux.Handle(
		prefix+"/instances",
		InstancesHandler(s, logger.With("handler", "list instances")),
		"GET",
	)

	mux.Handle(
		prefix+"/instances/:id",
		InstanceHandler(s, logger.With("handler", "get instance")),
		"GET",
	)

	mux.Handle(
		prefix+"/archives/:kind",
		ArchivesHandler(s, logger.With("handler", "list archives")),
		"GET",
	)

	mux.Handle(
		prefix+"/archives/:kind/:name",
		ArchiveHandler(s, logger.With("handler", "get archive")),
		"GET",
	)

	if caps != nil {
		mux.Handle(
			prefix+"/tenant",
			TenantHandler(caps, logger.With("handler", "get tenant")),
			"GET",
		)
	}
}
