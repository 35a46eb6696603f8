package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sant-anurag/feas/internal/rest"
	"github.com/sant-anurag/feas/pkg/resource"
	log "github.com/sirupsen/logrus"
)

const ResourceHeader = "X-Resource-Id"

// SetupMiddleware wires all HTTP middlewares for the application.
func SetupMiddleware(r *mux.Router, deps *Dependencies) {
	r.Use(resourceMiddleware(deps.ResourceService))
}

// resourceMiddleware puts the resource named by the X-Resource-Id header into the request context,
// mirroring it from the directory on first sight.
func resourceMiddleware(resources resource.Service) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			identifier := resource.NormalizeIdentifier(req.Header.Get(ResourceHeader))
			ctx := req.Context()

			if identifier != "" {
				r, err := resources.FindOrCreate(ctx, identifier)
				if err != nil {
					log.Errorf("failed to resolve resource %s: %v", identifier, err)
					rest.WriteInternalError(w, err)
					return
				}
				log.Tracef("request resource: %s (%d)", r.Identifier, r.Id)
				ctx = resource.WithResource(ctx, r)
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}
