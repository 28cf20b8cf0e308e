package api

import (
	"net/http"

	"commhub/pkg/api/handlers"
	"commhub/pkg/auth"
	"commhub/pkg/hub"
	"commhub/pkg/store"
	"commhub/pkg/utils"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Deps carries everything the HTTP surface needs. Router is the delivery
// router; sends through REST fan out over websockets exactly like
// websocket-originated sends.
type Deps struct {
	Router     *hub.Router
	Gateway    *hub.Gateway
	Middleware auth.MiddlewareConfig
}

// NewHandler assembles the full HTTP surface: the versioned REST API,
// the websocket endpoint, health, metrics and docs.
func NewHandler(d Deps) http.Handler {
	handlers.Use(d.Router)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/docs").Handler(httpSwagger.WrapHandler)
	r.HandleFunc("/v1/ws", d.Gateway.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterThreads(v1)
	handlers.RegisterMessages(v1)
	handlers.RegisterNotifications(v1)

	return auth.Middleware(d.Middleware)(r)
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	if !store.Ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}
