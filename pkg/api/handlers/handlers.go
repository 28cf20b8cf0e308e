package handlers

import (
	"net/http"
	"strconv"

	"commhub/pkg/auth"
	"commhub/pkg/hub"
	"commhub/pkg/utils"
)

// router is the delivery router shared by all handlers, set once at
// startup through Use. REST-originated sends go through it so connected
// recipients get the same push as websocket-originated sends.
var router *hub.Router

// Use wires the delivery router into the handler package.
func Use(rt *hub.Router) { router = rt }

// requireUser pulls the verified user id out of the request context.
// The auth middleware guarantees it for every authenticated route; an
// empty id here means the route was wired outside the middleware.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := auth.UserIDFromContext(r.Context())
	if uid == "" {
		utils.JSONError(w, http.StatusUnauthorized, "missing verified user identity")
		return "", false
	}
	return uid, true
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func queryInt64(r *http.Request, key string, def int64) int64 {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}
