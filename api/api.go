package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	raven "github.com/getsentry/raven-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EFForg/availability-backend/checker"
	"github.com/EFForg/availability-backend/db"
	"github.com/EFForg/availability-backend/logger"
)

////////////////////////////////
//  *****   REST API   *****  //
////////////////////////////////

// Resolver decides the status of a single subject.
type Resolver interface {
	Resolve(ctx context.Context, raw string) *checker.Record
}

// API is the HTTP API that this service provides.
// All requests respond with an response JSON, with fields:
// {
//     status_code // HTTP status code of request
//     message // Any error message accompanying the status_code. If 200, empty.
//     response // Response data (as JSON) from this request.
// }
type API struct {
	Checker  Resolver
	Sessions db.ContinueStore
	// Gatherer backs /metrics. If nil, the endpoint is not registered.
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Log            logger.Logger
}

type response struct {
	StatusCode int         `json:"status_code"`
	Message    string      `json:"message"`
	Response   interface{} `json:"response"`
}

type apiHandler func(r *http.Request) response

func (api *API) wrapper(handler apiHandler) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		response := handler(r)
		if response.StatusCode == http.StatusInternalServerError {
			packet := raven.NewPacket(response.Message, raven.NewHttp(r))
			raven.Capture(packet, nil)
		}
		api.writeJSON(w, response)
	}
}

func pingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
}

// RegisterHandlers binds API functions to the given http server,
// and returns the resulting handler.
func (api *API) RegisterHandlers(mux *http.ServeMux) http.Handler {
	mux.HandleFunc("/api/check", api.wrapper(api.check))
	mux.HandleFunc("/api/session", api.wrapper(api.session))
	mux.HandleFunc("/api/ping", pingHandler)
	if api.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(api.Gatherer, promhttp.HandlerOpts{}))
	}
	return middleware(mux, api.AllowedOrigins, api.logger())
}

// Check is the handler for /api/check.
//   GET /api/check?subject=<subject>
//        subject: domain, IP address or URL to test.
//        Runs subject through the lookup chain and sets the resulting
//        checker.Record as response.
func (api API) check(r *http.Request) response {
	if r.Method != http.MethodGet {
		return response{StatusCode: http.StatusMethodNotAllowed,
			Message: "/api/check only accepts GET requests"}
	}
	raw, err := getParam("subject", r)
	if err != nil {
		return badRequest("%v", err)
	}
	record := api.Checker.Resolve(r.Context(), raw)
	return response{StatusCode: http.StatusOK, Response: record}
}

type sessionStatus struct {
	SessionID string `json:"session_id"`
	Tested    int    `json:"tested"`
}

// Session is the handler for /api/session.
//   GET /api/session?id=<session id>
//        Sets the number of subjects the session already tested as response.
//   DELETE /api/session?id=<session id>
//        Forgets every subject the session tested.
func (api API) session(r *http.Request) response {
	id, err := getParam("id", r)
	if err != nil {
		return badRequest("%v", err)
	}
	switch r.Method {
	case http.MethodGet:
		n, err := api.Sessions.CountTested(r.Context(), id)
		if err != nil {
			return serverError("%v", err)
		}
		return response{StatusCode: http.StatusOK, Response: sessionStatus{SessionID: id, Tested: n}}
	case http.MethodDelete:
		if err := api.Sessions.Cleanup(r.Context(), id); err != nil {
			return serverError("%v", err)
		}
		return response{StatusCode: http.StatusOK, Response: sessionStatus{SessionID: id}}
	}
	return response{StatusCode: http.StatusMethodNotAllowed,
		Message: "/api/session only accepts GET and DELETE requests"}
}

// Retrieves `param` as a trimmed query parameter from `http.Request` r.
// If fails, then returns an error.
func getParam(param string, r *http.Request) (string, error) {
	value := strings.TrimSpace(r.FormValue(param))
	if value == "" {
		return "", fmt.Errorf("query parameter %s not specified", param)
	}
	return value, nil
}

// Writes `v` as a JSON object to http.ResponseWriter `w`. If an error
// occurs, writes `http.StatusInternalServerError` to `w`.
func (api *API) writeJSON(w http.ResponseWriter, apiResponse response) {
	b, err := json.MarshalIndent(apiResponse, "", "  ")
	if err != nil {
		msg := fmt.Sprintf("Internal error: could not format JSON. (%s)\n", err)
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(apiResponse.StatusCode)
	fmt.Fprintf(w, "%s\n", b)
}

func (api *API) logger() logger.Logger {
	if api.Log == nil {
		return logger.NewNop()
	}
	return api.Log
}

func badRequest(format string, a ...interface{}) response {
	return response{
		StatusCode: http.StatusBadRequest,
		Message:    fmt.Sprintf(format, a...),
	}
}

func serverError(format string, a ...interface{}) response {
	return response{
		StatusCode: http.StatusInternalServerError,
		Message:    fmt.Sprintf(format, a...),
	}
}
