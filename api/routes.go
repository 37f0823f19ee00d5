package api

import (
	"net/http"
	"net/http/pprof"
	"runtime"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vodstream/handlers"
)

func itoa(i int) string      { return strconv.Itoa(i) }
func itoa64(i uint64) string { return strconv.FormatUint(i, 10) }

// localhostOnlyMiddleware restricts access to localhost requests only
func localhostOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		// Strip port if present
		for i := len(host) - 1; i >= 0; i-- {
			if host[i] == ':' {
				host = host[:i]
				break
			}
		}
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			http.Error(w, "Debug endpoints only accessible from localhost", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleOptions handles OPTIONS requests for CORS preflight
func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	contentHandler *handlers.ContentHandler,
	sitesHandler *handlers.SitesHandler,
	statsHandler *handlers.StatsHandler,
	settingsHandler *handlers.SettingsHandler,
	tasksHandler *handlers.ScheduledTasksHandler,
) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	// Content resolution
	api.HandleFunc("/content/home", contentHandler.Home).Methods(http.MethodGet)
	api.HandleFunc("/content/home", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/content/category", contentHandler.Category).Methods(http.MethodGet)
	api.HandleFunc("/content/category", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/content/detail", contentHandler.Detail).Methods(http.MethodGet)
	api.HandleFunc("/content/detail", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/content/search", contentHandler.Search).Methods(http.MethodGet)
	api.HandleFunc("/content/search", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/content/play", contentHandler.Play).Methods(http.MethodGet)
	api.HandleFunc("/content/play", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/content/action", contentHandler.Action).Methods(http.MethodPost)
	api.HandleFunc("/content/action", handleOptions).Methods(http.MethodOptions)

	// Site configuration
	api.HandleFunc("/sites", sitesHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/sites", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/sites/reload", sitesHandler.Reload).Methods(http.MethodPost)
	api.HandleFunc("/sites/reload", handleOptions).Methods(http.MethodOptions)

	// Engine introspection
	api.HandleFunc("/stats", statsHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/stats", handleOptions).Methods(http.MethodOptions)

	// Settings
	api.HandleFunc("/settings", settingsHandler.GetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", settingsHandler.PutSettings).Methods(http.MethodPut)
	api.HandleFunc("/settings", handleOptions).Methods(http.MethodOptions)

	// Maintenance tasks
	api.HandleFunc("/tasks", tasksHandler.ListTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks", tasksHandler.CreateTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/tasks/{taskID}", tasksHandler.UpdateTask).Methods(http.MethodPut)
	api.HandleFunc("/tasks/{taskID}", tasksHandler.DeleteTask).Methods(http.MethodDelete)
	api.HandleFunc("/tasks/{taskID}", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/tasks/{taskID}/run", tasksHandler.RunTaskNow).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{taskID}/run", handleOptions).Methods(http.MethodOptions)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Pprof debug endpoints for profiling (localhost only)
	pprofRouter := api.PathPrefix("/debug/pprof").Subrouter()
	pprofRouter.Use(localhostOnlyMiddleware)
	pprofRouter.HandleFunc("/", pprof.Index)
	pprofRouter.HandleFunc("/cmdline", pprof.Cmdline)
	pprofRouter.HandleFunc("/profile", pprof.Profile)
	pprofRouter.HandleFunc("/symbol", pprof.Symbol)
	pprofRouter.HandleFunc("/trace", pprof.Trace)
	pprofRouter.HandleFunc("/allocs", pprof.Handler("allocs").ServeHTTP)
	pprofRouter.HandleFunc("/goroutine", pprof.Handler("goroutine").ServeHTTP)
	pprofRouter.HandleFunc("/heap", pprof.Handler("heap").ServeHTTP)

	// Runtime stats endpoint (localhost only)
	runtimeRouter := api.PathPrefix("/debug/runtime").Subrouter()
	runtimeRouter.Use(localhostOnlyMiddleware)
	runtimeRouter.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{` +
			`"goroutines":` + itoa(runtime.NumGoroutine()) + `,` +
			`"heapAlloc":` + itoa64(m.HeapAlloc) + `,` +
			`"heapSys":` + itoa64(m.HeapSys) + `,` +
			`"heapObjects":` + itoa64(m.HeapObjects) + `,` +
			`"stackInuse":` + itoa64(m.StackInuse) + `,` +
			`"numGC":` + itoa(int(m.NumGC)) + `,` +
			`"lastGC":` + itoa64(m.LastGC) + `,` +
			`"numCPU":` + itoa(runtime.NumCPU()) +
			`}`))
	}).Methods(http.MethodGet)
}
