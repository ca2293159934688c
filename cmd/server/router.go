package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/willow-notes/willow/internal/api"
)

// setupRouter creates and configures the application router with all routes
// and middleware. It uses the application's services to create handlers.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	taskHandler := api.NewTaskHandler(app.taskStore, app.itemTaskStore, app.logger)
	digestHandler := api.NewDigestHandler(app.pipeline, app.digestStore, app.logger)

	r.Route("/api", func(r chi.Router) {
		// Task queue inspection and maintenance
		r.Get("/tasks", taskHandler.ListTasks)
		r.Get("/tasks/stats", taskHandler.GetStats)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Delete("/tasks", taskHandler.DeleteByStatus)
		r.Post("/tasks/cleanup", taskHandler.Cleanup)
		r.Get("/item-tasks/*", taskHandler.ListItemTasks)

		// Digest pipeline
		r.Get("/digests-stats", digestHandler.GetStats)
		r.Get("/digests/*", digestHandler.GetStatus)
		r.Post("/digests/*", digestHandler.Trigger)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
