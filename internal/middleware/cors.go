package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// NewCORS разрешает запросы панели управления с указанных источников вместе с cookie.
func NewCORS(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Accept-Encoding", "Content-Encoding", devRoleHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})

	return c.Handler
}
