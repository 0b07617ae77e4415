package handlers

import (
	"net/http"
)

type Routes struct {
	Auth          *AuthHandlers
	Conversations *ConversationHandlers
	Presence      *PresenceHandlers
	WebSocket     http.Handler
	Resolver      IdentityResolver
}

// Handler builds the HTTP surface of the server.
func (rt Routes) Handler() http.Handler {
	mux := http.NewServeMux()
	protect := func(h http.HandlerFunc) http.HandlerFunc {
		return RequireAuth(rt.Resolver, h)
	}

	mux.HandleFunc("POST /register", rt.Auth.Register)
	mux.HandleFunc("POST /login", rt.Auth.Login)

	mux.HandleFunc("GET /api/conversations", protect(rt.Conversations.List))
	mux.HandleFunc("POST /api/conversations", protect(rt.Conversations.Create))
	mux.HandleFunc("GET /api/conversations/{id}/messages", protect(rt.Conversations.Messages))
	mux.HandleFunc("GET /api/search", protect(rt.Conversations.Search))
	mux.HandleFunc("GET /api/users/{id}/presence", protect(rt.Presence.UserPresence))

	mux.HandleFunc("GET /health", rt.Presence.Health)
	mux.Handle("GET /ws", rt.WebSocket)

	return RequestLogger(CORS(mux))
}
