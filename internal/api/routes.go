package api

import (
	"net/http"
)

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	mux.Handle("POST /api/send-template", chain(http.HandlerFunc(h.SendTemplate)))
	mux.Handle("GET /api/scheduled-emails", chain(http.HandlerFunc(h.ListScheduled)))
	mux.Handle("GET /api/scheduled-emails/{id}", chain(http.HandlerFunc(h.GetScheduled)))
	mux.Handle("DELETE /api/scheduled-emails/{id}", chain(http.HandlerFunc(h.CancelScheduled)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// Routes returns a CORS-enabled handler serving every API route.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return CORS(mux)
}
