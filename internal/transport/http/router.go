package http

import (
	"net/http"
	"time"

	httpmw "github.com/telecare/signaling-service/internal/transport/http/middleware"
	"github.com/telecare/signaling-service/internal/transport/ws"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Deps struct {
	Handler  *Handler
	WS       *ws.Server
	Verifier httpmw.TokenVerifier

	AllowedOrigins    []string
	CensusRequireAuth bool
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httpmw.WithRequestLoggerCtx)
	r.Use(httpmw.RequestLogger)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// signaling websocket: the token travels in the query string
	r.Get("/ws/signaling/{room_id}", d.WS.HandleWS)

	// census
	r.Group(func(cr chi.Router) {
		if d.CensusRequireAuth {
			cr.Use(httpmw.Auth(d.Verifier))
		}
		cr.Get("/ws/room/{room_id}/participants", d.Handler.GetParticipants)
	})

	r.Group(func(pr chi.Router) {
		pr.Use(httpmw.Auth(d.Verifier))
		pr.Use(middlewareChi.Timeout(30 * time.Second))

		pr.Get("/ice-servers", d.Handler.GetICEServers)
		pr.Get("/audit", d.Handler.ListAudit)
	})

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
