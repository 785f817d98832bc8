package router

import (
	"net/http"
	"strings"

	"github.com/renderowl/backend/internal/auth"
	"github.com/renderowl/backend/internal/handlers"
	"github.com/renderowl/backend/internal/middleware"
)

// Middleware wraps a handler, e.g. bearer auth or submission checks.
type Middleware func(http.Handler) http.Handler

// Deps carries everything the router mounts.
type Deps struct {
	Auth        *auth.Handler
	Render      *handlers.RenderHandler
	Automations *handlers.AutomationHandler
	Webhooks    *handlers.WebhookEndpointHandler
	Ops         *handlers.OpsHandler

	// BearerAuth guards every route below except auth and Stripe.
	BearerAuth Middleware
	// SubmissionCheck runs before render submission only.
	SubmissionCheck Middleware
	// StripeWebhook verifies its own signature; no bearer auth.
	StripeWebhook http.Handler
	// Metrics serves the Prometheus scrape endpoint.
	Metrics http.Handler
}

// New returns an http.Handler serving the API under /api/v1.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.HandleFunc(base+"/auth/register", d.Auth.Register)
	mux.HandleFunc(base+"/auth/login", d.Auth.Login)

	authed := func(h http.HandlerFunc) http.Handler { return d.BearerAuth(h) }

	mux.Handle(base+"/auth/api-keys", authed(methodPOST(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := middleware.IdentityFromCtx(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		d.Auth.CreateAPIKey(w, r, ident)
	})))

	mux.Handle(base+"/jobs", authed(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			d.SubmissionCheck(http.HandlerFunc(d.Render.Submit)).ServeHTTP(w, r)
		case http.MethodGet:
			d.Render.List(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}))
	mux.Handle(base+"/jobs/", authed(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/cancel"):
			d.Render.Cancel(w, r)
		case r.Method == http.MethodGet:
			d.Render.Get(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}))

	mux.Handle(base+"/automations", authed(methodPOST(d.Automations.Create)))
	mux.Handle(base+"/automations/", authed(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/schedule") && r.Method == http.MethodPost:
			d.Automations.Schedule(w, r)
		case strings.HasSuffix(r.URL.Path, "/schedule") && r.Method == http.MethodDelete:
			d.Automations.Unschedule(w, r)
		case strings.HasSuffix(r.URL.Path, "/trigger") && r.Method == http.MethodPost:
			d.Automations.Trigger(w, r)
		case strings.HasSuffix(r.URL.Path, "/runs") && r.Method == http.MethodGet:
			d.Automations.Runs(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}))

	mux.Handle(base+"/webhook-endpoints", authed(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			d.Webhooks.Create(w, r)
		case http.MethodGet:
			d.Webhooks.List(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}))
	mux.Handle(base+"/webhook-endpoints/", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		d.Webhooks.Deactivate(w, r)
	}))

	mux.Handle(base+"/uploads/youtube", authed(methodPOST(d.Ops.QueueUpload)))
	mux.Handle(base+"/queue/stats", authed(methodGET(d.Ops.QueueStats)))
	mux.Handle(base+"/dead-letters", authed(methodGET(d.Ops.ListDeadLetters)))
	mux.Handle(base+"/dead-letters/", authed(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/resolve-refund"):
			d.Ops.ResolveRefund(w, r)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/replay"):
			d.Ops.Replay(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}))
	mux.Handle(base+"/credits/balance", authed(methodGET(d.Ops.Balance)))
	mux.Handle(base+"/credits/transactions", authed(methodGET(d.Ops.Transactions)))

	if d.StripeWebhook != nil {
		mux.Handle(base+"/billing/stripe/webhook", d.StripeWebhook)
	}
	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
