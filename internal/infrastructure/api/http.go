package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"channel-sync-core/internal/application"
	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/infrastructure/pubsub"
	"channel-sync-core/internal/ports"
)

// Server exposes the sync core over HTTP: webhook ingress, manual sync
// triggers, reconciliation and integration lifecycle.
type Server struct {
	dispatcher   *application.Dispatcher
	coordinator  *application.Coordinator
	reconciler   *application.Reconciler
	integrations *application.IntegrationService
	journal      ports.RunJournal
	statusBus    *pubsub.StatusBus
	logger       zerolog.Logger
}

// NewServer wires the HTTP surface onto the application services.
func NewServer(
	dispatcher *application.Dispatcher,
	coordinator *application.Coordinator,
	reconciler *application.Reconciler,
	integrations *application.IntegrationService,
	journal ports.RunJournal,
	statusBus *pubsub.StatusBus,
	logger zerolog.Logger,
) *Server {
	return &Server{
		dispatcher:   dispatcher,
		coordinator:  coordinator,
		reconciler:   reconciler,
		integrations: integrations,
		journal:      journal,
		statusBus:    statusBus,
		logger:       logger,
	}
}

// Router builds the chi router with the standard middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/integrations", s.handleConnect)
	r.Get("/integrations/{integrationId}", s.handleGetIntegration)
	r.Delete("/integrations/{integrationId}", s.handleRevoke)
	r.Post("/integrations/{integrationId}/inventory/{externalId}", s.handlePushInventory)

	r.Post("/sync/{integrationId}/{entityType}", s.handleRequestSync)
	r.Get("/sync/{integrationId}/{entityType}/status", s.handleSyncStatus)
	r.Get("/sync/events", s.handleStatusStream)
	r.Get("/sync/events/stats", s.handleStatusStats)

	r.Get("/reconcile/{integrationId}/{entityType}", s.handleCompare)
	r.Post("/reconcile/{integrationId}/{entityType}", s.handleCatchUp)

	// Webhook ingress: POST /webhooks/{platform}/{integrationId}
	r.Post("/webhooks/{platform}/{integrationId}", s.handleWebhook)

	return r
}

type connectRequest struct {
	SellerID        string `json:"seller_id"`
	Platform        string `json:"platform"`
	ExternalAccount string `json:"external_account"`
	Credential      struct {
		Scheme        string    `json:"scheme"`
		AccessToken   string    `json:"access_token"`
		RefreshToken  string    `json:"refresh_token"`
		WebhookSecret string    `json:"webhook_secret"`
		ExpiresAt     time.Time `json:"expires_at"`
	} `json:"credential"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SellerID == "" || req.Platform == "" || req.ExternalAccount == "" || req.Credential.AccessToken == "" {
		http.Error(w, "seller_id, platform, external_account and credential.access_token are required", http.StatusBadRequest)
		return
	}

	integration, err := s.integrations.Connect(r.Context(), application.ConnectInput{
		SellerID:        req.SellerID,
		Platform:        req.Platform,
		ExternalAccount: req.ExternalAccount,
		Credential: domain.Credential{
			Scheme:        domain.AuthScheme(req.Credential.Scheme),
			AccessToken:   req.Credential.AccessToken,
			RefreshToken:  req.Credential.RefreshToken,
			WebhookSecret: req.Credential.WebhookSecret,
			ExpiresAt:     req.Credential.ExpiresAt,
		},
	})
	if err != nil {
		s.writeSyncError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(integration)
}

func (s *Server) handleGetIntegration(w http.ResponseWriter, r *http.Request) {
	integration, err := s.integrations.Get(r.Context(), chi.URLParam(r, "integrationId"))
	if err != nil {
		http.Error(w, "integration not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(integration)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := s.integrations.Revoke(r.Context(), chi.URLParam(r, "integrationId")); err != nil {
		s.logger.Error().Err(err).Msg("Failed to revoke integration")
		http.Error(w, "failed to revoke integration", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePushInventory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Quantity < 0 {
		http.Error(w, "quantity must not be negative", http.StatusBadRequest)
		return
	}

	err := s.integrations.PushInventory(r.Context(), chi.URLParam(r, "integrationId"), chi.URLParam(r, "externalId"), req.Quantity)
	if err != nil {
		s.writeSyncError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (s *Server) handleRequestSync(w http.ResponseWriter, r *http.Request) {
	integrationID := chi.URLParam(r, "integrationId")
	entityType := chi.URLParam(r, "entityType")
	if !domain.ValidEntityType(entityType) {
		http.Error(w, fmt.Sprintf("unknown entity type %q", entityType), http.StatusBadRequest)
		return
	}

	var window domain.Window
	if r.ContentLength > 0 {
		var req syncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		window = domain.Window{From: req.From, To: req.To}
	}

	err := s.dispatcher.RequestSync(r.Context(), integrationID, domain.EntityType(entityType), window)
	if err != nil {
		var rej *application.Rejection
		if errors.As(err, &rej) {
			if rej.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(rej.RetryAfter.Seconds()+0.5)))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"rejected": string(rej.Reason)})
			return
		}
		if errors.Is(err, application.ErrLaneSaturated) {
			http.Error(w, "sync queue saturated, try again later", http.StatusServiceUnavailable)
			return
		}
		s.logger.Error().Err(err).Str("integrationId", integrationID).Msg("Failed to request sync")
		http.Error(w, "failed to request sync", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"accepted": "true"})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	integrationID := chi.URLParam(r, "integrationId")
	entityType := chi.URLParam(r, "entityType")
	if !domain.ValidEntityType(entityType) {
		http.Error(w, fmt.Sprintf("unknown entity type %q", entityType), http.StatusBadRequest)
		return
	}

	status := s.coordinator.Status(integrationID, domain.EntityType(entityType))
	lastRun, err := s.journal.Latest(r.Context(), integrationID, domain.EntityType(entityType))
	if err != nil {
		s.logger.Error().Err(err).Str("integrationId", integrationID).Msg("Failed to load last sync run")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   status,
		"last_run": lastRun,
	})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	integrationID := chi.URLParam(r, "integrationId")
	entityType := chi.URLParam(r, "entityType")
	if !domain.ValidEntityType(entityType) {
		http.Error(w, fmt.Sprintf("unknown entity type %q", entityType), http.StatusBadRequest)
		return
	}

	report, err := s.reconciler.Compare(r.Context(), integrationID, domain.EntityType(entityType))
	if err != nil {
		s.writeSyncError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleCatchUp(w http.ResponseWriter, r *http.Request) {
	integrationID := chi.URLParam(r, "integrationId")
	entityType := chi.URLParam(r, "entityType")
	if !domain.ValidEntityType(entityType) {
		http.Error(w, fmt.Sprintf("unknown entity type %q", entityType), http.StatusBadRequest)
		return
	}

	report, enqueued, err := s.reconciler.CatchUp(r.Context(), integrationID, domain.EntityType(entityType))
	if err != nil {
		s.writeSyncError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"report":   report,
		"enqueued": enqueued,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	integrationID := chi.URLParam(r, "integrationId")

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := s.dispatcher.IngestWebhook(r.Context(), platform, integrationID, payload, r.Header); err != nil {
		if errors.Is(err, application.ErrSignatureInvalid) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		if errors.Is(err, application.ErrLaneSaturated) {
			// Tell the platform to redeliver later.
			http.Error(w, "queue saturated", http.StatusServiceUnavailable)
			return
		}
		if domain.KindOf(err) == domain.ErrKindMalformedPayload {
			http.Error(w, "malformed webhook payload", http.StatusBadRequest)
			return
		}
		s.logger.Error().
			Err(err).
			Str("platform", platform).
			Str("integrationId", integrationID).
			Msg("Failed to ingest webhook")
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"received": "true"})
}

// handleStatusStream streams task lifecycle events as server-sent events.
// Optional filters: ?integration_id=...&entity_type=...
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	filter := &pubsub.StatusFilter{
		IntegrationID: r.URL.Query().Get("integration_id"),
	}
	if et := r.URL.Query().Get("entity_type"); et != "" {
		if !domain.ValidEntityType(et) {
			http.Error(w, fmt.Sprintf("unknown entity type %q", et), http.StatusBadRequest)
			return
		}
		filter.EntityTypes = []domain.EntityType{domain.EntityType(et)}
	}

	channel := s.statusBus.Subscribe(r.Context(), filter)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case event, open := <-channel.Events:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleStatusStats reports status-bus fan-out counters, mainly how many
// event streams are subscribed.
func (s *Server) handleStatusStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.statusBus.GetStats())
}

// writeSyncError maps domain error kinds onto HTTP statuses.
func (s *Server) writeSyncError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.ErrKindNotFound:
		status = http.StatusNotFound
	case domain.ErrKindAuthExpired:
		status = http.StatusUnauthorized
	case domain.ErrKindConflict:
		status = http.StatusConflict
	case domain.ErrKindMalformedPayload:
		status = http.StatusBadRequest
	case domain.ErrKindRateLimited:
		status = http.StatusTooManyRequests
		if ra := domain.RetryAfterOf(err); ra > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(ra.Seconds()+0.5)))
		}
	}
	s.logger.Error().Err(err).Int("status", status).Msg("Request failed")
	http.Error(w, err.Error(), status)
}
