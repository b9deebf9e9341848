package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rampartlabs/rampart/internal/admission"
	"github.com/rampartlabs/rampart/internal/core/domain"
	"github.com/rampartlabs/rampart/internal/core/ports"
)

// AdmissionMiddleware is the request-admission orchestrator. Per request it
// resolves the client key, classifies the endpoint, consults the block list,
// runs pattern and burst analysis, and applies the sliding-window quota. The
// decision path is entirely in-memory; unexpected failures in scoring or
// tracking are logged and fail open, while an active block always fails
// closed.
func AdmissionMiddleware(state *admission.State, events ports.EventPublisher, store ports.ViolationStore, logger *slog.Logger) func(http.Handler) http.Handler {
	m := &admissionHandler{state: state, events: events, store: store, logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(w, r, next)
		})
	}
}

type admissionHandler struct {
	state  *admission.State
	events ports.EventPublisher
	store  ports.ViolationStore
	logger *slog.Logger
}

func (m *admissionHandler) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	client := m.state.Resolver.Resolve(r)
	category := m.state.Classifier().Classify(r.URL.Path)

	// Exempt paths incur zero further processing: no headers, never blockable.
	if category == domain.CategoryExempt {
		next.ServeHTTP(w, r)
		return
	}

	AddLogField(r.Context(), "client", string(client))

	// Block check fails closed: an active entry overrides every other signal.
	if blocked, entry := m.state.Blocks.IsBlocked(client); blocked {
		m.denyBlocked(w, r, client, entry)
		return
	}

	admit, err := m.decide(r, client, category)
	if err != nil {
		// Denials carry their own headers and body.
		m.deny(w, r, client, category, admit, err)
		return
	}

	m.setHeaders(w, client, category, admit)
	w.Header().Set("X-Block-Status", "allowed")
	next.ServeHTTP(w, r)
}

// decide runs the fail-open portion of the pipeline: pattern analysis, burst
// detection, and the quota check. It returns the rate-limit result on
// admission or an AdmissionError on denial.
func (m *admissionHandler) decide(r *http.Request, client domain.ClientKey, category domain.Category) (res domain.RateLimitResult, admErr *domain.AdmissionError) {
	defer func() {
		if rec := recover(); rec != nil {
			// Fail open: the client proceeds, only the incident is logged.
			internal := domain.NewInternalError("admission decision", nil)
			m.logger.Error("admission tracking failure, failing open",
				slog.String("client", string(client)),
				slog.Any("panic", rec),
				slog.String("type", string(internal.Type)),
			)
			res = domain.RateLimitResult{Allowed: true}
			admErr = nil
		}
	}()

	// Suspicious patterns stack penalties; on their own they can push the
	// score past the block threshold without any quota exceedance.
	for _, v := range m.state.Patterns.Inspect(r) {
		score := m.state.Reputation.RecordViolation(client, v.Kind, v.Weight, v.Detail)
		m.publish(r.Context(), client, category, v.Kind, score, v.Detail)
		if score <= m.state.BlockThreshold {
			entry := m.state.Blocks.Block(client, domain.BlockReputation, "reputation threshold crossed")
			m.recordBlock(r.Context(), entry)
			return res, domain.NewBlockedError(domain.ErrorTypeReputationBlocked, entry.Remaining(time.Now()))
		}
	}

	// Burst detection outranks the per-minute quota: a disproportionate
	// short-interval rate blocks immediately even within nominal limits.
	if m.state.Bursts.Observe(client) {
		score := m.state.Reputation.RecordViolation(client, domain.ViolationBurst, m.state.BurstPenalty, "burst threshold exceeded")
		entry := m.state.Blocks.Block(client, domain.BlockBurst, "burst attack detected")
		m.recordBlock(r.Context(), entry)
		m.publish(r.Context(), client, category, domain.ViolationBurst, score, "burst threshold exceeded")
		return res, domain.NewBurstError(entry.Remaining(time.Now()))
	}

	res = m.state.Tracker.CheckAndIncrement(client, category)
	if !res.Allowed {
		score := m.state.Reputation.RecordViolation(client, domain.ViolationRateLimit, m.state.RateLimitPenalty, res.ExceededWindow+" quota exceeded")
		m.publish(r.Context(), client, category, domain.ViolationRateLimit, score, res.ExceededWindow+" quota exceeded")
		if score <= m.state.BlockThreshold {
			entry := m.state.Blocks.Block(client, domain.BlockReputation, "reputation threshold crossed")
			m.recordBlock(r.Context(), entry)
		}
		admErr = domain.NewRateLimitError(res.ExceededWindow, res.RetryAfter)
	}
	return res, admErr
}

// deny writes a 429 with diagnostic headers and the canonical error body.
func (m *admissionHandler) deny(w http.ResponseWriter, r *http.Request, client domain.ClientKey, category domain.Category, res domain.RateLimitResult, admErr *domain.AdmissionError) {
	AddLogField(r.Context(), "denied", string(admErr.Type))

	h := w.Header()
	h.Set("X-DDoS-Protection", "active")
	h.Set("X-IP-Reputation", strconv.Itoa(m.state.Reputation.Score(client)))

	switch admErr.Type {
	case domain.ErrorTypeRateLimit:
		// Quota denials report the exhausted dimension as zero remaining; the
		// client itself is not blocked.
		h.Set("X-RateLimit-Type", string(category))
		h.Set("X-RateLimit-Limit-Minute", strconv.Itoa(res.LimitMinute))
		h.Set("X-RateLimit-Limit-Hour", strconv.Itoa(res.LimitHour))
		h.Set("X-RateLimit-Remaining-Minute", strconv.Itoa(res.RemainingMinute))
		h.Set("X-RateLimit-Remaining-Hour", strconv.Itoa(res.RemainingHour))
		h.Set("X-Block-Status", "allowed")
	default:
		h.Set("X-Block-Status", "blocked")
	}

	writeAdmissionError(w, admErr)
}

// denyBlocked short-circuits a client with an active block entry.
func (m *admissionHandler) denyBlocked(w http.ResponseWriter, r *http.Request, client domain.ClientKey, entry domain.BlockEntry) {
	admErr := domain.NewBlockedError(blockErrorType(entry.Kind), entry.Remaining(time.Now()))
	AddLogField(r.Context(), "denied", string(admErr.Type))

	h := w.Header()
	h.Set("X-Block-Status", "blocked")
	h.Set("X-DDoS-Protection", "active")
	h.Set("X-IP-Reputation", strconv.Itoa(m.state.Reputation.Score(client)))

	writeAdmissionError(w, admErr)
}

// blockErrorType attributes a block denial to what created the block.
func blockErrorType(kind domain.BlockKind) domain.ErrorType {
	switch kind {
	case domain.BlockReputation:
		return domain.ErrorTypeReputationBlocked
	case domain.BlockBurst:
		return domain.ErrorTypeBurst
	default:
		return domain.ErrorTypeManualBlock
	}
}

// setHeaders attaches the diagnostic headers for an admitted request. The
// quota headers are written only when a real quota snapshot exists; fail-open
// admissions and unknown categories carry no X-RateLimit-* set.
func (m *admissionHandler) setHeaders(w http.ResponseWriter, client domain.ClientKey, category domain.Category, res domain.RateLimitResult) {
	h := w.Header()
	if res.LimitMinute > 0 {
		h.Set("X-RateLimit-Type", string(category))
		h.Set("X-RateLimit-Limit-Minute", strconv.Itoa(res.LimitMinute))
		h.Set("X-RateLimit-Limit-Hour", strconv.Itoa(res.LimitHour))
		h.Set("X-RateLimit-Remaining-Minute", strconv.Itoa(res.RemainingMinute))
		h.Set("X-RateLimit-Remaining-Hour", strconv.Itoa(res.RemainingHour))
	}
	h.Set("X-DDoS-Protection", "active")
	h.Set("X-IP-Reputation", strconv.Itoa(m.state.Reputation.Score(client)))
}

// recordBlock persists a block entry for history. Best effort, off the
// decision path.
func (m *admissionHandler) recordBlock(ctx context.Context, entry domain.BlockEntry) {
	if m.store == nil {
		return
	}
	go func() {
		if err := m.store.AppendBlock(context.WithoutCancel(ctx), &entry); err != nil {
			m.logger.Warn("block history write failed",
				slog.String("client", string(entry.Client)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// publish emits the structured violation event for the audit/alerting
// collaborator. Delivery is best effort and never blocks the decision path.
func (m *admissionHandler) publish(ctx context.Context, client domain.ClientKey, category domain.Category, kind domain.ViolationKind, score int, detail string) {
	if m.events == nil {
		return
	}
	event := &domain.ViolationEvent{
		ID:         uuid.New().String(),
		Client:     client,
		Category:   category,
		Kind:       kind,
		Reputation: score,
		Detail:     detail,
		Timestamp:  time.Now(),
	}
	go func() {
		if err := m.events.Publish(context.WithoutCancel(ctx), event); err != nil {
			m.logger.Warn("violation event publish failed",
				slog.String("client", string(client)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// writeAdmissionError writes the canonical denial body. Internal thresholds
// and other clients' state never appear here.
func writeAdmissionError(w http.ResponseWriter, admErr *domain.AdmissionError) {
	retryAfter := int(admErr.RetryAfter / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(admErr.StatusCode)

	json.NewEncoder(w).Encode(map[string]any{
		"error":       admErr.Message,
		"retry_after": retryAfter,
	})
}
