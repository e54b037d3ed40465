package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/letterforge/letterforge/internal/api/models"
	"github.com/letterforge/letterforge/internal/api/response"
	"github.com/letterforge/letterforge/internal/featureflags"
	"github.com/letterforge/letterforge/internal/provider/resilience"
)

// Pinger is a dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	checks    map[string]Pinger
	providers *resilience.Registry
	flags     *featureflags.Service
}

// OpsConfig wires the dependencies reported by the ops endpoints. Any field
// may be nil.
type OpsConfig struct {
	Version   string
	BuildTime string
	Checks    map[string]Pinger
	Providers *resilience.Registry
	Flags     *featureflags.Service
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		checks:    cfg.Checks,
		providers: cfg.Providers,
		flags:     cfg.Flags,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":    h.version,
			"build_time": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. It fails when any dependency
// does not answer a ping within two seconds.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	subsystems := h.subsystems(r.Context())

	status := models.HealthStatusOK
	details := make(map[string]interface{}, len(subsystems))
	for _, s := range subsystems {
		details[s.Name] = s.Status
		if s.Status != models.HealthStatusOK {
			status = models.HealthStatusFail
		}
	}

	code := http.StatusOK
	if status != models.HealthStatusOK {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, models.Health{
		Status:  status,
		Time:    models.Timestamp(time.Now()),
		Details: details,
	})
}

// SystemStatus handles GET /v1/ops/status - provider and subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Subsystems: h.subsystems(ctx),
		Providers:  []models.ProviderStatus{},
	}

	for _, s := range status.Subsystems {
		if s.Status != models.HealthStatusOK {
			status.Status = models.HealthStatusFail
		}
	}

	if h.providers != nil {
		for _, p := range h.providers.AllHealth() {
			ps := models.ProviderStatus{
				Provider:      p.Name,
				Status:        providerStatus(p),
				LastSuccessAt: models.TimestampPtr(p.LastSuccessAt),
				LastFailureAt: models.TimestampPtr(p.LastFailureAt),
			}
			if p.LastError != "" {
				msg := p.LastError
				ps.Message = &msg
			}
			if ps.Status != models.HealthStatusOK && status.Status == models.HealthStatusOK {
				status.Status = models.HealthStatusDegraded
			}
			status.Providers = append(status.Providers, ps)
		}
	}

	if h.flags != nil {
		for _, key := range []string{
			featureflags.FlagPauseDeletionExecution,
			featureflags.FlagDisableLifecycleEmails,
			featureflags.FlagDisableCRMSync,
		} {
			if h.flags.IsEnabled(ctx, key) {
				status.ActiveDegradationFlags = append(status.ActiveDegradationFlags, key)
			}
		}
		if len(status.ActiveDegradationFlags) > 0 && status.Status == models.HealthStatusOK {
			status.Status = models.HealthStatusDegraded
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) subsystems(ctx context.Context) []models.SubsystemStatus {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]models.SubsystemStatus, 0, len(names))
	for _, name := range names {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := h.checks[name].Ping(pingCtx)
		cancel()

		s := models.SubsystemStatus{Name: name, Status: models.HealthStatusOK}
		if err != nil {
			detail := err.Error()
			s.Status = models.HealthStatusFail
			s.Detail = &detail
		}
		out = append(out, s)
	}
	return out
}

func providerStatus(p *resilience.ProviderHealth) models.HealthStatus {
	switch {
	case p.IsHealthy():
		return models.HealthStatusOK
	case p.IsDegraded():
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusFail
	}
}
