package health

import (
	"context"
	"time"

	"github.com/hostdash/cachetier/types"
)

// StoreChecker builds the health checker for the cache store connection.
// It reports unhealthy both when the state machine is away from Ready and
// when a live connection fails the ping.
func StoreChecker(conn types.ConnectionManager) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		probe := Probe(ctx, conn)

		status := probe.Status
		check := types.HealthCheck{
			Status:  status,
			Message: probe.Error,
			Details: map[string]interface{}{
				"state":     conn.State().String(),
				"connected": probe.Connected,
			},
		}
		if attempts := conn.Attempts(); attempts > 0 {
			check.Details["reconnect_attempts"] = attempts
		}
		return check
	}
}

// Probe answers the liveness question without ever returning a Go error, so
// route handlers cannot be made to fail by a broken store.
func Probe(ctx context.Context, conn types.ConnectionManager) types.HealthProbe {
	if !conn.Ready() {
		probe := types.HealthProbe{
			Status:    types.StatusUnhealthy,
			Connected: false,
		}
		if err := conn.LastError(); err != nil {
			probe.Error = err.Error()
		}
		return probe
	}

	client, err := conn.Client()
	if err != nil {
		return types.HealthProbe{
			Status:    types.StatusUnhealthy,
			Connected: false,
			Error:     err.Error(),
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx); err != nil {
		return types.HealthProbe{
			Status:    types.StatusUnhealthy,
			Connected: true,
			Error:     err.Error(),
		}
	}

	return types.HealthProbe{
		Status:    types.StatusHealthy,
		Connected: true,
	}
}
