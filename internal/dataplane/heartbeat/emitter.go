// Package heartbeat implements the data plane's periodic liveness report to
// the control plane, per spec.md §4.4.6: POST {node_id, applied_sequence,
// healthy, message} to CONTROL_PLANE_URL + /api/v1/nodes/heartbeat every
// HEARTBEAT_INTERVAL_SECS. A failed POST is logged at warn and retried on
// the next tick; it never terminates the process.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/relaymesh/gatewayd/internal/platform/logutil"
)

// Payload is the wire body of one heartbeat POST, mirroring
// internal/controlplane/nodesapi's heartbeatRequest field-for-field.
type Payload struct {
	NodeID          string `json:"node_id"`
	AppliedSequence int64  `json:"applied_sequence"`
	Healthy         bool   `json:"healthy"`
	Message         string `json:"message,omitempty"`
}

// StateFunc returns the current heartbeat payload fields at send time, read
// fresh on every tick so the emitter always reports the reconciler's latest
// applied sequence rather than a value captured at startup.
type StateFunc func() (appliedSequence int64, healthy bool, message string)

// Emitter POSTs a heartbeat on a fixed interval until stopped.
type Emitter struct {
	nodeID            string
	controlPlaneURL   string
	interval          time.Duration
	state             StateFunc
	client            *http.Client
	logger            *slog.Logger
	consecutiveErrors atomic.Int64
}

// New creates an Emitter. controlPlaneURL is the bare base URL (e.g.
// "https://control.internal:8443"); the heartbeat path is appended.
func New(nodeID, controlPlaneURL string, interval time.Duration, state StateFunc, logger *slog.Logger) *Emitter {
	return &Emitter{
		nodeID:          nodeID,
		controlPlaneURL: controlPlaneURL,
		interval:        interval,
		state:           state,
		client:          &http.Client{Timeout: 10 * time.Second},
		logger:          logutil.NoopIfNil(logger),
	}
}

// Run ticks every e.interval, sending one heartbeat per tick, until ctx is
// canceled. A single tick's send gets a few quick exponential-backoff
// retries (via cenkalti/backoff) to absorb a transient blip without waiting
// a full interval for a one-off hiccup; a tick that exhausts its retries is
// logged and the loop simply waits for the next tick, per spec.md §7.
func (e *Emitter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Emitter) tick(ctx context.Context) {
	appliedSequence, healthy, message := e.state()
	payload := Payload{
		NodeID:          e.nodeID,
		AppliedSequence: appliedSequence,
		Healthy:         healthy,
		Message:         message,
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, e.send(ctx, payload)
	}, backoff.WithMaxTries(3))

	if err != nil {
		e.consecutiveErrors.Add(1)
		e.logger.Warn("heartbeat send failed", "error", err, "consecutive_failures", e.consecutiveErrors.Load())
		return
	}
	e.consecutiveErrors.Store(0)
}

func (e *Emitter) send(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("heartbeat: marshal payload: %w", err)
	}

	url := e.controlPlaneURL + "/api/v1/nodes/heartbeat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("heartbeat: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("heartbeat: control plane returned %d", resp.StatusCode)
	}
	return nil
}
