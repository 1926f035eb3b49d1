package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/alasbuild/testforge/pkg/log"
	"github.com/alasbuild/testforge/pkg/types"
)

// pollInterval is the fixed sleep between upstream polls (spec.md §4.1:
// "sleep ~10 s between iterations").
const pollInterval = 10 * time.Second

// Poller pulls available task payloads from the upstream build system over
// HTTP and hands each to a Dispatcher. There is no upstream push: this is
// the only entry point new work arrives through.
type Poller struct {
	Dispatcher *Dispatcher
	Endpoint   string
	Token      string
	Client     *http.Client

	graceful atomic.Bool
	hard     atomic.Bool
}

// NewPoller builds a Poller against endpoint, authenticating with a Bearer
// token.
func NewPoller(d *Dispatcher, endpoint, token string) *Poller {
	return &Poller{
		Dispatcher: d,
		Endpoint:   endpoint,
		Token:      token,
		Client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// RequestGracefulTerminate asks Run to stop once the hard-terminate flag is
// also set, matching the monitor's identical two-flag shutdown (spec.md
// §4.1/§4.2): it lets an operator drain in-flight work before the process
// actually exits.
func (p *Poller) RequestGracefulTerminate() { p.graceful.Store(true) }

// RequestHardTerminate sets the companion flag Run's exit condition also
// requires.
func (p *Poller) RequestHardTerminate() { p.hard.Store(true) }

// Run polls upstream every ~10s until both graceful and hard termination
// have been requested.
func (p *Poller) Run(ctx context.Context) {
	plog := log.WithComponent("scheduler.poller")
	plog.Info().Str("endpoint", p.Endpoint).Msg("upstream poller starting")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if p.graceful.Load() && p.hard.Load() {
			plog.Info().Msg("upstream poller stopping, both termination flags set")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, plog)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, plog zerolog.Logger) {
	payloads, err := p.fetch(ctx)
	if err != nil {
		plog.Error().Err(err).Msg("upstream fetch failed, continuing")
		return
	}

	for i := range payloads {
		payload := &payloads[i]
		// Upstream payloads carry no task_id (Submit mints it), so validate
		// a copy with a placeholder id for the rest of the schema.
		check := *payload
		check.TaskID = "pending"
		if err := check.Validate(); err != nil {
			plog.Error().Err(err).Msg("upstream payload failed schema validation, skipping")
			continue
		}
		if _, err := p.Dispatcher.Submit(ctx, payload); err != nil {
			plog.Error().Err(err).Msg("submit failed")
		}
	}
}

// fetch performs one bearer-authenticated GET against Endpoint and decodes
// a JSON array of task payloads.
func (p *Poller) fetch(ctx context.Context) ([]types.TaskPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.Token)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	var payloads []types.TaskPayload
	if err := json.NewDecoder(resp.Body).Decode(&payloads); err != nil {
		return nil, fmt.Errorf("decoding upstream response: %w", err)
	}
	return payloads, nil
}
