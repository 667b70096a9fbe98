package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/codec"
	"github.com/ctrlai/agentsync/internal/probe"
)

// Probe tests s against k's endpoint protocol. It does not touch k's lane:
// probing has no file side effects and may run alongside a write.
func (c *Coordinator) Probe(ctx context.Context, k agent.Kind, s codec.Settings) (probe.Result, error) {
	if !k.Valid() {
		return probe.Result{}, errUnknownKind(k)
	}
	if c.prober == nil {
		return probe.Result{}, errors.New("no prober configured")
	}
	r := c.prober.Probe(ctx, k, s)

	e := newEvent(k, OpProbe)
	if r.Success {
		e.Outcome = OutcomeSuccess
	} else {
		e.Outcome = OutcomeFailure
		e.Category = string(r.Category)
	}
	e.Message = r.Message
	c.emit(e)
	return r, nil
}

// ProbeConfigured reads k's live config and probes the endpoint and key
// found there. A kind with no config file returns ErrNotConfigured.
func (c *Coordinator) ProbeConfigured(ctx context.Context, k agent.Kind) (probe.Result, error) {
	cur, err := c.Read(ctx, k)
	if err != nil {
		return probe.Result{}, err
	}
	if !cur.Configured {
		return probe.Result{}, opErr(OpProbe, k, cur.Path, ErrNotConfigured, fmt.Errorf("%s does not exist", cur.Path))
	}
	return c.Probe(ctx, k, settingsFromParsed(cur.Parsed))
}

// ModelsRequest selects which listing Models fetches.
type ModelsRequest struct {
	Settings codec.Settings
	// PageToken resumes a previous listing.
	PageToken string
	// All follows page tokens up to MaxPages.
	All      bool
	MaxPages int
}

// Models lists the models offered by the endpoint in req.Settings, using
// k's wire protocol. When req.Settings has no endpoint, the endpoint and
// key of k's live config are used.
func (c *Coordinator) Models(ctx context.Context, k agent.Kind, req ModelsRequest) (probe.Page, error) {
	info, ok := agent.Lookup(k)
	if !ok {
		return probe.Page{}, errUnknownKind(k)
	}
	if c.prober == nil {
		return probe.Page{}, errors.New("no prober configured")
	}

	s := req.Settings
	if s.EndpointURL == "" {
		cur, err := c.Read(ctx, k)
		if err != nil {
			return probe.Page{}, err
		}
		if !cur.Configured || cur.Parsed.EndpointURL == "" {
			return probe.Page{}, opErr(OpProbe, k, cur.Path, ErrNotConfigured, errors.New("no endpoint configured"))
		}
		s.EndpointURL = cur.Parsed.EndpointURL
		if s.APIKey == "" {
			s.APIKey = cur.Parsed.APIKey
		}
	}

	pr := probe.Request{
		Endpoint:  s.EndpointURL,
		APIKey:    s.APIKey,
		Protocol:  info.Protocol,
		PageToken: req.PageToken,
	}
	if req.All {
		return c.prober.FetchAll(ctx, pr, req.MaxPages), nil
	}
	return c.prober.FetchModels(ctx, pr), nil
}

func settingsFromParsed(p codec.Parsed) codec.Settings {
	return codec.Settings{
		EndpointURL: p.EndpointURL,
		APIKey:      p.APIKey,
		Model:       p.Model,
		Mode:        p.Mode,
	}
}
