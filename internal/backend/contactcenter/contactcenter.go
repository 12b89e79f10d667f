// Package contactcenter implements the search adapter for the
// OAuth-secured contact-center agent API.
package contactcenter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/people-lookup/internal/backend"
	"github.com/sells-group/people-lookup/internal/model"
)

// ServiceName is the token manager service key for this backend.
const ServiceName = string(model.BackendContactCenter)

const minTermLength = 3

// TokenSource hands out current bearer tokens and forces refreshes.
type TokenSource interface {
	GetValidToken(ctx context.Context, service string) (string, error)
	ForceRefresh(ctx context.Context, service string) error
}

// Option configures the adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Adapter) {
		a.http = hc
	}
}

// WithRateLimit sets a per-second call budget. The contact-center API
// throttles aggressively, so production config always sets this.
func WithRateLimit(rps float64) Option {
	return func(a *Adapter) {
		if rps > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// Adapter searches the contact-center service.
type Adapter struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a contact-center adapter.
func New(baseURL string, tokens TokenSource, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL: baseURL,
		tokens:  tokens,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Name() model.Backend {
	return model.BackendContactCenter
}

func (a *Adapter) MinTermLength() int {
	return minTermLength
}

// Search queries the agent API. A 401 forces one token refresh and one
// retry before the auth failure is surfaced.
func (a *Adapter) Search(ctx context.Context, term string) ([]model.PersonRecord, error) {
	min := minTermLength
	if backend.IsEmailTerm(term) {
		min = 0
	}
	if err := backend.CheckTerm(term, min); err != nil {
		return nil, backend.NewError(a.Name(), backend.FailInvalidQuery, err)
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, backend.Classify(a.Name(), eris.Wrap(err, "contactcenter: rate limit"))
		}
	}

	agents, err := a.query(ctx, term)
	if backend.IsAuthFailure(err) {
		if rerr := a.tokens.ForceRefresh(ctx, ServiceName); rerr != nil {
			return nil, backend.NewError(a.Name(), backend.FailAuth, rerr)
		}
		agents, err = a.query(ctx, term)
	}
	if err != nil {
		return nil, err
	}

	records := make([]model.PersonRecord, 0, len(agents))
	for _, ag := range agents {
		if rec, ok := ag.toRecord(); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

type agent struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	Extension string   `json:"extension"`
	DirectDID string   `json:"did"`
	Queues    []string `json:"queues"`
	Skills    []string `json:"skills"`
}

type searchResponse struct {
	Agents []agent `json:"agents"`
}

func (a *Adapter) query(ctx context.Context, term string) ([]agent, error) {
	tok, err := a.tokens.GetValidToken(ctx, ServiceName)
	if err != nil {
		return nil, backend.NewError(a.Name(), backend.FailAuth, err)
	}

	q := url.Values{}
	q.Set("search", term)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/v1/agents?"+q.Encode(), nil)
	if err != nil {
		return nil, backend.Classify(a.Name(), eris.Wrap(err, "contactcenter: create request"))
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, backend.Classify(a.Name(), eris.Wrap(err, "contactcenter: send request"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backend.Classify(a.Name(), eris.Wrap(err, "contactcenter: read response"))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, backend.NewError(a.Name(), backend.FailAuth,
			eris.Errorf("contactcenter: status %d: %s", resp.StatusCode, string(body)))
	case resp.StatusCode == http.StatusBadRequest:
		return nil, backend.NewError(a.Name(), backend.FailInvalidQuery,
			eris.Errorf("contactcenter: status %d: %s", resp.StatusCode, string(body)))
	default:
		return nil, backend.NewError(a.Name(), backend.FailUnavailable,
			eris.Errorf("contactcenter: unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, backend.NewError(a.Name(), backend.FailUnavailable,
			eris.Wrap(err, "contactcenter: unmarshal response"))
	}
	return sr.Agents, nil
}

func (ag agent) toRecord() (model.PersonRecord, bool) {
	key := model.IdentityKeyFrom(ag.Email)
	if key == "" {
		return model.PersonRecord{}, false
	}

	fields := make(map[string]model.FieldValue)
	put := func(name, value string) {
		if value != "" {
			fields[name] = model.FieldValue{Value: value, Source: model.BackendContactCenter}
		}
	}
	put(model.FieldEmail, ag.Email)
	put(model.FieldDisplayName, ag.Name)
	put(model.FieldAgentID, ag.ID)
	put(model.FieldQueues, strings.Join(ag.Queues, ","))
	put(model.FieldSkills, strings.Join(ag.Skills, ","))

	var phones []model.RawPhone
	if ag.Extension != "" {
		phones = append(phones, model.RawPhone{Raw: ag.Extension, Attribute: model.PhoneAttrExtension, Source: model.BackendContactCenter})
	}
	if ag.DirectDID != "" {
		phones = append(phones, model.RawPhone{Raw: ag.DirectDID, Attribute: model.PhoneAttrTelephone, Source: model.BackendContactCenter})
	}

	return model.PersonRecord{
		SourceID:    ag.ID,
		Backend:     model.BackendContactCenter,
		IdentityKey: key,
		Fields:      fields,
		Phones:      phones,
	}, true
}
