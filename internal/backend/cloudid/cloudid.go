// Package cloudid implements the search adapter for the OAuth-secured
// cloud identity profile API.
package cloudid

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/people-lookup/internal/backend"
	"github.com/sells-group/people-lookup/internal/model"
)

// ServiceName is the token manager service key for this backend.
const ServiceName = string(model.BackendCloudIdentity)

// minTermLength applies to name searches; exact email lookups are exempt.
const minTermLength = 3

// TokenSource hands out current bearer tokens and forces refreshes. The
// token manager satisfies it.
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

// Adapter searches the cloud identity service.
type Adapter struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

// New creates a cloud identity adapter.
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
	return model.BackendCloudIdentity
}

func (a *Adapter) MinTermLength() int {
	return minTermLength
}

// Search queries the profile API. A 401 forces one token refresh and one
// retry before the auth failure is surfaced.
func (a *Adapter) Search(ctx context.Context, term string) ([]model.PersonRecord, error) {
	min := minTermLength
	if backend.IsEmailTerm(term) {
		min = 0
	}
	if err := backend.CheckTerm(term, min); err != nil {
		return nil, backend.NewError(a.Name(), backend.FailInvalidQuery, err)
	}

	users, err := a.query(ctx, term)
	if backend.IsAuthFailure(err) {
		if rerr := a.tokens.ForceRefresh(ctx, ServiceName); rerr != nil {
			return nil, backend.NewError(a.Name(), backend.FailAuth, rerr)
		}
		users, err = a.query(ctx, term)
	}
	if err != nil {
		return nil, err
	}

	records := make([]model.PersonRecord, 0, len(users))
	for _, u := range users {
		if rec, ok := u.toRecord(); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

type user struct {
	ID          string      `json:"id"`
	UPN         string      `json:"user_principal_name"`
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	GivenName   string      `json:"given_name"`
	Surname     string      `json:"surname"`
	Title       string      `json:"title"`
	Department  string      `json:"department"`
	Location    string      `json:"office_location"`
	Manager     string      `json:"manager"`
	AvatarURL   string      `json:"avatar_url"`
	Phones      []userPhone `json:"phone_numbers"`
}

type userPhone struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type searchResponse struct {
	Users []user `json:"users"`
}

func (a *Adapter) query(ctx context.Context, term string) ([]user, error) {
	tok, err := a.tokens.GetValidToken(ctx, ServiceName)
	if err != nil {
		return nil, backend.NewError(a.Name(), backend.FailAuth, err)
	}

	q := url.Values{}
	q.Set("query", term)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/users?"+q.Encode(), nil)
	if err != nil {
		return nil, backend.Classify(a.Name(), eris.Wrap(err, "cloudid: create request"))
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, backend.Classify(a.Name(), eris.Wrap(err, "cloudid: send request"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backend.Classify(a.Name(), eris.Wrap(err, "cloudid: read response"))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, backend.NewError(a.Name(), backend.FailAuth,
			eris.Errorf("cloudid: status %d: %s", resp.StatusCode, string(body)))
	case resp.StatusCode == http.StatusBadRequest:
		return nil, backend.NewError(a.Name(), backend.FailInvalidQuery,
			eris.Errorf("cloudid: status %d: %s", resp.StatusCode, string(body)))
	default:
		return nil, backend.NewError(a.Name(), backend.FailUnavailable,
			eris.Errorf("cloudid: unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, backend.NewError(a.Name(), backend.FailUnavailable,
			eris.Wrap(err, "cloudid: unmarshal response"))
	}
	return sr.Users, nil
}

func (u user) toRecord() (model.PersonRecord, bool) {
	principal := u.Email
	if principal == "" {
		principal = u.UPN
	}
	key := model.IdentityKeyFrom(principal)
	if key == "" {
		return model.PersonRecord{}, false
	}

	fields := make(map[string]model.FieldValue)
	put := func(name, value string) {
		if value != "" {
			fields[name] = model.FieldValue{Value: value, Source: model.BackendCloudIdentity}
		}
	}
	put(model.FieldEmail, u.Email)
	put(model.FieldDisplayName, u.DisplayName)
	put(model.FieldGivenName, u.GivenName)
	put(model.FieldSurname, u.Surname)
	put(model.FieldTitle, u.Title)
	put(model.FieldDepartment, u.Department)
	put(model.FieldLocation, u.Location)
	put(model.FieldManager, u.Manager)
	put(model.FieldAvatarURL, u.AvatarURL)

	phones := make([]model.RawPhone, 0, len(u.Phones))
	for _, p := range u.Phones {
		if p.Number == "" {
			continue
		}
		phones = append(phones, model.RawPhone{
			Raw:       p.Number,
			Attribute: phoneAttribute(p.Type),
			Source:    model.BackendCloudIdentity,
		})
	}

	return model.PersonRecord{
		SourceID:    u.ID,
		Backend:     model.BackendCloudIdentity,
		IdentityKey: key,
		Fields:      fields,
		Phones:      phones,
	}, true
}

// phoneAttribute maps the API's phone types onto directory attribute
// semantics so classification stays uniform across backends.
func phoneAttribute(apiType string) string {
	switch apiType {
	case "mobile":
		return model.PhoneAttrMobile
	case "office":
		return model.PhoneAttrOffice
	default:
		return model.PhoneAttrTelephone
	}
}
