package cloudid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/people-lookup/internal/backend"
	"github.com/sells-group/people-lookup/internal/model"
)

type fakeTokens struct {
	token      string
	tokenErr   error
	refreshErr error

	getCalls     int
	refreshCalls int
}

func (f *fakeTokens) GetValidToken(_ context.Context, _ string) (string, error) {
	f.getCalls++
	return f.token, f.tokenErr
}

func (f *fakeTokens) ForceRefresh(_ context.Context, _ string) error {
	f.refreshCalls++
	f.token = f.token + "-refreshed"
	return f.refreshErr
}

const usersPayload = `{
	"users": [{
		"id": "c0ffee",
		"email": "JDoe@Example.com",
		"display_name": "John Doe",
		"title": "Senior Engineer",
		"department": "Platform",
		"avatar_url": "https://cdn.example.com/jdoe.png",
		"phone_numbers": [
			{"type": "work", "number": "19187491234"},
			{"type": "mobile", "number": "9185550000"}
		]
	}]
}`

func TestSearch_MapsUsers(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("query")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(usersPayload))
	}))
	defer srv.Close()

	a := New(srv.URL, &fakeTokens{token: "tok-1"})
	records, err := a.Search(context.Background(), "doe")
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "doe", gotQuery)

	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, model.BackendCloudIdentity, rec.Backend)
	assert.Equal(t, "jdoe@example.com", rec.IdentityKey)
	assert.Equal(t, "John Doe", rec.Fields[model.FieldDisplayName].Value)
	assert.Equal(t, "https://cdn.example.com/jdoe.png", rec.Fields[model.FieldAvatarURL].Value)

	require.Len(t, rec.Phones, 2)
	assert.Equal(t, model.PhoneAttrTelephone, rec.Phones[0].Attribute)
	assert.Equal(t, model.PhoneAttrMobile, rec.Phones[1].Attribute)
}

func TestSearch_RefreshRetryOn401(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") == "Bearer stale" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"users": []}`))
	}))
	defer srv.Close()

	tokens := &fakeTokens{token: "stale"}
	a := New(srv.URL, tokens)

	records, err := a.Search(context.Background(), "doe")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 2, calls, "one original call plus one post-refresh retry")
	assert.Equal(t, 1, tokens.refreshCalls)
}

func TestSearch_PersistentAuthFailureSurfaces(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{token: "rejected"}
	a := New(srv.URL, tokens)

	_, err := a.Search(context.Background(), "doe")
	var be *backend.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, backend.FailAuth, be.Kind)
	assert.Equal(t, 2, calls, "exactly one retry after forced refresh")
	assert.Equal(t, 1, tokens.refreshCalls)
}

func TestSearch_TokenUnavailableIsAuthFailure(t *testing.T) {
	a := New("http://unused.example.com", &fakeTokens{tokenErr: eris.New("exchange failed"), refreshErr: eris.New("exchange failed")})

	_, err := a.Search(context.Background(), "doe")
	var be *backend.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, backend.FailAuth, be.Kind)
}

func TestSearch_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := New(srv.URL, &fakeTokens{token: "tok"})
	_, err := a.Search(context.Background(), "doe")
	var be *backend.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, backend.FailUnavailable, be.Kind)
}

func TestSearch_MinLengthPolicy(t *testing.T) {
	tokens := &fakeTokens{token: "tok"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"users": []}`))
	}))
	defer srv.Close()
	a := New(srv.URL, tokens)

	// Substring search under 3 characters is invalid.
	_, err := a.Search(context.Background(), "jd")
	var be *backend.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, backend.FailInvalidQuery, be.Kind)
	assert.Zero(t, tokens.getCalls)

	// Exact email lookup has no minimum.
	_, err = a.Search(context.Background(), "a@b")
	require.NoError(t, err)
}
