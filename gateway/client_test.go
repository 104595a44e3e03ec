package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, WithTimeout(2*time.Second))
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New("ftp://example.com")
	assert.Error(t, err)
	_, err = New("://bad")
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/token", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "no active account"})
			return
		}
		writeJSON(w, http.StatusOK, Tokens{Access: "acc", Refresh: "ref"})
	})
	ctx := context.Background()

	tokens, err := c.Login(ctx, "a@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, Tokens{Access: "acc", Refresh: "ref"}, tokens)

	_, err = c.Login(ctx, "a@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginMalformedReply(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"access": "only"})
	})
	_, err := c.Login(context.Background(), "a@example.com", "x")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestRefresh(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body["refresh"] {
		case "good":
			writeJSON(w, http.StatusOK, map[string]string{"access": "acc-2"})
		case "rotate":
			writeJSON(w, http.StatusOK, map[string]string{"access": "acc-3", "refresh": "ref-3"})
		case "garbage":
			_, _ = w.Write([]byte("{not json"))
		default:
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "token_not_valid"})
		}
	})
	ctx := context.Background()

	access, err := c.Refresh(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "acc-2", access)

	access, rotated, err := c.RefreshWithRotation(ctx, "rotate")
	require.NoError(t, err)
	assert.Equal(t, "acc-3", access)
	assert.Equal(t, "ref-3", rotated)

	_, err = c.Refresh(ctx, "revoked")
	assert.ErrorIs(t, err, ErrRefreshRejected)

	_, err = c.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestServerErrorsAreNetworkUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Refresh(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
}

func TestTransportFailureIsNetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url)
	require.NoError(t, err)
	_, err = c.Login(context.Background(), "a@example.com", "x")
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
}

func TestProfileSendsBearerToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/profile", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer acc" {
			writeJSON(w, http.StatusUnauthorized, nil)
			return
		}
		_, _ = w.Write([]byte(`{
			"id": 42,
			"email": "planner@example.com",
			"first_name": "Pat",
			"last_name": "Lane",
			"is_superuser": false,
			"role": [{"id": 2, "role_name": "Planner"}],
			"organisation_name": "Acme",
			"status": "active",
			"assigned_customers": [3, 4],
			"last_login": "2024-05-01T10:00:00Z"
		}`))
	})
	ctx := context.Background()

	p, err := c.Profile(ctx, "Bearer acc")
	require.NoError(t, err)
	assert.Equal(t, ID("42"), p.ID)
	assert.Equal(t, "Pat Lane", p.DisplayName())
	role, ok := p.PrimaryRole()
	require.True(t, ok)
	assert.Equal(t, Role{ID: 2, RoleName: "Planner"}, role)
	assert.Equal(t, []int{3, 4}, p.AssignedCustomers)
	require.NotNil(t, p.LastLogin)

	_, err = c.Profile(ctx, "stale")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestListPrivileges(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/privilege/list", r.URL.Path)
		require.Equal(t, "Bearer acc", r.Header.Get("Authorization"))
		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, 2, body["role_id"])
		_, _ = w.Write([]byte(`{"results": [
			{"module_id": 7, "privileges": [{"privilege_name": "view_shipment_plan"}, {"privilege_name": ""}]},
			{"module_id": 9, "privileges": []}
		]}`))
	})

	groups, err := c.ListPrivileges(context.Background(), "acc", 2)
	require.NoError(t, err)
	assert.Equal(t, []ModulePrivileges{
		{ModuleID: 7, Privileges: []string{"view_shipment_plan"}},
		{ModuleID: 9, Privileges: []string{}},
	}, groups)

	src := c.PrivilegeSource(func(context.Context) (string, error) { return "Bearer acc", nil })
	grants, err := src.ListPrivileges(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, 7, grants[0].ModuleID)
}

func TestListPrivilegesMalformed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results": [{"privileges": []}]}`))
	})
	_, err := c.ListPrivileges(context.Background(), "acc", 1)
	assert.ErrorIs(t, err, ErrMalformedResponse)

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"detail": "ok"}`))
	})
	_, err = c.ListPrivileges(context.Background(), "acc", 1)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestIDAcceptsStringsAndNumbers(t *testing.T) {
	var p struct {
		A ID `json:"a"`
		B ID `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": "u-1", "b": 7}`), &p))
	assert.Equal(t, ID("u-1"), p.A)
	assert.Equal(t, ID("7"), p.B)
	assert.Error(t, json.Unmarshal([]byte(`{"a": true}`), &p))
}
