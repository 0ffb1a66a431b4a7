package activity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemline/lemline/internal/activity/security"
	"github.com/lemline/lemline/internal/dsl"
	"github.com/lemline/lemline/internal/engine"
)

// rewriteTransport redirects every request to target regardless of the
// request's own host, letting tests address a public-looking endpoint
// (so it clears the URL guard) while actually hitting an httptest server.
type rewriteTransport struct {
	target *url.URL
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTestRunner(srv *httptest.Server, auth map[string]interface{}) *httpRunner {
	target, _ := url.Parse(srv.URL)
	return &httpRunner{
		client:          &http.Client{Transport: &rewriteTransport{target: target}},
		guard:           security.NewURLGuard(),
		authentications: auth,
	}
}

func TestHTTPRunner_DefaultOutputIsParsedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"widget":"gizmo"}`))
	}))
	defer srv.Close()

	r := newTestRunner(srv, nil)
	node := &engine.Node{Position: "/do/0/call", TaskSpec: map[string]interface{}{
		"with": map[string]interface{}{"method": "GET", "endpoint": "http://example.com/widgets"},
	}}

	out, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"widget": "gizmo"}, out)
}

func TestHTTPRunner_RawOutputReturnsBodyAsString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"widget":"gizmo"}`))
	}))
	defer srv.Close()

	r := newTestRunner(srv, nil)
	node := &engine.Node{Position: "/do/0/call", TaskSpec: map[string]interface{}{
		"output": "raw",
		"with":   map[string]interface{}{"method": "GET", "endpoint": "http://example.com/widgets"},
	}}

	out, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.NoError(t, err)
	assert.Equal(t, `{"widget":"gizmo"}`, out)
}

func TestHTTPRunner_ResponseOutputIncludesStatusAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("X-Trace", "abc")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	r := newTestRunner(srv, nil)
	node := &engine.Node{Position: "/do/0/call", TaskSpec: map[string]interface{}{
		"output": "response",
		"with":   map[string]interface{}{"method": "POST", "endpoint": "http://example.com/widgets"},
	}}

	out, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.NoError(t, err)
	m, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, http.StatusCreated, m["statusCode"])
	assert.Equal(t, map[string]interface{}{"id": float64(1)}, m["content"])
}

func TestHTTPRunner_NonSuccessStatusRaisesCommunicationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"missing"}`))
	}))
	defer srv.Close()

	r := newTestRunner(srv, nil)
	node := &engine.Node{Position: "/do/0/call", TaskSpec: map[string]interface{}{
		"with": map[string]interface{}{"method": "GET", "endpoint": "http://example.com/widgets"},
	}}

	_, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.Error(t, err)
	de, ok := err.(*dsl.Error)
	require.True(t, ok)
	assert.Equal(t, dsl.KindCommunication, de.Type)
	assert.Equal(t, http.StatusNotFound, de.Details["status"])
}

func TestHTTPRunner_BasicAuthenticationSetsHeader(t *testing.T) {
	var gotUser, gotPass string
	var gotOK bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotUser, gotPass, gotOK = req.BasicAuth()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	r := newTestRunner(srv, map[string]interface{}{
		"creds": map[string]interface{}{
			"basic": map[string]interface{}{"username": "alice", "password": "s3cret"},
		},
	})
	node := &engine.Node{Position: "/do/0/call", TaskSpec: map[string]interface{}{
		"with": map[string]interface{}{
			"method":         "GET",
			"endpoint":       "http://example.com/widgets",
			"authentication": "creds",
		},
	}}

	_, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.NoError(t, err)
	require.True(t, gotOK)
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "s3cret", gotPass)
}

func TestHTTPRunner_BearerAuthenticationSetsAuthorizationHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	r := newTestRunner(srv, map[string]interface{}{
		"creds": map[string]interface{}{
			"bearer": map[string]interface{}{"token": "xyz"},
		},
	})
	node := &engine.Node{Position: "/do/0/call", TaskSpec: map[string]interface{}{
		"with": map[string]interface{}{
			"method":         "GET",
			"endpoint":       "http://example.com/widgets",
			"authentication": "creds",
		},
	}}

	_, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer xyz", gotAuth)
}

func TestHTTPRunner_UndeclaredAuthenticationIsConfiguration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	r := newTestRunner(srv, map[string]interface{}{})
	node := &engine.Node{Position: "/do/0/call", TaskSpec: map[string]interface{}{
		"with": map[string]interface{}{
			"method":         "GET",
			"endpoint":       "http://example.com/widgets",
			"authentication": "missing",
		},
	}}

	_, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.Error(t, err)
	de, ok := err.(*dsl.Error)
	require.True(t, ok)
	assert.Equal(t, dsl.KindConfiguration, de.Type)
}

func TestHTTPRunner_MissingWithBlockIsConfiguration(t *testing.T) {
	r := &httpRunner{client: http.DefaultClient, guard: security.NewURLGuard()}
	node := &engine.Node{Position: "/do/0/call", TaskSpec: map[string]interface{}{}}

	_, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.Error(t, err)
	de, ok := err.(*dsl.Error)
	require.True(t, ok)
	assert.Equal(t, dsl.KindConfiguration, de.Type)
}

func TestHTTPRunner_LoopbackEndpointRejectedByGuard(t *testing.T) {
	r := &httpRunner{client: http.DefaultClient, guard: security.NewURLGuard()}
	node := &engine.Node{Position: "/do/0/call", TaskSpec: map[string]interface{}{
		"with": map[string]interface{}{"method": "GET", "endpoint": "http://localhost:9999/internal"},
	}}

	_, err := r.run(context.Background(), node, nil, dsl.Scope{})
	require.Error(t, err)
	de, ok := err.(*dsl.Error)
	require.True(t, ok)
	assert.Equal(t, dsl.KindCommunication, de.Type)
}
