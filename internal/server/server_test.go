package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-intake/internal/ingest"
)

type fakeIngester struct {
	got ingest.Request
	res *ingest.Result
	err error
}

func (f *fakeIngester) Ingest(_ context.Context, req ingest.Request) (*ingest.Result, error) {
	f.got = req
	return f.res, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func post(t *testing.T, h http.Handler, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestIngest_Success(t *testing.T) {
	deal := "d1"
	ing := &fakeIngester{res: &ingest.Result{ContactID: "c1", LeadEventID: "e1", DealID: &deal}}
	h := NewRouter(ing, nil, Options{})

	rr := post(t, h, "/ingest/src-1", "lk_key", `{"phone":"3331234567"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"success":true,"contact_id":"c1","lead_event_id":"e1","deal_id":"d1"}`, rr.Body.String())
	assert.Equal(t, "src-1", ing.got.SourceID)
	assert.Equal(t, "lk_key", ing.got.APIKey)
	assert.JSONEq(t, `{"phone":"3331234567"}`, string(ing.got.Body))
}

func TestIngest_SuccessWithoutDeal(t *testing.T) {
	ing := &fakeIngester{res: &ingest.Result{ContactID: "c1", LeadEventID: "e1"}}
	rr := post(t, NewRouter(ing, nil, Options{}), "/ingest/src-1", "lk_key", `{"phone":"3331234567"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"contact_id":"c1","lead_event_id":"e1"}`, rr.Body.String())
}

func TestIngest_ErrorBodies(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"missing key", &ingest.Error{Kind: ingest.KindUnauthorized, Message: ingest.MsgMissingKey}, 401, `{"error":"Missing X-API-Key header"}`},
		{"invalid key", &ingest.Error{Kind: ingest.KindUnauthorized, Message: ingest.MsgInvalidKey}, 401, `{"error":"Invalid API key"}`},
		{"unknown source", &ingest.Error{Kind: ingest.KindNotFound, Message: ingest.MsgUnknownSource}, 404, `{"error":"Unknown webhook source"}`},
		{"no phone", &ingest.Error{Kind: ingest.KindInvalidIdentity, Message: ingest.MsgPhoneRequired}, 400, `{"error":"Phone number is required"}`},
		{"storage", &ingest.Error{Kind: ingest.KindStorageUnavailable, Message: ingest.MsgInternal, Err: errors.New("pq: relation missing")}, 500, `{"error":"Internal server error"}`},
		{"unclassified", errors.New("boom"), 500, `{"error":"Internal server error"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(&fakeIngester{err: tt.err}, nil, Options{})
			rr := post(t, h, "/ingest/src-1", "lk_key", `{}`)

			assert.Equal(t, tt.status, rr.Code)
			assert.JSONEq(t, tt.body, rr.Body.String())
		})
	}
}

func TestIngest_BodyTooLarge(t *testing.T) {
	ing := &fakeIngester{}
	h := NewRouter(ing, nil, Options{MaxBodyBytes: 16})

	rr := post(t, h, "/ingest/src-1", "lk_key", `{"phone":"3331234567","note":"far too long"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Empty(t, ing.got.SourceID)
}

func TestIngest_MethodNotAllowed(t *testing.T) {
	h := NewRouter(&fakeIngester{}, nil, Options{})
	req := httptest.NewRequest(http.MethodGet, "/ingest/src-1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		pinger Pinger
		status int
		body   string
	}{
		{"no store", nil, 200, `{"status":"ok"}`},
		{"store up", fakePinger{}, 200, `{"status":"ok"}`},
		{"store down", fakePinger{err: errors.New("connection refused")}, 503, `{"status":"unavailable"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(&fakeIngester{}, tt.pinger, Options{})
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			assert.JSONEq(t, tt.body, rr.Body.String())
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := NewRouter(&fakeIngester{}, nil, Options{CORSOrigins: []string{"https://forms.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/ingest/src-1", nil)
	req.Header.Set("Origin", "https://forms.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", APIKeyHeader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Contains(t, []int{http.StatusOK, http.StatusNoContent}, rr.Code)
	assert.Equal(t, "https://forms.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}
