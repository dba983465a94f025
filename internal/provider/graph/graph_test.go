package graph

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shineum/mailer-lite/internal/email"
	"github.com/shineum/mailer-lite/internal/provider"
	"github.com/shineum/mailer-lite/internal/secret"
)

const testTenant = "test-tenant"

// sendRecord captures one request to the sendMail endpoint.
type sendRecord struct {
	path          string
	authorization string
	contentType   string
	body          string
}

// fakeGraph serves both the token endpoint and the sendMail endpoint.
type fakeGraph struct {
	server     *httptest.Server
	token      string
	sendStatus int
	sendBody   string

	mu    sync.Mutex
	sends []sendRecord
}

func newFakeGraph(t *testing.T, configure ...func(*fakeGraph)) *fakeGraph {
	t.Helper()

	fg := &fakeGraph{
		token:      "test-access-token",
		sendStatus: http.StatusAccepted,
	}
	for _, c := range configure {
		c(fg)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /"+testTenant+"/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": fg.token,
			"expires_in":   3599,
			"token_type":   "Bearer",
		})
	})
	mux.HandleFunc("POST /v1.0/users/{sender}/sendMail", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		fg.mu.Lock()
		fg.sends = append(fg.sends, sendRecord{
			path:          r.URL.Path,
			authorization: r.Header.Get("Authorization"),
			contentType:   r.Header.Get("Content-Type"),
			body:          string(body),
		})
		fg.mu.Unlock()

		w.WriteHeader(fg.sendStatus)
		w.Write([]byte(fg.sendBody))
	})

	fg.server = httptest.NewServer(mux)
	t.Cleanup(fg.server.Close)
	return fg
}

func (fg *fakeGraph) records() []sendRecord {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	return append([]sendRecord(nil), fg.sends...)
}

func (fg *fakeGraph) newMailer(t *testing.T, opts ...Option) *Mailer {
	t.Helper()

	opts = append([]Option{
		WithHTTPClient(fg.server.Client()),
		WithEndpoints(fg.server.URL, fg.server.URL+"/v1.0"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)

	m, err := New(context.Background(), Config{
		TenantID:     testTenant,
		ClientID:     "test-client-id",
		ClientSecret: secret.New("test-client-secret"),
	}, opts...)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	return m
}

func testMessage() *email.Message {
	return &email.Message{
		From: "a@example.com",
		To:   []string{"alice@example.com", "bob@example.com"},
		Body: []byte("From: a@example.com\r\nTo: alice@example.com\r\nSubject: Hi\r\n\r\nHello, World!\r\n"),
	}
}

func TestNew_StoresToken(t *testing.T) {
	t.Parallel()

	fg := newFakeGraph(t, func(fg *fakeGraph) { fg.token = "T" })

	m := fg.newMailer(t)
	if m.token.Expose() != "T" {
		t.Errorf("token: got %q, want %q", m.token.Expose(), "T")
	}
}

func TestNew_TokenFailureIsTerminal(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("try later"))
	}))
	defer server.Close()

	_, err := New(context.Background(), Config{TenantID: "t", ClientID: "c", ClientSecret: secret.New("s")},
		WithHTTPClient(server.Client()),
		WithEndpoints(server.URL, ""),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if !errors.Is(err, ErrTokenResponseUnparseable) {
		t.Fatalf("got %v, want ErrTokenResponseUnparseable", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("token request count: got %d, want 1 (no retry)", calls)
	}
}

func TestSendMail_RequestShape(t *testing.T) {
	t.Parallel()

	fg := newFakeGraph(t)
	m := fg.newMailer(t)
	msg := testMessage()

	if err := m.SendMail(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := fg.records()
	if len(records) != 1 {
		t.Fatalf("send count: got %d, want 1", len(records))
	}

	rec := records[0]
	if rec.path != "/v1.0/users/a@example.com/sendMail" {
		t.Errorf("path: got %q, want %q", rec.path, "/v1.0/users/a@example.com/sendMail")
	}
	if rec.authorization != "Bearer test-access-token" {
		t.Errorf("Authorization: got %q, want %q", rec.authorization, "Bearer test-access-token")
	}
	if rec.contentType != "text/plain" {
		t.Errorf("Content-Type: got %q, want %q", rec.contentType, "text/plain")
	}

	want := base64.StdEncoding.EncodeToString(msg.Body)
	if rec.body != want {
		t.Errorf("body: got %q, want %q", rec.body, want)
	}
}

func TestSendMail_DoesNotModifyMessage(t *testing.T) {
	t.Parallel()

	fg := newFakeGraph(t)
	m := fg.newMailer(t)

	msg := testMessage()
	original := testMessage()

	if err := m.SendMail(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From != original.From {
		t.Errorf("From changed: got %q, want %q", msg.From, original.From)
	}
	if strings.Join(msg.To, ",") != strings.Join(original.To, ",") {
		t.Errorf("To changed: got %v, want %v", msg.To, original.To)
	}
	if !bytes.Equal(msg.Body, original.Body) {
		t.Error("Body changed")
	}
}

func TestSendMail_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"error":{"code":"InvalidAuthenticationToken","message":"Access token has expired or is not yet valid."}}`,
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			body:   `{"error":{"code":"ErrorAccessDenied","message":"Access is denied."}}`,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fg := newFakeGraph(t, func(fg *fakeGraph) {
				fg.sendStatus = tt.status
				fg.sendBody = tt.body
			})
			m := fg.newMailer(t)

			err := m.SendMail(context.Background(), testMessage())
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrSendRejected) {
				t.Fatalf("got %v, want ErrSendRejected", err)
			}
			if err.StatusCode != tt.status {
				t.Errorf("StatusCode: got %d, want %d", err.StatusCode, tt.status)
			}
			if err.Body != tt.body {
				t.Errorf("Body: got %q, want %q", err.Body, tt.body)
			}
			if len(fg.records()) != 1 {
				t.Errorf("send count: got %d, want 1 (no retry)", len(fg.records()))
			}
		})
	}
}

func TestSendMail_AnySuccessStatus(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusOK, http.StatusAccepted, http.StatusNoContent} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			t.Parallel()

			fg := newFakeGraph(t, func(fg *fakeGraph) { fg.sendStatus = status })
			m := fg.newMailer(t)

			if err := m.SendMail(context.Background(), testMessage()); err != nil {
				t.Errorf("status %d: unexpected error: %v", status, err)
			}
		})
	}
}

func TestSendMail_RequestFailure(t *testing.T) {
	t.Parallel()

	fg := newFakeGraph(t)
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	m := fg.newMailer(t, WithEndpoints("", deadURL+"/v1.0"))

	err := m.SendMail(context.Background(), testMessage())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrSendRequestFailed) {
		t.Errorf("got %v, want ErrSendRequestFailed", err)
	}
}

func TestSendMail_TwiceDeliversTwice(t *testing.T) {
	t.Parallel()

	fg := newFakeGraph(t)
	m := fg.newMailer(t)
	msg := testMessage()

	for i := 0; i < 2; i++ {
		if err := m.SendMail(context.Background(), msg); err != nil {
			t.Fatalf("send %d: unexpected error: %v", i, err)
		}
	}

	if got := len(fg.records()); got != 2 {
		t.Errorf("send count: got %d, want 2 (no deduplication)", got)
	}
}

func TestSendMail_Concurrent(t *testing.T) {
	t.Parallel()

	fg := newFakeGraph(t)
	p := provider.Erase[*Error](fg.newMailer(t))

	const goroutines = 10
	var wg sync.WaitGroup
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = p.Send(context.Background(), testMessage())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d: unexpected error: %v", i, err)
		}
	}
	if got := len(fg.records()); got != goroutines {
		t.Errorf("send count: got %d, want %d", got, goroutines)
	}
}

func TestErase_Parity(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusAccepted, http.StatusUnauthorized} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			t.Parallel()

			fg := newFakeGraph(t, func(fg *fakeGraph) { fg.sendStatus = status })
			m := fg.newMailer(t)

			staticErr := m.SendMail(context.Background(), testMessage())
			dynErr := provider.Erase[*Error](m).Send(context.Background(), testMessage())

			if (staticErr == nil) != (dynErr == nil) {
				t.Fatalf("static %v, dynamic %v", staticErr, dynErr)
			}
			if staticErr != nil {
				if dynErr.Error() != staticErr.Error() {
					t.Errorf("message: static %q, dynamic %q", staticErr.Error(), dynErr.Error())
				}
				if !errors.Is(dynErr, ErrSendRejected) {
					t.Errorf("dynamic error lost kind: %v", dynErr)
				}
			}
		})
	}
}

func TestMailer_StringRedactsToken(t *testing.T) {
	t.Parallel()

	fg := newFakeGraph(t, func(fg *fakeGraph) { fg.token = "eyJ0eXAiOiJKV1QiLCJhbGciOi" })
	m := fg.newMailer(t)

	for _, out := range []string{m.String(), fmt.Sprintf("%v", m), fmt.Sprintf("%+v", *m)} {
		if strings.Contains(out, fg.token) {
			t.Errorf("output leaked token: %s", out)
		}
	}
	if m.Name() != "msgraph" {
		t.Errorf("Name: got %q, want %q", m.Name(), "msgraph")
	}
}

func TestSendMail_LogsRecipients(t *testing.T) {
	t.Parallel()

	fg := newFakeGraph(t)
	var buf bytes.Buffer
	m := fg.newMailer(t, WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	if err := m.SendMail(context.Background(), testMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(buf.String(), "alice@example.com, bob@example.com") {
		t.Errorf("log output missing recipients: %s", buf.String())
	}
	if strings.Contains(buf.String(), fg.token) {
		t.Errorf("log output leaked token: %s", buf.String())
	}
}
