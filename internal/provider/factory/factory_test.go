package factory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shineum/mailer-lite/internal/config"
	"github.com/shineum/mailer-lite/internal/email"
	"github.com/shineum/mailer-lite/internal/provider/graph"
	"github.com/shineum/mailer-lite/internal/provider/smtp"
	"github.com/shineum/mailer-lite/internal/secret"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// newGraphServer serves a token endpoint that answers with tokenStatus and
// a sendMail endpoint that accepts everything.
func newGraphServer(t *testing.T, tokenStatus int) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	sends := new(atomic.Int32)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tenant/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(tokenStatus)
		if tokenStatus != http.StatusOK {
			json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_client",
				"error_description": "AADSTS7000215: Invalid client secret provided.",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3599})
	})
	mux.HandleFunc("POST /v1.0/users/{sender}/sendMail", func(w http.ResponseWriter, r *http.Request) {
		sends.Add(1)
		w.WriteHeader(http.StatusAccepted)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, sends
}

func TestNew_Graph(t *testing.T) {
	t.Parallel()

	srv, sends := newGraphServer(t, http.StatusOK)

	p, err := New(context.Background(), GraphSelector{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: secret.New("s3cret"),
		LoginURL:     srv.URL,
		APIURL:       srv.URL + "/v1.0",
	}, WithLogger(discard), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "msgraph" {
		t.Errorf("Name: got %q, want %q", p.Name(), "msgraph")
	}

	msg := &email.Message{From: "a@example.com", To: []string{"b@example.com"}, Body: []byte("Subject: hi\r\n\r\nhello")}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: unexpected error: %v", err)
	}
	if sends.Load() != 1 {
		t.Errorf("got %d sends, want 1", sends.Load())
	}
}

func TestNew_GraphTokenErrorPropagates(t *testing.T) {
	t.Parallel()

	srv, _ := newGraphServer(t, http.StatusUnauthorized)

	p, err := New(context.Background(), GraphSelector{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: secret.New("wrong"),
		LoginURL:     srv.URL,
	}, WithLogger(discard))
	if err == nil {
		t.Fatal("expected error")
	}
	if p != nil {
		t.Errorf("expected nil provider, got %v", p)
	}
	if !errors.Is(err, graph.ErrTokenResponseUnparseable) {
		t.Errorf("expected ErrTokenResponseUnparseable, got %v", err)
	}
	var gerr *graph.Error
	if !errors.As(err, &gerr) {
		t.Errorf("expected *graph.Error, got %T", err)
	}
}

func TestNew_SMTPDoesNoIO(t *testing.T) {
	t.Parallel()

	p, err := New(context.Background(), SMTPSelector{
		Host:       "smtp.invalid",
		Port:       587,
		CertPolicy: smtp.AllowInvalidCerts,
		Username:   "user",
		Password:   secret.New("hunter2"),
	}, WithLogger(discard))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "smtp" {
		t.Errorf("Name: got %q, want %q", p.Name(), "smtp")
	}
	if strings.Contains(p.String(), "hunter2") {
		t.Errorf("String leaks password: %q", p.String())
	}
}

func TestNew_Stdout(t *testing.T) {
	t.Parallel()

	p, err := New(context.Background(), StdoutSelector{}, WithLogger(discard))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "stdout" {
		t.Errorf("Name: got %q, want %q", p.Name(), "stdout")
	}
}

type unknownSelector struct{}

func (unknownSelector) selector() {}

func TestNew_UnknownSelector(t *testing.T) {
	t.Parallel()

	for _, sel := range []Selector{nil, unknownSelector{}} {
		if _, err := New(context.Background(), sel, WithLogger(discard)); !errors.Is(err, ErrUnknownSelector) {
			t.Errorf("%T: expected ErrUnknownSelector, got %v", sel, err)
		}
	}
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	clientSecret := secret.New("s")
	graphCfg := config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: clientSecret}
	smtpCfg := config.SMTPConfig{Host: "mail.example.com", Port: 465, InvalidCerts: smtp.AllowInvalidCerts}
	sesCfg := config.SESConfig{Region: "eu-west-1"}

	tests := []struct {
		name    string
		cfg     config.Config
		want    Selector
		wantErr bool
	}{
		{
			name: "auto prefers graph",
			cfg:  config.Config{Graph: graphCfg, SMTP: smtpCfg, SES: sesCfg},
			want: GraphSelector{TenantID: "t", ClientID: "c", ClientSecret: clientSecret},
		},
		{
			name: "auto ses before smtp",
			cfg:  config.Config{SMTP: smtpCfg, SES: sesCfg},
			want: SESSelector{Region: "eu-west-1"},
		},
		{
			name: "auto smtp",
			cfg:  config.Config{SMTP: smtpCfg},
			want: SMTPSelector{Host: "mail.example.com", Port: 465, CertPolicy: smtp.AllowInvalidCerts},
		},
		{
			name: "auto falls back to stdout",
			cfg:  config.Config{},
			want: StdoutSelector{},
		},
		{
			name: "explicit smtp over configured graph",
			cfg:  config.Config{Provider: "smtp", Graph: graphCfg, SMTP: smtpCfg},
			want: SMTPSelector{Host: "mail.example.com", Port: 465, CertPolicy: smtp.AllowInvalidCerts},
		},
		{
			name: "explicit stdout",
			cfg:  config.Config{Provider: "stdout", Graph: graphCfg},
			want: StdoutSelector{},
		},
		{
			name:    "explicit graph not configured",
			cfg:     config.Config{Provider: "graph"},
			wantErr: true,
		},
		{
			name:    "explicit smtp not configured",
			cfg:     config.Config{Provider: "smtp"},
			wantErr: true,
		},
		{
			name:    "explicit ses not configured",
			cfg:     config.Config{Provider: "ses"},
			wantErr: true,
		},
		{
			name:    "unknown provider",
			cfg:     config.Config{Provider: "carrier-pigeon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := FromConfig(&tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got selector %#v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestFromConfig_UnknownProviderIsErrUnknownSelector(t *testing.T) {
	t.Parallel()

	_, err := FromConfig(&config.Config{Provider: "fax"})
	if !errors.Is(err, ErrUnknownSelector) {
		t.Errorf("expected ErrUnknownSelector, got %v", err)
	}
}
