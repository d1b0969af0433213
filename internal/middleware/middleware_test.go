package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ulule/limiter/v3"
)

type empty struct{}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequireAuth(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Hour)
	token, err := jwtManager.Generate(&models.User{ID: "user-1", Email: "a@example.com"})
	if err != nil {
		t.Fatal(err)
	}

	var gotUser, gotEmail string
	next := func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		gotUser, gotEmail = GetUserID(ctx), GetEmail(ctx)
		return connect.NewResponse(&empty{}), nil
	}
	handler := RequireAuth(jwtManager)(next)

	tests := []struct {
		name   string
		header string
		ok     bool
	}{
		{"valid", "Bearer " + token, true},
		{"lowercase scheme", "bearer " + token, true},
		{"missing", "", false},
		{"wrong scheme", "Basic " + token, false},
		{"no token", "Bearer ", false},
		{"garbage", "Bearer nope", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser, gotEmail = "", ""
			req := connect.NewRequest(&empty{})
			if tt.header != "" {
				req.Header().Set("Authorization", tt.header)
			}
			_, err := handler(context.Background(), req)
			if !tt.ok {
				if connect.CodeOf(err) != connect.CodeUnauthenticated {
					t.Fatalf("expected unauthenticated, got %v", err)
				}
				if gotUser != "" {
					t.Error("next handler ran without authentication")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if gotUser != "user-1" || gotEmail != "a@example.com" {
				t.Errorf("context identity = %q/%q", gotUser, gotEmail)
			}
		})
	}
}

func TestLoggingInterceptorRecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	interceptor := LoggingInterceptor(discard(), m)

	ok := interceptor(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return connect.NewResponse(&empty{}), nil
	})
	failing := interceptor(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("over settlement"))
	})

	if _, err := ok(context.Background(), connect.NewRequest(&empty{})); err != nil {
		t.Fatal(err)
	}
	_, err := failing(context.Background(), connect.NewRequest(&empty{}))
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Fatalf("interceptor changed the error: %v", err)
	}

	// One series per (procedure, code) pair.
	if got := testutil.CollectAndCount(m.RPCDuration); got != 2 {
		t.Errorf("rpc series = %d, want 2", got)
	}
}

func TestRateLimit(t *testing.T) {
	rate, err := limiter.NewRateFromFormatted("2-M")
	if err != nil {
		t.Fatal(err)
	}
	handler := RateLimit(NewLimiter(rate), discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/splitledger.v1.LedgerService/GetBalances", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := call("10.0.0.1:1234"); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := call("10.0.0.1:1234")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status %d, want 429", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}

	// Other clients have their own budget.
	if rec := call("10.0.0.2:1234"); rec.Code != http.StatusNoContent {
		t.Errorf("second client: status %d", rec.Code)
	}
}
