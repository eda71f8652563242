package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func TestGetPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "ETH" {
			t.Errorf("symbol = %s, want ETH", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"ETH","price":"2400.50"}`))
	}))
	defer server.Close()

	o := NewHTTPOracle(server.URL, time.Second)
	price, err := o.GetPrice(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("GetPrice failed: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("2400.50")) {
		t.Errorf("price = %s, want 2400.50", price)
	}
}

func TestGetPriceErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantNoQuote bool
	}{
		{"unknown symbol", http.StatusNotFound, `{"error":"unknown symbol"}`, true},
		{"server error", http.StatusInternalServerError, `oops`, false},
		{"empty price", http.StatusOK, `{"symbol":"ETH","price":""}`, true},
		{"garbage body", http.StatusOK, `not json`, false},
		{"non-positive quote", http.StatusOK, `{"symbol":"ETH","price":"0"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			o := NewHTTPOracle(server.URL, time.Second)
			_, err := o.GetPrice(context.Background(), "ETH")
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantNoQuote && !errors.Is(err, ErrNoPrice) {
				t.Errorf("error = %v, want ErrNoPrice", err)
			}
		})
	}
}

func TestGetPriceHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	o := NewHTTPOracle(server.URL, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := o.GetPrice(ctx, "ETH"); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	wrapped := NewCircuitBreakerOracleWithSettings(NewHTTPOracle(server.URL, time.Second), logger, BreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	})

	for i := 0; i < 5; i++ {
		if _, err := wrapped.GetPrice(context.Background(), "ETH"); err == nil {
			t.Fatal("expected failure")
		}
	}

	// Once open, calls fail fast without reaching the backend.
	if calls >= 5 {
		t.Errorf("backend saw %d calls, breaker never opened", calls)
	}
}

func TestCircuitBreakerPassesThroughSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"ETH","price":"2400"}`))
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	wrapped := NewCircuitBreakerOracle(NewHTTPOracle(server.URL, time.Second), logger)
	price, err := wrapped.GetPrice(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("GetPrice failed: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("2400")) {
		t.Errorf("price = %s, want 2400", price)
	}
}
