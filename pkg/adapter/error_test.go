package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"429", &AdapterError{Status: http.StatusTooManyRequests}, true},
		{"502", &AdapterError{Status: http.StatusBadGateway}, true},
		{"401", &AdapterError{Status: http.StatusUnauthorized}, false},
		{"temporary flag", &AdapterError{Temporary: true}, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(fmt.Errorf("x: %w", context.DeadlineExceeded)) {
		t.Fatal("deadline should be a timeout")
	}
	if IsTimeout(&AdapterError{Status: 504}) {
		t.Fatal("status error is not a local timeout")
	}
}

func TestStatusErrorTruncatesBody(t *testing.T) {
	err := statusError("x", 500, strings.Repeat("a", 2000))
	if len(err.Error()) > 600 {
		t.Fatalf("error message too long: %d", len(err.Error()))
	}
	if err.Status != 500 {
		t.Fatalf("status = %d", err.Status)
	}
}

func TestMockAdapter_Stream(t *testing.T) {
	a := NewMockAdapterWithResponses(map[string]string{"hi": "hello there friend"}, "")
	var got []string
	resp, err := a.GenerateStream(context.Background(), "", "hi", func(c string) error {
		got = append(got, c)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(got, "") != "hello there friend" {
		t.Fatalf("chunks joined = %q", strings.Join(got, ""))
	}
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	if resp.Model != "mock-1" || resp.Usage.TotalTokens == 0 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestPingWithoutProbe(t *testing.T) {
	if err := Ping(context.Background(), NewMockAdapter(), "mock-1"); err != nil {
		t.Fatalf("mock adapter should be available: %v", err)
	}
}
