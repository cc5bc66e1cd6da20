package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestIsTransientStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range tests {
		if got := IsTransientStatus(tc.code); got != tc.want {
			t.Fatalf("IsTransientStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestMarkUnavailable(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	if err := MarkUnavailable(refused); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("MarkUnavailable(dial error) = %v, want ErrUnavailable", err)
	}
	if err := MarkUnavailable(fmt.Errorf("post: %w", refused)); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("MarkUnavailable(wrapped dial error) = %v, want ErrUnavailable", err)
	}

	rejected := errors.New("invalid request")
	if err := MarkUnavailable(rejected); errors.Is(err, ErrUnavailable) {
		t.Fatalf("MarkUnavailable(rejected) = %v, want unchanged", err)
	}
	if err := MarkUnavailable(context.Canceled); !errors.Is(err, context.Canceled) || errors.Is(err, ErrUnavailable) {
		t.Fatalf("MarkUnavailable(canceled) = %v, want context.Canceled only", err)
	}
	if MarkUnavailable(nil) != nil {
		t.Fatalf("MarkUnavailable(nil) != nil")
	}
}

func TestApplyOptions(t *testing.T) {
	o := ApplyOptions(WithModel("m"), WithTemperature(0.4), WithMaxTokens(12), WithSystemPrompts("a", "b"))
	if o.Model != "m" || o.Temperature != 0.4 || o.MaxTokens != 12 || len(o.SystemPrompts) != 2 {
		t.Fatalf("ApplyOptions() = %+v", o)
	}
}
