package stomp

import (
	"testing"
	"time"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name        string
		outgoing    time.Duration
		incoming    time.Duration
		peer        string
		wantSend    time.Duration
		wantReceive time.Duration
	}{
		{"both sides agree", 4 * time.Second, 4 * time.Second, "4000,4000", 4 * time.Second, 4 * time.Second},
		{"peer slower", 4 * time.Second, 4 * time.Second, "10000,10000", 10 * time.Second, 10 * time.Second},
		{"peer does not want heartbeats", 4 * time.Second, 4 * time.Second, "0,0", 0, 0},
		{"local disabled", 0, 0, "4000,4000", 0, 0},
		{"asymmetric", 1 * time.Second, 5 * time.Second, "2000,0", 0, 5 * time.Second},
		{"missing header", 4 * time.Second, 4 * time.Second, "", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send, receive, err := Negotiate(tt.outgoing, tt.incoming, tt.peer)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if send != tt.wantSend {
				t.Errorf("Expected send %v, got %v", tt.wantSend, send)
			}
			if receive != tt.wantReceive {
				t.Errorf("Expected receive %v, got %v", tt.wantReceive, receive)
			}
		})
	}
}

func TestNegotiate_Invalid(t *testing.T) {
	if _, _, err := Negotiate(time.Second, time.Second, "abc"); err == nil {
		t.Error("Expected error for malformed heart-beat, got nil")
	}
}

func TestFormatHeartBeat(t *testing.T) {
	if got := FormatHeartBeat(4*time.Second, 500*time.Millisecond); got != "4000,500" {
		t.Errorf("Expected '4000,500', got %q", got)
	}
}
