package stomp

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// FormatHeartBeat renders a heart-beat header value in milliseconds.
func FormatHeartBeat(outgoing, incoming time.Duration) string {
	return fmt.Sprintf("%d,%d", outgoing.Milliseconds(), incoming.Milliseconds())
}

// Negotiate applies the STOMP heart-beat rules to the local settings and the
// peer's heart-beat header. It returns how often the local side must send
// and how often it should expect to hear from the peer; zero disables.
func Negotiate(outgoing, incoming time.Duration, peer string) (send, receive time.Duration, err error) {
	if strings.TrimSpace(peer) == "" {
		return 0, 0, nil
	}
	peerOut, peerIn, err := frame.ParseHeartBeat(peer)
	if err != nil {
		return 0, 0, fmt.Errorf("stomp: heart-beat %q: %w", peer, err)
	}
	if outgoing > 0 && peerIn > 0 {
		send = max(outgoing, peerIn)
	}
	if incoming > 0 && peerOut > 0 {
		receive = max(incoming, peerOut)
	}
	return send, receive, nil
}
