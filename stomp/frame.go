// Package stomp carries STOMP 1.2 frames over WebSocket text messages.
// Each WebSocket message holds exactly one frame, or a single newline when
// it is a heart-beat. Frame parsing and serialization are delegated to the
// go-stomp frame package; this package adds the framing rules and the
// constructors both ends of the connection share.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// Versions advertised in CONNECT and accepted from CONNECTED.
const (
	AcceptVersion = "1.2,1.1"
	Version       = "1.2"
)

// Header names not defined by the frame package.
const (
	Authorization = "Authorization"
	JSON          = "application/json"
)

// Heartbeat is the wire form of an empty heart-beat frame.
var Heartbeat = []byte{'\n'}

var ErrEmptyMessage = errors.New("stomp: empty message")

// Encode serializes f into the payload of one WebSocket text message.
// A nil frame encodes as a heart-beat.
func Encode(f *frame.Frame) ([]byte, error) {
	if f == nil {
		return Heartbeat, nil
	}
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("stomp: encode %s: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// Decode parses one WebSocket message. It returns a nil frame and nil error
// when the message is a heart-beat.
func Decode(data []byte) (*frame.Frame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	if IsHeartbeat(data) {
		return nil, nil
	}
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, fmt.Errorf("stomp: decode: %w", err)
	}
	return f, nil
}

// IsHeartbeat reports whether data consists only of EOL characters.
func IsHeartbeat(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, b := range data {
		if b != '\n' && b != '\r' {
			return false
		}
	}
	return true
}

// NewConnect builds the handshake frame. The bearer token travels in the
// Authorization header of this frame only.
func NewConnect(host, token string, outgoing, incoming time.Duration) *frame.Frame {
	f := frame.New(frame.CONNECT,
		frame.AcceptVersion, AcceptVersion,
		frame.Host, host,
		frame.HeartBeat, FormatHeartBeat(outgoing, incoming),
	)
	if token != "" {
		f.Header.Set(Authorization, "Bearer "+token)
	}
	return f
}

// NewConnected builds the server's reply to CONNECT.
func NewConnected(session string, outgoing, incoming time.Duration) *frame.Frame {
	return frame.New(frame.CONNECTED,
		frame.Version, Version,
		frame.HeartBeat, FormatHeartBeat(outgoing, incoming),
		frame.Session, session,
	)
}

// NewSubscribe builds a SUBSCRIBE frame with automatic acknowledgement.
func NewSubscribe(id, destination string) *frame.Frame {
	return frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
		frame.Ack, "auto",
	)
}

// NewUnsubscribe builds the UNSUBSCRIBE frame for subscription id.
func NewUnsubscribe(id string) *frame.Frame {
	return frame.New(frame.UNSUBSCRIBE, frame.Id, id)
}

// NewSend builds a SEND frame with a JSON body.
func NewSend(destination string, body []byte) *frame.Frame {
	f := frame.New(frame.SEND, frame.Destination, destination)
	setJSONBody(f, body)
	return f
}

// NewMessage builds a MESSAGE frame delivered to one subscription.
func NewMessage(subscription, messageID, destination string, body []byte) *frame.Frame {
	f := frame.New(frame.MESSAGE,
		frame.Subscription, subscription,
		frame.MessageId, messageID,
		frame.Destination, destination,
	)
	setJSONBody(f, body)
	return f
}

// NewError builds an ERROR frame. The short description goes in the
// message header and the optional detail in the body.
func NewError(message, detail string) *frame.Frame {
	f := frame.New(frame.ERROR, frame.Message, message)
	if detail != "" {
		f.Header.Set(frame.ContentType, "text/plain")
		f.Header.Set(frame.ContentLength, strconv.Itoa(len(detail)))
		f.Body = []byte(detail)
	}
	return f
}

// NewDisconnect builds a DISCONNECT frame, asking for a receipt when
// receipt is not empty.
func NewDisconnect(receipt string) *frame.Frame {
	if receipt == "" {
		return frame.New(frame.DISCONNECT)
	}
	return frame.New(frame.DISCONNECT, frame.Receipt, receipt)
}

// NewReceipt builds the RECEIPT answering receiptID.
func NewReceipt(receiptID string) *frame.Frame {
	return frame.New(frame.RECEIPT, frame.ReceiptId, receiptID)
}

func setJSONBody(f *frame.Frame, body []byte) {
	f.Header.Set(frame.ContentType, JSON)
	f.Header.Set(frame.ContentLength, strconv.Itoa(len(body)))
	f.Body = body
}

// Headers copies the frame headers into a map. Repeated headers keep the
// first value, as STOMP 1.2 requires.
func Headers(f *frame.Frame) map[string]string {
	if f == nil || f.Header == nil {
		return map[string]string{}
	}
	out := make(map[string]string, f.Header.Len())
	for i := 0; i < f.Header.Len(); i++ {
		key, value := f.Header.GetAt(i)
		if _, exists := out[key]; !exists {
			out[key] = value
		}
	}
	return out
}
