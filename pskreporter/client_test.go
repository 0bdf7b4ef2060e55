package pskreporter

import (
	"testing"
	"time"
)

func TestParsePayload(t *testing.T) {
	payload := []byte(`{"sq":42,"f":14074500,"md":"FT8","rp":-7,"t":1756200000,` +
		`"sc":"DX1X","sl":"JJ00","rc":"W2XYZ","rl":"FN31","sa":230,"ra":291,"b":"20m"}`)

	spot, ok := ParsePayload(payload)
	if !ok {
		t.Fatal("expected valid spot")
	}
	if spot.Sender != "DX1X" || spot.Receiver != "W2XYZ" {
		t.Fatalf("calls = %s/%s, want DX1X/W2XYZ", spot.Sender, spot.Receiver)
	}
	if spot.FreqHz != 14074500 {
		t.Fatalf("freq = %d, want 14074500", spot.FreqHz)
	}
	if spot.SNR != -7 {
		t.Fatalf("snr = %d, want -7", spot.SNR)
	}
	if spot.SenderGrid != "JJ00" || spot.ReceiverGrid != "FN31" {
		t.Fatalf("grids = %s/%s", spot.SenderGrid, spot.ReceiverGrid)
	}
	if !spot.Time.Equal(time.Unix(1756200000, 0)) {
		t.Fatalf("time = %v", spot.Time)
	}
}

func TestParsePayloadRejectsIncomplete(t *testing.T) {
	// Missing sender, missing receiver, missing frequency, malformed JSON.
	cases := []string{
		`{"f":14074500,"rc":"W2XYZ"}`,
		`{"sc":"DX1X","f":14074500}`,
		`{"sc":"DX1X","rc":"W2XYZ"}`,
		`{not json`,
	}
	for _, payload := range cases {
		if _, ok := ParsePayload([]byte(payload)); ok {
			t.Fatalf("payload %q accepted, want rejection", payload)
		}
	}
}

type testMessage struct {
	payload []byte
}

func (m testMessage) Duplicate() bool   { return false }
func (m testMessage) Qos() byte         { return 0 }
func (m testMessage) Retained() bool    { return false }
func (m testMessage) Topic() string     { return "" }
func (m testMessage) MessageID() uint16 { return 0 }
func (m testMessage) Payload() []byte   { return m.payload }
func (m testMessage) Ack()              {}

func TestMessageHandlerDropsWhenChannelFull(t *testing.T) {
	c := NewClient("localhost", 1883, "pskr/filter/v2/+/FT8/#")
	c.spotChan = make(chan Spot, 1)

	payload := []byte(`{"f":14074500,"sc":"DX1X","rc":"W2XYZ","t":1756200000}`)
	c.messageHandler(nil, testMessage{payload: payload})
	c.messageHandler(nil, testMessage{payload: payload})

	if len(c.spotChan) != 1 {
		t.Fatalf("channel len = %d, want 1", len(c.spotChan))
	}
	if c.dropped != 1 {
		t.Fatalf("dropped = %d, want 1", c.dropped)
	}
}
