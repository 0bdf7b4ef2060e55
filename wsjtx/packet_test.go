package wsjtx

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

type packetBuilder struct {
	buf []byte
}

func (b *packetBuilder) u32(v uint32) *packetBuilder {
	b.buf = binary.BigEndian.AppendUint32(b.buf, v)
	return b
}

func (b *packetBuilder) u64(v uint64) *packetBuilder {
	b.buf = binary.BigEndian.AppendUint64(b.buf, v)
	return b
}

func (b *packetBuilder) f64(v float64) *packetBuilder {
	return b.u64(math.Float64bits(v))
}

func (b *packetBuilder) boolean(v bool) *packetBuilder {
	if v {
		b.buf = append(b.buf, 1)
	} else {
		b.buf = append(b.buf, 0)
	}
	return b
}

func (b *packetBuilder) str(s string) *packetBuilder {
	b.u32(uint32(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

func (b *packetBuilder) nullStr() *packetBuilder {
	return b.u32(0xFFFFFFFF)
}

func header(msgType uint32) *packetBuilder {
	b := &packetBuilder{}
	return b.u32(Magic).u32(2).u32(msgType)
}

func TestParseDecode(t *testing.T) {
	b := header(TypeDecode).
		str("WSJT-X").
		boolean(true).
		u32(8 * 3600 * 1000). // 08:00:00 UTC
		u32(uint32(0xFFFFFFFB)). // SNR -5 as two's complement
		f64(0.2).
		u32(1210).
		str("~").
		str("CQ DX1X JJ00").
		boolean(false).
		boolean(false)

	pkt, err := Parse(b.buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pkt.Type != TypeDecode || pkt.Decode == nil {
		t.Fatalf("packet = %+v, want decode", pkt)
	}
	d := pkt.Decode
	if d.SNR != -5 {
		t.Fatalf("snr = %d, want -5", d.SNR)
	}
	if d.Time != 8*time.Hour {
		t.Fatalf("time = %v, want 8h", d.Time)
	}
	if d.OffsetHz != 1210 {
		t.Fatalf("offset = %d, want 1210", d.OffsetHz)
	}
	if d.Message != "CQ DX1X JJ00" {
		t.Fatalf("message = %q", d.Message)
	}
	if d.DTSeconds != 0.2 {
		t.Fatalf("dt = %v, want 0.2", d.DTSeconds)
	}
	if !d.IsNew {
		t.Fatal("isNew lost")
	}
}

func TestParseStatus(t *testing.T) {
	b := header(TypeStatus).
		str("WSJT-X").
		u64(14074000).
		str("FT8").
		str("DX1X").
		str("-10").
		str("FT8").
		boolean(true).  // tx enabled
		boolean(false). // transmitting
		boolean(true).  // decoding
		u32(1500).
		u32(1455).
		str("W2XYZ").
		str("FN31").
		nullStr() // dx grid unknown

	pkt, err := Parse(b.buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s := pkt.Status
	if s == nil {
		t.Fatal("status payload missing")
	}
	if s.DialFreqHz != 14074000 {
		t.Fatalf("dial = %d", s.DialFreqHz)
	}
	if s.DXCall != "DX1X" || s.DECall != "W2XYZ" || s.DEGrid != "FN31" {
		t.Fatalf("calls = %q/%q/%q", s.DXCall, s.DECall, s.DEGrid)
	}
	if !s.TXEnabled || s.Transmitting {
		t.Fatalf("tx state = %v/%v", s.TXEnabled, s.Transmitting)
	}
	if s.TxDF != 1455 {
		t.Fatalf("txDF = %d, want 1455", s.TxDF)
	}
	if s.DXGrid != "" {
		t.Fatalf("dx grid = %q, want empty for null string", s.DXGrid)
	}
}

func TestParseHeartbeat(t *testing.T) {
	b := header(TypeHeartbeat).
		str("WSJT-X").
		u32(3).
		str("2.6.1").
		str("")

	pkt, err := Parse(b.buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	h := pkt.Heartbeat
	if h == nil || h.ID != "WSJT-X" || h.MaxSchema != 3 || h.Version != "2.6.1" {
		t.Fatalf("heartbeat = %+v", h)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	b := (&packetBuilder{}).u32(0xDEADBEEF).u32(2).u32(TypeDecode)
	if _, err := Parse(b.buf); err != ErrBadMagic {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestParseTruncatedDecode(t *testing.T) {
	b := header(TypeDecode).str("WSJT-X").boolean(true)
	if _, err := Parse(b.buf); err == nil {
		t.Fatal("truncated packet accepted")
	}
}

func TestParseUnknownTypePassesThrough(t *testing.T) {
	b := header(12) // WSPRDecode, not consumed here
	pkt, err := Parse(b.buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pkt.Type != 12 || pkt.Decode != nil || pkt.Status != nil || pkt.Heartbeat != nil {
		t.Fatalf("packet = %+v, want bare type", pkt)
	}
}
