// Package wsjtx decodes the WSJT-X UDP reporting protocol.
//
// WSJT-X broadcasts QDataStream-framed binary datagrams: a magic number,
// schema version, message type, then type-specific fields in big-endian
// order. Strings are u32 length-prefixed UTF-8 with 0xFFFFFFFF marking a
// null string; times of day are milliseconds since UTC midnight.
//
// Only the message types this engine consumes are decoded: Heartbeat (0),
// Status (1), and Decode (2). Unknown types are reported by type number so
// callers can skip them.
package wsjtx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const Magic = 0xADBCCBDA

// Message type numbers from the WSJT-X NetworkMessage schema.
const (
	TypeHeartbeat uint32 = 0
	TypeStatus    uint32 = 1
	TypeDecode    uint32 = 2
)

var (
	ErrBadMagic    = errors.New("wsjtx: bad magic number")
	ErrShortPacket = errors.New("wsjtx: packet truncated")
)

// Heartbeat announces a client and its schema capabilities.
type Heartbeat struct {
	ID        string
	MaxSchema uint32
	Version   string
	Revision  string
}

// Status carries the client's rig and TX state. Only the fields through
// DXGrid are decoded; later additions to the schema are ignored.
type Status struct {
	ID           string
	DialFreqHz   uint64
	Mode         string
	DXCall       string
	Report       string
	TXMode       string
	TXEnabled    bool
	Transmitting bool
	Decoding     bool
	RxDF         uint32
	TxDF         uint32
	DECall       string
	DEGrid       string
	DXGrid       string
}

// Decode is one decoded transmission.
type Decode struct {
	ID            string
	IsNew         bool
	Time          time.Duration // since UTC midnight
	SNR           int32
	DTSeconds     float64
	OffsetHz      uint32
	Mode          string
	Message       string
	LowConfidence bool
	OffAir        bool
}

// Packet is the tagged union of the decoded message types.
type Packet struct {
	Type      uint32
	Heartbeat *Heartbeat
	Status    *Status
	Decode    *Decode
}

// Parse decodes one datagram. Unknown message types return a Packet carrying
// only the type number and a nil payload.
func Parse(data []byte) (*Packet, error) {
	r := reader{buf: data}

	magic, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, ErrBadMagic
	}
	if _, err := r.uint32(); err != nil { // schema version
		return nil, err
	}
	msgType, err := r.uint32()
	if err != nil {
		return nil, err
	}

	pkt := &Packet{Type: msgType}
	switch msgType {
	case TypeHeartbeat:
		pkt.Heartbeat, err = parseHeartbeat(&r)
	case TypeStatus:
		pkt.Status, err = parseStatus(&r)
	case TypeDecode:
		pkt.Decode, err = parseDecode(&r)
	}
	if err != nil {
		return nil, fmt.Errorf("wsjtx: parse type %d: %w", msgType, err)
	}
	return pkt, nil
}

func parseHeartbeat(r *reader) (*Heartbeat, error) {
	var h Heartbeat
	var err error
	if h.ID, err = r.utf8(); err != nil {
		return nil, err
	}
	if h.MaxSchema, err = r.uint32(); err != nil {
		return nil, err
	}
	// Version and revision were added in schema 3; tolerate their absence.
	if h.Version, err = r.utf8(); err != nil {
		return &h, nil
	}
	if h.Revision, err = r.utf8(); err != nil {
		return &h, nil
	}
	return &h, nil
}

func parseStatus(r *reader) (*Status, error) {
	var s Status
	var err error
	if s.ID, err = r.utf8(); err != nil {
		return nil, err
	}
	if s.DialFreqHz, err = r.uint64(); err != nil {
		return nil, err
	}
	if s.Mode, err = r.utf8(); err != nil {
		return nil, err
	}
	if s.DXCall, err = r.utf8(); err != nil {
		return nil, err
	}
	if s.Report, err = r.utf8(); err != nil {
		return nil, err
	}
	if s.TXMode, err = r.utf8(); err != nil {
		return nil, err
	}
	if s.TXEnabled, err = r.bool(); err != nil {
		return nil, err
	}
	if s.Transmitting, err = r.bool(); err != nil {
		return nil, err
	}
	if s.Decoding, err = r.bool(); err != nil {
		return nil, err
	}
	if s.RxDF, err = r.uint32(); err != nil {
		return nil, err
	}
	if s.TxDF, err = r.uint32(); err != nil {
		return nil, err
	}
	if s.DECall, err = r.utf8(); err != nil {
		return nil, err
	}
	if s.DEGrid, err = r.utf8(); err != nil {
		return nil, err
	}
	// DXGrid is the last field this engine needs; everything after it in the
	// schema (watchdog, submode, fast mode...) is ignored.
	if s.DXGrid, err = r.utf8(); err != nil {
		return &s, nil
	}
	return &s, nil
}

func parseDecode(r *reader) (*Decode, error) {
	var d Decode
	var err error
	if d.ID, err = r.utf8(); err != nil {
		return nil, err
	}
	if d.IsNew, err = r.bool(); err != nil {
		return nil, err
	}
	ms, err := r.uint32()
	if err != nil {
		return nil, err
	}
	d.Time = time.Duration(ms) * time.Millisecond
	snr, err := r.uint32()
	if err != nil {
		return nil, err
	}
	d.SNR = int32(snr)
	if d.DTSeconds, err = r.float64(); err != nil {
		return nil, err
	}
	if d.OffsetHz, err = r.uint32(); err != nil {
		return nil, err
	}
	if d.Mode, err = r.utf8(); err != nil {
		return nil, err
	}
	if d.Message, err = r.utf8(); err != nil {
		return nil, err
	}
	if d.LowConfidence, err = r.bool(); err != nil {
		return &d, nil
	}
	if d.OffAir, err = r.bool(); err != nil {
		return &d, nil
	}
	return &d, nil
}

// reader walks a datagram in big-endian QDataStream order.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, ErrShortPacket
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) float64() (float64, error) {
	v, err := r.uint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (r *reader) bool() (bool, error) {
	b, err := r.take(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// utf8 reads a length-prefixed string. Length 0xFFFFFFFF is QDataStream's
// null string and decodes as "".
func (r *reader) utf8() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	if n == 0xFFFFFFFF {
		return "", nil
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
