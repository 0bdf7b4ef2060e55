package wsjtx

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
)

// Listener receives WSJT-X datagrams on a UDP port and emits parsed decodes
// and status updates on buffered channels. Malformed packets are counted and
// dropped; the read loop never stops on a bad datagram.
type Listener struct {
	conn     *net.UDPConn
	decodes  chan Decode
	statuses chan Status
	dropped  uint64
}

// Listen binds the UDP address, e.g. "127.0.0.1:2237" (the WSJT-X default).
func Listen(addr string) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("wsjtx: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("wsjtx: listen %s: %w", addr, err)
	}
	log.Printf("WSJTX: listening on %s", conn.LocalAddr())
	return &Listener{
		conn:     conn,
		decodes:  make(chan Decode, 256),
		statuses: make(chan Status, 16),
	}, nil
}

// Decodes returns the channel of parsed decode messages.
func (l *Listener) Decodes() <-chan Decode {
	return l.decodes
}

// Statuses returns the channel of parsed status messages.
func (l *Listener) Statuses() <-chan Status {
	return l.statuses
}

// Run reads datagrams until the context is cancelled or the socket fails.
// Output channels are closed on return.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.decodes)
	defer close(l.statuses)

	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("wsjtx: read: %w", err)
		}

		pkt, err := Parse(buf[:n])
		if err != nil {
			l.dropped++
			if l.dropped%100 == 1 {
				log.Printf("WSJTX: dropped %d unparseable datagrams (last: %v)", l.dropped, err)
			}
			continue
		}

		switch pkt.Type {
		case TypeDecode:
			select {
			case l.decodes <- *pkt.Decode:
			default:
				log.Println("WSJTX: decode channel full, dropping decode")
			}
		case TypeStatus:
			// Status updates supersede each other; drop the stale one when
			// the consumer lags.
			select {
			case l.statuses <- *pkt.Status:
			default:
				select {
				case <-l.statuses:
				default:
				}
				select {
				case l.statuses <- *pkt.Status:
				default:
				}
			}
		}
	}
}
