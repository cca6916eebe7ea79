package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// IP discovery packet layout (spec §4.3 step 4, §6.2 "IP discovery"):
// a 74-byte request/response pair exchanged once over the voice UDP
// socket before any RTP traffic flows.
const (
	discoveryPacketSize = 74
	discoveryType       = 1
	discoveryBodyLen    = 70
)

// discoveredAddress is the externally observed address/port a voice
// server reports back during IP discovery.
type discoveredAddress struct {
	IP   string
	Port uint16
}

// udpSocket is the raw transport under the RTP pipeline: one UDP socket
// dialed to the voice server's IP/port, used for both the one-shot IP
// discovery exchange and all subsequent RTP traffic.
type udpSocket struct {
	conn *net.UDPConn
}

func dialUDP(ctx context.Context, addr string) (*udpSocket, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("voice: dial udp %s: %w", addr, err)
	}
	return &udpSocket{conn: conn.(*net.UDPConn)}, nil
}

func (s *udpSocket) Close() error { return s.conn.Close() }

// discoverIP performs the IP-discovery request/response (spec §4.3 step
// 4): send our SSRC, read back the server's view of our external address.
func (s *udpSocket) discoverIP(ssrc uint32) (discoveredAddress, error) {
	var req [discoveryPacketSize]byte
	binary.BigEndian.PutUint16(req[0:2], discoveryType)
	binary.BigEndian.PutUint16(req[2:4], discoveryBodyLen)
	binary.BigEndian.PutUint32(req[4:8], ssrc)

	if _, err := s.conn.Write(req[:]); err != nil {
		return discoveredAddress{}, fmt.Errorf("voice: write ip discovery request: %w", err)
	}

	var resp [discoveryPacketSize]byte
	if _, err := io.ReadFull(s.conn, resp[:]); err != nil {
		return discoveredAddress{}, fmt.Errorf("voice: read ip discovery response: %w", err)
	}

	body := resp[8:72]
	nullPos := bytes.IndexByte(body, 0)
	if nullPos < 0 {
		return discoveredAddress{}, errors.New("voice: ip discovery response missing null terminator")
	}

	return discoveredAddress{
		IP:   string(body[:nullPos]),
		Port: binary.LittleEndian.Uint16(resp[72:74]),
	}, nil
}

func (s *udpSocket) send(packet []byte) error {
	_, err := s.conn.Write(packet)
	if err != nil {
		return fmt.Errorf("voice: udp write: %w", err)
	}
	return nil
}

// maxRTPPacketSize bounds a single read; Opus frames at this bitrate
// never approach it, so an oversized datagram is protocol noise.
const maxRTPPacketSize = 4096

func (s *udpSocket) recv(buf []byte) (int, error) {
	n, err := s.conn.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("voice: udp read: %w", err)
	}
	return n, nil
}
