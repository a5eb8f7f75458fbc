// Package transport implements the Communitas core's delta transport
// (C8): a QUIC request/response protocol pinned with Raw Public Keys
// (RFC 7250 style) rather than a certificate-authority chain, grounded
// on the original delta-sync client (IPv4-first resolution, dual-stack
// bind, single JSON-line request/response per stream) and its raw
// SPKI pinning helper.
package transport

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/saorsalabs/communitas/internal/errkind"
	"github.com/saorsalabs/communitas/internal/metrics"
	"github.com/saorsalabs/communitas/internal/oplog"
)

const (
	ALPN               = "communitas/delta-v1"
	MaxResponseBytes   = 1 << 20 // 1 MiB
	DefaultDialTimeout = 10 * time.Second
)

// deltaRequest/deltaResponse are the wire payloads exchanged over a
// single bidirectional QUIC stream, one JSON line each way.
type deltaRequest struct {
	FromRootHex    string `json:"from_root_hex,omitempty"`
	WantSinceCount uint64 `json:"want_since_count"`
}

type deltaResponse struct {
	Ops []json.RawMessage `json:"ops"`
}

// GenerateRawKeyIdentity builds a self-signed Ed25519 TLS certificate
// whose SubjectPublicKeyInfo bytes (offset 12..44) are the node's raw
// pinnable public key.
func GenerateRawKeyIdentity() (tls.Certificate, [32]byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, [32]byte{}, err
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, [32]byte{}, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "communitas-node"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return tls.Certificate{}, [32]byte{}, err
	}
	spki, err := SPKIOf(pub)
	if err != nil {
		return tls.Certificate{}, [32]byte{}, err
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
	return cert, spki, nil
}

func serverTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
		ClientAuth:   tls.NoClientCert,
	}
}

// clientTLSConfig builds an RPK-pinning client config: normal chain
// validation is bypassed (there is no CA; the network has no PKI) and
// replaced with a pinned-key comparison against the peer's leaf SPKI.
func clientTLSConfig(pinned [][32]byte, allowAny bool) *tls.Config {
	return &tls.Config{
		NextProtos:         []string{ALPN},
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("transport: peer presented no certificate")
			}
			leaf, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("transport: parse peer certificate: %w", err)
			}
			got, err := extractKeyFromSPKI(leaf.RawSubjectPublicKeyInfo)
			if err != nil {
				return err
			}
			if allowAny {
				return nil
			}
			for _, want := range pinned {
				if got == want {
					return nil
				}
			}
			return fmt.Errorf("transport: peer key not in pinned set")
		},
	}
}

// TipSource is the subset of the container engine the server needs to
// answer a delta request.
type TipSource interface {
	Since(sinceCount uint64) []oplog.Op
}

// Serve runs a delta server on addr until ctx is cancelled. Each
// accepted stream carries exactly one JSON request and one JSON
// response.
func Serve(ctx context.Context, addr string, cert tls.Certificate, source TipSource) error {
	return ServeWithMetrics(ctx, addr, cert, source, nil)
}

// ServeWithMetrics is Serve with an optional metrics.Registry recording
// accepted connections; pass nil for the same behavior as Serve.
func ServeWithMetrics(ctx context.Context, addr string, cert tls.Certificate, source TipSource, m *metrics.Registry) error {
	listener, err := quic.ListenAddr(addr, serverTLSConfig(cert), nil)
	if err != nil {
		return errkind.New(errkind.Transport, "transport.serve", err)
	}
	defer listener.Close()

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		m.ObserveConnectionAccepted()
		go handleConn(ctx, conn, source)
	}
}

func handleConn(ctx context.Context, conn *quic.Conn, source TipSource) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go handleStream(stream, source)
	}
}

func handleStream(stream *quic.Stream, source TipSource) {
	defer stream.Close()

	reader := bufio.NewReader(io.LimitReader(stream, MaxResponseBytes))
	line, err := reader.ReadString('\n')
	if err != nil && len(line) == 0 {
		return
	}

	var req deltaRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return
	}

	ops := source.Since(req.WantSinceCount)
	resp, err := boundedDeltaResponse(ops, MaxResponseBytes)
	if err != nil {
		return
	}
	resp = append(resp, '\n')
	_, _ = stream.Write(resp)
}

// boundedDeltaResponse marshals ops into a deltaResponse, truncating to
// the largest prefix of ops whose marshaled response still fits within
// maxBytes. A byte-level cutoff (e.g. an io.LimitReader over the
// marshaled bytes) would instead slice into the middle of an op and
// produce invalid JSON, so each candidate op is appended and the whole
// response re-marshaled to check its real size before committing.
func boundedDeltaResponse(ops []oplog.Op, maxBytes int) ([]byte, error) {
	wire := make([]json.RawMessage, 0, len(ops))
	best, err := json.Marshal(deltaResponse{Ops: wire})
	if err != nil {
		return nil, err
	}

	for _, op := range ops {
		b, err := oplog.MarshalOp(op)
		if err != nil {
			continue
		}
		candidate := append(append([]json.RawMessage{}, wire...), json.RawMessage(b))
		out, err := json.Marshal(deltaResponse{Ops: candidate})
		if err != nil {
			continue
		}
		if len(out) > maxBytes {
			break
		}
		wire = candidate
		best = out
	}
	return best, nil
}

// PinConfig controls how the client verifies the peer it connects to.
type PinConfig struct {
	Pinned   [][32]byte
	AllowAny bool
}

// FetchDeltas dials peerAddr over QUIC, IPv4 addresses first, opens a
// bidirectional stream, sends a single delta request, and decodes the
// returned ops. Returns errkind.Transport on any connection/protocol
// failure; the caller retries or picks another peer.
func FetchDeltas(ctx context.Context, peerAddr, fromRootHex string, wantSinceCount uint64, pin PinConfig) ([]oplog.Op, error) {
	if !pin.AllowAny && len(pin.Pinned) == 0 {
		return nil, errkind.Newf(errkind.Validation, "transport.fetch_deltas", "no pinned key configured for %s", peerAddr)
	}

	dialCtx, cancel := context.WithTimeout(ctx, DefaultDialTimeout)
	defer cancel()

	addrs, err := resolveIPv4First(dialCtx, peerAddr)
	if err != nil {
		return nil, errkind.New(errkind.Transport, "transport.fetch_deltas", err)
	}

	tlsConf := clientTLSConfig(pin.Pinned, pin.AllowAny)

	var lastErr error
	for _, addr := range addrs {
		ops, err := fetchFromAddr(dialCtx, addr, tlsConf, fromRootHex, wantSinceCount)
		if err == nil {
			return ops, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses resolved for %s", peerAddr)
	}
	return nil, errkind.New(errkind.Transport, "transport.fetch_deltas", lastErr)
}

func fetchFromAddr(ctx context.Context, addr string, tlsConf *tls.Config, fromRootHex string, wantSinceCount uint64) ([]oplog.Op, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream to %s: %w", addr, err)
	}
	defer stream.Close()

	req, err := json.Marshal(deltaRequest{FromRootHex: fromRootHex, WantSinceCount: wantSinceCount})
	if err != nil {
		return nil, err
	}
	req = append(req, '\n')
	if _, err := stream.Write(req); err != nil {
		return nil, fmt.Errorf("write request to %s: %w", addr, err)
	}
	if err := stream.Close(); err != nil {
		return nil, err
	}

	reader := bufio.NewReader(io.LimitReader(stream, MaxResponseBytes))
	line, err := reader.ReadString('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("read response from %s: %w", addr, err)
	}

	var resp deltaResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", addr, err)
	}

	ops := make([]oplog.Op, 0, len(resp.Ops))
	for _, raw := range resp.Ops {
		op, err := oplog.UnmarshalOp(raw)
		if err != nil {
			return nil, fmt.Errorf("decode op from %s: %w", addr, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// resolveIPv4First resolves peerAddr ("host:port") and returns its
// addresses with IPv4 first, IPv6 second — matching the original
// delta fetcher's "QUIC only, IPv4-first" resolution order.
func resolveIPv4First(ctx context.Context, peerAddr string) ([]string, error) {
	host, port, err := net.SplitHostPort(peerAddr)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	var v4, v6 []string
	for _, ip := range ips {
		addr := net.JoinHostPort(ip.String(), port)
		if ip.IP.To4() != nil {
			v4 = append(v4, addr)
		} else {
			v6 = append(v6, addr)
		}
	}
	return append(v4, v6...), nil
}
