package channel

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const (
	bulletinTopic     = "dpvss/delegated/bulletin/1.0.0"
	protocolDelegated = protocol.ID("/dpvss/delegated/1.0.0")
)

var errNoSuchPeer = errors.New("channel: no known connection for peer nonce")

// Libp2pConfig configures a Transport the way the teacher's Libp2pConfig
// configures its HotStuff network: a listen address and a set of
// bootstrap peers to dial on startup.
type Libp2pConfig struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.Logger
}

// Transport is the concrete PeerNet: a gossipsub topic carries Bulletin
// broadcasts, and a dedicated protocol stream per request carries
// Get/Distribute/Publish request-response traffic, the same propose/
// prepare-versus-vote split the teacher's Libp2pNet uses.
type Transport struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.Logger

	topic *pubsub.Topic
	sub   *pubsub.Subscription

	mu        sync.Mutex
	nextNonce PeerNonce
	nonceOf   map[peer.ID]PeerNonce
	peerOf    map[PeerNonce]peer.ID

	ch *DelegatedChannel
}

// NewTransport starts a libp2p host, joins the bulletin topic, dials any
// configured bootstrap peers, and installs the delegated-protocol stream
// handler.
func NewTransport(ctx context.Context, cfg Libp2pConfig) (*Transport, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		h:       h,
		ps:      ps,
		log:     cfg.Logger,
		nonceOf: make(map[peer.ID]PeerNonce),
		peerOf:  make(map[PeerNonce]peer.ID),
	}

	if t.topic, err = ps.Join(bulletinTopic); err != nil {
		return nil, err
	}
	if t.sub, err = t.topic.Subscribe(); err != nil {
		return nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := t.connect(ctx, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warn("bootstrap connect failed", zap.String("addr", bs), zap.Error(err))
		}
	}

	h.SetStreamHandler(protocolDelegated, t.handleStream)
	h.Network().Notify(&network.NotifyBundle{
		ConnectedF:    t.onConnected,
		DisconnectedF: t.onDisconnected,
	})

	go t.handleBulletinTopic(ctx)

	if cfg.Logger != nil {
		cfg.Logger.Info("transport ready", zap.String("peer", h.ID().String()), zap.String("listen", cfg.ListenAddr))
	}
	return t, nil
}

// SetChannel wires the transport to the channel driver that processes
// decoded inbound frames. Done as a second step so Transport and
// DelegatedChannel can each be constructed with only a one-way handle to
// the other: DelegatedChannel holds Transport as a PeerNet, Transport
// holds DelegatedChannel only for dispatch.
func (t *Transport) SetChannel(ch *DelegatedChannel) {
	t.mu.Lock()
	t.ch = ch
	t.mu.Unlock()
}

func (t *Transport) connect(ctx context.Context, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return t.h.Connect(ctx, *info)
}

func (t *Transport) nonceFor(p peer.ID) PeerNonce {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nonceOf[p]; ok {
		return n
	}
	t.nextNonce++
	n := t.nextNonce
	t.nonceOf[p] = n
	t.peerOf[n] = p
	return n
}

// Send implements PeerNet: opens a fresh stream to nonce's peer and
// writes one length-prefixed frame.
func (t *Transport) Send(nonce PeerNonce, frame []byte) error {
	t.mu.Lock()
	p, ok := t.peerOf[nonce]
	t.mu.Unlock()
	if !ok {
		return errNoSuchPeer
	}
	s, err := t.h.NewStream(context.Background(), p, protocolDelegated)
	if err != nil {
		return err
	}
	defer s.Close()
	return writeFramed(s, frame)
}

// Broadcast implements PeerNet. With no exclusions it publishes once to
// the bulletin topic (every subscriber receives it, the cheap common
// case). With exclusions — the per-peer "don't resend what they already
// know" suppression — gossipsub has no per-subscriber filter, so it falls
// back to a direct unicast stream per included peer.
func (t *Transport) Broadcast(frame []byte, exclude map[PeerNonce]struct{}) error {
	if len(exclude) == 0 {
		return t.topic.Publish(context.Background(), frame)
	}
	t.mu.Lock()
	targets := make([]peer.ID, 0, len(t.peerOf))
	for nonce, p := range t.peerOf {
		if _, skip := exclude[nonce]; skip {
			continue
		}
		targets = append(targets, p)
	}
	t.mu.Unlock()
	var firstErr error
	for _, p := range targets {
		s, err := t.h.NewStream(context.Background(), p, protocolDelegated)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := writeFramed(s, frame); err != nil && firstErr == nil {
			firstErr = err
		}
		s.Close()
	}
	return firstErr
}

func (t *Transport) handleBulletinTopic(ctx context.Context) {
	for {
		msg, err := t.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == t.h.ID() {
			continue
		}
		t.dispatch(t.nonceFor(msg.GetFrom()), msg.Data)
	}
}

func (t *Transport) handleStream(s network.Stream) {
	defer s.Close()
	frame, err := readFramed(s)
	if err != nil {
		return
	}
	t.dispatch(t.nonceFor(s.Conn().RemotePeer()), frame)
}

func (t *Transport) dispatch(nonce PeerNonce, raw []byte) {
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	if ch == nil || len(raw) < 5 {
		return
	}
	switch FrameType(raw[4]) {
	case FrameBulletin:
		_ = ch.OnBulletin(nonce, raw)
	case FrameGet:
		_ = ch.OnGetDelegated(nonce, raw)
	case FrameDistribute:
		_ = ch.OnDistribute(nonce, raw)
	case FramePublish:
		_, _ = ch.OnPublish(nonce, raw)
	default:
		if t.log != nil {
			t.log.Debug("dropped frame with unknown type", zap.Uint8("type", raw[4]))
		}
	}
}

func writeFramed(w io.Writer, frame []byte) error {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(frame)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}

func readFramed(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	var length [4]byte
	if _, err := io.ReadFull(br, length[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(length[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// onConnected/onDisconnected translate raw libp2p connect/disconnect
// events into OnPeerActive/OnPeerDeactive calls, assuming every connected
// peer advertises the delegated service (a real deployment would read
// this from the peer's identify protocol record instead).
func (t *Transport) onConnected(_ network.Network, c network.Conn) {
	nonce := t.nonceFor(c.RemotePeer())
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	if ch != nil {
		ch.OnPeerActive(nonce, ServiceDelegated)
	}
}

func (t *Transport) onDisconnected(_ network.Network, c network.Conn) {
	t.mu.Lock()
	nonce, ok := t.nonceOf[c.RemotePeer()]
	ch := t.ch
	t.mu.Unlock()
	if ok && ch != nil {
		ch.OnPeerDeactive(nonce)
	}
}
