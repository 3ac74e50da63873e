// Package transport provides the identity-routed message socket connecting
// clients and volume workers to the spatial scheduler
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"bufio"
	"net"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

type (
	// Datagram is one inbound payload tagged with the sender's identity.
	Datagram struct {
		From    []byte
		Payload []byte
	}

	// Router is the scheduler end of the socket. It indexes live
	// connections by the identity each dealer presents at handshake and
	// funnels all inbound traffic into a single receive channel, so a
	// single event-loop goroutine can own all routing state.
	Router struct {
		ln    net.Listener
		rxCh  chan Datagram
		mu    sync.Mutex
		peers map[string]*peer
		wg    sync.WaitGroup
		die   chan struct{}
		once  sync.Once
	}

	peer struct {
		id   string
		conn net.Conn
		wmu  sync.Mutex
	}
)

var ErrUnknownPeer = errors.New("transport: no connected peer with that identity")

// Listen binds the router socket.
func Listen(addr string) (*Router, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to bind router at %s", addr)
	}
	r := &Router{
		ln:    ln,
		rxCh:  make(chan Datagram, 256),
		peers: make(map[string]*peer, 16),
		die:   make(chan struct{}),
	}
	go r.acceptLoop()
	return r, nil
}

func (r *Router) Addr() net.Addr { return r.ln.Addr() }

// Ch is the inbound datagram stream; it is closed when the router shuts down.
func (r *Router) Ch() <-chan Datagram { return r.rxCh }

// Send routes a payload to the peer with the given identity.
func (r *Router) Send(identity, payload []byte) error {
	r.mu.Lock()
	p, ok := r.peers[string(identity)]
	r.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrUnknownPeer, string(identity))
	}
	p.wmu.Lock()
	err := writeFrame(p.conn, payload)
	p.wmu.Unlock()
	if err != nil {
		r.drop(p)
	}
	return err
}

func (r *Router) Close() error {
	r.once.Do(func() {
		close(r.die)
		r.ln.Close()
		r.mu.Lock()
		for _, p := range r.peers {
			p.conn.Close()
		}
		r.peers = make(map[string]*peer)
		r.mu.Unlock()
	})
	return nil
}

func (r *Router) acceptLoop() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			select {
			case <-r.die:
			default:
				glog.Errorf("router: accept: %v", err)
			}
			r.wg.Wait() // all serve goroutines gone; safe to end the stream
			close(r.rxCh)
			return
		}
		r.wg.Add(1)
		go r.serve(conn)
	}
}

func (r *Router) serve(conn net.Conn) {
	defer r.wg.Done()
	rd := bufio.NewReader(conn)
	identity, err := recvHandshake(rd)
	if err != nil {
		glog.Warningf("router: rejecting %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	p := &peer{id: string(identity), conn: conn}

	// last handshake wins: a reconnecting peer displaces its stale entry
	r.mu.Lock()
	select {
	case <-r.die:
		// the router closed while this peer was handshaking
		r.mu.Unlock()
		conn.Close()
		return
	default:
	}
	if prev, ok := r.peers[p.id]; ok {
		prev.conn.Close()
	}
	r.peers[p.id] = p
	r.mu.Unlock()

	if glog.V(4) {
		glog.Infof("router: peer %q connected from %s", p.id, conn.RemoteAddr())
	}
	for {
		body, err := readFrame(rd)
		if err != nil {
			r.drop(p)
			return
		}
		select {
		case r.rxCh <- Datagram{From: identity, Payload: body}:
		case <-r.die:
			return
		}
	}
}

// drop closes and unregisters a peer, unless a newer connection already
// took over its identity.
func (r *Router) drop(p *peer) {
	r.mu.Lock()
	if cur, ok := r.peers[p.id]; ok && cur == p {
		delete(r.peers, p.id)
	}
	r.mu.Unlock()
	p.conn.Close()
	if glog.V(4) {
		glog.Infof("router: peer %q disconnected", p.id)
	}
}
