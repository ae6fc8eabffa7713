// Package rendezvous implements the datagram handshake through which two
// logged-in friends agree to start a match: the challenger's request is
// forwarded to the challenged user's bound address, and the reply is
// correlated back so both parties learn the match id (or the refusal).
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/wordquizzle/wordquizzle/internal/account"
	"github.com/wordquizzle/wordquizzle/internal/core"
	"github.com/wordquizzle/wordquizzle/internal/core/pool"
	"github.com/wordquizzle/wordquizzle/internal/match"
	"github.com/wordquizzle/wordquizzle/internal/protocol"
)

// pendingEntry correlates one party's datagram address with its counterpart
// during challenge negotiation. Two entries exist per negotiation, one per
// party.
type pendingEntry struct {
	Username        string
	Counterpart     string
	CounterpartAddr *net.UDPAddr
	// True for the entry keyed by the challenger's address.
	Challenger bool
	Created    time.Time
}

// Server drives the challenge handshake over a single UDP socket.
type Server struct {
	Name   string
	Config *core.Config
	Logger *logrus.Logger
	Store  account.Store
	Engine *match.Engine
	Pool   *pool.Pool

	conn    *net.UDPConn
	pending *gocache.Cache
}

func (s *Server) Identifier() string {
	return s.Name
}

// Addr returns the address the datagram socket is bound to, or nil before
// Start succeeds.
func (s *Server) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Start binds the UDP socket and spins off the receive loop. The entry TTL
// doubles the rendezvous timeout: a late accept within the grace window still
// finds the entries so both parties can be told the request expired, while
// anything older is swept by the cache and ignored as a stray datagram.
func (s *Server) Start(ctx context.Context, wg *sync.WaitGroup) error {
	addr, err := net.ResolveUDPAddr("udp", s.Config.RendezvousAddress())
	if err != nil {
		return fmt.Errorf("error resolving rendezvous address: %w", err)
	}

	s.conn, err = net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", addr, err)
	}

	ttl := 2 * s.Config.RendezvousServer.RequestTimeout
	s.pending = gocache.New(ttl, s.Config.RendezvousServer.RequestTimeout)

	wg.Add(1)
	go s.receiveLoop(ctx, wg)

	return nil
}

// receiveLoop reads datagrams and hands each one to the worker pool; the
// short read deadline keeps the loop responsive to shutdown.
func (s *Server) receiveLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer s.conn.Close()

	s.Logger.Printf("[%s] waiting for datagrams on %v", s.Identifier(), s.conn.LocalAddr())

	buffer := make([]byte, protocol.MaxRequestLength)
	for {
		select {
		case <-ctx.Done():
			s.Logger.Infof("[%s] exited", s.Identifier())
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, sender, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			s.Logger.Warnf("[%s] error receiving datagram: %v", s.Identifier(), err)
			continue
		}

		message := string(buffer[:n])
		s.Pool.Submit(func() {
			defer func() {
				if r := recover(); r != nil {
					s.Logger.Errorf("[%s] panic handling datagram from %s: %v",
						s.Identifier(), sender, r)
				}
			}()
			s.handleDatagram(ctx, sender, message)
		})
	}
}

func (s *Server) handleDatagram(ctx context.Context, sender *net.UDPAddr, message string) {
	tokens := protocol.Tokenize(message)

	if s.Config.Debugging.DatagramLoggingEnabled {
		s.Logger.Debugf("[%s] datagram from %s: %s", s.Identifier(), sender, spew.Sdump(tokens))
	}

	switch tokens[0] {
	case protocol.RequestChallenge:
		s.handleChallengeRequest(sender, tokens)
	case protocol.ChallengeAccepted:
		s.handleAccept(ctx, sender)
	case protocol.ChallengeRefused:
		s.handleRefusal(sender)
	default:
		s.send(sender, protocol.ResponseUnknownRequest)
	}
}

// handleChallengeRequest validates a `sfida <challenger> <challenged>`
// datagram, forwards the challenge to the challenged user's bound address,
// and records a pending entry for each party. Validation failures are
// reported to the challenger only.
func (s *Server) handleChallengeRequest(sender *net.UDPAddr, tokens []string) {
	if len(tokens) < 3 {
		s.send(sender, protocol.ResponseWrongFormat)
		return
	}
	challenger, challenged := tokens[1], tokens[2]

	if challenger == challenged {
		s.send(sender, protocol.ResponseSameUser)
		return
	}

	// Both parties must be registered and logged in.
	if _, err := s.Store.AddressOf(challenger); err != nil {
		s.send(sender, s.storeErrorResponse(err))
		return
	}
	challengedAddr, err := s.Store.AddressOf(challenged)
	if err != nil {
		s.send(sender, s.storeErrorResponse(err))
		return
	}

	friends, err := s.Store.AreFriends(challenger, challenged)
	if err != nil {
		s.send(sender, s.storeErrorResponse(err))
		return
	}
	if !friends {
		s.send(sender, protocol.ResponseNotFriends)
		return
	}

	s.send(challengedAddr, protocol.ChallengeNotice(challenger))

	now := time.Now()
	s.pending.SetDefault(sender.String(), &pendingEntry{
		Username:        challenger,
		Counterpart:     challenged,
		CounterpartAddr: challengedAddr,
		Challenger:      true,
		Created:         now,
	})
	s.pending.SetDefault(challengedAddr.String(), &pendingEntry{
		Username:        challenged,
		Counterpart:     challenger,
		CounterpartAddr: cloneAddr(sender),
		Created:         now,
	})

	s.Logger.Infof("[%s] %s challenged %s", s.Identifier(), challenger, challenged)
}

// handleAccept resolves a challenged user's `Ok`. The request's age is
// checked here, at confirmation time: a late accept yields a timeout notice
// for both parties instead of a match.
func (s *Server) handleAccept(ctx context.Context, sender *net.UDPAddr) {
	entry, counterpart, ok := s.lookupPendingPair(sender)
	if !ok {
		return
	}
	if entry.Challenger {
		// Only the challenged side can confirm; the negotiation stays pending.
		s.Logger.Debugf("[%s] ignoring accept from challenger %s", s.Identifier(), entry.Username)
		return
	}
	s.discardPendingPair(sender, entry)

	if time.Since(entry.Created) > s.Config.RendezvousServer.RequestTimeout {
		s.send(sender, protocol.ResponseChallengeTimeout)
		s.send(entry.CounterpartAddr, protocol.ResponseChallengeTimeout)
		s.Logger.Infof("[%s] challenge %s->%s expired before acceptance",
			s.Identifier(), entry.Counterpart, entry.Username)
		return
	}

	matchID, err := s.Engine.CreateMatch(ctx, counterpart.Username, entry.Username)
	if err != nil {
		s.Logger.Errorf("[%s] error creating match for %s and %s: %v",
			s.Identifier(), counterpart.Username, entry.Username, err)
		s.send(sender, protocol.ResponseWrongFormat)
		s.send(entry.CounterpartAddr, protocol.ResponseWrongFormat)
		return
	}

	confirmation := protocol.MatchCreatedResponse(matchID)
	s.send(sender, confirmation)
	s.send(entry.CounterpartAddr, confirmation)
}

// handleRefusal resolves a `challenge_refused`, discarding the negotiation
// and notifying the challenger.
func (s *Server) handleRefusal(sender *net.UDPAddr) {
	entry, _, ok := s.lookupPendingPair(sender)
	if !ok {
		return
	}
	if entry.Challenger {
		return
	}
	s.discardPendingPair(sender, entry)

	s.send(entry.CounterpartAddr, protocol.ChallengeRefused)
	s.Logger.Infof("[%s] %s refused the challenge from %s",
		s.Identifier(), entry.Username, entry.Counterpart)
}

// lookupPendingPair finds both parties' pending entries for the negotiation
// the sender is part of. Datagrams for negotiations that were already
// resolved (or swept) miss the lookup and are ignored.
func (s *Server) lookupPendingPair(sender *net.UDPAddr) (*pendingEntry, *pendingEntry, bool) {
	v, found := s.pending.Get(sender.String())
	if !found {
		s.Logger.Debugf("[%s] no pending challenge for %s", s.Identifier(), sender)
		return nil, nil, false
	}
	entry := v.(*pendingEntry)

	cv, found := s.pending.Get(entry.CounterpartAddr.String())
	if !found {
		// The counterpart's half is gone; drop the orphan.
		s.pending.Delete(sender.String())
		return nil, nil, false
	}
	counterpart := cv.(*pendingEntry)

	return entry, counterpart, true
}

// discardPendingPair removes both halves of a resolved negotiation.
func (s *Server) discardPendingPair(sender *net.UDPAddr, entry *pendingEntry) {
	s.pending.Delete(sender.String())
	s.pending.Delete(entry.CounterpartAddr.String())
}

func (s *Server) send(addr *net.UDPAddr, message string) {
	if _, err := s.conn.WriteToUDP([]byte(message), addr); err != nil {
		s.Logger.Warnf("[%s] error sending datagram to %s: %v", s.Identifier(), addr, err)
	}
}

func (s *Server) storeErrorResponse(err error) string {
	switch {
	case errors.Is(err, account.ErrUserNotFound):
		return protocol.ResponseUserNotFound
	case errors.Is(err, account.ErrNotLogged):
		return protocol.ResponseNotLogged
	case errors.Is(err, account.ErrSameUser):
		return protocol.ResponseSameUser
	default:
		s.Logger.Errorf("[%s] unexpected store error: %v", s.Identifier(), err)
		return protocol.ResponseWrongFormat
	}
}

func cloneAddr(addr *net.UDPAddr) *net.UDPAddr {
	clone := *addr
	clone.IP = append(net.IP(nil), addr.IP...)
	return &clone
}
