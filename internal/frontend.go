package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wordquizzle/wordquizzle/internal/core"
	"github.com/wordquizzle/wordquizzle/internal/core/pool"
	"github.com/wordquizzle/wordquizzle/internal/core/session"
	"github.com/wordquizzle/wordquizzle/internal/protocol"
)

// How long a session's reader waits for continuation bytes once the first
// chunk of a request filled its buffer.
const drainTimeout = 50 * time.Millisecond

// frontend implements the concurrent client connection logic.
//
// Requests are read from any connected clients and passed to a backend
// instance through the worker pool, abstracting the lower level connection
// details away from the Backends.
type frontend struct {
	Address string
	Backend Backend
	Config  *core.Config
	Logger  *logrus.Logger
	Pool    *pool.Pool

	connectedClients atomic.Int64
	boundAddr        net.Addr
}

// Start initializes the server backend and opens a TCP socket for the specified server.
// A blocking loop for accepting client connections is spun off in its own goroutine and
// added to the WaitGroup. Context cancellations will stop the server.
func (f *frontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if err := f.Backend.Init(ctx); err != nil {
		return fmt.Errorf("error initializing %s server: %v", f.Backend.Identifier(), err)
	}

	socket, err := f.createSocket()
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %v", f.Address, err)
	}

	wg.Add(1)
	go f.startBlockingLoop(ctx, socket, wg)

	return nil
}

// createSocket opens a TCP socket to listen for client connections on the Address
// provided to the frontend.
func (f *frontend) createSocket() (*net.TCPListener, error) {
	hostAddr, err := net.ResolveTCPAddr("tcp", f.Address)
	if err != nil {
		return nil, fmt.Errorf("error resolving address %s", err.Error())
	}

	socket, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %s", err.Error())
	}
	f.boundAddr = socket.Addr()

	return socket, nil
}

// startBlockingLoop implements a connection handling loop that's purely responsible for
// accepting new connections and spinning off goroutines for the Backend to handle them.
func (f *frontend) startBlockingLoop(ctx context.Context, socket *net.TCPListener, wg *sync.WaitGroup) {
	defer wg.Done()

	f.Logger.Printf("[%s] waiting for connections on %v", f.Backend.Identifier(), f.Address)

	connections := make(chan *net.TCPConn)
	go func() {
		for {
			// Poll until we can accept more clients.
			for int(f.connectedClients.Load()) >= f.Config.MaxConnections {
				time.Sleep(time.Second)
			}

			connection, err := socket.AcceptTCP()
			if err != nil {
				// The handle loop closes the listener on shutdown.
				if errors.Is(err, net.ErrClosed) {
					return
				}
				f.Logger.Warnf("failed to accept connection: %s", err.Error())
				continue
			}

			connections <- connection
		}
	}()

	sessionWg := &sync.WaitGroup{}
handleLoop:
	for {
		select {
		case <-ctx.Done():
			break handleLoop
		case connection := <-connections:
			sessionWg.Add(1)
			go f.acceptClient(ctx, connection, sessionWg)
		}
	}

	_ = socket.Close()
	f.Logger.Infof("[%v] shutting down (waiting for connections to close)", f.Backend.Identifier())
	sessionWg.Wait()
	f.Logger.Infof("[%v] exited", f.Backend.Identifier())
}

// acceptClient sets up the Session for a new connection and moves the
// goroutine into the request processing loop.
func (f *frontend) acceptClient(ctx context.Context, connection *net.TCPConn, wg *sync.WaitGroup) {
	defer wg.Done()

	s := session.New(connection)
	f.connectedClients.Add(1)

	f.Logger.Infof("[%s] accepted connection %s from %s:%s",
		f.Backend.Identifier(), s.ID(), s.IPAddr(), s.Port())

	f.processRequests(ctx, s)
}

// processRequests starts a blocking loop dedicated to driving one session
// through its read/process/write cycle and only returns once the connection
// has closed.
func (f *frontend) processRequests(ctx context.Context, s *session.Session) {
	defer f.closeConnectionAndRecover(f.Backend.Identifier(), s)

	buffer := make([]byte, protocol.MaxRequestLength)

	for {
		select {
		case <-ctx.Done():
			// Allow the deferred function to close the connection.
			return
		default:
		}

		request, err := f.readNextRequest(s, buffer)
		if err == io.EOF {
			break
		} else if err != nil {
			f.Logger.Warnf("[%s] read error on session %s: %v", f.Backend.Identifier(), s.ID(), err)
			break
		}

		response := f.process(ctx, s, request)
		if response == nil {
			// The backend gave up on this session.
			return
		}

		if err := s.SendFrame(response); err != nil {
			f.Logger.Warnf("[%s] write error on session %s: %v", f.Backend.Identifier(), s.ID(), err)
			return
		}
	}
}

// process hands the request to the worker pool and blocks until the response
// is ready. At most one task per session is ever in flight, which keeps
// requests on a connection strictly ordered. A panicking handler yields the
// generic format-error response so the session is never left without a reply.
func (f *frontend) process(ctx context.Context, s *session.Session, request []byte) []byte {
	results := make(chan []byte, 1)

	f.Pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				f.Logger.Errorf("[%s] panic processing request on session %s: %v\n%s",
					f.Backend.Identifier(), s.ID(), r, debug.Stack())
				results <- []byte(protocol.ResponseWrongFormat)
			}
		}()

		response, err := f.Backend.Handle(ctx, s, request)
		if err != nil {
			f.Logger.Warnf("[%s] abandoning session %s: %v", f.Backend.Identifier(), s.ID(), err)
			results <- nil
			return
		}
		results <- response
	})

	return <-results
}

// readNextRequest is a blocking call that only returns once the client has
// sent the next request to be processed. The first read blocks; if it filled
// the buffer, immediately available continuation bytes are drained before the
// request is considered complete.
func (f *frontend) readNextRequest(s *session.Session, buffer []byte) ([]byte, error) {
	n, err := s.Read(buffer)
	if err != nil {
		return nil, err
	}

	request := append([]byte(nil), buffer[:n]...)
	for n == len(buffer) {
		if err := s.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil {
			return nil, err
		}
		n, err = s.Read(buffer)
		if n > 0 {
			request = append(request, buffer[:n]...)
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			return nil, err
		}
	}
	if err := s.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}

	return request, nil
}

// closeConnectionAndRecover is the failsafe that catches any panics and
// disconnects the client regardless of the state of the connection.
func (f *frontend) closeConnectionAndRecover(serverName string, s *session.Session) {
	if err := recover(); err != nil {
		f.Logger.Errorf("error in client communication with %s: error=%s, trace: %s",
			s.IPAddr(), err, debug.Stack())
	}

	if err := s.Close(); err != nil {
		f.Logger.Warnf("failed to close client connection: %s", err)
	}

	f.connectedClients.Add(-1)

	f.Logger.Infof("[%s] disconnected session %s", serverName, s.ID())
}
