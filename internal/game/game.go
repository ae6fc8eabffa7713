// Package game implements the stream-side command interpreter: every request
// a client sends over its TCP connection is dispatched here, including match
// play once a challenge has been negotiated over the datagram channel.
package game

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wordquizzle/wordquizzle/internal/account"
	"github.com/wordquizzle/wordquizzle/internal/core"
	"github.com/wordquizzle/wordquizzle/internal/core/session"
	"github.com/wordquizzle/wordquizzle/internal/match"
	"github.com/wordquizzle/wordquizzle/internal/protocol"
)

// Server is the game server backend. It interprets client requests and turns
// every recoverable failure into one of the protocol's error responses; an
// error escaping Handle means the session itself is beyond saving.
type Server struct {
	Name   string
	Config *core.Config
	Logger *logrus.Logger
	Store  account.Store
	Engine *match.Engine
}

func (s *Server) Identifier() string {
	return s.Name
}

func (s *Server) Init(_ context.Context) error {
	return nil
}

// Handle interprets one request and produces the response payload.
func (s *Server) Handle(ctx context.Context, sess *session.Session, request []byte) ([]byte, error) {
	tokens := protocol.Tokenize(string(request))
	if len(tokens) == 0 || tokens[0] == "" {
		return []byte(protocol.ResponseWrongFormat), nil
	}

	var response string
	switch tokens[0] {
	case protocol.RequestLogin:
		response = s.handleLogin(sess, tokens)
	case protocol.RequestLogout:
		response = s.handleLogout(tokens)
	case protocol.RequestAddFriend:
		response = s.handleAddFriend(tokens)
	case protocol.RequestFriendList:
		response = s.handleFriendList(tokens)
	case protocol.RequestScore:
		response = s.handleScore(tokens)
	case protocol.RequestRankings:
		response = s.handleRankings(tokens)
	case protocol.RequestChallenge:
		// Challenges are negotiated over the datagram channel only.
		response = protocol.ResponseIllegalRequest
	case protocol.RequestReadyForChallenge:
		response = s.handleReadyForChallenge(tokens)
	case protocol.RequestNextWord:
		response = s.handleNextWord(tokens)
	case protocol.RequestChallengeRecap:
		response = s.handleChallengeRecap(ctx, tokens)
	default:
		s.Logger.Debugf("unknown request %q from %s", tokens[0], sess.IPAddr())
		response = protocol.ResponseUnknownRequest
	}

	return []byte(response), nil
}

func (s *Server) handleLogin(sess *session.Session, tokens []string) string {
	if len(tokens) < 3 {
		return protocol.ResponseWrongFormat
	}
	username, password := tokens[1], tokens[2]

	udpPort := protocol.DefaultClientUDPPort
	if len(tokens) > 3 {
		var err error
		udpPort, err = strconv.Atoi(tokens[3])
		if err != nil {
			return protocol.ResponseWrongFormat
		}
	}

	if err := s.Store.Login(username, password, sess.IP(), udpPort); err != nil {
		return s.storeErrorResponse(err)
	}
	sess.Username = username
	return protocol.ResponseOK
}

func (s *Server) handleLogout(tokens []string) string {
	if len(tokens) < 2 {
		return protocol.ResponseWrongFormat
	}
	if err := s.Store.Logout(tokens[1]); err != nil {
		return s.storeErrorResponse(err)
	}
	return protocol.ResponseOK
}

func (s *Server) handleAddFriend(tokens []string) string {
	if len(tokens) < 3 {
		return protocol.ResponseWrongFormat
	}
	if err := s.Store.AddFriend(tokens[1], tokens[2]); err != nil {
		return s.storeErrorResponse(err)
	}
	return protocol.ResponseOK
}

func (s *Server) handleFriendList(tokens []string) string {
	if len(tokens) < 2 {
		return protocol.ResponseWrongFormat
	}
	friends, err := s.Store.Friends(tokens[1])
	if err != nil {
		return s.storeErrorResponse(err)
	}
	return strings.Join(friends, "\n")
}

func (s *Server) handleScore(tokens []string) string {
	if len(tokens) < 2 {
		return protocol.ResponseWrongFormat
	}
	score, err := s.Store.Score(tokens[1])
	if err != nil {
		return s.storeErrorResponse(err)
	}
	return strconv.Itoa(score)
}

func (s *Server) handleRankings(tokens []string) string {
	if len(tokens) < 2 {
		return protocol.ResponseWrongFormat
	}
	ranking, err := s.Store.Ranking(tokens[1])
	if err != nil {
		return s.storeErrorResponse(err)
	}

	lines := make([]string, 0, len(ranking))
	for _, entry := range ranking {
		lines = append(lines, fmt.Sprintf("%s %d", entry.Username, entry.Score))
	}
	return strings.Join(lines, "\n")
}

// handleReadyForChallenge issues the user's first (or next) word once a
// negotiated match id is presented over the stream connection.
func (s *Server) handleReadyForChallenge(tokens []string) string {
	matchID, username, ok := s.parseMatchArgs(tokens)
	if !ok {
		return protocol.ResponseWrongFormat
	}
	return s.issueNextWord(matchID, username, nil)
}

// handleNextWord validates the translation the user submitted for their last
// word, then issues the next one.
func (s *Server) handleNextWord(tokens []string) string {
	matchID, username, ok := s.parseMatchArgs(tokens)
	if !ok || len(tokens) < 4 {
		return protocol.ResponseWrongFormat
	}
	submitted := tokens[3]

	correct, matched, err := s.Engine.CheckTranslation(matchID, username, submitted)
	if err != nil {
		return s.matchErrorResponse(matchID, err)
	}

	outcome := protocol.TranslationOutcomeResponse(matchID, submitted, correct, matched)
	return s.issueNextWord(matchID, username, []string{outcome})
}

// issueNextWord appends the next word and the time remaining to any lines the
// caller already produced. A user who has run out of words is told to wait
// for the other side instead.
func (s *Server) issueNextWord(matchID uint64, username string, lines []string) string {
	word, err := s.Engine.NextWord(matchID, username)
	switch {
	case errors.Is(err, match.ErrEndOfMatch):
		lines = append(lines, protocol.ResponseWaitingOtherUser)
	case err != nil:
		return s.matchErrorResponse(matchID, err)
	default:
		remaining, timeErr := s.Engine.TimeRemaining(matchID)
		if timeErr != nil {
			return s.matchErrorResponse(matchID, timeErr)
		}
		lines = append(lines,
			protocol.NextWordResponse(matchID, word),
			protocol.TimeRemainingResponse(int(remaining.Seconds())),
		)
	}
	return strings.Join(lines, "\n")
}

// handleChallengeRecap blocks until the match has finished, credits both
// sides' scores to the account ledger exactly once, and returns the recap.
func (s *Server) handleChallengeRecap(ctx context.Context, tokens []string) string {
	matchID, username, ok := s.parseMatchArgs(tokens)
	if !ok {
		return protocol.ResponseWrongFormat
	}

	remaining, err := s.Engine.TimeRemaining(matchID)
	if err != nil {
		return s.matchErrorResponse(matchID, err)
	}

	// Cap the wait: the match can't outlive its clock by more than the
	// other side's final request.
	waitCtx, cancel := context.WithTimeout(ctx, remaining+s.Config.Game.TimePerWord)
	defer cancel()

	if err := s.Engine.WaitFinished(waitCtx, matchID); err != nil {
		return protocol.ResponseChallengeTimeout
	}

	recap, err := s.Engine.Recap(matchID)
	if err != nil {
		return s.matchErrorResponse(matchID, err)
	}

	if deltas, first := s.Engine.TakeScoreDeltas(matchID); first {
		for _, delta := range deltas {
			if err := s.Store.CreditScore(delta.Username, delta.Score); err != nil {
				s.Logger.Errorf("error crediting %d points to %s: %v",
					delta.Score, delta.Username, err)
			}
		}
	}

	if err := s.Engine.RecapDelivered(matchID, username); err != nil {
		return s.matchErrorResponse(matchID, err)
	}
	return recap
}

func (s *Server) parseMatchArgs(tokens []string) (uint64, string, bool) {
	if len(tokens) < 3 {
		return 0, "", false
	}
	matchID, err := strconv.ParseUint(tokens[1], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return matchID, tokens[2], true
}

// storeErrorResponse maps account store failures onto the protocol's error
// vocabulary. Anything unexpected is logged and reported as a format error
// rather than leaking internals to the client.
func (s *Server) storeErrorResponse(err error) string {
	switch {
	case errors.Is(err, account.ErrUserNotFound):
		return protocol.ResponseUserNotFound
	case errors.Is(err, account.ErrWrongPassword):
		return protocol.ResponseWrongPassword
	case errors.Is(err, account.ErrAlreadyLogged):
		return protocol.ResponseAlreadyLogged
	case errors.Is(err, account.ErrNotLogged):
		return protocol.ResponseNotLogged
	case errors.Is(err, account.ErrAlreadyFriends):
		return protocol.ResponseAlreadyFriends
	case errors.Is(err, account.ErrNotFriends):
		return protocol.ResponseNotFriends
	case errors.Is(err, account.ErrSameUser):
		return protocol.ResponseSameUser
	default:
		s.Logger.Errorf("unexpected store error: %v", err)
		return protocol.ResponseWrongFormat
	}
}

// matchErrorResponse maps match engine failures onto the protocol's error
// vocabulary. A timed-out match also reports its recap so the client learns
// the final standing.
func (s *Server) matchErrorResponse(matchID uint64, err error) string {
	switch {
	case errors.Is(err, match.ErrMatchNotFound):
		return protocol.ResponseMatchNotFound
	case errors.Is(err, match.ErrUnknownUser):
		return protocol.ResponseUnknownUsername
	case errors.Is(err, match.ErrMatchTimeout):
		response := protocol.ResponseChallengeTimeout
		if recap, recapErr := s.Engine.Recap(matchID); recapErr == nil {
			response += "\n" + recap
		}
		return response
	case errors.Is(err, match.ErrNoWordIssued):
		return protocol.ResponseWrongFormat
	default:
		s.Logger.Errorf("unexpected match engine error: %v", err)
		return protocol.ResponseWrongFormat
	}
}
