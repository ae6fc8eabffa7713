// Package protocol defines the text protocol spoken between the WordQuizzle
// clients and server: the request keywords, the response vocabulary, and the
// length-prefixed framing used on the TCP side. Datagrams on the UDP side are
// unframed; both sides tokenize on single spaces.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Requests sent by clients, identified by their first space-separated token.
// The Italian command names are part of the wire protocol and must not be
// translated.
const (
	RequestLogin             = "login"
	RequestLogout            = "logout"
	RequestAddFriend         = "aggiungi_amico"
	RequestFriendList        = "lista_amici"
	RequestChallenge         = "sfida"
	RequestRankings          = "mostra_classifica"
	RequestScore             = "mostra_punteggio"
	RequestReadyForChallenge = "220_Ready_for_challenge"
	RequestNextWord          = "next_word"
	RequestChallengeRecap    = "challenge_recap"
)

// Replies sent by a challenged client over UDP.
const (
	ChallengeAccepted = "Ok"
	ChallengeRefused  = "challenge_refused"
)

// Responses from the server.
const (
	ResponseOK               = "Ok"
	ResponseNextWordPrefix   = "NextWord:"
	ResponseWordMismatch     = "FAIL"
	ResponseWaitingOtherUser = "waiting_other_user_to_finish"
	ResponseChallengeTime    = "challenge_time"
	ResponseChallengeTimeout = "challenge_timeout"
)

// Error responses from the server. Clients match on these exact strings, so
// while the wording is arbitrary it must stay stable.
const (
	ResponseUserNotFound    = "404 User not found"
	ResponseWrongPassword   = "Wrong password"
	ResponseAlreadyLogged   = "User is already logged"
	ResponseNotLogged       = "User is not logged"
	ResponseAlreadyFriends  = "The two users are already friends"
	ResponseNotFriends      = "The two users are not friends"
	ResponseSameUser        = "The two users are the same"
	ResponseUnknownRequest  = "The request is unknown"
	ResponseIllegalRequest  = "Illegal operation was requested"
	ResponseUnknownUsername = "The given username is not involved in the given challenge"
	ResponseMatchNotFound   = "404 Match not found"
	ResponseWrongFormat     = "Client sent a request without proper format"
)

// DefaultClientUDPPort is assumed for clients that log in without supplying
// the port their challenge listener is bound to.
const DefaultClientUDPPort = 8000

// NoTranslation is the sentinel placed in a word's accepted-translation set
// when the oracle fails; no client input ever matches it.
const NoTranslation = "ThisIsNotAWord"

// MaxRequestLength bounds the size of a single client request.
const MaxRequestLength = 1024

// WriteFrame writes a response payload preceded by its length as a 4-byte
// big-endian integer.
func WriteFrame(w io.Writer, payload []byte) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))

	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed response payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	payload := make([]byte, binary.BigEndian.Uint32(prefix[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Tokenize splits a request or datagram into its space-separated tokens.
func Tokenize(message string) []string {
	return strings.Split(strings.TrimRight(message, "\r\n"), " ")
}

// NextWordResponse builds the line carrying the next word to translate.
func NextWordResponse(matchID uint64, word string) string {
	return fmt.Sprintf("%s %d %s", ResponseNextWordPrefix, matchID, word)
}

// TranslationOutcomeResponse builds the line reporting whether the submitted
// translation was accepted, echoing the submission and one correct answer.
func TranslationOutcomeResponse(matchID uint64, submitted, correct string, ok bool) string {
	outcome := ResponseWordMismatch
	if ok {
		outcome = ResponseOK
	}
	return fmt.Sprintf("%s %d %s %s", outcome, matchID, submitted, correct)
}

// TimeRemainingResponse builds the line reporting the seconds left in a match.
func TimeRemainingResponse(seconds int) string {
	return fmt.Sprintf("%s %d", ResponseChallengeTime, seconds)
}

// ChallengeNotice builds the datagram forwarded to a challenged user.
func ChallengeNotice(challenger string) string {
	return fmt.Sprintf("%s %s", RequestChallenge, challenger)
}

// MatchCreatedResponse builds the datagram confirming a match to both parties.
func MatchCreatedResponse(matchID uint64) string {
	return fmt.Sprintf("%s %d", ResponseOK, matchID)
}
