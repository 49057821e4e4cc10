// Package protocol defines the wire messages exchanged with race
// clients -- a tagged-object union serialized as self-describing JSON
// text frames, e.g. {"Join":{"room":"r1","name":"alice"}}. It is the
// language-neutral schema design note 9 asks for: a single Go side
// here, with a browser client expected to speak the same shape.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// ErrMalformed is returned by DecodeClient and DecodeServer when a frame has no recognized
// tag, more than one tag, or a tag missing a required field.
var ErrMalformed = errors.New("malformed message")

type State string

const (
	StateWaiting   State = "Waiting"
	StateCountdown State = "Countdown"
	StateRacing    State = "Racing"
	StateFinished  State = "Finished"
)

type ErrorCode string

const (
	ErrCodeMalformedMessage ErrorCode = "MalformedMessage"
	ErrCodeExpectedJoin     ErrorCode = "ExpectedJoin"
	ErrCodeNameTaken        ErrorCode = "NameTaken"
	ErrCodeNameInvalid      ErrorCode = "NameInvalid"
	ErrCodeRoomFull         ErrorCode = "RoomFull"
	ErrCodeWrongState       ErrorCode = "WrongState"
	ErrCodeRateLimited      ErrorCode = "RateLimited"
	ErrCodeLagging          ErrorCode = "Lagging"
	ErrCodeInternal         ErrorCode = "Internal"
)

// --- ClientMsg ---------------------------------------------------------

type JoinPayload struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

type KeyPayload struct {
	Ch string `json:"ch"`
	Ts uint64 `json:"ts"`
}

type ResetPayload struct{}

// ClientMsg is a tagged union: exactly one field is non-nil.
type ClientMsg struct {
	Join  *JoinPayload  `json:"Join,omitempty"`
	Key   *KeyPayload   `json:"Key,omitempty"`
	Reset *ResetPayload `json:"Reset,omitempty"`
}

func NewJoin(room, name string) ClientMsg {
	return ClientMsg{Join: &JoinPayload{Room: room, Name: name}}
}

func NewKey(ch string, ts uint64) ClientMsg {
	return ClientMsg{Key: &KeyPayload{Ch: ch, Ts: ts}}
}

func NewReset() ClientMsg {
	return ClientMsg{Reset: &ResetPayload{}}
}

// DecodeClient parses and validates a client frame. Any structural
// problem is reported as ErrMalformed, which callers translate into
// Error{MalformedMessage}.
func DecodeClient(data []byte) (ClientMsg, error) {
	var m ClientMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return ClientMsg{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	set := 0
	if m.Join != nil {
		set++
	}
	if m.Key != nil {
		set++
	}
	if m.Reset != nil {
		set++
	}
	if set != 1 {
		return ClientMsg{}, fmt.Errorf("%w: expected exactly one tag, got %d", ErrMalformed, set)
	}
	if m.Join != nil && (m.Join.Room == "" || m.Join.Name == "") {
		return ClientMsg{}, fmt.Errorf("%w: Join requires room and name", ErrMalformed)
	}
	if m.Key != nil && utf8.RuneCountInString(m.Key.Ch) != 1 {
		return ClientMsg{}, fmt.Errorf("%w: Key.ch must be a single character", ErrMalformed)
	}
	return m, nil
}

// --- ServerMsg -----------------------------------------------------------

type LobbyPayload struct {
	Players []string `json:"players"`
}

type CountdownPayload struct {
	Passage    string `json:"passage"`
	StartsInMs uint64 `json:"starts_in_ms"`
}

type StartPayload struct {
	T0Ms uint64 `json:"t0_ms"`
}

type ProgressPayload struct {
	ID  string `json:"id"`
	Pos int    `json:"pos"`
}

type FinishPayload struct {
	ID       string  `json:"id"`
	WPM      float64 `json:"wpm"`
	NetWPM   float64 `json:"net_wpm"`
	Accuracy float64 `json:"accuracy"`
}

type StateChangePayload struct {
	State State `json:"state"`
}

type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ServerMsg is a tagged union: exactly one field is non-nil.
type ServerMsg struct {
	Lobby       *LobbyPayload       `json:"Lobby,omitempty"`
	Countdown   *CountdownPayload   `json:"Countdown,omitempty"`
	Start       *StartPayload       `json:"Start,omitempty"`
	Progress    *ProgressPayload    `json:"Progress,omitempty"`
	Finish      *FinishPayload      `json:"Finish,omitempty"`
	StateChange *StateChangePayload `json:"StateChange,omitempty"`
	Error       *ErrorPayload       `json:"Error,omitempty"`
}

func NewLobby(players []string) ServerMsg {
	cp := make([]string, len(players))
	copy(cp, players)
	return ServerMsg{Lobby: &LobbyPayload{Players: cp}}
}

func NewCountdown(passage string, startsInMs uint64) ServerMsg {
	return ServerMsg{Countdown: &CountdownPayload{Passage: passage, StartsInMs: startsInMs}}
}

func NewStart(t0Ms uint64) ServerMsg {
	return ServerMsg{Start: &StartPayload{T0Ms: t0Ms}}
}

func NewProgress(id string, pos int) ServerMsg {
	return ServerMsg{Progress: &ProgressPayload{ID: id, Pos: pos}}
}

func NewFinish(id string, wpm, netWPM, accuracy float64) ServerMsg {
	return ServerMsg{Finish: &FinishPayload{ID: id, WPM: wpm, NetWPM: netWPM, Accuracy: accuracy}}
}

func NewStateChange(s State) ServerMsg {
	return ServerMsg{StateChange: &StateChangePayload{State: s}}
}

func NewError(code ErrorCode, message string) ServerMsg {
	return ServerMsg{Error: &ErrorPayload{Code: code, Message: message}}
}

// DecodeServer is the client-side mirror of DecodeClient; kept here
// so both sides of the wire format share one decoder implementation,
// per design note 9's "language-neutral schema" instruction.
func DecodeServer(data []byte) (ServerMsg, error) {
	var m ServerMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return ServerMsg{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	set := 0
	for _, ok := range []bool{
		m.Lobby != nil, m.Countdown != nil, m.Start != nil, m.Progress != nil,
		m.Finish != nil, m.StateChange != nil, m.Error != nil,
	} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return ServerMsg{}, fmt.Errorf("%w: expected exactly one tag, got %d", ErrMalformed, set)
	}
	return m, nil
}

// ValidName enforces spec.md's 1-32 printable character constraint.
func ValidName(name string) bool {
	n := utf8.RuneCountInString(name)
	if n < 1 || n > 32 {
		return false
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
