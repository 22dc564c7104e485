package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// Name is the tag carried by every frame on the wire.
type Name string

// AnyEvent matches every event when registering a handler.
const AnyEvent Name = "*"

// Server -> client
const (
	EventConnectionSuccess    Name = "connection_success"
	EventRoomCreated          Name = "room_created"
	EventCreateRoomError      Name = "create_room_error"
	EventRoomJoined           Name = "room_joined"
	EventJoinRoomError        Name = "join_room_error"
	EventPlayerJoined         Name = "player_joined"
	EventPlayerLeft           Name = "player_left"
	EventRoomUpdated          Name = "room_updated"
	EventRoomAvailable        Name = "room_available"
	EventRoomUnavailable      Name = "room_unavailable"
	EventCharacterSelected    Name = "character_selected"
	EventSelectCharacterError Name = "select_character_error"
	EventPlayerReadyUpdated   Name = "player_ready_updated"
	EventGameCountdown        Name = "game_countdown"
	EventGameStarted          Name = "game_started"
	EventGameActionPerformed  Name = "game_action_performed"
	EventGameActionError      Name = "game_action_error"
	EventGameOver             Name = "game_over"
	EventChatMessage          Name = "chat_message"
	EventError                Name = "error"
)

// Produced locally by the transport and the client; never sent by a server.
const (
	EventDisconnect       Name = "disconnect"
	EventReconnecting     Name = "reconnecting"
	EventConnectionError  Name = "connection_error"
	EventOperationTimeout Name = "operation_timeout"
	EventRoomLeft         Name = "room_left"
	EventDirectoryLoaded  Name = "directory_loaded"
)

// Event is the closed set of inbound messages. Handlers switch on the
// concrete type.
type Event interface {
	EventName() Name
}

var ErrMalformedFrame = errors.New("malformed frame")

type ConnectionSuccess struct {
	PlayerID   string  `json:"playerId"`
	PlayerData *Player `json:"playerData,omitempty"`
}

type RoomCreated struct {
	Room      Room   `json:"room"`
	RequestID string `json:"-"`
}

type CreateRoomError struct {
	Error     string `json:"error"`
	RequestID string `json:"-"`
}

type RoomJoined struct {
	Room      Room   `json:"room"`
	RequestID string `json:"-"`
}

type JoinRoomError struct {
	Error     string `json:"error"`
	RequestID string `json:"-"`
}

type PlayerJoined struct {
	Player Player `json:"player"`
}

type PlayerLeft struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName,omitempty"`
}

type RoomUpdated struct {
	Room Room `json:"room"`
}

type RoomAvailable struct {
	Room Room `json:"room"`
}

type RoomUnavailable struct {
	RoomID string `json:"roomId"`
}

type CharacterSelected struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName,omitempty"`
	Character  Character `json:"character"`
	RequestID  string    `json:"-"`
}

type SelectCharacterError struct {
	Error     string `json:"error"`
	RequestID string `json:"-"`
}

type PlayerReadyUpdated struct {
	PlayerID  string `json:"playerId"`
	IsReady   bool   `json:"isReady"`
	RequestID string `json:"-"`
}

type GameCountdown struct {
	Countdown int `json:"countdown"`
}

type GameStarted struct {
	Room     Room     `json:"room"`
	GameData GameData `json:"gameData"`
}

type GameActionPerformed struct {
	Action   GameAction   `json:"action"`
	Result   ActionResult `json:"result"`
	GameData GameData     `json:"gameData"`
}

type GameActionError struct {
	Error     string `json:"error"`
	RequestID string `json:"-"`
}

type GameOver struct {
	WinnerID   string   `json:"winnerId"`
	WinnerName string   `json:"winnerName,omitempty"`
	GameData   GameData `json:"gameData"`
}

type ChatMessage struct {
	PlayerID   string     `json:"playerId"`
	PlayerName string     `json:"playerName"`
	Message    string     `json:"message"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

type ServerError struct {
	Error     string `json:"error"`
	RequestID string `json:"-"`
}

// Unknown wraps a well-formed frame whose event name is not in the catalog.
type Unknown struct {
	Name Name            `json:"-"`
	Data json.RawMessage `json:"-"`
}

type Disconnected struct {
	Reason       string `json:"reason"`
	Reconnecting bool   `json:"reconnecting"`
}

type Reconnecting struct {
	Attempt int `json:"attempt"`
}

type ConnectionFailed struct {
	Err error `json:"-"`
}

type OperationTimeout struct {
	Kind      string `json:"kind"`
	RequestID string `json:"requestId,omitempty"`
}

type RoomLeft struct {
	RoomID string `json:"roomId"`
}

type DirectoryLoaded struct {
	Count int `json:"count"`
}

func (ConnectionSuccess) EventName() Name    { return EventConnectionSuccess }
func (RoomCreated) EventName() Name          { return EventRoomCreated }
func (CreateRoomError) EventName() Name      { return EventCreateRoomError }
func (RoomJoined) EventName() Name           { return EventRoomJoined }
func (JoinRoomError) EventName() Name        { return EventJoinRoomError }
func (PlayerJoined) EventName() Name         { return EventPlayerJoined }
func (PlayerLeft) EventName() Name           { return EventPlayerLeft }
func (RoomUpdated) EventName() Name          { return EventRoomUpdated }
func (RoomAvailable) EventName() Name        { return EventRoomAvailable }
func (RoomUnavailable) EventName() Name      { return EventRoomUnavailable }
func (CharacterSelected) EventName() Name    { return EventCharacterSelected }
func (SelectCharacterError) EventName() Name { return EventSelectCharacterError }
func (PlayerReadyUpdated) EventName() Name   { return EventPlayerReadyUpdated }
func (GameCountdown) EventName() Name        { return EventGameCountdown }
func (GameStarted) EventName() Name          { return EventGameStarted }
func (GameActionPerformed) EventName() Name  { return EventGameActionPerformed }
func (GameActionError) EventName() Name      { return EventGameActionError }
func (GameOver) EventName() Name             { return EventGameOver }
func (ChatMessage) EventName() Name          { return EventChatMessage }
func (ServerError) EventName() Name          { return EventError }
func (u Unknown) EventName() Name            { return u.Name }
func (Disconnected) EventName() Name         { return EventDisconnect }
func (Reconnecting) EventName() Name         { return EventReconnecting }
func (ConnectionFailed) EventName() Name     { return EventConnectionError }
func (OperationTimeout) EventName() Name     { return EventOperationTimeout }
func (RoomLeft) EventName() Name             { return EventRoomLeft }
func (DirectoryLoaded) EventName() Name      { return EventDirectoryLoaded }

// RequestIDOf returns the request id echoed by an acknowledgment, or "".
func RequestIDOf(ev Event) string {
	switch e := ev.(type) {
	case RoomCreated:
		return e.RequestID
	case CreateRoomError:
		return e.RequestID
	case RoomJoined:
		return e.RequestID
	case JoinRoomError:
		return e.RequestID
	case CharacterSelected:
		return e.RequestID
	case SelectCharacterError:
		return e.RequestID
	case PlayerReadyUpdated:
		return e.RequestID
	case GameActionError:
		return e.RequestID
	case ServerError:
		return e.RequestID
	case OperationTimeout:
		return e.RequestID
	}
	return ""
}
