package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Frame is the envelope of every websocket text message.
//
//	{"event": "room_created", "requestId": "…", "data": {"room": {…}}}
type Frame struct {
	Event     Name            `json:"event"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func EncodeCommand(cmd Command, requestID string) ([]byte, error) {
	return encode(cmd.CommandName(), requestID, cmd)
}

func EncodeEvent(ev Event, requestID string) ([]byte, error) {
	return encode(ev.EventName(), requestID, ev)
}

func encode(name Name, requestID string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return json.Marshal(Frame{Event: name, RequestID: requestID, Data: data})
}

// DecodeEvent parses a server frame into its concrete event type and
// validates the fields reducers rely on. Unrecognised names decode to Unknown.
func DecodeEvent(raw []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if strings.TrimSpace(string(f.Event)) == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformedFrame)
	}

	var (
		ev  Event
		err error
	)
	switch f.Event {
	case EventConnectionSuccess:
		ev, err = decodeAs[ConnectionSuccess](f)
	case EventRoomCreated:
		var e RoomCreated
		e, err = decodeAs[RoomCreated](f)
		e.RequestID = f.RequestID
		ev = e
	case EventCreateRoomError:
		var e CreateRoomError
		e, err = decodeAs[CreateRoomError](f)
		e.RequestID = f.RequestID
		ev = e
	case EventRoomJoined:
		var e RoomJoined
		e, err = decodeAs[RoomJoined](f)
		e.RequestID = f.RequestID
		ev = e
	case EventJoinRoomError:
		var e JoinRoomError
		e, err = decodeAs[JoinRoomError](f)
		e.RequestID = f.RequestID
		ev = e
	case EventPlayerJoined:
		ev, err = decodeAs[PlayerJoined](f)
	case EventPlayerLeft:
		ev, err = decodeAs[PlayerLeft](f)
	case EventRoomUpdated:
		ev, err = decodeAs[RoomUpdated](f)
	case EventRoomAvailable:
		ev, err = decodeAs[RoomAvailable](f)
	case EventRoomUnavailable:
		ev, err = decodeAs[RoomUnavailable](f)
	case EventCharacterSelected:
		var e CharacterSelected
		e, err = decodeAs[CharacterSelected](f)
		e.RequestID = f.RequestID
		ev = e
	case EventSelectCharacterError:
		var e SelectCharacterError
		e, err = decodeAs[SelectCharacterError](f)
		e.RequestID = f.RequestID
		ev = e
	case EventPlayerReadyUpdated:
		var e PlayerReadyUpdated
		e, err = decodeAs[PlayerReadyUpdated](f)
		e.RequestID = f.RequestID
		ev = e
	case EventGameCountdown:
		ev, err = decodeAs[GameCountdown](f)
	case EventGameStarted:
		ev, err = decodeAs[GameStarted](f)
	case EventGameActionPerformed:
		ev, err = decodeAs[GameActionPerformed](f)
	case EventGameActionError:
		var e GameActionError
		e, err = decodeAs[GameActionError](f)
		e.RequestID = f.RequestID
		ev = e
	case EventGameOver:
		ev, err = decodeAs[GameOver](f)
	case EventChatMessage:
		ev, err = decodeAs[ChatMessage](f)
	case EventError:
		var e ServerError
		e, err = decodeAs[ServerError](f)
		e.RequestID = f.RequestID
		ev = e
	default:
		return Unknown{Name: f.Event, Data: f.Data}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := validateEvent(ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, f.Event, err)
	}
	return ev, nil
}

// DecodeCommand is the server-side counterpart of EncodeCommand. It returns
// the command and the request id that acknowledgments must echo.
func DecodeCommand(raw []byte) (Command, string, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var (
		cmd Command
		err error
	)
	switch f.Event {
	case CommandCreateRoom:
		cmd, err = decodeAs[CreateRoom](f)
	case CommandJoinRoom:
		cmd, err = decodeAs[JoinRoom](f)
	case CommandLeaveRoom:
		cmd, err = decodeAs[LeaveRoom](f)
	case CommandSelectCharacter:
		cmd, err = decodeAs[SelectCharacter](f)
	case CommandPlayerReady:
		cmd, err = decodeAs[PlayerReady](f)
	case CommandGameAction:
		cmd, err = decodeAs[GameAction](f)
	case CommandChatMessage:
		cmd, err = decodeAs[SendChat](f)
	default:
		return nil, f.RequestID, fmt.Errorf("%w: unknown command %q", ErrMalformedFrame, f.Event)
	}
	if err != nil {
		return nil, f.RequestID, err
	}
	return cmd, f.RequestID, nil
}

func decodeAs[T any](f Frame) (T, error) {
	var v T
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(f.Data, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, f.Event, err)
	}
	return v, nil
}

func validateEvent(ev Event) error {
	switch e := ev.(type) {
	case ConnectionSuccess:
		if e.PlayerID == "" {
			return fmt.Errorf("playerId is required")
		}
	case RoomCreated:
		return validateRoom(e.Room)
	case RoomJoined:
		return validateRoom(e.Room)
	case RoomUpdated:
		return validateRoom(e.Room)
	case RoomAvailable:
		return validateRoom(e.Room)
	case GameStarted:
		// the room is optional here; without it the joined room carries over
		if e.Room.ID != "" || len(e.Room.Players) > 0 {
			return validateRoom(e.Room)
		}
	case RoomUnavailable:
		if e.RoomID == "" {
			return fmt.Errorf("roomId is required")
		}
	case PlayerJoined:
		if e.Player.ID == "" {
			return fmt.Errorf("player.id is required")
		}
	case PlayerLeft:
		if e.PlayerID == "" {
			return fmt.Errorf("playerId is required")
		}
	case CharacterSelected:
		if e.PlayerID == "" {
			return fmt.Errorf("playerId is required")
		}
		if e.Character.ID == "" {
			return fmt.Errorf("character.id is required")
		}
	case PlayerReadyUpdated:
		if e.PlayerID == "" {
			return fmt.Errorf("playerId is required")
		}
	case GameCountdown:
		if e.Countdown < 0 {
			return fmt.Errorf("countdown must be >= 0")
		}
	}
	return nil
}

func validateRoom(r Room) error {
	if r.ID == "" {
		return fmt.Errorf("room.id is required")
	}
	return nil
}
