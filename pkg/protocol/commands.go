package protocol

// Client -> server
const (
	CommandCreateRoom      Name = "create_room"
	CommandJoinRoom        Name = "join_room"
	CommandLeaveRoom       Name = "leave_room"
	CommandSelectCharacter Name = "select_character"
	CommandPlayerReady     Name = "player_ready"
	CommandGameAction      Name = "game_action"
	CommandChatMessage     Name = "chat_message"
)

// Command is the closed set of outbound messages.
type Command interface {
	CommandName() Name
}

type CreateRoom struct {
	Name      string `json:"name"`
	IsPrivate bool   `json:"isPrivate"`
}

type JoinRoom struct {
	RoomID string `json:"roomId"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

type SelectCharacter struct {
	Character Character `json:"character"`
}

type PlayerReady struct {
	IsReady bool `json:"isReady"`
}

type GameAction struct {
	Type      ActionType `json:"type"`
	AbilityID string     `json:"abilityId,omitempty"`
	TargetID  string     `json:"targetId,omitempty"`
}

type SendChat struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

func (CreateRoom) CommandName() Name      { return CommandCreateRoom }
func (JoinRoom) CommandName() Name        { return CommandJoinRoom }
func (LeaveRoom) CommandName() Name       { return CommandLeaveRoom }
func (SelectCharacter) CommandName() Name { return CommandSelectCharacter }
func (PlayerReady) CommandName() Name     { return CommandPlayerReady }
func (GameAction) CommandName() Name      { return CommandGameAction }
func (SendChat) CommandName() Name        { return CommandChatMessage }
