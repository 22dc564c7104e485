package engine

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

var ErrWrongTurn = errors.New("not your turn")
var ErrUnknownAbility = errors.New("unknown ability")
var ErrNotEnoughMana = errors.New("not enough mana")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrUnsupportedAction = errors.New("unsupported action")
var ErrGameAlreadyCompleted = errors.New("game already completed")

const (
	AttackDamage = 15
	DefendMana   = 10
)

// Fighter is one side of a duel.
type Fighter struct {
	ID        string
	Name      string
	Character protocol.Character
	Health    int
	Mana      int
	Defending bool
}

func NewFighter(id, name string, c protocol.Character) Fighter {
	return Fighter{ID: id, Name: name, Character: c, Health: c.Health, Mana: c.Mana}
}

type State struct {
	Fighters  [2]Fighter
	Turn      int // index into Fighters
	TurnCount int
	Winner    string
}

// Outcome is what a single action produced.
type Outcome struct {
	Result protocol.ActionResult
	Line   string
	Winner string
}

func NewState(first, second Fighter) State {
	return State{Fighters: [2]Fighter{first, second}}
}

func (s State) CurrentTurn() string {
	if s.Winner != "" {
		return ""
	}
	return s.Fighters[s.Turn].ID
}

func (s State) Fighter(id string) (Fighter, bool) {
	for _, f := range s.Fighters {
		if f.ID == id {
			return f, true
		}
	}
	return Fighter{}, false
}

// Apply resolves one action by playerID. The target is always the opponent.
func Apply(s State, playerID string, action protocol.GameAction) (Outcome, State, error) {
	if s.Winner != "" {
		return Outcome{}, s, ErrGameAlreadyCompleted
	}
	if _, ok := s.Fighter(playerID); !ok {
		return Outcome{}, s, ErrUnknownPlayer
	}
	if s.Fighters[s.Turn].ID != playerID {
		return Outcome{}, s, ErrWrongTurn
	}

	next := s
	actor := &next.Fighters[s.Turn]
	target := &next.Fighters[1-s.Turn]
	actor.Defending = false

	out := Outcome{Result: protocol.ActionResult{ActingPlayerID: actor.ID}}

	switch action.Type {
	case protocol.ActionAttack:
		dmg := hit(target, AttackDamage)
		out.Result.Damage = dmg
		out.Result.TargetPlayerID = target.ID
		out.Result.TargetPlayerHealth = protocol.Int(target.Health)
		out.Line = fmt.Sprintf("%s attacks %s for %d damage.", actor.Name, target.Name, dmg)

	case protocol.ActionDefend:
		actor.Defending = true
		actor.Mana = min(actor.Mana+DefendMana, actor.Character.Mana)
		out.Result.ActingPlayerMana = protocol.Int(actor.Mana)
		out.Line = fmt.Sprintf("%s defends.", actor.Name)

	case protocol.ActionAbility:
		ab, ok := actor.Character.Ability(action.AbilityID)
		if !ok {
			return Outcome{}, s, ErrUnknownAbility
		}
		if actor.Mana < ab.ManaCost {
			return Outcome{}, s, ErrNotEnoughMana
		}
		actor.Mana -= ab.ManaCost
		out.Result.ActingPlayerMana = protocol.Int(actor.Mana)

		if ab.Healing > 0 {
			before := actor.Health
			actor.Health = min(actor.Health+ab.Healing, actor.Character.Health)
			out.Result.Healing = actor.Health - before
			out.Result.ActingPlayerHealth = protocol.Int(actor.Health)
		}
		if ab.Damage > 0 {
			out.Result.Damage = hit(target, ab.Damage)
			out.Result.TargetPlayerID = target.ID
			out.Result.TargetPlayerHealth = protocol.Int(target.Health)
		}
		out.Line = abilityLine(actor.Name, target.Name, ab, out.Result)

	default:
		return Outcome{}, s, ErrUnsupportedAction
	}

	next.TurnCount++
	if target.Health == 0 {
		next.Winner = actor.ID
		out.Winner = actor.ID
	} else {
		next.Turn = 1 - s.Turn
	}
	out.Result.Message = out.Line
	return out, next, nil
}

// hit applies damage, halved when the target is defending, and returns the
// amount dealt.
func hit(target *Fighter, dmg int) int {
	if target.Defending {
		dmg /= 2
	}
	dmg = min(dmg, target.Health)
	target.Health -= dmg
	return dmg
}

func abilityLine(actor, target string, ab protocol.Ability, r protocol.ActionResult) string {
	switch {
	case r.Damage > 0:
		return fmt.Sprintf("%s uses %s on %s for %d damage.", actor, ab.Name, target, r.Damage)
	case r.Healing > 0:
		return fmt.Sprintf("%s uses %s and heals %d.", actor, ab.Name, r.Healing)
	default:
		return fmt.Sprintf("%s uses %s.", actor, ab.Name)
	}
}
