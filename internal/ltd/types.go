package ltd

import (
	json "github.com/goccy/go-json"
)

// Game represents one entry of the /games response with includeDetails=true.
// Fields the collector does not use are left out; the decoder ignores them.
// Optional and required scalars are pointers so a missing key can be told apart
// from an empty value.
type Game struct {
	ID          *string     `json:"_id"`
	Version     *string     `json:"version"`
	Date        *string     `json:"date"`
	QueueType   *string     `json:"queueType"`
	VotedMode   KeyedString `json:"votedmode"`
	PlayersData []Player    `json:"playersData"`
}

// KeyedString is a string field that also records whether its key appeared in
// the payload. A key holding null is present with a nil Value.
type KeyedString struct {
	Value   *string
	Present bool
}

// Keyed returns a present KeyedString holding s.
func Keyed(s string) KeyedString {
	return KeyedString{Value: &s, Present: true}
}

func (k *KeyedString) UnmarshalJSON(data []byte) error {
	k.Present = true
	k.Value = nil
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	k.Value = &s
	return nil
}

// Player is one entry of a game's playersData.
// The per-wave slices are indexed by wave; each wave holds a list of unit codes.
// A nil slice means the key was absent from the payload.
type Player struct {
	PlayerName                 *string    `json:"playerName"`
	Legion                     *string    `json:"legion"`
	Cross                      *bool      `json:"cross"`
	BuildPerWave               [][]string `json:"buildPerWave"`
	MercenariesReceivedPerWave [][]string `json:"mercenariesReceivedPerWave"`
	LeaksPerWave               [][]string `json:"leaksPerWave"`
}

// GameID returns the game identifier or "" when absent.
func (g Game) GameID() string {
	if g.ID == nil {
		return ""
	}
	return *g.ID
}

// Name returns the player name or "" when absent.
func (p Player) Name() string {
	if p.PlayerName == nil {
		return ""
	}
	return *p.PlayerName
}
