package domain

import "time"

// PlayerStatus is the lifecycle status of a player account
type PlayerStatus string

const (
	PlayerStatusActive   PlayerStatus = "active"
	PlayerStatusInactive PlayerStatus = "inactive"
	PlayerStatusBanned   PlayerStatus = "banned"
)

// Defaults applied to fields omitted on create
const (
	DefaultLevel = 1
)

// Player is the durable player record. games_won <= games_played is not
// enforced.
type Player struct {
	ID          string       `json:"id"`
	Username    string       `json:"username"`
	TotalScore  int64        `json:"total_score"`
	Level       int          `json:"level"`
	GamesPlayed int          `json:"games_played"`
	GamesWon    int          `json:"games_won"`
	Status      PlayerStatus `json:"status"`
	AvatarURL   *string      `json:"avatar_url"`
	Country     *string      `json:"country"`
	LastPlayed  *time.Time   `json:"last_played"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// PlayerInput carries the fields accepted when creating a player
type PlayerInput struct {
	Username    string       `json:"username" validate:"required,max=64"`
	TotalScore  *int64       `json:"total_score,omitempty" validate:"omitempty,min=0"`
	Level       *int         `json:"level,omitempty" validate:"omitempty,min=1"`
	GamesPlayed *int         `json:"games_played,omitempty" validate:"omitempty,min=0"`
	GamesWon    *int         `json:"games_won,omitempty" validate:"omitempty,min=0"`
	Status      PlayerStatus `json:"status,omitempty" validate:"omitempty,oneof=active inactive banned"`
	AvatarURL   *string      `json:"avatar_url,omitempty" validate:"omitempty,url"`
	Country     *string      `json:"country,omitempty" validate:"omitempty,max=64"`
	LastPlayed  *time.Time   `json:"last_played,omitempty"`
}

// ToPlayer builds a new player record with defaults for omitted fields
func (in *PlayerInput) ToPlayer(id string, now time.Time) Player {
	p := Player{
		ID:         id,
		Username:   in.Username,
		Level:      DefaultLevel,
		Status:     PlayerStatusActive,
		AvatarURL:  in.AvatarURL,
		Country:    in.Country,
		LastPlayed: in.LastPlayed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.TotalScore != nil {
		p.TotalScore = *in.TotalScore
	}
	if in.Level != nil {
		p.Level = *in.Level
	}
	if in.GamesPlayed != nil {
		p.GamesPlayed = *in.GamesPlayed
	}
	if in.GamesWon != nil {
		p.GamesWon = *in.GamesWon
	}
	if in.Status != "" {
		p.Status = in.Status
	}
	return p
}

// PlayerPatch is a partial update. Nil fields are left unchanged; the
// username cannot be changed after creation.
type PlayerPatch struct {
	TotalScore  *int64        `json:"total_score,omitempty" validate:"omitempty,min=0"`
	Level       *int          `json:"level,omitempty" validate:"omitempty,min=1"`
	GamesPlayed *int          `json:"games_played,omitempty" validate:"omitempty,min=0"`
	GamesWon    *int          `json:"games_won,omitempty" validate:"omitempty,min=0"`
	Status      *PlayerStatus `json:"status,omitempty" validate:"omitempty,oneof=active inactive banned"`
	AvatarURL   *string       `json:"avatar_url,omitempty" validate:"omitempty,url"`
	Country     *string       `json:"country,omitempty" validate:"omitempty,max=64"`
	LastPlayed  *time.Time    `json:"last_played,omitempty"`
}

// Apply returns a copy of p with the patch applied
func (pt *PlayerPatch) Apply(p Player, now time.Time) Player {
	if pt.TotalScore != nil {
		p.TotalScore = *pt.TotalScore
	}
	if pt.Level != nil {
		p.Level = *pt.Level
	}
	if pt.GamesPlayed != nil {
		p.GamesPlayed = *pt.GamesPlayed
	}
	if pt.GamesWon != nil {
		p.GamesWon = *pt.GamesWon
	}
	if pt.Status != nil {
		p.Status = *pt.Status
	}
	if pt.AvatarURL != nil {
		p.AvatarURL = pt.AvatarURL
	}
	if pt.Country != nil {
		p.Country = pt.Country
	}
	if pt.LastPlayed != nil {
		p.LastPlayed = pt.LastPlayed
	}
	p.UpdatedAt = now
	return p
}

// ScoreUpdate is a score event received from the message bus. The player is
// addressed by ID, or by username when ID is empty.
type ScoreUpdate struct {
	PlayerID    string     `json:"player_id,omitempty"`
	Username    string     `json:"username,omitempty"`
	TotalScore  *int64     `json:"total_score,omitempty"`
	Level       *int       `json:"level,omitempty"`
	GamesPlayed *int       `json:"games_played,omitempty"`
	GamesWon    *int       `json:"games_won,omitempty"`
	LastPlayed  *time.Time `json:"last_played,omitempty"`
}

// Patch converts the update into a player patch
func (u *ScoreUpdate) Patch() PlayerPatch {
	return PlayerPatch{
		TotalScore:  u.TotalScore,
		Level:       u.Level,
		GamesPlayed: u.GamesPlayed,
		GamesWon:    u.GamesWon,
		LastPlayed:  u.LastPlayed,
	}
}

// PlayerEventType names a player mutation pushed to live subscribers
type PlayerEventType string

const (
	PlayerCreated PlayerEventType = "player_created"
	PlayerUpdated PlayerEventType = "player_updated"
	PlayerDeleted PlayerEventType = "player_deleted"
)

// PlayerEvent describes a committed player mutation
type PlayerEvent struct {
	Type     PlayerEventType `json:"type"`
	PlayerID string          `json:"player_id"`
	Player   *Player         `json:"player,omitempty"`
}
