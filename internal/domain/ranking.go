package domain

import "strings"

// RankEntry is one (player, score) pair held by the rank index
type RankEntry struct {
	Rank     int64  `json:"rank"`
	PlayerID string `json:"player_id"`
	Score    int64  `json:"score"`
}

// SortKey is a player attribute the admin listing can be ordered by
type SortKey string

const (
	SortByCreatedAt  SortKey = "created_at"
	SortByTotalScore SortKey = "total_score"
	SortByLastPlayed SortKey = "last_played"
	SortByLevel      SortKey = "level"
	SortByUsername   SortKey = "username"
)

// DefaultSortKey is used whenever a requested key is not sortable
const DefaultSortKey = SortByCreatedAt

var sortableKeys = map[SortKey]struct{}{
	SortByCreatedAt:  {},
	SortByTotalScore: {},
	SortByLastPlayed: {},
	SortByLevel:      {},
	SortByUsername:   {},
}

// PlayerSort is a validated ordering for the admin listing
type PlayerSort struct {
	Key  SortKey
	Desc bool
}

// DefaultPlayerSort is newest players first
var DefaultPlayerSort = PlayerSort{Key: DefaultSortKey, Desc: true}

// NewPlayerSort maps key onto the allow-list, falling back to created_at
func NewPlayerSort(key string, desc bool) PlayerSort {
	k := SortKey(key)
	if _, ok := sortableKeys[k]; !ok {
		k = DefaultSortKey
	}
	return PlayerSort{Key: k, Desc: desc}
}

// ParseSort parses "-total_score" style parameters. A leading minus means
// descending; an empty value yields DefaultPlayerSort.
func ParseSort(param string) PlayerSort {
	param = strings.TrimSpace(param)
	if param == "" {
		return DefaultPlayerSort
	}
	desc := strings.HasPrefix(param, "-")
	return NewPlayerSort(strings.TrimPrefix(param, "-"), desc)
}

// String renders the sort in the same form ParseSort accepts
func (s PlayerSort) String() string {
	if s.Desc {
		return "-" + string(s.Key)
	}
	return string(s.Key)
}
