package models

import "github.com/uptrace/bun"

// Tournament is a qualifier series. Room goal/info text and the room profile
// come from here unless overridden per race.
type Tournament struct {
	bun.BaseModel `bun:"table:tournaments,alias:t"`

	ID     int64  `bun:"id,pk,autoincrement" json:"id"`
	Name   string `bun:"name,notnull,unique" json:"name"`
	Slug   string `bun:"slug,notnull,unique" json:"slug"`
	Game   string `bun:"game,notnull" json:"game"`
	Goal   string `bun:"goal,notnull" json:"goal"`
	Active bool   `bun:"active,notnull,default:true" json:"active"`

	RoomProfile *RoomProfile `bun:"room_profile,type:jsonb" json:"roomProfile,omitempty"`
}
