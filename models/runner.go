package models

import "github.com/uptrace/bun"

// Runner is a registered participant with bcrypt-hashed password.
// RacingName links the runner to their identity on the external racing
// service; nil means no account link exists.
type Runner struct {
	bun.BaseModel `bun:"table:runners,alias:ru"`

	ID         int64   `bun:"id,pk,autoincrement" json:"id"`
	Username   string  `bun:"username,notnull,unique" json:"username"`
	Password   string  `bun:"password,notnull" json:"-"`
	RacingName *string `bun:"racing_name" json:"racingName,omitempty"`
	Admin      bool    `bun:"admin,notnull,default:false" json:"admin"`
}
