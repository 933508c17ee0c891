// cmd/addrunner/main.go
// Creates or updates a runner in the database.
//
// Usage:
//
//	go run ./cmd/addrunner -username ajile -password testing -racing ajile#1234 -admin
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"

	"github.com/tcprescott/sahabot2/config"
	bundb "github.com/tcprescott/sahabot2/db"
	"github.com/tcprescott/sahabot2/models"
)

func main() {
	username := flag.String("username", "", "username (required)")
	password := flag.String("password", "", "plain-text password (required)")
	racing := flag.String("racing", "", "racing-service account name (optional)")
	admin := flag.Bool("admin", false, "grant admin rights")
	flag.Parse()

	if *username == "" || *password == "" {
		log.Fatal("both -username and -password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal("bcrypt:", err)
	}

	cfg := config.Load()
	db := bundb.Setup(cfg)
	defer db.Close()

	runner := &models.Runner{
		Username: *username,
		Password: string(hash),
		Admin:    *admin,
	}
	if *racing != "" {
		runner.RacingName = racing
	}

	_, err = db.NewInsert().Model(runner).
		On("CONFLICT (username) DO UPDATE SET password = EXCLUDED.password, racing_name = EXCLUDED.racing_name, admin = EXCLUDED.admin").
		Exec(context.Background())
	if err != nil {
		log.Fatal("insert runner:", err)
	}

	fmt.Printf("runner %q saved\n", *username)
}
