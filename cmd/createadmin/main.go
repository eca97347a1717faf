// Command createadmin provisions an admin account. Admin users are never
// created through the public registration endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/agora/forum-chat/internal/auth"
	"github.com/agora/forum-chat/internal/store"
)

func main() {
	email := flag.String("email", "", "admin email address")
	password := flag.String("password", "", "admin password (min 8 characters)")
	flag.Parse()

	if *email == "" || len(*password) < 8 {
		flag.Usage()
		os.Exit(2)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	st, err := store.Open(dsn)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	defer st.Close()

	if err := store.Migrate(st.DB()); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, err := st.CreateUser(ctx, *email, string(hash), auth.RoleAdmin)
	if err != nil {
		log.Fatalf("failed to create admin: %v", err)
	}

	log.Printf("admin created: id=%d email=%s", id, *email)
}
