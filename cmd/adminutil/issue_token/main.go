package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/sudo-init-do/moverspay/internal/config"
	"github.com/sudo-init-do/moverspay/internal/middleware"
	"github.com/sudo-init-do/moverspay/internal/utils"
)

func main() {
	id := flag.String("id", "", "Account id to put in the token")
	role := flag.String("role", middleware.RoleUser, "Role claim: user, driver or admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	if *id == "" {
		log.Fatalf("usage: go run ./cmd/adminutil/issue_token -id <account id> -role driver")
	}
	switch *role {
	case middleware.RoleUser, middleware.RoleDriver, middleware.RoleAdmin:
	default:
		log.Fatalf("unknown role: %s", *role)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	token, err := utils.IssueToken([]byte(cfg.JWT.Secret), *id, *role, *ttl)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
}
