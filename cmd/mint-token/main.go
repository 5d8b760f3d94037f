package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/nextmed-labs/trustledger/internal/authz"
	"github.com/nextmed-labs/trustledger/pkg/auth"
	"github.com/nextmed-labs/trustledger/pkg/config"
	"github.com/nextmed-labs/trustledger/pkg/enums"
)

// mint-token prints a bearer token for an ops or audit caller, signed with TRUSTLEDGER_JWT_SECRET.
func main() {
	_ = godotenv.Load()

	role := flag.String("role", string(enums.RoleOperator), "caller role")
	scopes := flag.String("scopes", "", "comma-separated extra scopes")
	subject := flag.String("subject", "", "token subject (defaults to role)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}
	parsed, err := enums.ParseRole(*role)
	if err != nil {
		fail(err)
	}

	token, err := auth.MintAccessToken(cfg.Auth, time.Now(), auth.AccessTokenPayload{
		Subject: *subject,
		Role:    parsed,
		Scopes:  authz.ParseScopes(*scopes),
	})
	if err != nil {
		fail(err)
	}
	fmt.Println(token)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "mint-token: %v\n", err)
	os.Exit(1)
}
