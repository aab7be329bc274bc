package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/platinummonkey/accessgate/pkg/auth"
)

func newVerifyCommand() *Command {
	cmd := &Command{
		Name:        "verify",
		Description: "Verify a bearer token and print its principal",
		Flags:       flag.NewFlagSet("verify", flag.ContinueOnError),
		Run:         runVerify,
	}

	cmd.Flags.String("token", "", "Token to verify")
	cmd.Flags.String("secret", envOr("ACCESSGATE_AUTH_SECRET", ""), "HMAC signing secret")
	cmd.Flags.String("issuer", envOr("ACCESSGATE_AUTH_ISSUER", ""), "Required issuer")
	cmd.Flags.String("audience", envOr("ACCESSGATE_AUTH_AUDIENCE", ""), "Required audience")
	cmd.Flags.Duration("leeway", 0, "Clock skew allowance")

	return cmd
}

func runVerify(args []string) error {
	cmd := newVerifyCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	secret := cmd.Flags.Lookup("secret").Value.String()
	if secret == "" {
		return fmt.Errorf("secret is required (flag -secret or ACCESSGATE_AUTH_SECRET)")
	}
	leeway, err := time.ParseDuration(cmd.Flags.Lookup("leeway").Value.String())
	if err != nil {
		return fmt.Errorf("invalid leeway: %w", err)
	}

	authenticator, err := auth.NewTokenAuthenticator(auth.TokenConfig{
		Secret:   []byte(secret),
		Issuer:   cmd.Flags.Lookup("issuer").Value.String(),
		Audience: cmd.Flags.Lookup("audience").Value.String(),
		Leeway:   leeway,
	})
	if err != nil {
		return err
	}

	principal, err := authenticator.Authenticate(context.Background(), cmd.Flags.Lookup("token").Value.String())
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(principal)
}
