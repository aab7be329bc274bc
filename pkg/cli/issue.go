package cli

import (
	"flag"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/accessgate/pkg/auth"
)

func newIssueCommand() *Command {
	cmd := &Command{
		Name:        "issue",
		Description: "Mint a signed bearer token for a subject",
		Flags:       flag.NewFlagSet("issue", flag.ContinueOnError),
		Run:         runIssue,
	}

	cmd.Flags.String("subject", "", "Token subject (user id)")
	cmd.Flags.String("name", "", "Display name claim")
	cmd.Flags.String("email", "", "Email claim")
	cmd.Flags.String("roles", "", "Comma-separated role names")
	cmd.Flags.Duration("ttl", time.Hour, "Token lifetime")
	cmd.Flags.String("secret", envOr("ACCESSGATE_AUTH_SECRET", ""), "HMAC signing secret")
	cmd.Flags.String("issuer", envOr("ACCESSGATE_AUTH_ISSUER", ""), "Issuer claim")
	cmd.Flags.String("audience", envOr("ACCESSGATE_AUTH_AUDIENCE", ""), "Audience claim")

	return cmd
}

func runIssue(args []string) error {
	cmd := newIssueCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	subject := cmd.Flags.Lookup("subject").Value.String()
	secret := cmd.Flags.Lookup("secret").Value.String()
	ttl, err := time.ParseDuration(cmd.Flags.Lookup("ttl").Value.String())
	if err != nil {
		return fmt.Errorf("invalid ttl: %w", err)
	}

	if subject == "" {
		return fmt.Errorf("subject is required")
	}
	if secret == "" {
		return fmt.Errorf("secret is required (flag -secret or ACCESSGATE_AUTH_SECRET)")
	}

	issuer, err := auth.NewIssuer(auth.TokenConfig{
		Secret:   []byte(secret),
		Issuer:   cmd.Flags.Lookup("issuer").Value.String(),
		Audience: cmd.Flags.Lookup("audience").Value.String(),
	})
	if err != nil {
		return err
	}

	roles := splitList(cmd.Flags.Lookup("roles").Value.String())
	token, err := issuer.Issue(auth.Principal{
		Subject: subject,
		Name:    cmd.Flags.Lookup("name").Value.String(),
		Email:   cmd.Flags.Lookup("email").Value.String(),
		Roles:   roles,
	}, ttl)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	log.WithFields(logrus.Fields{
		"subject": subject,
		"roles":   roles,
		"ttl":     ttl.String(),
	}).Info("Issued token")

	fmt.Fprintln(out, token)
	return nil
}
