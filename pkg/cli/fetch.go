package cli

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/clientcredentials"
)

func newFetchCommand() *Command {
	cmd := &Command{
		Name:        "fetch",
		Description: "Obtain a token from an identity provider with the client credentials grant",
		Flags:       flag.NewFlagSet("fetch", flag.ContinueOnError),
		Run:         runFetch,
	}

	cmd.Flags.String("token-url", envOr("ACCESSGATE_OIDC_TOKEN_URL", ""), "Provider token endpoint")
	cmd.Flags.String("client-id", envOr("ACCESSGATE_OIDC_CLIENT_ID", ""), "OAuth2 client id")
	cmd.Flags.String("client-secret", envOr("ACCESSGATE_OIDC_CLIENT_SECRET", ""), "OAuth2 client secret")
	cmd.Flags.String("scopes", "openid", "Comma-separated scopes")
	cmd.Flags.String("audience", "", "Audience parameter sent to the provider")
	cmd.Flags.Bool("id-token", false, "Print the id_token instead of the access token")
	cmd.Flags.Duration("timeout", 10*time.Second, "Request timeout")

	return cmd
}

func runFetch(args []string) error {
	cmd := newFetchCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	tokenURL := cmd.Flags.Lookup("token-url").Value.String()
	clientID := cmd.Flags.Lookup("client-id").Value.String()
	if tokenURL == "" || clientID == "" {
		return fmt.Errorf("token-url and client-id are required")
	}
	timeout, err := time.ParseDuration(cmd.Flags.Lookup("timeout").Value.String())
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}

	config := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: cmd.Flags.Lookup("client-secret").Value.String(),
		TokenURL:     tokenURL,
		Scopes:       splitList(cmd.Flags.Lookup("scopes").Value.String()),
	}
	if audience := cmd.Flags.Lookup("audience").Value.String(); audience != "" {
		config.EndpointParams = url.Values{"audience": {audience}}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	token, err := config.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch token: %w", err)
	}

	log.WithFields(logrus.Fields{
		"client_id": clientID,
		"expiry":    token.Expiry,
	}).Info("Fetched token")

	if cmd.Flags.Lookup("id-token").Value.String() == "true" {
		idToken, ok := token.Extra("id_token").(string)
		if !ok || idToken == "" {
			return fmt.Errorf("provider response has no id_token")
		}
		fmt.Fprintln(out, idToken)
		return nil
	}

	fmt.Fprintln(out, token.AccessToken)
	return nil
}
