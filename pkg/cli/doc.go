// Package cli implements the accessgate-token command-line tool.
//
// # Commands
//
// issue: mint an HS256 token the gateway accepts
//
//	accessgate-token issue \
//		-subject U1 \
//		-roles billing \
//		-ttl 1h
//
// verify: check a token against the gateway's verification rules and print
// the resulting principal
//
//	accessgate-token verify -token "$TOKEN"
//
// whoami: ask a running gateway which roles and permissions it resolves for
// a token
//
//	accessgate-token whoami -server http://localhost:8080 -token "$TOKEN"
//
// fetch: obtain a token from an OIDC provider with the client credentials
// grant, for gateways configured with an OIDC issuer
//
//	accessgate-token fetch \
//		-token-url https://idp.example.com/oauth/token \
//		-client-id gateway-cli \
//		-id-token
//
// The signing secret, issuer and audience default to the same
// ACCESSGATE_AUTH_* variables the server reads. Results are written to
// stdout and diagnostics to stderr.
package cli
