package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

func newWhoamiCommand() *Command {
	cmd := &Command{
		Name:        "whoami",
		Description: "Show the principal, roles and permissions the gateway resolves for a token",
		Flags:       flag.NewFlagSet("whoami", flag.ContinueOnError),
		Run:         runWhoami,
	}

	cmd.Flags.String("server", envOr("ACCESSGATE_URL", "http://localhost:8080"), "Gateway URL")
	cmd.Flags.String("token", envOr("ACCESSGATE_TOKEN", ""), "Bearer token")
	cmd.Flags.Duration("timeout", 10*time.Second, "Request timeout")

	return cmd
}

func runWhoami(args []string) error {
	cmd := newWhoamiCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	server := strings.TrimRight(cmd.Flags.Lookup("server").Value.String(), "/")
	token := cmd.Flags.Lookup("token").Value.String()
	timeout, err := time.ParseDuration(cmd.Flags.Lookup("timeout").Value.String())
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if token == "" {
		return fmt.Errorf("token is required (flag -token or ACCESSGATE_TOKEN)")
	}

	req, err := http.NewRequest(http.MethodGet, server+"/api/v1/me", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	log.WithField("server", server).Debug("Resolved principal")
	_, err = out.Write(body)
	return err
}
