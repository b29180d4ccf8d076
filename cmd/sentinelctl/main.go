// Command sentinelctl is a convenience HTTP client for a running
// sentineld instance: onboard, process_update, identity (spec.md §6's
// CLI surface). Exit codes: 0 normal, 1 config error, 2 storage error,
// 3 bind error.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	exitOK          = 0
	exitConfigError = 1
	exitStorageError = 2
	exitBindError   = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: sentinelctl <onboard|process_update|identity> [flags]")
		return exitConfigError
	}

	cmd := args[0]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	server := fs.String("server", getEnv("SENTINELCTL_SERVER", "http://localhost:8080"), "sentineld base URL")
	token := fs.String("token", os.Getenv("SENTINELCTL_TOKEN"), "bearer session token")
	agentID := fs.String("agent-id", "", "agent_id")
	apiKey := fs.String("api-key", "", "api_key")
	displayName := fs.String("display-name", "", "display name for onboard")
	modelHint := fs.String("model-hint", "", "model hint for onboard")
	responseText := fs.String("response-text", "", "response text for process_update")
	complexity := fs.Float64("complexity", 0, "complexity in [0,1] for process_update")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")

	if err := fs.Parse(args[1:]); err != nil {
		return exitConfigError
	}

	client := &http.Client{Timeout: *timeout}

	var (
		path string
		body any
		method = http.MethodPost
	)

	switch cmd {
	case "onboard":
		path = "/v1/onboard"
		body = map[string]any{"display_name": *displayName, "model_hint": *modelHint}
	case "process_update":
		path = "/v1/process_update"
		req := map[string]any{"response_text": *responseText, "complexity": *complexity}
		if *agentID != "" {
			req["agent_id"] = *agentID
		}
		if *apiKey != "" {
			req["api_key"] = *apiKey
		}
		body = req
	case "identity":
		path = "/v1/identity"
		method = http.MethodGet
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q: expected onboard|process_update|identity\n", cmd)
		return exitConfigError
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode request: %v\n", err)
			return exitConfigError
		}
		reqBody = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequest(method, *server+path, reqBody)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build request: %v\n", err)
		return exitConfigError
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if *token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+*token)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		return exitStorageError
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read response: %v\n", err)
		return exitStorageError
	}

	fmt.Println(string(respBody))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound:
		return exitBindError
	case resp.StatusCode/100 != 2:
		return exitStorageError
	}
	return exitOK
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
