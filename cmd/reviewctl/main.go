// reviewctl is a thin client for the review API: list pending tickets and
// resolve them from the terminal.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

type ticket struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Reasons    []entity.Reason `json:"reasons"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

func main() {
	_ = godotenv.Load()

	baseURL := flag.String("api", envOr("REVIEW_API_URL", "http://localhost:8080"), "pipeline API base URL")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	client := &http.Client{Timeout: 15 * time.Second}

	var err error
	switch args[0] {
	case "list":
		err = listTickets(client, *baseURL)
	case "approve":
		err = resolve(client, *baseURL, args[1:], "APPROVE")
	case "discard":
		err = resolve(client, *baseURL, args[1:], "DISCARD")
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  reviewctl list
  reviewctl approve <ticket-id> -by <name> [-fields <json-file>]
  reviewctl discard <ticket-id> -by <name>`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func listTickets(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/api/v1/review/tickets")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return httpError(resp)
	}

	var tickets []ticket
	if err := json.NewDecoder(resp.Body).Decode(&tickets); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TICKET\tDOCUMENT\tAGE\tREASONS")
	for _, t := range tickets {
		reasons := ""
		for i, r := range t.Reasons {
			if i > 0 {
				reasons += "; "
			}
			reasons += r.Rule
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.ID, t.DocumentID, time.Since(t.CreatedAt).Round(time.Minute), reasons)
	}
	return w.Flush()
}

func resolve(client *http.Client, baseURL string, args []string, disposition string) error {
	fs := flag.NewFlagSet(disposition, flag.ExitOnError)
	by := fs.String("by", "", "reviewer name (required)")
	fieldsPath := fs.String("fields", "", "JSON file with corrected fields (APPROVE only)")
	if len(args) == 0 {
		return fmt.Errorf("ticket id is required")
	}
	ticketID := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *by == "" {
		return fmt.Errorf("-by is required")
	}

	body := map[string]any{
		"disposition": disposition,
		"resolved_by": *by,
	}
	if disposition == "APPROVE" {
		if *fieldsPath == "" {
			return fmt.Errorf("-fields is required for approve")
		}
		raw, err := os.ReadFile(*fieldsPath)
		if err != nil {
			return err
		}
		var fields entity.Fields
		if err := json.Unmarshal(raw, &fields); err != nil {
			return fmt.Errorf("parse fields file: %w", err)
		}
		body["corrected_fields"] = &fields
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := client.Post(
		fmt.Sprintf("%s/api/v1/review/tickets/%s/resolve", baseURL, ticketID),
		"application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return httpError(resp)
	}

	fmt.Printf("ticket %s resolved (%s)\n", ticketID, disposition)
	return nil
}

func httpError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(msg))
}
