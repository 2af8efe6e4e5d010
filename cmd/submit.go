package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reportq/internal/domain"
)

type submitOptions struct {
	server   string
	owner    string
	kind     string
	input    string
	wait     bool
	interval time.Duration
}

func submitCmd() *cobra.Command {
	var o submitOptions

	var command = &cobra.Command{
		Use:   "submit",
		Short: "Submit a task to a running server",
		Long:  "Submit a task to a running server. --input takes inline JSON or @path to a JSON file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}

	command.Flags().StringVar(&o.server, "server", "http://localhost:8080", "Server base URL")
	command.Flags().StringVar(&o.owner, "owner", os.Getenv("USER"), "Owner sent as X-Owner")
	command.Flags().StringVar(&o.kind, "kind", string(domain.KindReportGeneration), "Task kind")
	command.Flags().StringVar(&o.input, "input", "", "Task input as JSON or @file")
	command.Flags().BoolVar(&o.wait, "wait", false, "Poll until the task is terminal")
	command.Flags().DurationVar(&o.interval, "interval", 2*time.Second, "Polling interval with --wait")
	_ = command.MarkFlagRequired("input")
	return command
}

func runSubmit(ctx context.Context, out io.Writer, o submitOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	input := []byte(o.input)
	if path, ok := strings.CutPrefix(o.input, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		input = b
	}
	if !json.Valid(input) {
		return fmt.Errorf("input is not valid JSON")
	}

	body, err := json.Marshal(map[string]any{"kind": o.kind, "input": json.RawMessage(input)})
	if err != nil {
		return err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := call(ctx, http.MethodPost, o.server+"/tasks", o.owner, body, &created); err != nil {
		return err
	}
	fmt.Fprintln(out, created.ID)
	if !o.wait {
		return nil
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		var snap domain.Snapshot
		if err := call(ctx, http.MethodGet, o.server+"/tasks/"+created.ID, o.owner, nil, &snap); err != nil {
			return err
		}
		fmt.Fprintf(out, "%-10s %3d%% %s\n", snap.Task.Status, snap.Task.Progress, snap.Task.Stage)
		if snap.Task.Status.Terminal() {
			if snap.Task.Status == domain.StatusFailed {
				return fmt.Errorf("task failed: %s", snap.Task.ErrorMessage)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func call(ctx context.Context, method, url, owner string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner", owner)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %d %s", method, url, resp.StatusCode, e.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
