package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func submitCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a process-next request (JSON from --file or stdin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var body []byte
			var err error
			if file != "" {
				body, err = os.ReadFile(file)
			} else {
				body, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read request: %w", err)
			}
			// Validate it is JSON before shipping it.
			var probe map[string]any
			if err := json.Unmarshal(body, &probe); err != nil {
				return fmt.Errorf("invalid request JSON: %w", err)
			}
			return post("/process/next", body)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "file containing the request JSON")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <party-id> <instance-guid>",
		Short: "Show the active job for a workflow instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return get(fmt.Sprintf("/process/instances/%s/%s/status", args[0], args[1]))
		},
	}
}

func jobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show a job with all its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return get("/process/jobs/" + args[0])
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel an active job",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return post("/process/jobs/"+args[0]+"/cancel", nil)
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show engine health flags and queue counts",
		RunE: func(*cobra.Command, []string) error {
			return get("/healthz")
		},
	}
}

func get(path string) error {
	resp, err := httpClient.Get(baseURL + path)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func post(path string, body []byte) error {
	resp, err := httpClient.Post(baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, bytes.TrimSpace(data), "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Print(string(data))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("engine returned %s", resp.Status)
	}
	return nil
}
