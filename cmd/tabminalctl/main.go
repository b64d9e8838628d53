// tabminalctl is a thin REST client for a running tabminald instance:
// list, create, and remove sessions, and push a resize.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Version is set at build time via ldflags.
var Version = "dev"

type sessionSummary struct {
	ID         string `json:"id"`
	Shell      string `json:"shell"`
	Cwd        string `json:"cwd"`
	Title      string `json:"title"`
	Cols       uint16 `json:"cols"`
	Rows       uint16 `json:"rows"`
	Executions int    `json:"executions"`
}

type heartbeatResponse struct {
	Sessions []sessionSummary `json:"sessions"`
}

func main() {
	var daemonURL string

	rootCmd := &cobra.Command{
		Use:     "tabminalctl",
		Short:   "Control a running tabminald instance",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVar(&daemonURL, "daemon", "http://localhost:4590", "tabminald base URL")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(daemonURL)
		},
	}
	rootCmd.AddCommand(listCmd)

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(daemonURL)
		},
	}
	rootCmd.AddCommand(createCmd)

	rmCmd := &cobra.Command{
		Use:   "rm <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(daemonURL, args[0])
		},
	}
	rootCmd.AddCommand(rmCmd)

	var resizeCols, resizeRows int
	resizeCmd := &cobra.Command{
		Use:   "resize",
		Short: "Push the local terminal's size to tabminald (resizes every session)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cols, rows := resizeCols, resizeRows
			if cols == 0 || rows == 0 {
				w, h, err := term.GetSize(int(os.Stdout.Fd()))
				if err != nil {
					return fmt.Errorf("could not detect terminal size, pass --cols/--rows: %w", err)
				}
				cols, rows = w, h
			}
			return runResize(daemonURL, cols, rows)
		},
	}
	resizeCmd.Flags().IntVar(&resizeCols, "cols", 0, "columns (defaults to local terminal width)")
	resizeCmd.Flags().IntVar(&resizeRows, "rows", 0, "rows (defaults to local terminal height)")
	rootCmd.AddCommand(resizeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runList(daemonURL string) error {
	resp, err := http.Get(daemonURL + "/api/heartbeat")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var out heartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if len(out.Sessions) == 0 {
		fmt.Println("no active sessions")
		return nil
	}
	for _, s := range out.Sessions {
		fmt.Printf("%s\t%s\t%s\t%dx%d\t%d executions\n", s.ID, s.Title, s.Cwd, s.Cols, s.Rows, s.Executions)
	}
	return nil
}

func runCreate(daemonURL string) error {
	resp, err := http.Post(daemonURL+"/api/sessions", "application/json", bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var s sessionSummary
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Println(s.ID)
	return nil
}

func runDelete(daemonURL, id string) error {
	req, err := http.NewRequest(http.MethodDelete, daemonURL+"/api/sessions/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("session not found: %s", id)
	}
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	fmt.Printf("deleted %s\n", id)
	return nil
}

type resizeMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// runResize briefly attaches to any one session's WS channel and sends
// a resize frame. Every session shares one geometry (spec.md's global
// resize coupling), so resizing through any single session resizes
// them all.
func runResize(daemonURL string, cols, rows int) error {
	resp, err := http.Get(daemonURL + "/api/heartbeat")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var out heartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(out.Sessions) == 0 {
		return fmt.Errorf("no active sessions to resize")
	}

	wsURL := "ws" + strings.TrimPrefix(daemonURL, "http") + "/ws/" + out.Sessions[0].ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial attach channel: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(resizeMessage{Type: "resize", Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("send resize: %w", err)
	}
	fmt.Printf("resized to %dx%d\n", cols, rows)
	return nil
}
