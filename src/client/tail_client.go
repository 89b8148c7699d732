package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	hostURL    string
	token      string
	adminKey   string
	entrypoint string
)

type tailEvent struct {
	ID         string    `json:"id"`
	Entrypoint string    `json:"entrypoint"`
	Started    time.Time `json:"started"`
	DurationMs float64   `json:"duration_ms"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
}

var rootCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream entrypoint calls from a running worker host",
	Long:  `tail connects to a worker host's /__tail websocket and prints every fetch, scheduled and queue call as it completes.`,
	Args:  cobra.NoArgs,
	RunE:  runTail,
}

func init() {
	rootCmd.Flags().StringVar(&hostURL, "host", envOr("WORKER_HOST", "http://localhost:8080"), "worker host base URL")
	rootCmd.Flags().StringVar(&token, "token", os.Getenv("WORKER_TOKEN"), "admin bearer token")
	rootCmd.Flags().StringVar(&adminKey, "key", os.Getenv("ADMIN_KEY"), "admin key, exchanged for a token when --token is empty")
	rootCmd.Flags().StringVar(&entrypoint, "entrypoint", "", "only show fetch, scheduled or queue calls")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fetchToken(base, key string) (string, error) {
	body, _ := json.Marshal(map[string]string{"key": key, "subject": "tail"})
	resp, err := http.Post(base+"/__admin/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to reach host: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed: %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode token: %w", err)
	}
	return out.Token, nil
}

func tailURL(base, filter string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/__tail"
	if filter != "" {
		u.RawQuery = url.Values{"entrypoint": {filter}}.Encode()
	}
	return u.String(), nil
}

func runTail(cmd *cobra.Command, args []string) error {
	if token == "" {
		if adminKey == "" {
			return fmt.Errorf("one of --token or --key is required")
		}
		t, err := fetchToken(hostURL, adminKey)
		if err != nil {
			return err
		}
		token = t
	}

	u, err := tailURL(hostURL, entrypoint)
	if err != nil {
		return fmt.Errorf("invalid --host: %w", err)
	}
	log.Printf("Connecting to %s", u)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	c, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan error, 1)
	go func() {
		for {
			var ev tailEvent
			if err := c.ReadJSON(&ev); err != nil {
				done <- err
				return
			}
			printEvent(ev)
		}
	}()

	select {
	case err := <-done:
		return fmt.Errorf("read: %w", err)
	case <-interrupt:
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return nil
	}
}

func printEvent(ev tailEvent) {
	line := fmt.Sprintf("%s %-9s %s %8.2fms",
		ev.Started.Format("15:04:05.000"), ev.Entrypoint, ev.ID, ev.DurationMs)
	if ev.Outcome == "ok" {
		fmt.Println(color.GreenString("✓ %s", line))
		return
	}
	fmt.Println(color.RedString("✗ %s %s: %s", line, ev.Outcome, ev.Error))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
