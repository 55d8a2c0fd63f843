package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/tabcast/relay/internal/app"
	"github.com/tabcast/relay/internal/client"
)

func main() {
	root := &cli.Command{
		Name:  "tabcast-top",
		Usage: "Terminal dashboard for a tabcast relay",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "WebSocket URL of the relay",
				Value:   "ws://127.0.0.1:8080/ws",
				Sources: cli.EnvVars("TABCAST_URL"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			wsURL := cmd.String("url")
			httpBase, err := deriveHTTPBase(wsURL)
			if err != nil {
				return err
			}

			m := app.New(client.NewWSClient(wsURL), client.NewHTTPClient(httpBase), wsURL)
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
			_, err = p.Run()
			return err
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

// deriveHTTPBase converts ws://host:port/ws to http://host:port.
func deriveHTTPBase(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse --url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("--url %q has no host", wsURL)
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") || u.Scheme == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host), nil
}
