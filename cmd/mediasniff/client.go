package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/mediasniff/internal/headerrules"
)

var apiClient = &http.Client{Timeout: 10 * time.Second}

func tabFlag() cli.Flag {
	return &cli.IntFlag{Name: "tab", Aliases: []string{"t"}, Required: true, Usage: "Tab id"}
}

func showCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Print a tab's ranked captured media",
		Flags: []cli.Flag{tabFlag()},
		Action: func(c *cli.Context) error {
			return callAPI(c.Context, out, http.MethodGet, apiURL(c, fmt.Sprintf("/api/v1/tabs/%d/media", c.Int("tab"))))
		},
	}
}

func clearCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Drop a tab's captured media",
		Flags: []cli.Flag{tabFlag()},
		Action: func(c *cli.Context) error {
			return callAPI(c.Context, out, http.MethodDelete, apiURL(c, fmt.Sprintf("/api/v1/tabs/%d/media", c.Int("tab"))))
		},
	}
}

func tabsCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "tabs",
		Usage: "List attached tabs and their capture counts",
		Action: func(c *cli.Context) error {
			return callAPI(c.Context, out, http.MethodGet, apiURL(c, "/api/v1/tabs"))
		},
	}
}

func rulesCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "Print the effective header rewrite rules as YAML",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, EnvVars: []string{"MEDIASNIFF_HEADER_RULES_FILE"}, Usage: "Rules file replacing the built-in set"},
		},
		Action: func(c *cli.Context) error {
			set, err := loadRules(c.String("file"))
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(struct {
				Rules []headerrules.Rule `yaml:"rules"`
			}{set.Rules()})
		},
	}
}

func apiURL(c *cli.Context, path string) string {
	return strings.TrimRight(c.String("api"), "/") + path
}

// callAPI performs one request and re-indents the JSON reply onto out.
func callAPI(ctx context.Context, out io.Writer, method, url string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	resp, err := apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("is mediasniff serve running? %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, url, resp.Status, strings.TrimSpace(string(body)))
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		_, err = out.Write(body)
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
