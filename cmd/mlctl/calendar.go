package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/micrologger/internal/auth"
	"github.com/fyrsmithlabs/micrologger/internal/logbook"
)

// passwordEnv supplies the password for commands that sign in.
const passwordEnv = "MICROLOGGER_PASSWORD"

var calendarUser string

func init() {
	calendarCmd.Flags().StringVarP(&calendarUser, "user", "u", "", "username to sign in with (required)")
	_ = calendarCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(calendarCmd)
}

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Show incubation readings due in the next seven days",
	Long: `Sign in to the server and print the incubation calendar.

The password is read from $MICROLOGGER_PASSWORD, or from the first line of
stdin when the variable is unset.

Examples:
  MICROLOGGER_PASSWORD=secret mlctl calendar -u maria
  echo secret | mlctl calendar -u maria --server http://lab-pc:8080`,
	RunE: runCalendar,
}

func runCalendar(cmd *cobra.Command, args []string) error {
	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return err
	}
	c, err := newSessionClient(serverURL)
	if err != nil {
		return err
	}
	if err := c.login(calendarUser, password); err != nil {
		return err
	}

	var cal logbook.CalendarView
	if err := c.getJSON("/api/v1/calendar", &cal); err != nil {
		return err
	}
	printCalendar(cmd, cal)
	return nil
}

func printCalendar(cmd *cobra.Command, cal logbook.CalendarView) {
	if cal.Total() == 0 {
		cmd.Println("No readings due in the next seven days.")
		return
	}
	for _, d := range cal.Days {
		events := cal.Events[d.Key]
		if len(events) == 0 {
			continue
		}
		cmd.Printf("%s\n", d.Label)
		for _, ev := range events {
			cmd.Printf("  %s  %s (%s)  %s\n", ev.DueAt.Format("15:04"), ev.TableName, ev.TableDate, ev.ProfileLabel)
		}
	}
}

// readPassword prefers the environment and falls back to one line of in.
func readPassword(in io.Reader) (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("no password: set %s or pipe it on stdin", passwordEnv)
	}
	return pw, nil
}

// sessionClient signs in like a browser: it keeps the session cookie and
// echoes the CSRF token the server hands out.
type sessionClient struct {
	base string
	http *http.Client
	csrf string
}

func newSessionClient(base string) (*sessionClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &sessionClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Jar:     jar,
			Timeout: 15 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

func (c *sessionClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", req.URL, err)
	}
	if tok := resp.Header.Get(auth.CSRFHeader); tok != "" {
		c.csrf = tok
	}
	return resp, nil
}

func (c *sessionClient) login(username, password string) error {
	req, err := http.NewRequest(http.MethodGet, c.base+"/login", nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()

	form := url.Values{
		auth.CSRFField: {c.csrf},
		"username":     {username},
		"password":     {password},
	}
	req, err = http.NewRequest(http.MethodPost, c.base+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err = c.do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		return fmt.Errorf("sign in failed (status %d)", resp.StatusCode)
	}
	return nil
}

func (c *sessionClient) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
