package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultServer = "http://localhost:8080"
)

type cliConfig struct {
	server     string
	jsonOutput bool
}

func main() {
	cfg, command, args, err := parseArgs(os.Args[1:])
	if errors.Is(err, errShowUsage) {
		printUsage()
		if len(os.Args) == 1 {
			os.Exit(1)
		}
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	client := NewAPIClient(cfg.server)
	ctx := context.Background()
	in := bufio.NewReader(os.Stdin)

	switch command {
	case "challenge":
		err = runChallenge(ctx, client, cfg, args)
	case "login":
		err = runLogin(ctx, client, cfg, in, args)
	case "logout":
		err = runLogout(ctx, client, args)
	case "whoami":
		err = runWhoami(ctx, client, cfg, args)
	case "touch":
		err = runTouch(ctx, client, args)
	case "passwd":
		err = runPasswd(ctx, client, in, args)
	case "reset":
		err = runReset(ctx, client, cfg, args)
	case "activity":
		err = runActivity(ctx, client, cfg, args)
	case "can":
		err = runCan(ctx, client, cfg, args)
	case "version":
		fmt.Printf("portalctl %s (commit: %s, built: %s)\n", version, commit, date)
		return
	case "help":
		printUsage()
	default:
		err = fmt.Errorf("unknown command: %s", command)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var errShowUsage = errors.New("show usage")

func parseArgs(args []string) (cliConfig, string, []string, error) {
	cfg := cliConfig{server: defaultServer}
	if v := os.Getenv("BNR_PORTAL_URL"); v != "" {
		cfg.server = v
	}

	idx := 0
	for idx < len(args) {
		arg := args[idx]
		if !strings.HasPrefix(arg, "-") {
			break
		}
		switch arg {
		case "--help", "-h":
			return cfg, "", nil, errShowUsage
		case "--server", "-s":
			if idx+1 >= len(args) {
				return cfg, "", nil, fmt.Errorf("--server requires a value")
			}
			cfg.server = args[idx+1]
			idx += 2
		case "--json":
			cfg.jsonOutput = true
			idx++
		default:
			return cfg, "", nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}

	if idx >= len(args) {
		return cfg, "", nil, errShowUsage
	}
	return cfg, args[idx], args[idx+1:], nil
}

// parseFlags splits "--name value" pairs listed in allowed from positional args.
func parseFlags(args []string, allowed ...string) (map[string]string, []string, error) {
	flags := make(map[string]string)
	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}
		name := strings.TrimPrefix(arg, "--")
		known := false
		for _, a := range allowed {
			if a == name {
				known = true
				break
			}
		}
		if !known {
			return nil, nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if i+1 >= len(args) {
			return nil, nil, fmt.Errorf("%s requires a value", arg)
		}
		flags[name] = args[i+1]
		i++
	}
	return flags, positional, nil
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.TrimSpace(label), ":"), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printUsage() {
	fmt.Print(`Usage: portalctl [--server <url>] [--json] <command>

Commands:
  challenge                         Request a human-verification question
  login <username> [--password <p>] [--institution <bank>] [--answer <n>]
                                    Log in (prompts for missing values)
  logout                            End the current session
  whoami                            Show the current session
  touch [pointer|key|click]         Report user activity (default click)
  passwd [--old <p>] [--new <p>]    Change the current user's password
  reset <username>                  Reset a user's password (admin)
  activity [--limit <n>]            Show the activity log
  can [--role <r>] [--permission <p>]
                                    Check the session's role/permission
  version                           Print version information
`)
}

func runChallenge(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("usage: portalctl challenge")
	}
	q, err := client.Challenge(ctx)
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		return PrintJSON(os.Stdout, map[string]string{"question": q})
	}
	fmt.Println(q)
	return nil
}

func runLogin(ctx context.Context, client *APIClient, cfg cliConfig, in *bufio.Reader, args []string) error {
	flags, pos, err := parseFlags(args, "password", "institution", "answer")
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return fmt.Errorf("usage: portalctl login <username> [--password <p>] [--institution <bank>] [--answer <n>]")
	}

	password := flags["password"]
	if password == "" {
		if password, err = prompt(in, os.Stderr, "Password: "); err != nil {
			return err
		}
	}

	answer := flags["answer"]
	if answer == "" {
		question, err := client.Challenge(ctx)
		if err != nil {
			return err
		}
		if answer, err = prompt(in, os.Stderr, question+" "); err != nil {
			return err
		}
	}

	status, err := client.Login(ctx, LoginPayload{
		Username:    pos[0],
		Password:    password,
		Institution: flags["institution"],
		Challenge:   strings.TrimSpace(answer),
	})
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		return PrintJSON(os.Stdout, status)
	}
	printSession(os.Stdout, status)
	return nil
}

func runLogout(ctx context.Context, client *APIClient, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("usage: portalctl logout")
	}
	if err := client.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Logged out")
	return nil
}

func runWhoami(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("usage: portalctl whoami")
	}
	status, err := client.Session(ctx)
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		return PrintJSON(os.Stdout, status)
	}
	printSession(os.Stdout, status)
	return nil
}

func printSession(out io.Writer, status *SessionStatus) {
	fmt.Fprintf(out, "State: %s\n", ColorState(status.State))
	if status.Session == nil {
		fmt.Fprintf(out, "Failed Attempts: %d\n", status.FailedAttempts)
		return
	}
	s := status.Session
	fmt.Fprintf(out, "User: %s (%s)\n", s.Username, s.DisplayName)
	fmt.Fprintf(out, "Role: %s\n", s.Role)
	if s.Institution != "" {
		fmt.Fprintf(out, "Bank: %s\n", s.Institution)
	}
	if len(s.Identity.Permissions) > 0 {
		fmt.Fprintf(out, "Permissions: %s\n", strings.Join(s.Identity.Permissions, ", "))
	}
	fmt.Fprintf(out, "Session: %s\n", s.ID)
	fmt.Fprintf(out, "Logged In: %s\n", FormatTimeOrDash(s.CreatedAt))
	fmt.Fprintf(out, "Last Activity: %s\n", FormatTimeOrDash(s.LastActivity))
}

func runTouch(ctx context.Context, client *APIClient, args []string) error {
	kind := "click"
	switch len(args) {
	case 0:
	case 1:
		kind = args[0]
	default:
		return fmt.Errorf("usage: portalctl touch [pointer|key|click]")
	}
	return client.Touch(ctx, kind)
}

func runPasswd(ctx context.Context, client *APIClient, in *bufio.Reader, args []string) error {
	flags, pos, err := parseFlags(args, "old", "new")
	if err != nil {
		return err
	}
	if len(pos) != 0 {
		return fmt.Errorf("usage: portalctl passwd [--old <p>] [--new <p>]")
	}
	oldPassword, newPassword := flags["old"], flags["new"]
	if oldPassword == "" {
		if oldPassword, err = prompt(in, os.Stderr, "Current password: "); err != nil {
			return err
		}
	}
	if newPassword == "" {
		if newPassword, err = prompt(in, os.Stderr, "New password: "); err != nil {
			return err
		}
	}
	if err := client.ChangePassword(ctx, oldPassword, newPassword); err != nil {
		return err
	}
	fmt.Println("Password changed")
	return nil
}

func runReset(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: portalctl reset <username>")
	}
	resp, err := client.ResetPassword(ctx, args[0])
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		return PrintJSON(os.Stdout, resp)
	}
	fmt.Printf("User: %s\n", resp.Username)
	fmt.Printf("Temporary Password: %s\n", resp.TemporaryPassword)
	fmt.Println("Deliver this password over a secure channel; it is not shown again.")
	return nil
}

func runActivity(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	flags, pos, err := parseFlags(args, "limit")
	if err != nil {
		return err
	}
	if len(pos) != 0 {
		return fmt.Errorf("usage: portalctl activity [--limit <n>]")
	}
	limit := 0
	if v := flags["limit"]; v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return fmt.Errorf("--limit must be a non-negative integer")
		}
	}

	resp, err := client.ActivityLog(ctx, limit)
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		return PrintJSON(os.Stdout, resp)
	}

	headers := []string{"TIME", "USER", "ACTION", "IP", "DETAILS"}
	rows := make([][]string, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		rows = append(rows, []string{
			FormatTimeOrDash(e.Timestamp),
			e.User,
			e.Action,
			e.IP,
			e.Details,
		})
	}
	RenderTable(os.Stdout, headers, rows)
	fmt.Fprintf(os.Stdout, "\nShowing %d of %d entries\n", len(resp.Entries), resp.Total)
	return nil
}

func runCan(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	flags, pos, err := parseFlags(args, "role", "permission")
	if err != nil {
		return err
	}
	if len(pos) != 0 || (flags["role"] == "" && flags["permission"] == "") {
		return fmt.Errorf("usage: portalctl can [--role <r>] [--permission <p>]")
	}

	resp, err := client.Authz(ctx, flags["role"], flags["permission"])
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		return PrintJSON(os.Stdout, resp)
	}

	headers := []string{"CHECK", "VALUE", "ALLOWED"}
	rows := [][]string{{"authenticated", "-", YesNo(resp.Authenticated)}}
	if resp.Role != nil {
		rows = append(rows, []string{"role", flags["role"], YesNo(*resp.Role)})
	}
	if resp.Permission != nil {
		rows = append(rows, []string{"permission", flags["permission"], YesNo(*resp.Permission)})
	}
	RenderTable(os.Stdout, headers, rows)
	return nil
}
