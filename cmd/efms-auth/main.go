// Copyright 2024-2026 Aiku AI

// Command efms-auth signs in to Facebook Messenger and writes a session file
// the bridge can log in with.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type authFlags struct {
	email        string
	output       string
	passwordFile string
	baseURL      string
	mobileURL    string
	verbose      bool
}

func (f *authFlags) options(stderr io.Writer) messenger.Options {
	level := zerolog.WarnLevel
	if f.verbose {
		level = zerolog.DebugLevel
	}
	return messenger.Options{
		BaseURL:   f.baseURL,
		MobileURL: f.mobileURL,
		Log: zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.TimeOnly}).
			Level(level).With().Timestamp().Logger(),
	}
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	flags := &authFlags{}
	root := &cobra.Command{
		Use:           "efms-auth",
		Short:         "Sign in to Facebook Messenger and save the session",
		Long:          "efms-auth signs in with email and password, asks for a two-factor code when needed and writes the session JSON used by the bridge.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := runLogin(cmd.Context(), flags, stdin, stdout, stderr)
			if err != nil {
				fmt.Fprintln(stderr, "Error:", err)
			}
			return err
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.baseURL, "base-url", "", "override the Facebook web endpoint")
	pf.StringVar(&flags.mobileURL, "mobile-url", "", "override the Facebook mobile endpoint")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log HTTP requests")
	_ = pf.MarkHidden("base-url")
	_ = pf.MarkHidden("mobile-url")

	root.Flags().StringVar(&flags.email, "email", "", "account email or phone number")
	root.Flags().StringVarP(&flags.output, "output", "o", "session.json", "where to write the session")
	root.Flags().StringVar(&flags.passwordFile, "password-file", "", "read the password from a file instead of prompting")

	root.AddCommand(verifyCmd(flags, stdout, stderr))
	return root
}

func verifyCmd(flags *authFlags, stdout, stderr io.Writer) *cobra.Command {
	var sessionPath string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that a saved session is still accepted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := runVerify(cmd.Context(), flags, sessionPath, stdout, stderr)
			if err != nil {
				fmt.Fprintln(stderr, "Error:", err)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "session.json", "session file to check")
	return cmd
}

func runLogin(ctx context.Context, flags *authFlags, stdin io.Reader, stdout, stderr io.Writer) error {
	reader := bufio.NewReader(stdin)
	email := strings.TrimSpace(flags.email)
	if email == "" {
		fmt.Fprint(stderr, "Email: ")
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading email: %w", err)
		}
		email = strings.TrimSpace(line)
	}
	if email == "" {
		return errors.New("an email is required")
	}
	password, err := readPassword(flags.passwordFile, stdin, stderr)
	if err != nil {
		return err
	}

	sess, challenge, err := messenger.Login(ctx, flags.options(stderr), email, password)
	if errors.Is(err, messenger.ErrTwoFactorRequired) {
		fmt.Fprint(stderr, "Two-factor code: ")
		line, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("reading two-factor code: %w", readErr)
		}
		sess, err = challenge.Submit(ctx, strings.TrimSpace(line))
	}
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err = sess.Save(flags.output); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	fmt.Fprintf(stdout, "Logged in as %s, session written to %s\n", sess.UserID, flags.output)
	return nil
}

// readPassword reads the password from a file, or prompts with echo
// disabled when stdin is a terminal.
func readPassword(passwordFile string, stdin io.Reader, stderr io.Writer) (string, error) {
	if passwordFile != "" {
		data, err := os.ReadFile(passwordFile)
		if err != nil {
			return "", fmt.Errorf("reading password file: %w", err)
		}
		password := strings.TrimRight(string(data), "\r\n")
		if password == "" {
			return "", errors.New("password file is empty")
		}
		return password, nil
	}
	file, ok := stdin.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return "", errors.New("no terminal available for the password prompt (use --password-file)")
	}
	fmt.Fprint(stderr, "Password: ")
	password, err := term.ReadPassword(int(file.Fd()))
	fmt.Fprintln(stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}

func runVerify(ctx context.Context, flags *authFlags, sessionPath string, stdout, stderr io.Writer) error {
	sess, err := messenger.LoadSession(sessionPath)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	client, err := messenger.NewClient(sess, flags.options(stderr))
	if err != nil {
		return err
	}
	me, err := client.FetchOwnProfile(ctx)
	if err != nil {
		return fmt.Errorf("session rejected: %w", err)
	}
	fmt.Fprintf(stdout, "Session for %s (%s) is valid\n", me.Name, me.ID)
	return nil
}
