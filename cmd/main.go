package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ycyw-chat/internal/config"
	"ycyw-chat/internal/handler"
	"ycyw-chat/internal/logger"
	"ycyw-chat/internal/session"
)

const usage = `usage:
  ycyw-chat login -email <email>   sign in (password read from stdin)
  ycyw-chat logout                 forget the stored token
  ycyw-chat [chat]                 open the chat console`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Setup(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := session.New(cfg, session.Deps{Logger: log})

	cmd := "chat"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "login":
		return login(ctx, sess, args)
	case "logout":
		return sess.Logout()
	case "chat":
		return chat(ctx, sess, log)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func login(ctx context.Context, sess *session.Session, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("login: -email is required")
	}

	fmt.Fprint(os.Stderr, "password: ")
	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && password == "" {
		return fmt.Errorf("reading password: %w", err)
	}

	resp, err := sess.Login(ctx, *email, strings.TrimRight(password, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s (%s)\n", resp.Email, resp.Role)
	return nil
}

func chat(ctx context.Context, sess *session.Session, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	console := handler.NewConsole(sess, os.Stdout)
	console.Watch()

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	fmt.Println("type /help for commands")
	for {
		select {
		case err := <-done:
			return err
		case line, ok := <-lines:
			if !ok || console.Handle(ctx, line) {
				cancel()
				err := <-done
				log.Debug("console closed")
				return err
			}
		}
	}
}
