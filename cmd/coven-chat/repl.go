// ABOUTME: Interactive command loop for the chat client
// ABOUTME: Maps slash commands onto session controller operations and sends plain lines

package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/session"
)

// signupFunc creates an account and returns its session.
type signupFunc func(ctx context.Context, email, name, password string) (*chat.Session, error)

// app is one interactive client.
type app struct {
	ctrl   *session.Controller
	signup signupFunc
	out    *printer
	lines  <-chan string
}

// readLines feeds r into a channel line by line, closing it at EOF.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

func (a *app) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-a.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

func (a *app) promptText() string {
	st := a.ctrl.Snapshot()
	if st.Session == nil {
		return "> "
	}
	if st.OpenConversation == "" {
		return fmt.Sprintf("[%s]> ", st.Session.User.Name)
	}
	return fmt.Sprintf("[%s → %s]> ", st.Session.User.Name, displayName(st.Users, st.OpenConversation))
}

// run reads commands until /quit, EOF or ctx is done.
func (a *app) run(ctx context.Context) error {
	for {
		a.out.printf("%s", a.promptText())
		input, err := a.readLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if a.handle(ctx, input) {
			return nil
		}
	}
}

// handle executes one input line and reports whether the user asked to quit.
func (a *app) handle(ctx context.Context, input string) bool {
	if !strings.HasPrefix(input, "/") {
		a.send(ctx, input)
		return false
	}

	cmd, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)

	var err error
	switch cmd {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		a.printHelp()
	case "/login":
		err = a.login(ctx, args)
	case "/signup":
		err = a.signupAndLogin(ctx, args)
	case "/logout":
		err = a.ctrl.Logout(ctx)
	case "/whoami":
		a.whoami()
	case "/users":
		a.render(func(w io.Writer, st session.State) { renderUsers(w, st) })
	case "/chats":
		a.render(func(w io.Writer, st session.State) { renderChats(w, st) })
	case "/open":
		err = a.open(ctx, args)
	case "/history":
		err = a.history(args)
	case "/active":
		err = a.active(ctx, args)
	default:
		a.out.printf("unknown command %s, /help lists commands\n", cmd)
	}
	if err != nil {
		a.out.printf("%s %v\n", color.RedString("[error]"), err)
	}
	return false
}

func (a *app) printHelp() {
	a.out.printf(`Commands:
  /login EMAIL               Log in (prompts for the password)
  /signup EMAIL [NAME]       Create an account and log in
  /logout                    End the session
  /whoami                    Show the logged-in user
  /users                     List users
  /chats                     List conversations
  /open ID|NAME|ALL          Open a conversation
  /history [N]               Show the last N messages of the open conversation
  /active on|off             Set your activity status
  /help                      Show this help
  /quit                      Exit
Anything else is sent to the open conversation.
`)
}

func (a *app) render(fn func(io.Writer, session.State)) {
	var buf bytes.Buffer
	fn(&buf, a.ctrl.Snapshot())
	a.out.printf("%s", buf.String())
}

func (a *app) askPassword(ctx context.Context) (string, error) {
	a.out.printf("password: ")
	return a.readLine(ctx)
}

func (a *app) login(ctx context.Context, args string) error {
	email := args
	if email == "" {
		return errors.New("usage: /login EMAIL")
	}
	password, err := a.askPassword(ctx)
	if err != nil {
		return err
	}
	sess, err := a.ctrl.Login(ctx, session.Credentials{Email: email, Password: password})
	if err != nil {
		return err
	}
	a.out.printf("logged in as %s\n", sess.User.Name)
	return nil
}

func (a *app) signupAndLogin(ctx context.Context, args string) error {
	email, name, _ := strings.Cut(args, " ")
	if email == "" {
		return errors.New("usage: /signup EMAIL [NAME]")
	}
	if a.ctrl.Snapshot().LoggedIn() {
		return chat.ErrSessionActive
	}
	password, err := a.askPassword(ctx)
	if err != nil {
		return err
	}
	if _, err := a.signup(ctx, email, strings.TrimSpace(name), password); err != nil {
		return fmt.Errorf("signup: %w", err)
	}
	sess, err := a.ctrl.Login(ctx, session.Credentials{Email: email, Password: password})
	if err != nil {
		return err
	}
	a.out.printf("account created, logged in as %s\n", sess.User.Name)
	return nil
}

func (a *app) whoami() {
	st := a.ctrl.Snapshot()
	if st.Session == nil {
		a.out.printf("not logged in\n")
		return
	}
	u := st.Session.User
	a.out.printf("%s <%s> id=%s phase=%s\n", u.Name, u.Email, u.ID, st.Phase)
}

// resolvePartner maps an id, a display name or "ALL" to a partner id.
func resolvePartner(st session.State, arg string) (string, error) {
	if arg == "" {
		return "", errors.New("usage: /open ID|NAME|ALL")
	}
	if strings.EqualFold(arg, chat.BroadcastID) {
		return chat.BroadcastID, nil
	}
	if _, ok := st.Users[arg]; ok {
		return arg, nil
	}
	if _, ok := st.Conversations[arg]; ok {
		return arg, nil
	}
	var matches []string
	for id, u := range st.Users {
		if strings.EqualFold(u.Name, arg) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no user named %q", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%d users are named %q, use the id", len(matches), arg)
	}
}

func (a *app) open(ctx context.Context, args string) error {
	partner, err := resolvePartner(a.ctrl.Snapshot(), args)
	if err != nil {
		return err
	}
	if err := a.ctrl.OpenDiscussion(ctx, partner); err != nil {
		return err
	}
	return a.history("10")
}

func (a *app) history(args string) error {
	limit := 20
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n <= 0 {
			return errors.New("usage: /history [N]")
		}
		limit = n
	}
	st := a.ctrl.Snapshot()
	if st.Session == nil {
		return chat.ErrNotLoggedIn
	}
	if st.OpenConversation == "" {
		return errors.New("no conversation open, use /open first")
	}
	a.render(func(w io.Writer, st session.State) { renderHistory(w, st, limit) })
	return nil
}

func (a *app) active(ctx context.Context, args string) error {
	switch strings.ToLower(args) {
	case "on", "yes", "true":
		return a.ctrl.SetActive(ctx, true)
	case "off", "no", "false":
		return a.ctrl.SetActive(ctx, false)
	default:
		return errors.New("usage: /active on|off")
	}
}

func (a *app) send(ctx context.Context, text string) {
	st := a.ctrl.Snapshot()
	if st.Session == nil {
		a.out.printf("not logged in. /login EMAIL first\n")
		return
	}
	if st.OpenConversation == "" {
		a.out.printf("no conversation open. /open ID|NAME|ALL first\n")
		return
	}
	if _, err := a.ctrl.SendMessage(ctx, st.OpenConversation, text); err != nil {
		a.out.printf("%s %v\n", color.RedString("[error]"), err)
	}
}
