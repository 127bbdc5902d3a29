// ABOUTME: Terminal rendering of session state, navigation and failures
// ABOUTME: Prints incoming messages as the controller commits them

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/session"
)

// printer serializes all terminal output. It is the controller's Navigator,
// Notifier and state observer.
type printer struct {
	mu sync.Mutex
	w  io.Writer

	// Observer state, touched only from the controller's dispatcher.
	epoch     uint64
	liveSince time.Time
	seen      map[string]bool
	now       func() time.Time
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, seen: make(map[string]bool), now: time.Now}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) Navigate(route session.Route) {
	switch route {
	case session.RouteLogin:
		p.printf("%s\n", color.YellowString("logged out. /login EMAIL or /signup EMAIL [NAME] to continue"))
	case session.RouteRoot:
		p.printf("%s\n", color.GreenString("connected. /users, /chats, /open ID"))
	}
}

func (p *printer) Notify(n session.Notification) {
	if n.Err != nil {
		p.printf("%s %s: %v\n", color.RedString("[error]"), n.Message, n.Err)
		return
	}
	p.printf("%s %s\n", color.RedString("[error]"), n.Message)
}

// observe prints messages from other users sent after the session went
// live. History delivered by bootstrap or by a thread's first push is not echoed.
func (p *printer) observe(st session.State) {
	if st.Session == nil || st.Epoch != p.epoch {
		p.epoch = st.Epoch
		p.liveSince = time.Time{}
		clear(p.seen)
	}
	if st.Session == nil || st.Phase != session.PhaseLive {
		return
	}
	if p.liveSince.IsZero() {
		p.liveSince = p.now()
		for _, conv := range st.Conversations {
			for _, m := range conv.Messages {
				p.seen[m.ID] = true
			}
		}
		return
	}

	me := st.Session.User.ID
	var fresh []chat.Message
	for _, conv := range st.Conversations {
		for _, m := range conv.Messages {
			if p.seen[m.ID] {
				continue
			}
			p.seen[m.ID] = true
			if m.From != me && !m.Time.Before(p.liveSince) {
				fresh = append(fresh, m)
			}
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Time.Before(fresh[j].Time) })
	for _, m := range fresh {
		p.printf("%s\n", formatIncoming(st, m))
	}
}

func formatIncoming(st session.State, m chat.Message) string {
	sender := displayName(st.Users, m.From)
	if m.IsBroadcast() {
		return fmt.Sprintf("%s %s: %s", color.MagentaString("[ALL]"), color.CyanString(sender), m.Text)
	}
	return fmt.Sprintf("%s %s", color.CyanString(sender+":"), m.Text)
}

func displayName(users map[string]chat.User, id string) string {
	if id == chat.BroadcastID {
		return chat.BroadcastID
	}
	if u, ok := users[id]; ok && u.Name != "" {
		return u.Name
	}
	return id
}

// renderUsers lists known users, active ones first.
func renderUsers(w io.Writer, st session.State) {
	users := make([]chat.User, 0, len(st.Users))
	for _, u := range st.Users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].IsActive != users[j].IsActive {
			return users[i].IsActive
		}
		return strings.ToLower(users[i].Name) < strings.ToLower(users[j].Name)
	})
	if len(users) == 0 {
		fmt.Fprintln(w, "No other users")
		return
	}
	for _, u := range users {
		status := color.HiBlackString("away")
		if u.IsActive {
			status = color.GreenString("active")
		}
		fmt.Fprintf(w, "  %-20s %-8s %s\n", u.Name, status, color.HiBlackString(u.ID))
	}
}

// renderChats lists conversations, most recent exchange first.
func renderChats(w io.Writer, st session.State) {
	type row struct {
		partner string
		name    string
		last    chat.Message
		count   int
	}
	rows := make([]row, 0, len(st.Conversations))
	for id, conv := range st.Conversations {
		r := row{partner: id, name: displayName(st.Users, id), count: len(conv.Messages)}
		if conv.Partner.Name != "" {
			r.name = conv.Partner.Name
		}
		if n := len(conv.Messages); n > 0 {
			r.last = conv.Messages[n-1]
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].last.Time.Equal(rows[j].last.Time) {
			return rows[i].last.Time.After(rows[j].last.Time)
		}
		return rows[i].partner < rows[j].partner
	})
	if len(rows) == 0 {
		fmt.Fprintln(w, "No conversations")
		return
	}
	for _, r := range rows {
		marker := " "
		if r.partner == st.OpenConversation {
			marker = "*"
		}
		preview := truncate(r.last.Text, 50)
		fmt.Fprintf(w, "%s %-20s %3d  %s\n", marker, r.name, r.count, color.HiBlackString(preview))
	}
}

// renderHistory prints the last limit messages of the open conversation.
func renderHistory(w io.Writer, st session.State, limit int) {
	conv, ok := st.Conversation(st.OpenConversation)
	if !ok || len(conv.Messages) == 0 {
		fmt.Fprintln(w, "No messages")
		return
	}
	msgs := conv.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	me := ""
	if st.Session != nil {
		me = st.Session.User.ID
	}
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, m := range msgs {
		stamp := color.HiBlackString(m.Time.Local().Format("Jan 02 15:04"))
		if m.From == me {
			fmt.Fprintf(w, "%s %s %s\n", stamp, color.BlueString("→"), m.Text)
			continue
		}
		fmt.Fprintf(w, "%s %s %s: %s\n", stamp, color.GreenString("←"), displayName(st.Users, m.From), m.Text)
	}
	fmt.Fprintln(w, strings.Repeat("-", 60))
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
