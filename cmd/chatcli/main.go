// Command chatcli is a terminal client: it logs in, prints the peer list and
// can send a message or stream live events.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"

	"chatapp/internal/client"
	"chatapp/internal/domain"
)

func main() {
	server := flag.String("server", "http://localhost:5000", "Chat server base URL")
	email := flag.String("email", "", "Account email")
	password := flag.String("password", "", "Account password")
	name := flag.String("name", "", "Display name; when set, signs up instead of logging in")
	to := flag.String("to", "", "Peer id to open or message")
	message := flag.String("send", "", "Message to send to -to")
	follow := flag.Bool("follow", false, "Stream live events until interrupted")
	level := flag.String("level", "WARN", "Log level")
	flag.Parse()

	if err := checkFlags(*to, *message); err != nil {
		fmt.Fprintf(os.Stderr, "chatcli: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	logger := logs.GetLoggerFromString(*level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewAPIClient(*server, nil)

	var sess *client.Session
	var err error
	if *name != "" {
		sess, err = api.Signup(ctx, *name, *email, *password)
	} else {
		sess, err = api.Login(ctx, *email, *password)
	}
	if err != nil {
		log.Fatalf("authentication failed: %v", err)
	}
	color.Green.Printf("signed in as %s (%s)\n", sess.User.Name, domain.FormatID(sess.User.ID))

	users, err := api.Users(ctx)
	if err != nil {
		log.Fatalf("list users: %v", err)
	}
	rec := client.NewReconciler(sess.User.ID, api, api, logger)
	if err := rec.Bootstrap(ctx, users); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	var live *client.LiveConn
	if *follow || *message != "" {
		live, err = client.Dial(ctx, *server, sess.Token, logger)
		if err != nil {
			log.Fatalf("connect: %v", err)
		}
		defer live.Close()
		if err := live.Announce(sess.User.ID); err != nil {
			log.Fatalf("announce: %v", err)
		}
		go func() {
			if err := live.Run(ctx, &printingSink{Reconciler: rec}); err != nil {
				logger.Error("live connection", "error", err)
			}
			stop()
		}()
	}

	if *to != "" {
		peerID, err := strconv.ParseInt(*to, 10, 64)
		if err != nil {
			log.Fatalf("invalid -to %q", *to)
		}
		if err := rec.SelectPeer(ctx, peerID); err != nil {
			log.Fatalf("open conversation: %v", err)
		}
		_, msgs := rec.Conversation()
		printConversation(sess.User.ID, msgs)

		if *message != "" {
			if err := live.Send(sess.User.ID, peerID, *message); err != nil {
				log.Fatalf("send: %v", err)
			}
		}
	}

	printPeers(rec.Peers())

	if *follow {
		<-ctx.Done()
		return
	}
	if *message != "" {
		// Give the server a moment to echo messageSent before closing.
		select {
		case <-ctx.Done():
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// checkFlags rejects combinations that would connect and then do nothing.
func checkFlags(to, message string) error {
	if message != "" && to == "" {
		return errors.New("-send requires -to")
	}
	if to != "" {
		if id, err := strconv.ParseInt(to, 10, 64); err != nil || id <= 0 {
			return fmt.Errorf("invalid -to %q", to)
		}
	}
	return nil
}

// printingSink prints each event after the reconciler applied it.
type printingSink struct {
	*client.Reconciler
}

func (s *printingSink) OnNewMessage(ctx context.Context, m domain.Message) {
	s.Reconciler.OnNewMessage(ctx, m)
	color.Cyan.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), domain.FormatID(m.SenderID), m.Content)
}

func (s *printingSink) OnMessageSent(ctx context.Context, m domain.Message) {
	s.Reconciler.OnMessageSent(ctx, m)
	color.Gray.Printf("[%s] sent to %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), domain.FormatID(m.ReceiverID), m.Content)
}

func (s *printingSink) OnMessagesMarkedAsRead(ctx context.Context, r domain.ReadReceipt) {
	s.Reconciler.OnMessagesMarkedAsRead(ctx, r)
	color.Gray.Printf("%s read your messages\n", domain.FormatID(r.ReceiverID))
}

func (s *printingSink) OnUserStatus(u domain.StatusUpdate) {
	s.Reconciler.OnUserStatus(u)
	state := color.Red.Render("offline")
	if u.IsOnline {
		state = color.Green.Render("online")
	}
	fmt.Printf("%s is %s\n", domain.FormatID(u.UserID), state)
}

func (s *printingSink) OnError(msg string) {
	color.Red.Printf("error: %s\n", msg)
}

func printPeers(peers []client.PeerSummary) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Status", "Last message", "When", "Unread"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, p := range peers {
		status := "offline"
		if p.IsOnline {
			status = "online"
		}
		when := ""
		if p.LastMessageTime != nil {
			when = p.LastMessageTime.Local().Format("Jan 2 15:04")
		}
		unread := ""
		switch {
		case p.UnreadCount > 99:
			unread = "99+"
		case p.UnreadCount > 0:
			unread = strconv.Itoa(p.UnreadCount)
		}
		table.Append([]string{domain.FormatID(p.ID), p.Name, status, truncate(p.LastMessage, 30), when, unread})
	}
	table.Render()
}

func printConversation(self int64, msgs []domain.Message) {
	for _, m := range msgs {
		who := domain.FormatID(m.SenderID)
		if m.SenderID == self {
			who = "me"
		}
		line := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format("Jan 2 15:04"), who, m.Content)
		if m.SenderID == self && m.IsRead {
			line += " ✓✓"
		}
		fmt.Println(line)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
