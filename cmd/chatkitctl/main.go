package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatkit/internal/api"
	"github.com/matheus3301/chatkit/internal/chatkit"
	"github.com/matheus3301/chatkit/internal/lock"
	"github.com/matheus3301/chatkit/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	limitFlag := flag.Int("limit", 20, "page size for rooms and messages")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := api.NewClient(session.SocketPath(sessionName))
	if err != nil {
		fail(fmt.Errorf("cannot connect to daemon for session %q: %w", sessionName, err))
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		cmdWatch(c, prefix, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var runErr error
	switch args[0] {
	case "status":
		runErr = cmdStatus(ctx, c, sessionName, *jsonFlag)
	case "rooms":
		runErr = cmdRooms(ctx, c, *limitFlag, *jsonFlag)
	case "messages":
		need(args, 2, "messages <room-id> [before-id]")
		var before int64
		if len(args) > 2 {
			before = parseInt(args[2])
		}
		runErr = cmdMessages(ctx, c, args[1], before, *limitFlag, *jsonFlag)
	case "search":
		need(args, 2, "search <query> [room-id]")
		room := ""
		if len(args) > 2 {
			room = args[2]
		}
		runErr = cmdSearch(ctx, c, args[1], room, *limitFlag, *jsonFlag)
	case "send":
		need(args, 3, "send <room-id> <text...>")
		runErr = cmdSend(ctx, c, args[1], strings.Join(args[2:], " "), *jsonFlag)
	case "join":
		need(args, 2, "join <room-id>")
		runErr = cmdJoin(ctx, c, args[1], *jsonFlag)
	case "leave":
		need(args, 2, "leave <room-id>")
		runErr = c.LeaveRoom(ctx, args[1])
	case "create":
		need(args, 2, "create <name> [--private] [member-id...]")
		runErr = cmdCreate(ctx, c, args[1:], *jsonFlag)
	case "update":
		need(args, 3, "update <room-id> [--name <name>] [--private|--public]")
		upd, err := parseRoomUpdate(args[2:])
		if err != nil {
			fail(err)
		}
		runErr = c.UpdateRoom(ctx, args[1], upd)
	case "delete":
		need(args, 2, "delete <room-id>")
		runErr = c.DeleteRoom(ctx, args[1])
	case "cursor":
		need(args, 3, "cursor <room-id> <message-id>")
		runErr = c.SetCursor(ctx, args[1], parseInt(args[2]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if runErr != nil {
		fail(runErr)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatkitctl [--session <name>] [--json] [--limit n] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                        Show session status")
	fmt.Fprintln(os.Stderr, "  rooms                         List rooms")
	fmt.Fprintln(os.Stderr, "  messages <room> [before-id]   Page through room history")
	fmt.Fprintln(os.Stderr, "  search <query> [room]         Search message text")
	fmt.Fprintln(os.Stderr, "  send <room> <text...>         Send a message")
	fmt.Fprintln(os.Stderr, "  join <room>                   Join a room")
	fmt.Fprintln(os.Stderr, "  leave <room>                  Leave a room")
	fmt.Fprintln(os.Stderr, "  create <name> [--private] [member...]")
	fmt.Fprintln(os.Stderr, "                                Create a room")
	fmt.Fprintln(os.Stderr, "  update <room> [--name <name>] [--private|--public]")
	fmt.Fprintln(os.Stderr, "                                Change a room's name or visibility")
	fmt.Fprintln(os.Stderr, "  delete <room>                 Delete a room for every member")
	fmt.Fprintln(os.Stderr, "  cursor <room> <message-id>    Mark a room read up to a message")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                Stream events (e.g. chatkit.new_message)")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: chatkitctl %s\n", usage)
		os.Exit(1)
	}
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fail(fmt.Errorf("%q is not a number", s))
	}
	return n
}

func cmdStatus(ctx context.Context, c *api.Client, sessionName string, jsonOut bool) error {
	resp, err := c.Status(ctx)
	if err != nil {
		// Distinguish a stopped daemon from one that is still starting.
		if owner, lerr := lock.Inspect(session.LockPath(sessionName)); lerr == nil && owner.PID > 0 {
			return fmt.Errorf("%w (lock held by pid %d since %s)", err, owner.PID, owner.Started.Format(time.RFC3339))
		}
		return err
	}
	if jsonOut {
		outputJSON(resp)
		return nil
	}
	fmt.Printf("Session:  %s\n", resp.Session)
	fmt.Printf("Status:   %s\n", resp.Status)
	if resp.UserID != "" {
		fmt.Printf("User:     %s (%s)\n", resp.UserID, resp.UserName)
	}
	fmt.Printf("Uptime:   %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
	fmt.Printf("Rooms:    %d\n", resp.RoomCount)
	fmt.Printf("Users:    %d\n", resp.UserCount)
	fmt.Printf("Messages: %d\n", resp.MessageCount)
	if resp.LastEventAt != "" {
		fmt.Printf("Last event: %s\n", resp.LastEventAt)
	}
	return nil
}

func cmdRooms(ctx context.Context, c *api.Client, limit int, jsonOut bool) error {
	resp, err := c.ListRooms(ctx, limit)
	if err != nil {
		return err
	}
	if jsonOut {
		outputJSON(resp)
		return nil
	}
	if len(resp.Rooms) == 0 {
		fmt.Println("No rooms.")
		return nil
	}
	for _, r := range resp.Rooms {
		vis := "public"
		if r.Private {
			vis = "private"
		}
		fmt.Printf("%-10s %-24s %-8s members=%d unread=%d\n", r.ID, r.Name, vis, len(r.MemberIDs), r.UnreadCount)
	}
	return nil
}

func cmdMessages(ctx context.Context, c *api.Client, roomID string, before int64, limit int, jsonOut bool) error {
	resp, err := c.ListMessages(ctx, roomID, before, limit)
	if err != nil {
		return err
	}
	printMessages(resp, jsonOut)
	return nil
}

func cmdSearch(ctx context.Context, c *api.Client, query, roomID string, limit int, jsonOut bool) error {
	resp, err := c.Search(ctx, query, roomID, limit)
	if err != nil {
		return err
	}
	printMessages(resp, jsonOut)
	return nil
}

func printMessages(resp api.MessagesReply, jsonOut bool) {
	if jsonOut {
		outputJSON(resp)
		return
	}
	// Pages arrive newest first; print them in reading order.
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		m := resp.Messages[i]
		fmt.Printf("[%s] #%d %s: %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), m.ID, m.SenderID, m.Text)
	}
	if resp.HasMore && len(resp.Messages) > 0 {
		fmt.Printf("(older messages: before-id %d)\n", resp.Messages[len(resp.Messages)-1].ID)
	}
}

func cmdSend(ctx context.Context, c *api.Client, roomID, text string, jsonOut bool) error {
	resp, err := c.Send(ctx, roomID, text)
	if err != nil {
		return err
	}
	if jsonOut {
		outputJSON(resp)
		return nil
	}
	fmt.Printf("Sent message %d\n", resp.MessageID)
	return nil
}

func cmdJoin(ctx context.Context, c *api.Client, roomID string, jsonOut bool) error {
	resp, err := c.JoinRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if jsonOut {
		outputJSON(resp)
		return nil
	}
	fmt.Printf("Joined %s (%s)\n", resp.Room.ID, resp.Room.Name)
	return nil
}

func cmdCreate(ctx context.Context, c *api.Client, args []string, jsonOut bool) error {
	name := args[0]
	private := false
	var members []string
	for _, a := range args[1:] {
		if a == "--private" {
			private = true
			continue
		}
		members = append(members, a)
	}
	resp, err := c.CreateRoom(ctx, name, private, members)
	if err != nil {
		return err
	}
	if jsonOut {
		outputJSON(resp)
		return nil
	}
	fmt.Printf("Created %s (%s)\n", resp.Room.ID, resp.Room.Name)
	return nil
}

// parseRoomUpdate reads the update command's options.
func parseRoomUpdate(args []string) (chatkit.RoomUpdate, error) {
	var upd chatkit.RoomUpdate
	for i := 0; i < len(args); i++ {
		switch a := args[i]; a {
		case "--name":
			if i+1 >= len(args) || args[i+1] == "" {
				return upd, errors.New("--name needs a value")
			}
			i++
			name := args[i]
			upd.Name = &name
		case "--private", "--public":
			private := a == "--private"
			upd.Private = &private
		default:
			return upd, fmt.Errorf("unknown option %q", a)
		}
	}
	if upd.Name == nil && upd.Private == nil {
		return upd, errors.New("nothing to update")
	}
	return upd, nil
}

func cmdWatch(c *api.Client, prefix string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := c.Watch(ctx, prefix, func(env api.Envelope) error {
		if jsonOut {
			outputJSON(env)
			return nil
		}
		at := time.UnixMilli(env.OccurredAtUnixMs).Local().Format("15:04:05")
		data, _ := json.Marshal(env.Payload)
		fmt.Printf("%s %-32s %s\n", at, env.Kind, data)
		return nil
	})
	if err != nil && !errors.Is(ctx.Err(), context.Canceled) {
		fail(err)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
