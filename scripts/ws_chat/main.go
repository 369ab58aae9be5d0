package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	applog "github.com/vovakirdan/groupchat-server/internal/log"
)

// frame covers every outbound shape: room and group messages, replayed history and errors.
type frame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	Code      string `json:"code"`
}

type outgoing struct {
	Message  string `json:"message"`
	SenderID int64  `json:"sender_id"`
}

func main() {
	logger := applog.New("info")
	if err := run(logger); err != nil {
		logger.Error().Err(err).Msg("ws_chat failed")
		os.Exit(1)
	}
}

func run(logger *zerolog.Logger) error {
	server := flag.String("server", "ws://localhost:8080", "server base URL")
	room := flag.Int64("room", 0, "room id to join")
	group := flag.Int64("group", 0, "group id to join")
	sender := flag.Int64("sender", 0, "sender_id attached to every message")
	token := flag.String("token", "", "optional JWT")
	flag.Parse()

	target, err := chatURL(*server, *room, *group, *token)
	if err != nil {
		return err
	}
	if *sender <= 0 {
		return errors.New("-sender is required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s as sender %d\n", target, *sender)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn, logger)
	}()

	writeLoop(ctx, conn, *sender, logger)
	return nil
}

func chatURL(base string, room, group int64, token string) (string, error) {
	var path string
	switch {
	case room > 0 && group > 0:
		return "", errors.New("use either -room or -group")
	case room > 0:
		path = fmt.Sprintf("/ws/chat/%d/", room)
	case group > 0:
		path = fmt.Sprintf("/ws/chat/group/%d/", group)
	default:
		return "", errors.New("-room or -group is required")
	}

	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func readLoop(ctx context.Context, conn *websocket.Conn, logger *zerolog.Logger) {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			logger.Warn().Err(err).Msg("read failed")
			return
		}

		switch {
		case f.Type == "error":
			fmt.Printf("! %s: %s\n", f.Code, f.Message)
		case f.Timestamp != "" && f.Type == "":
			fmt.Printf("(history %s) %s: %s\n", f.Timestamp, f.Sender, f.Message)
		case f.Timestamp != "":
			fmt.Printf("[%s] %s: %s\n", f.Timestamp, f.Sender, f.Message)
		default:
			fmt.Printf("%s: %s\n", f.Sender, f.Message)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, sender int64, logger *zerolog.Logger) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := wsjson.Write(ctx, conn, outgoing{Message: text, SenderID: sender}); err != nil {
				logger.Warn().Err(err).Msg("send failed")
				return
			}
		}
	}
}
