package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type botOptions struct {
	ServerURL    string
	Prefix       string
	Count        int
	DeclineEvery int
	Join         bool
	Hold         time.Duration
	Timeout      time.Duration
}

type botResult struct {
	Participant string
	Outcome     string
	Session     string
	Declines    int
	Elapsed     time.Duration
	Err         error
}

// mensagens do protocolo /ws vistas pelo bot
type outbound struct {
	Type   string `json:"type"`
	Accept *bool  `json:"accept,omitempty"`
}

type ticket struct {
	Session string `json:"session"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

type inbound struct {
	Type        string  `json:"type"`
	Participant string  `json:"participant,omitempty"`
	Ticket      *ticket `json:"ticket,omitempty"`
	JoinURL     string  `json:"join_url,omitempty"`
	Confirmed   int     `json:"confirmed,omitempty"`
	Total       int     `json:"total,omitempty"`
	Error       string  `json:"error,omitempty"`
}

type bot struct {
	id      string
	opts    botOptions
	decline bool
	logger  *slog.Logger
	dialer  *websocket.Dialer
}

func newBot(i int, opts botOptions, logger *slog.Logger) *bot {
	id := fmt.Sprintf("%s-%02d", opts.Prefix, i)
	return &bot{
		id:      id,
		opts:    opts,
		decline: opts.DeclineEvery > 0 && (i+1)%opts.DeclineEvery == 0,
		logger:  logger.With("participant", id),
		dialer:  &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

func (b *bot) run(ctx context.Context) (res botResult) {
	start := time.Now()
	res.Participant = b.id
	defer func() { res.Elapsed = time.Since(start) }()

	if b.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}

	hdr := http.Header{}
	hdr.Set("X-Participant-ID", b.id)
	conn, resp, err := b.dialer.DialContext(ctx, b.opts.ServerURL, hdr)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial: status %d: %w", resp.StatusCode, err)
		}
		res.Err = err
		return res
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			res.Err = fmt.Errorf("read: %w", err)
			return res
		}
		b.logger.Debug("message", "type", msg.Type)

		switch msg.Type {
		case "welcome":
			if err := conn.WriteJSON(outbound{Type: "request_match"}); err != nil {
				res.Err = err
				return res
			}
		case "match_ready":
			accept := true
			if b.decline && res.Declines == 0 {
				accept = false
				res.Declines++
			}
			if err := conn.WriteJSON(outbound{Type: "confirm_ready", Accept: &accept}); err != nil {
				res.Err = err
				return res
			}
		case "player_ready_status":
			b.logger.Info("ready status", "confirmed", msg.Confirmed, "total", msg.Total)
		case "exited_queue":
			// recusou de propósito: volta para a fila
			if err := conn.WriteJSON(outbound{Type: "request_match"}); err != nil {
				res.Err = err
				return res
			}
		case "match_starting":
			if msg.Ticket != nil {
				res.Session = msg.Ticket.Session
			}
			b.logger.Info("match starting", "session", res.Session)
			if !b.opts.Join {
				res.Outcome = "matched"
				return res
			}
			if err := b.joinSession(ctx, msg.JoinURL); err != nil {
				res.Err = fmt.Errorf("join: %w", err)
				return res
			}
			res.Outcome = "played"
			return res
		case "error":
			b.logger.Warn("server error", "error", msg.Error)
		}
	}
}

// joinSession entra na sessão, espera a confirmação do host e fica lá por Hold.
func (b *bot) joinSession(ctx context.Context, url string) error {
	if url == "" {
		return errors.New("missing join url")
	}
	conn, _, err := b.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Type == "joined" && msg.Participant == b.id {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	select {
	case <-time.After(b.opts.Hold):
	case <-ctx.Done():
		return ctx.Err()
	}
	return conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
}
