package wsocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"questionbank_go_backend/internal/models"
	"questionbank_go_backend/internal/utils/broker"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 10 * time.Second

type ProfileReader interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

type Handler struct {
	profiles     ProfileReader
	broker       *broker.Broker[broker.BalanceUpdate]
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// Message is sent to the client. Balance updates carry the new balance and
// the signed change that produced it.
type Message struct {
	Type    string  `json:"type"`
	Balance float64 `json:"balance"`
	Delta   float64 `json:"delta,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	Content string  `json:"content,omitempty"`
}

type clientMessage struct {
	Type string `json:"type"`
}

func NewHandler(profiles ProfileReader, b *broker.Broker[broker.BalanceUpdate], upgrader websocket.Upgrader, pingInterval time.Duration) *Handler {
	return &Handler{
		profiles:     profiles,
		broker:       b,
		upgrader:     upgrader,
		pingInterval: pingInterval,
	}
}

// HandleWebSocket streams the user's wallet balance until the client goes
// away. The current balance is sent on connect and on "get_balance".
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request, user *models.User) {
	log := zerolog.Ctx(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	topic := broker.BalanceTopic(user.ID.String())
	updates := h.broker.Subscribe(topic)
	defer h.broker.Unsubscribe(topic, updates)

	// Without a pong inside pongWait the read below fails and the handler
	// returns.
	var pongWait time.Duration
	if h.pingInterval > 0 {
		pongWait = 2 * h.pingInterval
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	requests := make(chan string, 4)
	go h.writeLoop(ctx, cancel, conn, user.ID, updates, requests)

	requests <- "get_balance"
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		if pongWait > 0 {
			conn.SetReadDeadline(time.Now().Add(pongWait))
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Debug().Err(err).Msg("ignoring malformed websocket message")
			continue
		}
		select {
		case requests <- msg.Type:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop is the only writer on conn. It closes conn on exit so the reader
// in HandleWebSocket unblocks.
func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, userID uuid.UUID, updates <-chan broker.BalanceUpdate, requests <-chan string) {
	defer conn.Close()
	defer cancel()
	log := zerolog.Ctx(ctx)

	var ping <-chan time.Time
	if h.pingInterval > 0 {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	write := func(m Message) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(m); err != nil {
			log.Debug().Err(err).Str("type", m.Type).Msg("websocket write failed")
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			if !write(Message{Type: "balance_update", Balance: upd.Balance, Delta: upd.Delta, Reason: upd.Reason}) {
				return
			}
		case req := <-requests:
			switch req {
			case "get_balance":
				profile, err := h.profiles.GetProfile(ctx, userID)
				if err != nil {
					log.Warn().Err(err).Msg("failed to load profile for websocket")
					if !write(Message{Type: "error", Content: "Failed to load balance"}) {
						return
					}
					continue
				}
				if !write(Message{Type: "balance", Balance: profile.CreditBalance}) {
					return
				}
			default:
				if !write(Message{Type: "error", Content: "Unknown message type"}) {
					return
				}
			}
		case <-ping:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
