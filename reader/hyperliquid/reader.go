package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	appconfig "hyperfeed/config"
	"hyperfeed/internal/channel"
	"hyperfeed/logger"
	"hyperfeed/models"

	"github.com/gorilla/websocket"
)

// Reader maintains the websocket session against the Hyperliquid API. It
// subscribes to l2Book and trades streams for every configured coin and
// forwards the raw frames into the frame channel. A dropped connection is
// re-established automatically with exponential backoff until the context
// is cancelled.
type Reader struct {
	config   *appconfig.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	coins    []string
}

// NewReader creates a websocket reader for the given coins.
func NewReader(cfg *appconfig.Config, ch *channel.Channels, coins []string) *Reader {
	return &Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		coins:    coins,
	}
}

// Start opens the websocket connection and begins streaming frames.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("hyperliquid reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("hyperliquid_reader").WithFields(logger.Fields{"operation": "Start"})
	if len(r.coins) == 0 {
		log.Warn("no coins configured")
		return fmt.Errorf("no coins configured")
	}

	log.WithFields(logger.Fields{"coins": r.coins, "url": r.config.Source.Hyperliquid.WsURL}).Info("starting hyperliquid reader")
	r.wg.Add(1)
	go r.stream()
	log.Info("hyperliquid reader started successfully")
	return nil
}

// Stop terminates the websocket session and waits for goroutines to finish.
func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	r.log.WithComponent("hyperliquid_reader").Info("stopping hyperliquid reader")
	r.wg.Wait()
	r.log.WithComponent("hyperliquid_reader").Info("hyperliquid reader stopped")
}

// stream handles the websocket lifecycle, reconnection and frame forwarding.
func (r *Reader) stream() {
	defer r.wg.Done()
	log := r.log.WithComponent("hyperliquid_reader").WithFields(logger.Fields{"coins": r.coins, "worker": "stream"})

	rc := r.config.Reader.Reconnect
	backoff := rc.BaseDelay
	attempts := 0

	for {
		if r.ctx.Err() != nil {
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: r.config.Reader.Timeout}
		conn, _, err := dialer.Dial(r.config.Source.Hyperliquid.WsURL, nil)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"attempt": attempts + 1}).Warn("failed to connect websocket, retrying")
			logger.IncrementReconnect()
			attempts++
			if rc.MaxAttempts > 0 && attempts >= rc.MaxAttempts {
				log.WithFields(logger.Fields{"attempts": attempts}).Error("reconnect attempts exhausted, giving up")
				return
			}
			if !r.waitBackoff(backoff) {
				return
			}
			backoff = nextBackoff(backoff, rc.MaxDelay)
			continue
		}
		log.Info("websocket connection established")
		backoff = rc.BaseDelay
		attempts = 0

		if err := r.subscribe(conn); err != nil {
			log.WithError(err).Warn("failed to subscribe")
			conn.Close()
			logger.IncrementReconnect()
			if !r.waitBackoff(backoff) {
				return
			}
			backoff = nextBackoff(backoff, rc.MaxDelay)
			continue
		}

		pingTicker := time.NewTicker(r.config.Source.Hyperliquid.PingInterval)
		done := make(chan struct{})
		go func() {
			defer pingTicker.Stop()
			for {
				select {
				case <-done:
					return
				case <-r.ctx.Done():
					conn.Close()
					return
				case <-pingTicker.C:
					conn.WriteMessage(websocket.TextMessage, []byte("{\"method\":\"ping\"}"))
				}
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				close(done)
				conn.Close()
				if r.ctx.Err() != nil {
					return
				}
				log.WithError(err).Warn("websocket read error, reconnecting")
				logger.IncrementReconnect()
				break
			}
			r.processMessage(msg)
		}

		if !r.waitBackoff(backoff) {
			return
		}
		backoff = nextBackoff(backoff, rc.MaxDelay)
	}
}

// subscribe sends one l2Book and one trades subscription per coin on the
// freshly opened connection.
func (r *Reader) subscribe(conn *websocket.Conn) error {
	for _, coin := range r.coins {
		for _, typ := range []string{"l2Book", "trades"} {
			req := models.SubscribeRequest{
				Method:       "subscribe",
				Subscription: models.Subscription{Type: typ, Coin: coin},
			}
			if err := conn.WriteJSON(req); err != nil {
				return fmt.Errorf("subscribe %s for %s: %w", typ, coin, err)
			}
		}
	}
	return nil
}

// processMessage decodes the envelope and forwards data frames. Control
// frames such as subscription acks and pongs are consumed here. Returns true
// when a data frame was forwarded.
func (r *Reader) processMessage(msg []byte) bool {
	var env models.WsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		r.log.WithComponent("hyperliquid_reader").WithError(err).Debug("failed to decode message")
		return false
	}

	switch env.Channel {
	case "subscriptionResponse":
		r.log.WithComponent("hyperliquid_reader").Debug("subscription confirmed")
		return false
	case "pong":
		return false
	case "error":
		r.log.WithComponent("hyperliquid_reader").WithFields(logger.Fields{"payload": string(env.Data)}).Warn("server reported error")
		return false
	case "":
		return false
	}

	frame := models.RawFrame{
		Channel:  env.Channel,
		Data:     env.Data,
		Received: time.Now().UTC(),
	}
	if !r.channels.SendFrame(r.ctx, frame) {
		if r.ctx.Err() == nil {
			r.log.WithComponent("hyperliquid_reader").Warn("frame channel full, dropping message")
		}
		return false
	}
	switch env.Channel {
	case "l2Book":
		logger.IncrementBookRead(len(env.Data))
	case "trades":
		logger.IncrementTradeRead(len(env.Data))
	}
	return true
}

// waitBackoff sleeps for the given delay with jitter, returning false when
// the context was cancelled while waiting.
func (r *Reader) waitBackoff(d time.Duration) bool {
	select {
	case <-time.After(withJitter(d)):
		return true
	case <-r.ctx.Done():
		return false
	}
}

// withJitter spreads the delay over [d/2, d] so a fleet of recorders does not
// hammer the endpoint in lockstep after an outage.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func nextBackoff(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}
