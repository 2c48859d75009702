package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-agent/internal/logging"
	"github.com/annel0/voxel-agent/internal/movement"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ClientConfig параметры подключения к шлюзу
type ClientConfig struct {
	URL            string
	Token          string
	RequestTimeout time.Duration
}

// Client websocket-клиент шлюза мира. Запросы мультиплексируются по ID,
// ответы разбирает одна горутина чтения.
type Client struct {
	cfg    ClientConfig
	conn   *websocket.Conn
	logger *logging.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Response
	err     error // причина разрыва

	done      chan struct{}
	closeOnce sync.Once
}

// Dial подключается к шлюзу
func Dial(ctx context.Context, cfg ClientConfig, logger *logging.Logger) (*Client, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", cfg.URL, err)
	}

	c := &Client{
		cfg:     cfg,
		conn:    conn,
		logger:  logger,
		pending: make(map[uint64]chan Response),
		done:    make(chan struct{}),
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.pingPump()

	logger.Info("🔌 подключен к шлюзу %s", cfg.URL)
	return c, nil
}

// GetBlockSample реализует world.World
func (c *Client) GetBlockSample(ctx context.Context, pos vec.Vec3) (world.BlockSample, error) {
	var out world.BlockSample
	err := c.call(ctx, MethodBlockSample, blockSampleParams{Pos: pos}, &out)
	return out, err
}

// GetChunkBlocks реализует world.World
func (c *Client) GetChunkBlocks(ctx context.Context, chunk vec.Vec3) (world.ChunkBlocks, error) {
	var res chunkBlocksResult
	if err := c.call(ctx, MethodChunkBlocks, chunkBlocksParams{Chunk: chunk}, &res); err != nil {
		return nil, err
	}
	blocks := make(world.ChunkBlocks, len(res.Blocks))
	for _, b := range res.Blocks {
		blocks[b.Pos] = world.BlockSample{ObjectType: b.ObjectType, Biome: b.Biome}
	}
	return blocks, nil
}

// CurrentPosition реализует movement.Mover
func (c *Client) CurrentPosition(ctx context.Context) (vec.Vec3, error) {
	var pos vec.Vec3
	err := c.call(ctx, MethodPosition, struct{}{}, &pos)
	return pos, err
}

// SubmitMoveBatch реализует movement.Mover
func (c *Client) SubmitMoveBatch(ctx context.Context, steps []vec.Vec3) (movement.Confirmation, error) {
	var conf movement.Confirmation
	err := c.call(ctx, MethodSubmitMoves, submitMovesParams{Steps: steps}, &conf)
	return conf, err
}

// Close закрывает соединение; ожидающие запросы получают ErrDisconnected
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
		<-c.done
	})
	return err
}

func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%s: marshal params: %w", method, err)
	}

	id := c.nextID.Add(1)
	ch := make(chan Response, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return c.err
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer c.forget(id)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = c.conn.WriteJSON(Request{ID: id, Method: method, Params: raw})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: %w: %w", method, ErrDisconnected, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return c.disconnectErr()
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) disconnectErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrDisconnected
}

func (c *Client) readPump() {
	defer close(c.done)

	for {
		var resp Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("шлюз разорвал соединение: %v", err)
			}
			c.fail(fmt.Errorf("%w: %w", ErrDisconnected, err))
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("ответ шлюза на неизвестный запрос %d", resp.ID)
			continue
		}
		select {
		case ch <- resp:
		default: // повторный ответ на тот же ID
		}
	}
}

// fail завершает все ожидающие запросы
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
