package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/annel0/voxel-agent/internal/logging"
	"github.com/annel0/voxel-agent/internal/movement"
	"github.com/annel0/voxel-agent/internal/world"
	"github.com/gorilla/websocket"
)

// Server обслуживает протокол шлюза поверх локального мира и исполнителя.
// Запросы одного соединения выполняются последовательно.
type Server struct {
	world  world.World
	mover  movement.Mover
	logger *logging.Logger

	// Authorize проверяет bearer-токен; nil - без авторизации
	Authorize func(token string) error

	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

// NewServer создаёт сервер шлюза
func NewServer(w world.World, mover movement.Mover, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{
		world:  w,
		mover:  mover,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024, // chunk_blocks отвечает крупными сообщениями
		},
	}
}

// ServeHTTP апгрейдит соединение и обслуживает запросы до разрыва
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.Authorize != nil {
		token := r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
		if err := s.Authorize(token); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade: %v", err)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer conn.Close()

	s.logger.Info("агент подключен: %s", r.RemoteAddr)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("чтение запроса: %v", err)
			}
			return
		}

		resp := s.handle(ctx, req)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Warn("отправка ответа: %v", err)
			return
		}
	}
}

// Wait ждёт завершения всех соединений
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handle(ctx context.Context, req Request) Response {
	result, err := s.dispatch(ctx, req)
	if err != nil {
		return Response{ID: req.ID, Error: toRemote(err)}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Error: &RemoteError{Code: CodeInternal, Message: err.Error()}}
	}
	return Response{ID: req.ID, Result: raw}
}

func (s *Server) dispatch(ctx context.Context, req Request) (interface{}, error) {
	switch req.Method {
	case MethodBlockSample:
		var p blockSampleParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.world.GetBlockSample(ctx, p.Pos)

	case MethodChunkBlocks:
		var p chunkBlocksParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		blocks, err := s.world.GetChunkBlocks(ctx, p.Chunk)
		if err != nil {
			return nil, err
		}
		res := chunkBlocksResult{Blocks: make([]wireBlock, 0, len(blocks))}
		for pos, b := range blocks {
			if b == world.AirSample {
				continue // отсутствие блока означает воздух
			}
			res.Blocks = append(res.Blocks, wireBlock{Pos: pos, ObjectType: b.ObjectType, Biome: b.Biome})
		}
		return res, nil

	case MethodPosition:
		return s.mover.CurrentPosition(ctx)

	case MethodSubmitMoves:
		var p submitMovesParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.mover.SubmitMoveBatch(ctx, p.Steps)
	}

	return nil, &RemoteError{Code: CodeBadRequest, Message: fmt.Sprintf("unknown method %q", req.Method)}
}

func decodeParams(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return &RemoteError{Code: CodeBadRequest, Message: "missing params"}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &RemoteError{Code: CodeBadRequest, Message: err.Error()}
	}
	return nil
}

func toRemote(err error) *RemoteError {
	if re, ok := err.(*RemoteError); ok {
		return re
	}
	return &RemoteError{Code: codeFor(err), Message: err.Error()}
}
