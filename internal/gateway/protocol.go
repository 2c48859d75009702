// Package gateway JSON-протокол запрос/ответ поверх websocket между агентом
// и шлюзом мира. Client реализует world.World и movement.Mover, Server
// обслуживает те же методы поверх локального мира (симулятор, стенды).
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/annel0/voxel-agent/internal/movement"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
	"github.com/annel0/voxel-agent/internal/world/block"
)

// Методы протокола
const (
	MethodBlockSample = "block_sample"
	MethodChunkBlocks = "chunk_blocks"
	MethodPosition    = "position"
	MethodSubmitMoves = "submit_moves"
)

// Коды ошибок
const (
	CodeChunkNotExplored = "chunk_not_explored"
	CodeTxReverted       = "tx_reverted"
	CodeBadRequest       = "bad_request"
	CodeInternal         = "internal"
)

// ErrDisconnected соединение со шлюзом потеряно
var ErrDisconnected = errors.New("gateway disconnected")

// Request запрос агента
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response ответ шлюза; Error и Result взаимоисключающие
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

// RemoteError ошибка, возвращённая шлюзом
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gateway %s: %s", e.Code, e.Message)
}

// Unwrap сопоставляет коды шлюза с ошибками домена
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeChunkNotExplored:
		return world.ErrChunkNotExplored
	case CodeTxReverted:
		return movement.ErrTransactionFailed
	}
	return nil
}

// codeFor код ошибки для ответа сервера
func codeFor(err error) string {
	switch {
	case errors.Is(err, world.ErrChunkNotExplored):
		return CodeChunkNotExplored
	case errors.Is(err, movement.ErrTransactionFailed):
		return CodeTxReverted
	}
	return CodeInternal
}

type blockSampleParams struct {
	Pos vec.Vec3 `json:"pos"`
}

type chunkBlocksParams struct {
	Chunk vec.Vec3 `json:"chunk"`
}

type submitMovesParams struct {
	Steps []vec.Vec3 `json:"steps"`
}

// wireBlock блок чанка в ответе chunk_blocks
type wireBlock struct {
	Pos        vec.Vec3         `json:"pos"`
	ObjectType block.ObjectType `json:"object_type"`
	Biome      uint8            `json:"biome,omitempty"`
}

type chunkBlocksResult struct {
	Blocks []wireBlock `json:"blocks"`
}
