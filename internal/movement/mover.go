// Package movement разбивает путь на транзакции перемещения, отправляет их
// исполнителю и сверяет план с фактической позицией агента.
package movement

import (
	"context"
	"errors"

	"github.com/annel0/voxel-agent/internal/vec"
)

var (
	// ErrTransactionFailed транзакция перемещения отклонена или не подтверждена
	ErrTransactionFailed = errors.New("move transaction failed")
	// ErrStepExceedsCap один шаг дороже лимита транзакции
	ErrStepExceedsCap = errors.New("step exceeds move unit cap")
)

// Confirmation подтверждение выполненной транзакции
type Confirmation struct {
	TxID      string   `json:"tx_id"`
	Position  vec.Vec3 `json:"position"` // Позиция сразу после применения шагов, по данным исполнителя
	Steps     int      `json:"steps"`
	MoveUnits int      `json:"move_units"`
}

// Mover внешний исполнитель перемещений (контракт мира, шлюз, симулятор)
type Mover interface {
	CurrentPosition(ctx context.Context) (vec.Vec3, error)
	// SubmitMoveBatch отправляет шаги одной транзакцией; шаги не включают текущую позицию
	SubmitMoveBatch(ctx context.Context, steps []vec.Vec3) (Confirmation, error)
}
