package eventbus

import "github.com/annel0/voxel-agent/internal/vec"

// Типы событий навигации
const (
	TypePathPlanned        = "PathPlanned"
	TypeBatchConfirmed     = "BatchConfirmed"
	TypeReplanRequired     = "ReplanRequired"
	TypeNavigationFinished = "NavigationFinished"
)

// PathPlanned результат планирования одного цикла
type PathPlanned struct {
	Cycle      int      `json:"cycle"`
	Start      vec.Vec3 `json:"start"`
	Target     vec.Vec3 `json:"target"`
	Status     string   `json:"status"`
	PathLength int      `json:"path_length"`
	Iterations int      `json:"iterations"`
}

// BatchConfirmed подтверждённая транзакция перемещения
type BatchConfirmed struct {
	Cycle     int      `json:"cycle"`
	Index     int      `json:"index"`
	TxID      string   `json:"tx_id"`
	Steps     int      `json:"steps"`
	MoveUnits int      `json:"move_units"`
	Actual    vec.Vec3 `json:"actual"`
	Drift     int32    `json:"drift"`
}

// ReplanRequired план устарел
type ReplanRequired struct {
	Cycle    int      `json:"cycle"`
	Reason   string   `json:"reason"`
	Position vec.Vec3 `json:"position"`
}

// NavigationFinished итог навигации
type NavigationFinished struct {
	Target   vec.Vec3 `json:"target"`
	Reached  bool     `json:"reached"`
	Position vec.Vec3 `json:"position"`
	Cycles   int      `json:"cycles"`
	Batches  int      `json:"batches"`
	Error    string   `json:"error,omitempty"`
}
