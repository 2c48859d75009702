package pathfind

import (
	"context"
	"errors"

	"github.com/annel0/voxel-agent/internal/vec"
)

// ErrTargetUnreachable рядом с целью нет позиции, где можно стоять
var ErrTargetUnreachable = errors.New("target unreachable")

// ResolveTarget возвращает ближайшую к target стоячую позицию в той же колонке.
// Пробы идут на расстоянии d = 1..ResolveRadius: сначала вверх, затем вниз.
func (p *Planner) ResolveTarget(ctx context.Context, target vec.Vec3) (vec.Vec3, error) {
	ok, err := p.model.IsStanding(ctx, target)
	if err != nil {
		return vec.Vec3{}, err
	}
	if ok {
		return target, nil
	}

	for d := int32(1); d <= p.opts.ResolveRadius; d++ {
		for _, candidate := range [2]vec.Vec3{target.Up(d), target.Down(d)} {
			ok, err := p.model.IsStanding(ctx, candidate)
			if err != nil {
				return vec.Vec3{}, err
			}
			if ok {
				p.logger.Debug("цель %v скорректирована до %v", target, candidate)
				return candidate, nil
			}
		}
	}
	return vec.Vec3{}, ErrTargetUnreachable
}
