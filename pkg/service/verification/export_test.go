package verification

import (
	"context"

	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
)

func (g *Gate) HasValidator(stage types.Stage) bool {
	_, ok := g.validators[stage]
	return ok
}

func (g *Gate) ValidatorCount() int {
	return len(g.validators)
}

func (g *Gate) SetValidator(stage types.Stage, fn func(ctx context.Context, data *Data) *model.VerificationResult) {
	g.validators[stage] = fn
}
