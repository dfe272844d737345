package transaction

import (
	"github.com/terassyi/depot/internal/frontend"
	"github.com/terassyi/depot/internal/resolve"
)

func toFrontendPlan(plan resolve.Plan) frontend.PlanView {
	view := frontend.PlanView{Warnings: plan.Warnings}
	for _, op := range plan.Operations {
		view.Ops = append(view.Ops, frontend.PlanOp{
			Ref:        op.Ref.Format(),
			Kind:       op.Kind.String(),
			Remote:     op.Remote,
			FromCommit: string(op.FromCommit),
			ToCommit:   string(op.ToCommit),
			Synthetic:  op.Synthetic,
		})
	}
	return view
}

func toFrontendOp(op resolve.Operation) frontend.OpView {
	return frontend.OpView{Ref: op.Ref.Format(), Kind: op.Kind.String(), Remote: op.Remote}
}
