// Package engine implements the progressive hedging solver family.
//
// Every engine solves
//
//	minimize Σ_s p_s f_s(x_s) subject to x non-anticipative
//
// by alternating per-scenario proximal solves with the projection onto the
// non-anticipativity subspace:
//
//   - [SolveProgressiveHedging]: the classic synchronous algorithm, all
//     scenarios per iteration, with primal and dual residual stopping.
//   - [SolveRandomizedSync]: one sampled scenario per iteration, a randomized
//     Douglas–Rachford step on the consensus variable.
//   - [SolveRandomizedPar]: the same step with one sampled scenario per
//     worker, solved concurrently behind a barrier.
//   - [SolveRandomizedAsync]: a master goroutine dispatching subproblems to a
//     pool of workers and applying results as they arrive, with stale reads.
//   - [SolveDirect]: the extensive form, solved at once, for reference values.
//
// # Example
//
//	pb, _ := models.NewHydroThermal().Problem()
//	res, err := engine.SolveProgressiveHedging(ctx, pb,
//		engine.WithPenalty(3), engine.WithMaxIter(500))
//
// # Thread Safety
//
// A solve owns its iterates; nothing returned in a [Result] is shared with a
// running goroutine. Observers are called from the goroutine that applies
// updates and must not block.
package engine
