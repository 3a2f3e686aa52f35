package syncd

// direction of a sync phase.
type direction int

const (
	directionForward direction = iota
	directionBackward
)

func (d direction) String() string {
	if d == directionForward {
		return "forward"
	}
	return "backward"
}

// priority classifies why a plan was chosen.
type priority string

const (
	priorityInitial    priority = "initial"
	prioritySteady     priority = "steady"
	priorityCompletion priority = "completion"
)

// Caps applied once the index is nearly complete: the cycle shrinks to
// small touch-up phases and hands the rest to gap detection.
const (
	nearCompletionForwardCap  = 500
	nearCompletionBackwardCap = 1000
)

// phase is one contiguous run of heights. Start and End are inclusive;
// forward phases ascend from Start to End, backward phases descend.
type phase struct {
	direction direction
	start     int64
	end       int64
}

// blockCount returns the number of heights the phase covers.
func (p *phase) blockCount() int64 {
	if p.direction == directionForward {
		return p.end - p.start + 1
	}
	return p.start - p.end + 1
}

// heights materializes the phase's ordered height list.
func (p *phase) heights() []int64 {
	count := p.blockCount()
	heights := make([]int64, 0, count)
	if p.direction == directionForward {
		for h := p.start; h <= p.end; h++ {
			heights = append(heights, h)
		}
	} else {
		for h := p.start; h >= p.end; h-- {
			heights = append(heights, h)
		}
	}
	return heights
}

// plan is the outcome of one planning pass: the ordered phases a cycle will
// execute, forward always before backward.
type plan struct {
	phases       []phase
	priority     priority
	needsGapFill bool
}

// blocksToSync returns the total number of heights across all phases.
func (p *plan) blocksToSync() int64 {
	var total int64
	for i := range p.phases {
		total += p.phases[i].blockCount()
	}
	return total
}

// frontierView is the derived per-cycle arithmetic the planner works from.
type frontierView struct {
	tip               int64
	highest           *int64
	lowest            *int64
	count             int64
	targetLowest      int64
	initialSyncTarget int64
	newRemaining      int64
	historicalRemaining int64
	progress          float64
}

func (e *Engine) deriveFrontierView(tip int64, count int64, highest, lowest *int64) frontierView {
	view := frontierView{
		tip:     tip,
		highest: highest,
		lowest:  lowest,
		count:   count,
	}

	retentionBlocks := int64(e.cfg.BlocksPerDay) * int64(e.cfg.RetentionDays)
	view.targetLowest = tip - retentionBlocks
	if view.targetLowest < 0 {
		view.targetLowest = 0
	}
	view.initialSyncTarget = tip - int64(e.cfg.BlocksPerDay)
	if view.initialSyncTarget < 0 {
		view.initialSyncTarget = 0
	}

	if highest != nil {
		view.newRemaining = tip - *highest
		if view.newRemaining < 0 {
			view.newRemaining = 0
		}
	}
	if lowest != nil {
		view.historicalRemaining = *lowest - view.targetLowest
		if view.historicalRemaining < 0 {
			view.historicalRemaining = 0
		}
	}
	if retentionBlocks > 0 {
		view.progress = float64(count) / float64(retentionBlocks) * 100
		if view.progress > 100 {
			view.progress = 100
		}
	}
	return view
}

// computePlan decides what the cycle will sync. Three branches:
//
//   - First run: one forward phase from the initial sync target toward tip,
//     capped at the budget.
//   - Near completion: a small forward or backward touch-up, and the plan is
//     marked as requiring gap detection.
//   - Otherwise a hybrid plan: forward gets budget first, the remainder goes
//     backward from just below the lowest stored height, never crossing the
//     retention target.
func (e *Engine) computePlan(view frontierView) plan {
	budget := int64(e.cfg.MaxBlocksPerSync)
	if budget <= 0 {
		return plan{priority: prioritySteady}
	}

	// Plan arithmetic underflow (no stored lowest) defaults to the
	// first-run branch.
	if view.highest == nil || view.lowest == nil {
		end := view.initialSyncTarget + budget - 1
		if end > view.tip {
			end = view.tip
		}
		return plan{
			priority: priorityInitial,
			phases: []phase{{
				direction: directionForward,
				start:     view.initialSyncTarget,
				end:       end,
			}},
		}
	}

	if view.progress >= e.cfg.GapFillThreshold {
		result := plan{priority: priorityCompletion, needsGapFill: true}
		if view.newRemaining > 0 {
			count := view.newRemaining
			if count > nearCompletionForwardCap {
				count = nearCompletionForwardCap
			}
			result.phases = append(result.phases, phase{
				direction: directionForward,
				start:     *view.highest + 1,
				end:       *view.highest + count,
			})
		} else if view.historicalRemaining > 0 {
			count := view.historicalRemaining
			if count > nearCompletionBackwardCap {
				count = nearCompletionBackwardCap
			}
			result.phases = append(result.phases, phase{
				direction: directionBackward,
				start:     *view.lowest - 1,
				end:       *view.lowest - count,
			})
		}
		return result
	}

	result := plan{priority: prioritySteady}
	remaining := budget

	if view.newRemaining > 0 {
		count := view.newRemaining
		if count > remaining {
			count = remaining
		}
		result.phases = append(result.phases, phase{
			direction: directionForward,
			start:     *view.highest + 1,
			end:       *view.highest + count,
		})
		remaining -= count
	}

	if remaining > 0 && view.historicalRemaining > 0 {
		count := view.historicalRemaining
		if count > remaining {
			count = remaining
		}
		end := *view.lowest - count
		if end < view.targetLowest {
			end = view.targetLowest
		}
		result.phases = append(result.phases, phase{
			direction: directionBackward,
			start:     *view.lowest - 1,
			end:       end,
		})
	}

	return result
}
