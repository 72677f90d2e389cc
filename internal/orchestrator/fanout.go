package orchestrator

import (
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"shotforge/internal/catalog"
	"shotforge/internal/domain"
	"shotforge/internal/provider"
)

// fanOutBase is the progress a grid job reports once its preview is ready.
// Child completions move it through the next fifty points.
const fanOutBase = 25

// fanOutProgress is 25 + floor(resolved/total*50). A child counts as resolved
// once it has reported either way, so a failed quadrant still advances the bar.
func fanOutProgress(resolved, total int) int {
	if total <= 0 {
		return fanOutBase
	}
	return fanOutBase + resolved*50/total
}

// fanOut materializes the quadrants of a finished grid preview. Each child is
// submitted, then polled by its own poller bound to a fixed slot. The returned
// channel closes once every child poller has stopped; nil means the job was
// settled here, either degraded to the preview or failed.
func (o *Orchestrator) fanOut(att *attempt, parentTaskID string, status provider.TaskStatus) <-chan struct{} {
	handles := make([]provider.SubResultHandle, 0, catalog.GridSize)
	for _, h := range status.SubResults {
		if h.Index >= 0 && h.Index < catalog.GridSize && h.Ref != "" {
			handles = append(handles, h)
		}
	}
	slices.SortFunc(handles, func(a, b provider.SubResultHandle) int { return a.Index - b.Index })
	handles = slices.CompactFunc(handles, func(a, b provider.SubResultHandle) bool { return a.Index == b.Index })

	need := len(att.slotProgress)
	grid, ok := att.client.(provider.GridClient)
	if !ok || len(handles) < need {
		o.logger.Warn().
			Str("job_id", att.jobID).
			Str("task_id", parentTaskID).
			Int("handles", len(handles)).
			Int("quantity", need).
			Msg("grid cannot be split; keeping preview")
		o.completeTarget(att, pollTarget{role: roleGrid, slot: -1, taskID: parentTaskID}, status)
		return nil
	}
	handles = handles[:need]

	children := make([]string, need)
	errs := make([]error, need)
	var g errgroup.Group
	g.SetLimit(catalog.GridSize)
	for slot, h := range handles {
		g.Go(func() error {
			sub, err := grid.SubmitUpscale(att.ctx, parentTaskID, h)
			if err != nil {
				errs[slot] = provider.ClassifyTransport("upscale "+parentTaskID, err)
				return nil
			}
			children[slot] = sub.TaskID
			return nil
		})
	}
	_ = g.Wait()
	if att.ctx.Err() != nil {
		return nil
	}

	var accepted []string
	for _, id := range children {
		if id != "" {
			accepted = append(accepted, id)
		}
	}
	o.emit(att.event(domain.JobEvent{Type: domain.EventFanOut, TaskID: parentTaskID, TaskIDs: accepted, Progress: fanOutBase}))
	o.logger.Debug().
		Str("job_id", att.jobID).
		Str("task_id", parentTaskID).
		Strs("children", accepted).
		Msg("grid fanned out")

	var wg sync.WaitGroup
	for slot, id := range children {
		if id == "" {
			o.failTarget(att, pollTarget{role: roleChild, slot: slot}, errs[slot])
			continue
		}
		target := pollTarget{role: roleChild, slot: slot, taskID: id}
		wg.Add(1)
		o.workers.Add(1)
		go func() {
			defer o.workers.Done()
			defer wg.Done()
			o.poll(att, target)
		}()
	}

	done := make(chan struct{})
	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		wg.Wait()
		close(done)
	}()
	return done
}
