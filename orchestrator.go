package coordinate

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/tidwall/btree"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/fortressi/coordinate/dag"
)

// Orchestrator executes a DAG of tasks in dependency order: independent
// tasks run concurrently in waves, dependent tasks only after every
// prerequisite completed. A cycle is a fatal configuration error rejected
// before any task runs.
type Orchestrator struct {
	tasks   map[TaskID]Task
	record  *CoordinationRecord
	store   RecordStore
	journal *Journal
	log     zerolog.Logger

	graph  *dag.Graph
	nodeOf map[TaskID]int64
	taskOf map[int64]TaskID

	mu       sync.Mutex
	statuses map[TaskID]TaskStatus
	results  *btree.Map[TaskID, TaskResult]
}

// NewOrchestrator creates an orchestrator bound to its record and store.
// Tasks already recorded as completed (a resumed run) are not re-executed.
func NewOrchestrator(record *CoordinationRecord, store RecordStore, tasks map[TaskID]Task, log zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		tasks:    tasks,
		record:   record,
		store:    store,
		journal:  NewJournal(record.ID),
		log:      log.With().Stringer("coordination_id", record.ID).Str("strategy", string(StrategyOrchestration)).Logger(),
		nodeOf:   make(map[TaskID]int64, len(tasks)),
		taskOf:   make(map[int64]TaskID, len(tasks)),
		statuses: make(map[TaskID]TaskStatus, len(tasks)),
		results:  btree.NewMap[TaskID, TaskResult](8),
	}
	for id := range tasks {
		o.statuses[id] = TaskPending
	}
	for _, c := range record.Completed {
		id := TaskID(c.Name)
		if _, ok := tasks[id]; ok {
			o.statuses[id] = TaskCompleted
			// Recorded outputs are rehydrated to the shape an uninterrupted
			// run produces, so dependents see the same types after a resume.
			var output any
			if len(c.Output) > 0 {
				if err := json.Unmarshal(c.Output, &output); err != nil {
					output = c.Output
				}
			}
			o.results.Set(id, TaskResult{Status: TaskCompleted, Result: Result{Output: output}})
		}
	}
	return o
}

// Execute validates the graph and runs it to a terminal status. Task
// failures become state transitions; only configuration and persistence
// errors return as errors.
func (o *Orchestrator) Execute(ctx context.Context) (*Outcome, error) {
	if len(o.tasks) == 0 {
		return nil, ConfigurationFailed("orchestration %q has no tasks", o.record.Name)
	}
	if err := o.buildGraph(); err != nil {
		return nil, err
	}
	if o.graph.HasCycle() {
		return nil, ConfigurationFailed("orchestration %q has a dependency cycle", o.record.Name)
	}

	o.record.Status = StatusRunning
	if err := o.store.Save(ctx, o.record); err != nil {
		return o.abandon(err)
	}

	var causes *multierror.Error
	for wave := 0; ; wave++ {
		if ctx.Err() != nil {
			causes = multierror.Append(causes, ctx.Err())
			break
		}

		eligible := o.eligible()
		if len(eligible) == 0 {
			break
		}

		failed := o.runWave(ctx, eligible, &causes)

		o.record.StepIndex = wave + 1
		o.syncCompleted()
		if err := o.store.Save(ctx, o.record); err != nil {
			return o.abandon(err)
		}

		if len(failed) > 0 {
			o.skipDependents(failed)
			break
		}
	}

	status := StatusCompleted
	for _, taskStatus := range o.taskStatuses() {
		if taskStatus != TaskCompleted {
			status = StatusFailed
			break
		}
	}

	cause := causes.ErrorOrNil()
	o.record.Status = status
	if cause != nil {
		o.record.Cause = cause.Error()
	}
	if err := o.store.Save(ctx, o.record); err != nil {
		return o.abandon(err)
	}
	return o.outcome(status, cause), nil
}

// buildGraph materializes the dependency relation as a directed graph,
// with an edge from each prerequisite to its dependent.
func (o *Orchestrator) buildGraph() error {
	o.graph = dag.New()
	for id := range o.tasks {
		node := o.graph.NewNode()
		o.graph.AddNode(node)
		o.nodeOf[id] = node.ID()
		o.taskOf[node.ID()] = id
	}
	for id, task := range o.tasks {
		if task.DependsOn == nil {
			continue
		}
		for dep := range task.DependsOn.Iter() {
			if dep == id {
				return ConfigurationFailed("task %s depends on itself", id)
			}
			depNode, ok := o.nodeOf[dep]
			if !ok {
				return ConfigurationFailed("task %s depends on unknown task %s", id, dep)
			}
			o.graph.SetEdge(simple.Edge{F: o.graph.Node(depNode), T: o.graph.Node(o.nodeOf[id])})
		}
	}
	return nil
}

// eligible returns the pending tasks whose dependencies are all completed,
// sorted for deterministic scheduling.
func (o *Orchestrator) eligible() []TaskID {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []TaskID
	for id, task := range o.tasks {
		if o.statuses[id] != TaskPending {
			continue
		}
		ready := true
		if task.DependsOn != nil {
			for dep := range task.DependsOn.Iter() {
				if o.statuses[dep] != TaskCompleted {
					ready = false
					break
				}
			}
		}
		if ready {
			out = append(out, id)
		}
	}
	sortTaskIDs(out)
	return out
}

// runWave executes one wave concurrently and blocks until every task in it
// has finished. Failures within the wave never interrupt its siblings.
func (o *Orchestrator) runWave(ctx context.Context, wave []TaskID, causes **multierror.Error) []TaskID {
	var (
		mu     sync.Mutex
		failed []TaskID
	)
	var g errgroup.Group
	for _, id := range wave {
		id := id
		task := o.tasks[id]
		o.setStatus(id, TaskRunning)
		g.Go(func() error {
			o.mustJournal(string(id), EventStarted)
			start := time.Now()
			result, err := task.Action.Execute(ctx)
			result.StartTime = start
			result.EndTime = time.Now()

			if err != nil {
				o.mustJournal(string(id), EventFailed)
				o.log.Warn().Err(err).Str("task", string(id)).Msg("task failed")
				o.recordResult(id, TaskResult{Status: TaskFailed, Err: ParticipantFailed(string(id), err)})
				mu.Lock()
				failed = append(failed, id)
				*causes = multierror.Append(*causes, ParticipantFailed(string(id), err))
				mu.Unlock()
				return nil
			}
			o.mustJournal(string(id), EventSucceeded)
			o.recordResult(id, TaskResult{Status: TaskCompleted, Result: result})
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// skipDependents marks every direct or transitive dependent of the failed
// tasks as skipped; they are never started.
func (o *Orchestrator) skipDependents(failed []TaskID) {
	skip := mapset.NewSet[TaskID]()
	for _, id := range failed {
		for _, nodeID := range o.graph.Descendants(o.nodeOf[id]) {
			skip.Add(o.taskOf[nodeID])
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range skip.Iter() {
		if o.statuses[id] == TaskPending {
			o.statuses[id] = TaskSkipped
			o.results.Set(id, TaskResult{Status: TaskSkipped})
		}
	}
}

// Results returns the per-task terminal results recorded so far, in task
// ID order.
func (o *Orchestrator) Results() map[TaskID]TaskResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[TaskID]TaskResult, o.results.Len())
	o.results.Scan(func(id TaskID, r TaskResult) bool {
		out[id] = r
		return true
	})
	return out
}

// TaskStatuses returns a snapshot of every task's status.
func (o *Orchestrator) TaskStatuses() map[TaskID]TaskStatus {
	return o.taskStatuses()
}

// Journal returns the event journal for the run.
func (o *Orchestrator) Journal() *Journal {
	return o.journal
}

// ExportToDot renders the dependency graph in Graphviz format. The graph
// exists only after Execute has validated it.
func (o *Orchestrator) ExportToDot() (string, error) {
	if o.graph == nil {
		if err := o.buildGraph(); err != nil {
			return "", err
		}
	}
	return o.graph.ExportToDot()
}

func (o *Orchestrator) taskStatuses() map[TaskID]TaskStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[TaskID]TaskStatus, len(o.statuses))
	for id, s := range o.statuses {
		out[id] = s
	}
	return out
}

func (o *Orchestrator) setStatus(id TaskID, s TaskStatus) {
	o.mu.Lock()
	o.statuses[id] = s
	o.mu.Unlock()
}

func (o *Orchestrator) recordResult(id TaskID, r TaskResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results.Set(id, r)
	o.statuses[id] = r.Status
}

// syncCompleted rebuilds the record's completed list from the result map,
// preserving task ID order so resumed runs see a stable view.
func (o *Orchestrator) syncCompleted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record.Completed = o.record.Completed[:0]
	o.results.Scan(func(id TaskID, r TaskResult) bool {
		if r.Status == TaskCompleted {
			o.record.Completed = append(o.record.Completed, completedUnit(string(id), r.Result, o.log))
		}
		return true
	})
}

func (o *Orchestrator) abandon(storeErr error) (*Outcome, error) {
	err := PersistenceFailed(storeErr)
	o.log.Error().Err(storeErr).Msg("abandoning orchestration, state store write failed")
	return o.outcome(StatusIndeterminate, err), err
}

func (o *Orchestrator) outcome(status Status, cause error) *Outcome {
	results := make(map[string]Result)
	o.mu.Lock()
	o.results.Scan(func(id TaskID, r TaskResult) bool {
		if r.Status == TaskCompleted {
			results[string(id)] = r.Result
		}
		return true
	})
	o.mu.Unlock()
	return &Outcome{
		ID:         o.record.ID,
		Name:       o.record.Name,
		Strategy:   StrategyOrchestration,
		Status:     status,
		Cause:      cause,
		Results:    results,
		StartedAt:  o.record.CreatedAt,
		FinishedAt: time.Now(),
	}
}

func (o *Orchestrator) mustJournal(unit string, eventType EventType) {
	if err := o.journal.Record(unit, eventType); err != nil {
		o.log.Error().Err(err).Str("unit", unit).Msg("journal rejected event")
	}
}

func sortTaskIDs(ids []TaskID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
