// Copyright 2024 The morph authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package morph

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Process-wide guard defaults used by autocommit contexts.
var (
	DefaultAllowAlter = true
	DefaultAllowDrop  = true
)

// State is the lifecycle state of an evolution context.
type State int

const (
	StateOpen State = iota
	StateCommitting
	StateCommitted
	StateAborted
	StateDryRunCompleted
)

var stateNames = map[State]string{
	StateOpen:            "open",
	StateCommitting:      "committing",
	StateCommitted:       "committed",
	StateAborted:         "aborted",
	StateDryRunCompleted: "dry-run-completed",
}

func (s State) String() string { return stateNames[s] }

// EvolveOptions configures one evolution context. Guards are checked when an
// intent is enqueued, not at commit, so a rejected mutation surfaces at the
// call site that requested it.
type EvolveOptions struct {
	DryRun     bool
	AllowAlter bool
	AllowDrop  bool
}

// EvolveContext batches catalog mutations into a single commit. Intents
// accumulate in order; nothing reaches the remote catalog until Close, and a
// dry-run context never reaches it at all.
type EvolveContext struct {
	catalog *Catalog
	opts    EvolveOptions

	mu    sync.Mutex
	state State
	queue []Intent
	plan  *Plan
}

// Evolve opens an evolution context. Only one context may be open per
// catalog at a time.
func (c *Catalog) Evolve(opts EvolveOptions) (*EvolveContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evolving != nil {
		return nil, schemaErrorf("an evolution context is already open on this catalog")
	}
	e := &EvolveContext{catalog: c, opts: opts, state: StateOpen}
	c.evolving = e
	c.logger.Debug("evolution context opened",
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("allow_alter", opts.AllowAlter),
		zap.Bool("allow_drop", opts.AllowDrop))
	return e, nil
}

// WithEvolve runs fn inside a scoped evolution context: the context is
// committed when fn returns nil and aborted when fn returns an error or
// panics.
func (c *Catalog) WithEvolve(ctx context.Context, opts EvolveOptions, fn func(*EvolveContext) error) error {
	e, err := c.Evolve(opts)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			e.Abort() //nolint:errcheck
			panic(r)
		}
	}()
	if err := fn(e); err != nil {
		if aerr := e.Abort(); aerr != nil {
			c.logger.Warn("abort after error failed", zap.Error(aerr))
		}
		return err
	}
	return e.Close(ctx)
}

// State reports the context's lifecycle state.
func (e *EvolveContext) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Pending returns the queued intents in enqueue order.
func (e *EvolveContext) Pending() []Intent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Intent, len(e.queue))
	copy(out, e.queue)
	return out
}

// Plan returns the resolved execution plan; nil until the context closed.
func (e *EvolveContext) Plan() *Plan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plan
}

// Enqueue appends an intent to the mutation queue. An intent rejected by a
// guard leaves the queue unchanged.
func (e *EvolveContext) Enqueue(in Intent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateOpen {
		return &ClosedContextError{State: e.state}
	}
	if isDrop(in) && !e.opts.AllowDrop {
		return &GuardError{Intent: in, Guard: "allow_drop"}
	}
	if isAlter(in) && !e.opts.AllowAlter {
		return &GuardError{Intent: in, Guard: "allow_alter"}
	}
	e.queue = append(e.queue, in)
	e.catalog.logger.Debug("intent enqueued", zap.String("intent", in.Describe()))
	return nil
}

// Abort discards the queue and closes the context. Nothing is sent to the
// remote catalog. Aborting an already closed context is a no-op.
func (e *EvolveContext) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateOpen {
		return nil
	}
	e.catalog.logger.Debug("evolution context aborted", zap.Int("discarded", len(e.queue)))
	e.queue = nil
	e.finish(StateAborted)
	return nil
}

// Close resolves every computed relation in the queue, then either prints
// the plan (dry run) or applies the queue to the remote catalog in order.
// Closing an already closed context is a no-op. On a mid-queue failure the
// local model is resynced from the server and a CommitError reports what was
// and was not applied.
func (e *EvolveContext) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateOpen {
		return nil
	}
	e.state = StateCommitting
	c := e.catalog

	// Resolution happens in full before the first remote mutation, so an
	// evaluation error leaves the catalog untouched.
	plan, err := e.resolve(ctx)
	if err != nil {
		e.queue = nil
		e.finish(StateAborted)
		return err
	}
	e.plan = plan

	if e.opts.DryRun {
		plan.Render(c.diag)
		e.queue = nil
		e.finish(StateDryRunCompleted)
		return nil
	}

	for i, in := range e.queue {
		if err := c.backend.Apply(ctx, in); err != nil {
			c.logger.Error("commit failed", zap.String("intent", in.Describe()), zap.Error(err))
			cerr := &CommitError{
				Applied:   append([]Intent(nil), e.queue[:i]...),
				Failed:    in,
				Remaining: append([]Intent(nil), e.queue[i+1:]...),
				Err:       err,
			}
			e.queue = nil
			e.finish(StateAborted)
			if rerr := c.refresh(ctx); rerr != nil {
				c.logger.Warn("model resync after failed commit failed", zap.Error(rerr))
			}
			return cerr
		}
		c.logger.Info("applied", zap.String("intent", in.Describe()))
	}
	e.queue = nil
	e.finish(StateCommitted)
	return c.refresh(ctx)
}

// finish records the terminal state and detaches the context from its
// catalog. Caller holds e.mu.
func (e *EvolveContext) finish(s State) {
	e.state = s
	c := e.catalog
	c.mu.Lock()
	if c.evolving == e {
		c.evolving = nil
	}
	c.mu.Unlock()
}

// resolve evaluates every computed relation in the queue through a shared
// planner and fills in the resolved definitions and rows. Foreign keys whose
// target relation is assigned a name in this same batch are resolved to that
// name; the rest are dropped with a warning.
func (e *EvolveContext) resolve(ctx context.Context) (*Plan, error) {
	c := e.catalog
	planner := NewPlanner(c.backend, c.matcher, c.limit)

	assigned := map[*Relation]TableRef{}
	for _, in := range e.queue {
		if cta, ok := in.(*CreateTableAs); ok {
			assigned[cta.Rel] = TableRef{Schema: cta.Schema, Table: cta.Table}
		}
	}

	// Evaluate everything first. Alignment with AlignAddUnmatched may grow a
	// reference relation that was evaluated earlier, so rows are collected
	// from the planner cache only after all evaluation is done.
	evals := map[*CreateTableAs]*Evaluation{}
	for _, in := range e.queue {
		cta, ok := in.(*CreateTableAs)
		if !ok {
			continue
		}
		ev, err := planner.Evaluate(ctx, cta.Rel)
		if err != nil {
			return nil, err
		}
		evals[cta] = ev
	}

	plan := &Plan{}
	for _, in := range e.queue {
		step := PlanStep{Intent: in}
		if cta, ok := in.(*CreateTableAs); ok {
			ev := evals[cta]
			def := &TableDef{
				SchemaName:  cta.Schema,
				TableName:   cta.Table,
				Columns:     ev.Columns,
				Keys:        ev.Keys,
				ForeignKeys: ev.ForeignKeys,
			}
			for _, p := range cta.Rel.pending {
				ref, ok := assigned[p.target]
				if !ok {
					c.logger.Warn("dropping foreign key to unassigned relation",
						zap.String("table", cta.Table),
						zap.Strings("columns", p.columns),
						zap.String("target", p.target.Name()))
					continue
				}
				def.ForeignKeys = append(def.ForeignKeys, ForeignKeyDef{
					Columns:   append([]string(nil), p.columns...),
					ToSchema:  ref.Schema,
					ToTable:   ref.Table,
					ToColumns: append([]string(nil), p.targetCols...),
				})
			}
			rows := planner.cache[cta.Rel].rows
			cta.def = def
			cta.rows = rows
			sample := rows
			if len(sample) > c.limit {
				sample = sample[:c.limit]
			}
			step.Columns = ev.Columns
			step.Sample = sample
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}
