package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	"github.com/yang123apple/EHS-system-sub002/internal/domain/resolver"
	domainwf "github.com/yang123apple/EHS-system-sub002/internal/domain/workflow"
)

// engineImpl implements the Engine interface
type engineImpl struct {
	handlers    *resolver.HandlerResolver
	cc          *resolver.CCResolver
	conditions  resolver.ConditionEvaluator
	emitter     *Emitter
	lattices    *latticeCache
	cacheExpiry time.Duration
}

// EngineOption is a functional option for configuring the engine
type EngineOption func(*engineImpl)

// WithConditions sets the evaluator for cc rule conditions
func WithConditions(c resolver.ConditionEvaluator) EngineOption {
	return func(e *engineImpl) {
		e.conditions = c
	}
}

// WithCacheExpiry sets how long a compiled lattice stays cached without use
func WithCacheExpiry(expiry time.Duration) EngineOption {
	return func(e *engineImpl) {
		e.cacheExpiry = expiry
	}
}

// NewEngine creates a new dispatch engine
func NewEngine(opts ...EngineOption) Engine {
	e := &engineImpl{
		handlers:    resolver.NewHandlerResolver(),
		emitter:     NewEmitter(),
		cacheExpiry: 30 * time.Minute,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.cc = resolver.NewCCResolver(e.conditions)
	e.lattices = newLatticeCache(e.cacheExpiry)

	return e
}

// Open places a new item on step 0
func (e *engineImpl) Open(req OpenRequest) (*DispatchResult, error) {
	if req.Item == nil || req.Definition == nil || req.Org == nil {
		return nil, fmt.Errorf("open: item, definition and org snapshot are required")
	}
	if len(req.Definition.Steps) == 0 {
		return nil, fmt.Errorf("open: definition %s has no steps", req.Definition.Key)
	}

	before := req.Item.Clone()
	next := req.Item.Clone()
	next.DefinitionID = req.Definition.ID
	next.CandidateHandlers = nil
	next.ExecutorID, next.ExecutorName = "", ""

	res, err := e.enter(next, req.Definition, 0, req.Org, domainwf.ActionSubmit)
	if err != nil {
		return nil, err
	}

	result := &DispatchResult{
		Item:              next,
		Action:            domainwf.ActionSubmit,
		Kind:              entity.ActionAdvance,
		PreviousStatus:    before.Status,
		NewStatus:         next.Status,
		PreviousStepIndex: 0,
		NewStepIndex:      0,
		Advanced:          true,
		Handlers:          res.handlers,
		MatchedBy:         res.matchedBy,
		CC:                res.cc,
	}
	result.LogEntry, result.Notifications = e.emitter.emit(transition{
		before:   before,
		after:    next,
		def:      req.Definition,
		operator: req.Operator,
		action:   LogActionCreate,
		kind:     entity.ActionAdvance,
		comment:  req.Comment,
		handlers: res.handlers,
		cc:       res.cc,
		advanced: true,
		now:      req.Now,
	})

	return result, nil
}

// Dispatch applies one action
func (e *engineImpl) Dispatch(req DispatchRequest) (*DispatchResult, error) {
	if req.Item == nil || req.Definition == nil || req.Org == nil {
		return nil, fmt.Errorf("dispatch: item, definition and org snapshot are required")
	}
	item, def := req.Item, req.Definition

	lat, err := e.lattices.get(def)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	kind, fireErr := lat.Fire(domainwf.Status(item.Status), req.Action)

	// A stale step token means someone else moved the item first. This takes
	// precedence over the transition check, since the status has moved as well.
	if req.StepIndex != nil && kind != entity.ActionResubmit && kind != entity.ActionAnnotate {
		if *req.StepIndex != item.CurrentStepIndex || def.IsTerminal(item.Status) {
			return nil, e.refuse(domainwf.ErrAlreadyResolved, req, item.CurrentStepIndex,
				fmt.Sprintf("acted on step %d, item is at step %d (%s)", *req.StepIndex, item.CurrentStepIndex, item.Status))
		}
	}
	// Without a token, a candidate of the step that just settled is the loser of that race
	if req.StepIndex == nil && lostSettledStep(lat, item, req.Operator, req.Action, kind, fireErr) {
		settled := item.SettledStep
		return nil, e.refuse(domainwf.ErrAlreadyResolved, req, settled.StepIndex,
			fmt.Sprintf("step %d (%s) was already settled, item is now %s", settled.StepIndex, settled.Status, item.Status))
	}
	if fireErr != nil {
		return nil, e.refuse(domainwf.ErrInvalidTransition, req, item.CurrentStepIndex, fireErr.Error())
	}

	if kind != entity.ActionResubmit && (item.CurrentStepIndex < 0 || item.CurrentStepIndex > def.LastIndex()) {
		return nil, e.refuse(domainwf.ErrInvalidTransition, req, item.CurrentStepIndex, "step index out of range")
	}

	next := item.Clone()
	if next.FormData == nil {
		next.FormData = make(map[string]any)
	}
	changes := mergeForm(next.FormData, req.FormChanges)

	switch kind {
	case entity.ActionAdvance:
		return e.advance(req, next, changes)
	case entity.ActionReject:
		return e.reject(req, next, changes)
	case entity.ActionResubmit:
		return e.resubmit(req, next, changes)
	case entity.ActionAnnotate:
		return e.annotate(req, next, changes)
	default:
		return nil, e.refuse(domainwf.ErrInvalidTransition, req, item.CurrentStepIndex, fmt.Sprintf("unknown action kind %q", kind))
	}
}

func (e *engineImpl) advance(req DispatchRequest, next *entity.WorkflowItem, changes []string) (*DispatchResult, error) {
	def, org, op := req.Definition, req.Org, req.Operator
	idx := next.CurrentStepIndex
	step := &def.Steps[idx]

	// After a rollback the step's handlers are resolved on first action
	if len(next.CandidateHandlers) == 0 && next.ExecutorID == "" {
		if res := e.handlers.Resolve(next, step, org); !res.Empty() {
			assignHandlers(next, step, res.Handlers)
		}
	}

	var satisfied bool
	switch {
	case op.System:
		satisfied = true
	case len(next.CandidateHandlers) == 0:
		if !step.NoHandlerOK {
			return nil, e.refuse(domainwf.ErrNoHandlerResolved, req, idx,
				e.handlers.Resolve(next, step, org).Reason)
		}
		if op.UserID != next.CreatorID && !op.IsAdmin {
			return nil, e.refuse(domainwf.ErrNotCandidate, req, idx, "step without handler is open to the creator only")
		}
		satisfied = true
	default:
		tracker := domainwf.NewTracker(next.ApprovalMode, next.CandidateHandlers)
		ok, err := tracker.Approve(op.UserID)
		if err != nil {
			return nil, e.refuse(err, req, idx, "")
		}
		next.CandidateHandlers = tracker.Candidates()
		satisfied = ok
	}

	result := &DispatchResult{
		Action:            req.Action,
		Kind:              entity.ActionAdvance,
		PreviousStatus:    req.Item.Status,
		PreviousStepIndex: idx,
	}

	if satisfied {
		result.SettledStep = step
		next.AddHistorical(participants(next, "")...)
		settle(next)

		if idx == def.LastIndex() {
			next.Status = def.CompletedStatus
			clearHandlers(next)
			result.Terminal = true
		} else {
			res, err := e.enter(next, def, idx+1, org, req.Action)
			if err != nil {
				return nil, err
			}
			result.Handlers = res.handlers
			result.MatchedBy = res.matchedBy
			result.CC = res.cc
		}
		result.Advanced = true
	}

	return e.finish(req, next, result, changes, ""), nil
}

func (e *engineImpl) reject(req DispatchRequest, next *entity.WorkflowItem, changes []string) (*DispatchResult, error) {
	def, org, op := req.Definition, req.Org, req.Operator
	idx := next.CurrentStepIndex
	step := &def.Steps[idx]

	if !op.System {
		if len(next.CandidateHandlers) == 0 && next.ExecutorID == "" {
			if res := e.handlers.Resolve(next, step, org); !res.Empty() {
				assignHandlers(next, step, res.Handlers)
			}
		}
		if len(next.CandidateHandlers) == 0 {
			if !step.NoHandlerOK {
				return nil, e.refuse(domainwf.ErrNoHandlerResolved, req, idx,
					e.handlers.Resolve(next, step, org).Reason)
			}
			if op.UserID != next.CreatorID && !op.IsAdmin {
				return nil, e.refuse(domainwf.ErrNotCandidate, req, idx, "step without handler is open to the creator only")
			}
		} else if _, err := domainwf.NewTracker(next.ApprovalMode, next.CandidateHandlers).Authorize(op.UserID); err != nil {
			return nil, e.refuse(err, req, idx, "")
		}
	}

	next.AddHistorical(participants(next, "")...)
	if !op.System {
		settle(next)
	}

	result := &DispatchResult{
		Action:            req.Action,
		Kind:              entity.ActionReject,
		PreviousStatus:    req.Item.Status,
		PreviousStepIndex: idx,
		Advanced:          true,
	}

	target, terminal := rollbackTarget(def, idx)
	if terminal {
		next.Status = def.RejectedStatus
		result.Terminal = true
	} else {
		next.CurrentStepIndex = target
		next.Status = def.Steps[target].Status
	}
	clearHandlers(next)

	return e.finish(req, next, result, changes, ""), nil
}

func (e *engineImpl) resubmit(req DispatchRequest, next *entity.WorkflowItem, changes []string) (*DispatchResult, error) {
	op := req.Operator
	if op.UserID != next.CreatorID && !op.IsAdmin && !op.System {
		return nil, e.refuse(domainwf.ErrNotCandidate, req, next.CurrentStepIndex, "only the creator may resubmit")
	}

	result := &DispatchResult{
		Action:            req.Action,
		Kind:              entity.ActionResubmit,
		PreviousStatus:    req.Item.Status,
		PreviousStepIndex: req.Item.CurrentStepIndex,
		Advanced:          true,
	}

	clearHandlers(next)
	next.SettledStep = nil
	res, err := e.enter(next, req.Definition, 0, req.Org, req.Action)
	if err != nil {
		return nil, err
	}
	result.Handlers = res.handlers
	result.MatchedBy = res.matchedBy
	result.CC = res.cc

	return e.finish(req, next, result, changes, ""), nil
}

func (e *engineImpl) annotate(req DispatchRequest, next *entity.WorkflowItem, changes []string) (*DispatchResult, error) {
	op := req.Operator
	allowed := op.System || op.IsAdmin ||
		op.UserID == next.CreatorID ||
		op.UserID == next.ExecutorID ||
		next.CandidateIndex(op.UserID) >= 0
	if !allowed {
		return nil, e.refuse(domainwf.ErrNotCandidate, req, next.CurrentStepIndex, "only the creator or a current handler may annotate")
	}

	result := &DispatchResult{
		Action:            req.Action,
		Kind:              entity.ActionAnnotate,
		PreviousStatus:    req.Item.Status,
		PreviousStepIndex: req.Item.CurrentStepIndex,
	}
	return e.finish(req, next, result, changes, ""), nil
}

// Invalidate removes a deactivated or deleted account from the item
func (e *engineImpl) Invalidate(req InvalidateRequest) (*DispatchResult, error) {
	if req.Item == nil || req.Definition == nil {
		return nil, fmt.Errorf("invalidate: item and definition are required")
	}
	item, def := req.Item, req.Definition
	if def.IsTerminal(item.Status) {
		return nil, ErrNotAffected
	}

	isExecutor := item.ExecutorID != "" && item.ExecutorID == req.UserID
	pos := item.CandidateIndex(req.UserID)
	if !isExecutor && pos < 0 {
		return nil, ErrNotAffected
	}

	next := item.Clone()
	dreq := DispatchRequest{
		Item:       item,
		Definition: def,
		Org:        req.Org,
		Operator:   SystemOperator(),
		Action:     domainwf.ActionReject,
		Now:        req.Now,
	}

	// An OR step can still be settled by the others
	if !isExecutor && next.ApprovalMode == entity.ApprovalModeOr && len(next.CandidateHandlers) > 1 {
		tracker := domainwf.NewTracker(next.ApprovalMode, next.CandidateHandlers)
		tracker.Remove(req.UserID)
		next.CandidateHandlers = tracker.Candidates()
		if len(next.CandidateHandlers) == 1 {
			only := next.CandidateHandlers[0]
			next.ApprovalMode = entity.ApprovalModeSingle
			next.ExecutorID, next.ExecutorName = only.UserID, only.UserName
		}

		result := &DispatchResult{
			Action:            domainwf.Action(LogActionRemoveCandidate),
			Kind:              entity.ActionAnnotate,
			PreviousStatus:    item.Status,
			PreviousStepIndex: item.CurrentStepIndex,
		}
		dreq.Action = domainwf.Action(LogActionRemoveCandidate)
		dreq.Comment = "Candidate handler account is no longer active and was removed from the step"
		return e.finish(dreq, next, result, nil, ""), nil
	}

	// Otherwise the item cannot progress: reject it outright so the creator can resubmit
	next.AddHistorical(participants(next, req.UserID)...)
	next.Status = def.RejectedStatus
	clearHandlers(next)
	next.SettledStep = nil

	result := &DispatchResult{
		Action:            domainwf.ActionReject,
		Kind:              entity.ActionReject,
		PreviousStatus:    item.Status,
		PreviousStepIndex: item.CurrentStepIndex,
		Advanced:          true,
		Terminal:          true,
	}
	dreq.Action = domainwf.Action(LogActionInvalidate)
	dreq.Comment = "Assigned handler account is no longer active; item rejected automatically"
	return e.finish(dreq, next, result, nil, req.UserID), nil
}

// PermittedActions lists the legal actions in the item's status, sorted by name
func (e *engineImpl) PermittedActions(item *entity.WorkflowItem, def *entity.WorkflowDefinition) ([]domainwf.Action, error) {
	lat, err := e.lattices.get(def)
	if err != nil {
		return nil, err
	}
	actions := lat.PermittedActions(domainwf.Status(item.Status))
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions, nil
}

type entered struct {
	handlers  []entity.UserRef
	matchedBy entity.HandlerKind
	cc        resolver.CCResult
}

// enter moves next onto step target, resolving its handlers and cc users
func (e *engineImpl) enter(next *entity.WorkflowItem, def *entity.WorkflowDefinition, target int, org *entity.OrgSnapshot, action domainwf.Action) (entered, error) {
	step := &def.Steps[target]

	res := e.handlers.Resolve(next, step, org)
	if res.Empty() && !step.NoHandlerOK {
		return entered{}, &domainwf.DispatchError{
			Kind:      domainwf.ErrNoHandlerResolved,
			ItemID:    next.ID,
			StepIndex: target,
			Action:    action,
			Reason:    fmt.Sprintf("step %s: %s", step.ID, res.Reason),
		}
	}

	next.CurrentStepIndex = target
	next.Status = step.Status
	assignHandlers(next, step, res.Handlers)

	// a SINGLE step only ever has one handler
	handlers := res.Handlers
	if len(handlers) > 1 && next.ApprovalMode == entity.ApprovalModeSingle {
		handlers = handlers[:1]
	}

	cc := e.cc.ResolveAll(next, step.CCRules, handlers, org)
	for _, id := range cc.UserIDs {
		if !contains(next.CCUsers, id) {
			next.CCUsers = append(next.CCUsers, id)
		}
	}

	return entered{handlers: handlers, matchedBy: res.MatchedBy, cc: cc}, nil
}

func (e *engineImpl) finish(req DispatchRequest, next *entity.WorkflowItem, result *DispatchResult, changes []string, invalidated string) *DispatchResult {
	next.UpdatedAt = req.Now
	result.Item = next
	result.NewStatus = next.Status
	result.NewStepIndex = next.CurrentStepIndex

	result.LogEntry, result.Notifications = e.emitter.emit(transition{
		before:      req.Item,
		after:       next,
		def:         req.Definition,
		operator:    req.Operator,
		action:      string(req.Action),
		kind:        result.Kind,
		comment:     req.Comment,
		changes:     changes,
		handlers:    result.Handlers,
		cc:          result.CC,
		advanced:    result.Advanced,
		terminal:    result.Terminal,
		invalidated: invalidated,
		now:         req.Now,
	})
	return result
}

func (e *engineImpl) refuse(kind error, req DispatchRequest, stepIndex int, reason string) error {
	var itemID int64
	if req.Item != nil {
		itemID = req.Item.ID
	}
	return &domainwf.DispatchError{
		Kind:      kind,
		ItemID:    itemID,
		StepIndex: stepIndex,
		UserID:    req.Operator.UserID,
		Action:    req.Action,
		Reason:    reason,
	}
}

// assignHandlers sets the candidate list, approval mode and executor for step
func assignHandlers(next *entity.WorkflowItem, step *entity.Step, handlers []entity.UserRef) {
	mode := step.ApprovalMode
	if mode == "" {
		mode = entity.ApprovalModeSingle
	}
	if len(handlers) > 1 && mode == entity.ApprovalModeSingle {
		handlers = handlers[:1]
	}

	switch len(handlers) {
	case 0:
		clearHandlers(next)
		return
	case 1:
		h := handlers[0]
		next.ApprovalMode = entity.ApprovalModeSingle
		next.CandidateHandlers = []entity.CandidateHandler{{UserID: h.UserID, UserName: h.UserName}}
		next.ExecutorID, next.ExecutorName = h.UserID, h.UserName
	default:
		next.ApprovalMode = mode
		next.CandidateHandlers = make([]entity.CandidateHandler, 0, len(handlers))
		for _, h := range handlers {
			next.CandidateHandlers = append(next.CandidateHandlers, entity.CandidateHandler{UserID: h.UserID, UserName: h.UserName})
		}
		next.ExecutorID, next.ExecutorName = "", ""
	}

	if next.ExecutorID == "" {
		return
	}
	switch step.Assigns {
	case entity.RoleResponsible:
		next.ResponsibleID = next.ExecutorID
	case entity.RoleVerifier:
		next.VerifierID = next.ExecutorID
	}
}

func clearHandlers(next *entity.WorkflowItem) {
	next.CandidateHandlers = nil
	next.ApprovalMode = ""
	next.ExecutorID, next.ExecutorName = "", ""
}

// settle records the current step's participants as the last settled step.
// Call it before the handlers are cleared or replaced.
func settle(next *entity.WorkflowItem) {
	var ids []string
	for _, id := range participants(next, "") {
		if !contains(ids, id) {
			ids = append(ids, id)
		}
	}
	next.SettledStep = &entity.SettledStep{
		StepIndex: next.CurrentStepIndex,
		Status:    next.Status,
		UserIDs:   ids,
	}
}

// lostSettledStep reports whether op is acting on the step that was settled
// last rather than on the item's current step. The action must be one that
// settles a step in the settled status, and it must not be legal for op now.
func lostSettledStep(lat domainwf.Lattice, item *entity.WorkflowItem, op Operator, action domainwf.Action, kind entity.ActionKind, fireErr error) bool {
	settled := item.SettledStep
	if settled == nil || op.System || !contains(settled.UserIDs, op.UserID) {
		return false
	}
	settledKind, err := lat.Fire(domainwf.Status(settled.Status), action)
	if err != nil || (settledKind != entity.ActionAdvance && settledKind != entity.ActionReject) {
		return false
	}
	if fireErr != nil {
		return true
	}
	if kind != entity.ActionAdvance && kind != entity.ActionReject {
		return false
	}
	// the current step is someone else's
	return len(item.CandidateHandlers) > 0 && item.CandidateIndex(op.UserID) < 0 && item.ExecutorID != op.UserID
}

// participants lists the step's candidates and executor, minus exclude
func participants(item *entity.WorkflowItem, exclude string) []string {
	var ids []string
	for _, c := range item.CandidateHandlers {
		if c.UserID != exclude {
			ids = append(ids, c.UserID)
		}
	}
	if item.ExecutorID != "" && item.ExecutorID != exclude {
		ids = append(ids, item.ExecutorID)
	}
	return ids
}

// rollbackTarget returns where a reject on step idx lands
func rollbackTarget(def *entity.WorkflowDefinition, idx int) (int, bool) {
	rule := def.Steps[idx].Rollback
	if rule.Terminal {
		return idx, true
	}
	if rule.ToStep != "" {
		if t := def.StepIndex(rule.ToStep); t >= 0 && t < idx {
			return t, false
		}
	}
	if idx == 0 {
		return idx, true
	}
	return idx - 1, false
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
