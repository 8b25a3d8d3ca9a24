package vm

import (
	"errors"
	"fmt"

	"github.com/apoch/fugue/internal/diagnostics"
	"github.com/apoch/fugue/internal/ir"
)

// frame is the activated storage of one scope: a slot per variable.
// Reference-declared slots hold bound addresses and read and write through
// them.
type frame struct {
	scope *ir.ScopeDescription
	vars  map[string]*ir.RValue
}

func newFrame(scope *ir.ScopeDescription) *frame {
	return &frame{scope: scope, vars: make(map[string]*ir.RValue)}
}

// ExecContext implements the execution contract of the IR: a value stack
// and a chain of activated frames, plus the machine's scheduler surface.
type ExecContext struct {
	machine *Machine
	task    *task

	stack  []ir.RValue
	frames []*frame
	scope  *ir.ScopeDescription
}

func newContext(m *Machine, t *task) *ExecContext {
	return &ExecContext{machine: m, task: t, scope: m.program.GlobalScope}
}

// fork clones the context for a worker that shares the activated frames
// (futures, parallel-for bodies) but owns its value stack.
func (ctx *ExecContext) fork() *ExecContext {
	frames := make([]*frame, len(ctx.frames))
	copy(frames, ctx.frames)
	return &ExecContext{machine: ctx.machine, task: ctx.task, frames: frames, scope: ctx.scope}
}

// --- value stack ---

func (ctx *ExecContext) Push(v ir.RValue) {
	ctx.stack = append(ctx.stack, v)
}

func (ctx *ExecContext) Pop() (ir.RValue, error) {
	if len(ctx.stack) == 0 {
		return ir.NullValue(), fmt.Errorf("%w: value stack underflow", diagnostics.ErrExecution)
	}
	v := ctx.stack[len(ctx.stack)-1]
	ctx.stack = ctx.stack[:len(ctx.stack)-1]
	return v, nil
}

func (ctx *ExecContext) Peek() (ir.RValue, error) {
	if len(ctx.stack) == 0 {
		return ir.NullValue(), fmt.Errorf("%w: value stack empty", diagnostics.ErrExecution)
	}
	return ctx.stack[len(ctx.stack)-1], nil
}

// --- frames and variables ---

func (ctx *ExecContext) pushFrame(scope *ir.ScopeDescription) {
	ctx.frames = append(ctx.frames, newFrame(scope))
}

func (ctx *ExecContext) popFrame() {
	ctx.frames = ctx.frames[:len(ctx.frames)-1]
}

// frameFor finds the topmost activated frame of the scope that declares the
// name, honoring ghost aliases.
func (ctx *ExecContext) frameFor(name string) (*frame, *ir.ScopeDescription, error) {
	owner := ctx.scope.OwnerOf(name)
	if owner == nil {
		return nil, nil, fmt.Errorf("%w: variable %q is not declared", diagnostics.ErrExecution, name)
	}
	for i := len(ctx.frames) - 1; i >= 0; i-- {
		if ctx.frames[i].scope == owner {
			return ctx.frames[i], owner, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: variable %q has no activated storage", diagnostics.ErrExecution, name)
}

func (ctx *ExecContext) ReadVariable(name string) (ir.RValue, error) {
	f, owner, err := ctx.frameFor(name)
	if err != nil {
		return ir.NullValue(), err
	}
	slot, ok := f.vars[name]
	if !ok {
		return ir.NullValue(), fmt.Errorf("%w: variable %q read before initialization", diagnostics.ErrExecution, name)
	}
	if owner.IsReference(name) {
		if ref := slot.AsReference(); ref != nil {
			return ref.Load(), nil
		}
	}
	return *slot, nil
}

func (ctx *ExecContext) WriteVariable(name string, v ir.RValue) error {
	f, owner, err := ctx.frameFor(name)
	if err != nil {
		return err
	}
	if owner.IsConstant(name) {
		return fmt.Errorf("%w: constant %q may not be reassigned", diagnostics.ErrExecution, name)
	}
	slot, ok := f.vars[name]
	if !ok {
		slot = new(ir.RValue)
		f.vars[name] = slot
	}
	if owner.IsReference(name) {
		if ref := slot.AsReference(); ref != nil {
			ref.Store(v)
			return nil
		}
	}
	*slot = v
	return nil
}

func (ctx *ExecContext) InitializeVariable(name string, v ir.RValue) error {
	f, _, err := ctx.frameFor(name)
	if err != nil {
		return err
	}
	slot, ok := f.vars[name]
	if !ok {
		slot = new(ir.RValue)
		f.vars[name] = slot
	}
	*slot = v
	return nil
}

func (ctx *ExecContext) BindVariableReference(name string) (*ir.Reference, error) {
	f, _, err := ctx.frameFor(name)
	if err != nil {
		return nil, err
	}
	slot, ok := f.vars[name]
	if !ok {
		slot = new(ir.RValue)
		f.vars[name] = slot
	}
	return &ir.Reference{Slot: slot}, nil
}

func (ctx *ExecContext) VariableStorageSize(name string) (int32, error) {
	t := ctx.scope.GetVariableType(name)
	switch t {
	case ir.TypeTuple:
		desc := ctx.scope.Registry.GetTupleType(ctx.scope.GetVariableTupleHint(name))
		if desc == nil {
			return 0, fmt.Errorf("%w: tuple type of %q is not registered", diagnostics.ErrExecution, name)
		}
		return desc.Size(ctx.scope), nil
	case ir.TypeStructure:
		desc := ctx.scope.Registry.GetStructureType(ctx.scope.GetVariableStructureHint(name))
		if desc == nil {
			return 0, fmt.Errorf("%w: structure type of %q is not registered", diagnostics.ErrExecution, name)
		}
		return desc.Size(ctx.scope), nil
	case ir.TypeArray:
		v, err := ctx.ReadVariable(name)
		if err != nil {
			return 0, err
		}
		arr := v.AsArray()
		if arr == nil {
			return 0, nil
		}
		return int32(len(arr.Elements)) * arr.ElementType.StorageSize(), nil
	case ir.TypeString:
		v, err := ctx.ReadVariable(name)
		if err != nil {
			return 0, err
		}
		return int32(len([]rune(v.AsString())) * 2), nil
	case ir.TypeError:
		return 0, fmt.Errorf("%w: variable %q is not declared", diagnostics.ErrExecution, name)
	}
	return t.StorageSize(), nil
}

// --- static context ---

func (ctx *ExecContext) CurrentScope() *ir.ScopeDescription {
	return ctx.scope
}

func (ctx *ExecContext) Program() *ir.Program {
	return ctx.machine.program
}

// --- block and function execution ---

// RunBlock activates the block's bound scope in a fresh frame and runs its
// operations.
func (ctx *ExecContext) RunBlock(b *ir.Block) error {
	scope := b.GetBoundScope()
	if scope == nil {
		return ctx.runOps(b)
	}
	prev := ctx.scope
	ctx.scope = scope
	ctx.pushFrame(scope)
	err := ctx.runOps(b)
	ctx.popFrame()
	ctx.scope = prev
	return err
}

// RunBlockSameFrame runs a block's operations without opening a frame; used
// for elseif chains, which live in the enclosing activation.
func (ctx *ExecContext) RunBlockSameFrame(b *ir.Block) error {
	return ctx.runOps(b)
}

func (ctx *ExecContext) runOps(b *ir.Block) error {
	for _, op := range b.Operations() {
		if err := op.ExecuteFast(ctx); err != nil {
			return err
		}
	}
	return nil
}

// CallFunction pops the arguments, activates the parameter and return
// frames, runs the body and produces the return value. A Return unwinds
// here.
func (ctx *ExecContext) CallFunction(name string) (ir.RValue, error) {
	fn := ctx.scope.GetFunction(name)
	if fn == nil {
		return ir.NullValue(), fmt.Errorf("%w: function %q is not declared", diagnostics.ErrExecution, name)
	}
	user, ok := fn.(*ir.Function)
	if !ok {
		return ir.NullValue(), fmt.Errorf("%w: native call %q has no marshalling layer", diagnostics.ErrNotImplemented, name)
	}

	paramsFrame := newFrame(user.Params)
	order := user.Params.MemberOrder
	for i := len(order) - 1; i >= 0; i-- {
		v, err := ctx.Pop()
		if err != nil {
			return ir.NullValue(), err
		}
		slot := new(ir.RValue)
		*slot = v
		paramsFrame.vars[order[i]] = slot
	}

	ctx.frames = append(ctx.frames, paramsFrame, newFrame(user.Returns))
	err := ctx.RunBlock(user.Body)
	returnsFrame := ctx.frames[len(ctx.frames)-1]
	ctx.frames = ctx.frames[:len(ctx.frames)-2]

	if err != nil && !errors.Is(err, ir.ReturnSignal) {
		return ir.NullValue(), err
	}

	rets := user.Returns.MemberOrder
	switch len(rets) {
	case 0:
		return ir.NullValue(), nil
	case 1:
		if slot, ok := returnsFrame.vars[rets[0]]; ok {
			return *slot, nil
		}
		return ir.NullValue(), nil
	default:
		members := make(map[string]ir.RValue, len(rets))
		for _, ret := range rets {
			if slot, ok := returnsFrame.vars[ret]; ok {
				members[ret] = *slot
			}
		}
		return ir.RValue{Type: ir.TypeTuple, Obj: &ir.TupleValue{Members: members}}, nil
	}
}

// --- console ---

func (ctx *ExecContext) WriteConsole(s string) {
	ctx.machine.writeConsole(s)
}

func (ctx *ExecContext) ReadConsole() (string, error) {
	return ctx.machine.readConsole()
}

// --- scheduler surface ---

func (ctx *ExecContext) ForkTask(name string, body *ir.Block) (ir.TaskRef, error) {
	return ctx.machine.forkTask(name, body, ctx.task), nil
}

func (ctx *ExecContext) ForkThread(name, poolName string, body *ir.Block) error {
	return ctx.machine.forkThread(name, poolName, body, ctx.task)
}

func (ctx *ExecContext) CreateThreadPool(name string, threadCount int32) error {
	return ctx.machine.createThreadPool(name, threadCount)
}

func (ctx *ExecContext) ForkFuture(name string, producer ir.Operation, useThreadPool bool) error {
	return ctx.machine.forkFuture(name, producer, useThreadPool, ctx)
}

func (ctx *ExecContext) ReadFuture(name string) (ir.RValue, error) {
	return ctx.machine.readFuture(name)
}

// AcceptMessage blocks until a matching message arrives, binds the payload
// into the handler scope and runs the handler with the auxiliary scope
// activated alongside it.
func (ctx *ExecContext) AcceptMessage(messageName string, payloadTypes []ir.VariableTypeID, handler *ir.Block, aux *ir.ScopeDescription) error {
	msg := ctx.task.mailbox.receive(func(m message) bool {
		return m.name == messageName && payloadMatches(payloadTypes, m.payloadTypes)
	})
	ctx.task.lastSender = msg.sender
	ctx.task.hasLastSender = true
	return ctx.runHandler(msg, handler, aux)
}

// AcceptFromResponseMap blocks until any entry of the map matches, then
// runs that entry's handler.
func (ctx *ExecContext) AcceptFromResponseMap(m *ir.ResponseMap) error {
	msg := ctx.task.mailbox.receive(func(candidate message) bool {
		return m.Match(candidate.name, candidate.payloadTypes) != nil
	})
	ctx.task.lastSender = msg.sender
	ctx.task.hasLastSender = true
	entry := m.Match(msg.name, msg.payloadTypes)
	return ctx.runHandler(msg, entry.Handler, entry.AuxScope)
}

func (ctx *ExecContext) runHandler(msg message, handler *ir.Block, aux *ir.ScopeDescription) error {
	scope := handler.GetBoundScope()
	prev := ctx.scope
	ctx.scope = scope
	ctx.pushFrame(scope)
	for i, name := range scope.MemberOrder {
		if i < len(msg.payload) {
			slot := new(ir.RValue)
			*slot = msg.payload[i]
			ctx.frames[len(ctx.frames)-1].vars[name] = slot
		}
	}
	if aux != nil {
		ctx.pushFrame(aux)
	}
	err := ctx.runOps(handler)
	if aux != nil {
		ctx.popFrame()
	}
	ctx.popFrame()
	ctx.scope = prev
	return err
}

func (ctx *ExecContext) SendMessage(byName bool, target ir.RValue, messageName string, payload []ir.RValue) error {
	var recipient *task
	if byName {
		recipient = ctx.machine.taskByName(target.AsString())
		if recipient == nil {
			return fmt.Errorf("%w: no task named %q", diagnostics.ErrExecution, target.AsString())
		}
	} else {
		ref, ok := target.Obj.(ir.TaskRef)
		if !ok {
			return fmt.Errorf("%w: send target is not a task handle", diagnostics.ErrExecution)
		}
		recipient = ctx.machine.taskByRef(ref)
		if recipient == nil {
			return fmt.Errorf("%w: task handle does not resolve", diagnostics.ErrExecution)
		}
	}

	types := make([]ir.VariableTypeID, len(payload))
	for i, v := range payload {
		types[i] = v.Type
	}
	recipient.mailbox.send(message{
		sender:       ctx.task.ref,
		name:         messageName,
		payloadTypes: types,
		payload:      payload,
	})
	return nil
}

func (ctx *ExecContext) MessageSender() (ir.TaskRef, error) {
	if !ctx.task.hasLastSender {
		return ir.TaskRef{}, fmt.Errorf("%w: no message has been accepted", diagnostics.ErrExecution)
	}
	return ctx.task.lastSender, nil
}

func (ctx *ExecContext) TaskCaller() (ir.TaskRef, error) {
	if !ctx.task.hasCaller {
		return ir.TaskRef{}, fmt.Errorf("%w: the root task has no caller", diagnostics.ErrExecution)
	}
	return ctx.task.caller, nil
}

// ParallelFor binds the counter to each integer in the half-open range and
// runs the body; threadCount bounds the worker fan-out and is advisory.
func (ctx *ExecContext) ParallelFor(body *ir.Block, counterName string, lower, upper, threadCount int32) error {
	if threadCount < 1 {
		threadCount = 1
	}
	scope := body.GetBoundScope()

	type result struct{ err error }
	sem := make(chan struct{}, threadCount)
	results := make(chan result, upper-lower)
	count := 0

	for i := lower; i < upper; i++ {
		sem <- struct{}{}
		count++
		go func(counter int32) {
			defer func() { <-sem }()
			worker := ctx.fork()
			worker.scope = scope
			worker.pushFrame(scope)
			slot := ir.IntegerValue(counter)
			worker.frames[len(worker.frames)-1].vars[counterName] = &slot
			results <- result{worker.runOps(body)}
		}(i)
	}

	var firstErr error
	for i := 0; i < count; i++ {
		r := <-results
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}
	return firstErr
}

// --- extension handoff ---

func (ctx *ExecContext) Handoff(library string, body *ir.Block, handle ir.HandleType) error {
	ext := ctx.machine.extensions[library]
	if ext == nil {
		return fmt.Errorf("%w: hosted library %q is not registered", diagnostics.ErrNotImplemented, library)
	}
	return ext.Handoff(library, body, handle)
}

func (ctx *ExecContext) HandoffControl(library string, body *ir.Block, counterName string, scope *ir.ScopeDescription, handle ir.HandleType) error {
	ext := ctx.machine.extensions[library]
	if ext == nil {
		return fmt.Errorf("%w: hosted library %q is not registered", diagnostics.ErrNotImplemented, library)
	}
	return ext.HandoffControl(library, body, counterName, scope, handle)
}
