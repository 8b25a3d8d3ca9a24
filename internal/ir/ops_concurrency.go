package ir

import "fmt"

const (
	TokenForkTask                    = "ForkTask"
	TokenForkThread                  = "ForkThread"
	TokenCreateThreadPool            = "CreateThreadPool"
	TokenForkFuture                  = "ForkFuture"
	TokenAcceptMessage               = "AcceptMessage"
	TokenAcceptMessageFromResponseMap = "AcceptMessageFromMap"
	TokenSendTaskMessage             = "SendTaskMessage"
	TokenGetMessageSender            = "GetMessageSender"
	TokenGetTaskCaller               = "GetTaskCaller"
	TokenParallelFor                 = "ParallelFor"
)

// ForkTask spawns a task running the body. The task name is popped from the
// stack; the body scope's parent is the global scope, so the child captures
// no enclosing locals.
type ForkTask struct {
	Body *Block
}

func NewForkTask(body *Block) *ForkTask {
	return &ForkTask{Body: body}
}

func (op *ForkTask) GetType(*ScopeDescription) VariableTypeID { return TypeNull }
func (op *ForkTask) NumParameters(*ScopeDescription) int      { return 1 }

func (op *ForkTask) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenForkTask, Blocks: []*Block{op.Body}}
}

func (op *ForkTask) Execute(ctx ExecutionContext) (RValue, error) {
	name, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}
	ref, err := ctx.ForkTask(name.AsString(), op.Body)
	if err != nil {
		return NullValue(), err
	}
	return TaskHandleValue(ref), nil
}

func (op *ForkTask) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// ForkThread spawns a thread-pool worker running the body. Pops the pool
// name, then the worker name.
type ForkThread struct {
	Body *Block
}

func NewForkThread(body *Block) *ForkThread {
	return &ForkThread{Body: body}
}

func (op *ForkThread) GetType(*ScopeDescription) VariableTypeID { return TypeNull }
func (op *ForkThread) NumParameters(*ScopeDescription) int      { return 2 }

func (op *ForkThread) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenForkThread, Blocks: []*Block{op.Body}}
}

func (op *ForkThread) Execute(ctx ExecutionContext) (RValue, error) {
	pool, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}
	name, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}
	return NullValue(), ctx.ForkThread(name.AsString(), pool.AsString(), op.Body)
}

func (op *ForkThread) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// CreateThreadPool allocates a named pool. Pops the thread count, then the
// pool name.
type CreateThreadPool struct{}

func (op *CreateThreadPool) GetType(*ScopeDescription) VariableTypeID { return TypeNull }
func (op *CreateThreadPool) NumParameters(*ScopeDescription) int      { return 2 }

func (op *CreateThreadPool) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenCreateThreadPool}
}

func (op *CreateThreadPool) Execute(ctx ExecutionContext) (RValue, error) {
	count, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}
	name, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}
	return NullValue(), ctx.CreateThreadPool(name.AsString(), count.AsInteger())
}

func (op *CreateThreadPool) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// ForkFuture schedules the named future's producer operation on a worker and
// binds the name to a single-assignment cell; reads of the name block until
// the producer completes.
type ForkFuture struct {
	VarName       string
	TypeTag       VariableTypeID
	UseThreadPool bool
}

func NewForkFuture(name string, t VariableTypeID, useThreadPool bool) *ForkFuture {
	return &ForkFuture{VarName: name, TypeTag: t, UseThreadPool: useThreadPool}
}

func (op *ForkFuture) GetType(*ScopeDescription) VariableTypeID { return TypeNull }
func (op *ForkFuture) NumParameters(*ScopeDescription) int      { return 0 }

func (op *ForkFuture) Payload(*ScopeDescription) Payload {
	return Payload{
		Token:   TokenForkFuture,
		Name:    op.VarName,
		TypeTag: op.TypeTag,
		Flags:   []bool{op.UseThreadPool},
	}
}

func (op *ForkFuture) Execute(ctx ExecutionContext) (RValue, error) {
	producer := ctx.CurrentScope().GetFuture(op.VarName)
	if producer == nil {
		return NullValue(), fmt.Errorf("future %q has no producer operation", op.VarName)
	}
	return NullValue(), ctx.ForkFuture(op.VarName, producer, op.UseThreadPool)
}

func (op *ForkFuture) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// AcceptMessage blocks the running task until a message with the declared
// name and payload-type sequence arrives, then binds the payload into the
// handler scope and runs the handler.
type AcceptMessage struct {
	MessageName  string
	PayloadTypes []VariableTypeID
	Handler      *Block
	AuxScope     *ScopeDescription
}

func NewAcceptMessage(name string, payloadTypes []VariableTypeID, handler *Block, aux *ScopeDescription) *AcceptMessage {
	return &AcceptMessage{MessageName: name, PayloadTypes: payloadTypes, Handler: handler, AuxScope: aux}
}

func (op *AcceptMessage) GetType(*ScopeDescription) VariableTypeID { return TypeNull }
func (op *AcceptMessage) NumParameters(*ScopeDescription) int      { return 0 }

func (op *AcceptMessage) Payload(*ScopeDescription) Payload {
	return Payload{
		Token:  TokenAcceptMessage,
		Name:   op.MessageName,
		Types:  op.PayloadTypes,
		Blocks: []*Block{op.Handler},
		Scopes: []*ScopeDescription{op.AuxScope},
	}
}

func (op *AcceptMessage) Execute(ctx ExecutionContext) (RValue, error) {
	return NullValue(), ctx.AcceptMessage(op.MessageName, op.PayloadTypes, op.Handler, op.AuxScope)
}

func (op *AcceptMessage) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// AcceptMessageFromResponseMap blocks until a message matching any entry of
// the named response map arrives, then runs the matching handler.
type AcceptMessageFromResponseMap struct {
	MapName string
}

func NewAcceptMessageFromResponseMap(mapName string) *AcceptMessageFromResponseMap {
	return &AcceptMessageFromResponseMap{MapName: mapName}
}

func (op *AcceptMessageFromResponseMap) GetType(*ScopeDescription) VariableTypeID { return TypeNull }
func (op *AcceptMessageFromResponseMap) NumParameters(*ScopeDescription) int      { return 0 }

func (op *AcceptMessageFromResponseMap) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenAcceptMessageFromResponseMap, Name: op.MapName}
}

func (op *AcceptMessageFromResponseMap) Execute(ctx ExecutionContext) (RValue, error) {
	m := ctx.CurrentScope().GetResponseMap(op.MapName)
	if m == nil {
		return NullValue(), fmt.Errorf("response map %q is not declared", op.MapName)
	}
	return NullValue(), ctx.AcceptFromResponseMap(m)
}

func (op *AcceptMessageFromResponseMap) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// SendTaskMessage enqueues a message on another task's queue. The payload
// values are popped, then the target: a task handle, or a task name when the
// discriminator flag is set.
type SendTaskMessage struct {
	ByName       bool
	MessageName  string
	PayloadTypes []VariableTypeID
}

func NewSendTaskMessage(byName bool, name string, payloadTypes []VariableTypeID) *SendTaskMessage {
	return &SendTaskMessage{ByName: byName, MessageName: name, PayloadTypes: payloadTypes}
}

func (op *SendTaskMessage) GetType(*ScopeDescription) VariableTypeID { return TypeNull }

func (op *SendTaskMessage) NumParameters(*ScopeDescription) int {
	return len(op.PayloadTypes) + 1
}

func (op *SendTaskMessage) Payload(*ScopeDescription) Payload {
	return Payload{
		Token: TokenSendTaskMessage,
		Name:  op.MessageName,
		Flags: []bool{op.ByName},
		Types: op.PayloadTypes,
	}
}

func (op *SendTaskMessage) Execute(ctx ExecutionContext) (RValue, error) {
	payload := make([]RValue, len(op.PayloadTypes))
	for i := len(payload) - 1; i >= 0; i-- {
		v, err := ctx.Pop()
		if err != nil {
			return NullValue(), err
		}
		payload[i] = v
	}
	target, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}
	return NullValue(), ctx.SendMessage(op.ByName, target, op.MessageName, payload)
}

func (op *SendTaskMessage) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// GetMessageSender produces the handle of the task that sent the message
// being handled.
type GetMessageSender struct{}

func (op *GetMessageSender) GetType(*ScopeDescription) VariableTypeID { return TypeTaskHandle }
func (op *GetMessageSender) NumParameters(*ScopeDescription) int      { return 0 }

func (op *GetMessageSender) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenGetMessageSender}
}

func (op *GetMessageSender) Execute(ctx ExecutionContext) (RValue, error) {
	ref, err := ctx.MessageSender()
	if err != nil {
		return NullValue(), err
	}
	return TaskHandleValue(ref), nil
}

func (op *GetMessageSender) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// GetTaskCaller produces the handle of the task that spawned the running
// task.
type GetTaskCaller struct{}

func (op *GetTaskCaller) GetType(*ScopeDescription) VariableTypeID { return TypeTaskHandle }
func (op *GetTaskCaller) NumParameters(*ScopeDescription) int      { return 0 }

func (op *GetTaskCaller) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenGetTaskCaller}
}

func (op *GetTaskCaller) Execute(ctx ExecutionContext) (RValue, error) {
	ref, err := ctx.TaskCaller()
	if err != nil {
		return NullValue(), err
	}
	return TaskHandleValue(ref), nil
}

func (op *GetTaskCaller) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// ParallelFor binds the counter to each integer in the half-open bound range
// and runs the body; the thread count is advisory. Pops the thread count,
// the upper bound, then the lower bound.
type ParallelFor struct {
	Body        *Block
	CounterName string
	UseThreads  bool
	CodeHandle  HandleType
}

func NewParallelFor(body *Block, counterName string, useThreads bool, codeHandle HandleType) *ParallelFor {
	return &ParallelFor{Body: body, CounterName: counterName, UseThreads: useThreads, CodeHandle: codeHandle}
}

func (op *ParallelFor) GetType(*ScopeDescription) VariableTypeID { return TypeNull }
func (op *ParallelFor) NumParameters(*ScopeDescription) int      { return 3 }

func (op *ParallelFor) Payload(*ScopeDescription) Payload {
	return Payload{
		Token:  TokenParallelFor,
		Name:   op.CounterName,
		Flags:  []bool{op.UseThreads},
		Handle: op.CodeHandle,
		Blocks: []*Block{op.Body},
	}
}

func (op *ParallelFor) Execute(ctx ExecutionContext) (RValue, error) {
	threads, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}
	upper, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}
	lower, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}
	return NullValue(), ctx.ParallelFor(op.Body, op.CounterName, lower.AsInteger(), upper.AsInteger(), threads.AsInteger())
}

func (op *ParallelFor) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}
