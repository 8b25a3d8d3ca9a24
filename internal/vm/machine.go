// Package vm provides the execution contexts the IR's operations evaluate
// against: a value stack, activated scope frames, a console, and the
// scheduler for tasks, messages, futures, thread pools and parallel loops.
// The IR describes concurrency; this package is the executor that honors
// those contracts.
package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/apoch/fugue/internal/diagnostics"
	"github.com/apoch/fugue/internal/ir"
)

// Extension executes handed-off code blocks on behalf of a hosted library.
type Extension interface {
	Handoff(library string, body *ir.Block, handle ir.HandleType) error
	HandoffControl(library string, body *ir.Block, counterName string, scope *ir.ScopeDescription, handle ir.HandleType) error
}

// Machine owns the shared execution state of one program run: the task
// registry, thread pools, futures and the console.
type Machine struct {
	program *ir.Program

	out    io.Writer
	outMu  sync.Mutex
	in     *bufio.Reader
	inMu   sync.Mutex

	tasksMu     sync.Mutex
	tasksByID   map[uuid.UUID]*task
	tasksByName map[string]*task

	poolsMu  sync.Mutex
	pools    map[string]*threadPool
	lastPool *threadPool

	futuresMu sync.Mutex
	futures   map[string]*future

	extensions map[string]Extension

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// NewMachine creates a machine for one program, writing console output to
// out and reading from in. Nil streams default to the process's own.
func NewMachine(program *ir.Program, out io.Writer, in io.Reader) *Machine {
	if out == nil {
		out = os.Stdout
	}
	if in == nil {
		in = os.Stdin
	}
	return &Machine{
		program:     program,
		out:         out,
		in:          bufio.NewReader(in),
		tasksByID:   make(map[uuid.UUID]*task),
		tasksByName: make(map[string]*task),
		pools:       make(map[string]*threadPool),
		futures:     make(map[string]*future),
		extensions:  make(map[string]Extension),
	}
}

// RegisterExtension installs the executor for a hosted library's handoffs.
func (m *Machine) RegisterExtension(library string, ext Extension) {
	m.extensions[library] = ext
}

// Run executes the global initialization block on the root task and waits
// for every forked task to finish.
func (m *Machine) Run() error {
	if m.program.HasFatalError() {
		return fmt.Errorf("%w: program carries a fatal build error", diagnostics.ErrExecution)
	}

	root := m.newTask("", nil)
	ctx := newContext(m, root)
	ctx.pushFrame(m.program.GlobalScope)
	err := ctx.runOps(m.program.GlobalInit)
	ctx.popFrame()
	if err != nil {
		m.recordError(err)
	}

	m.wg.Wait()
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.err
}

func (m *Machine) recordError(err error) {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	if m.err == nil {
		m.err = err
	}
}

func (m *Machine) writeConsole(s string) {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	io.WriteString(m.out, s)
}

func (m *Machine) readConsole() (string, error) {
	m.inMu.Lock()
	defer m.inMu.Unlock()
	line, err := m.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("%w: console read: %v", diagnostics.ErrExecution, err)
	}
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	return line, nil
}

// newTask registers a task and returns it. The root task has no name and no
// caller.
func (m *Machine) newTask(name string, caller *task) *task {
	t := &task{
		ref:     ir.TaskRef{ID: uuid.New()},
		name:    name,
		mailbox: newMailbox(),
		machine: m,
	}
	if caller != nil {
		t.caller = caller.ref
		t.hasCaller = true
	}
	m.tasksMu.Lock()
	m.tasksByID[t.ref.ID] = t
	if name != "" {
		m.tasksByName[name] = t
	}
	m.tasksMu.Unlock()
	return t
}

func (m *Machine) taskByRef(ref ir.TaskRef) *task {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	return m.tasksByID[ref.ID]
}

func (m *Machine) taskByName(name string) *task {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	return m.tasksByName[name]
}

// forkTask spawns a task running body with its scope chain rooted at the
// global scope.
func (m *Machine) forkTask(name string, body *ir.Block, caller *task) ir.TaskRef {
	t := m.newTask(name, caller)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx := newContext(m, t)
		if err := ctx.RunBlock(body); err != nil {
			m.recordError(err)
		}
	}()
	return t.ref
}

// --- thread pools ---

type threadPool struct {
	name string
	work chan func()
}

// createThreadPool allocates a named pool of worker goroutines.
func (m *Machine) createThreadPool(name string, threads int32) error {
	if threads <= 0 {
		return fmt.Errorf("%w: thread pool %q needs a positive thread count", diagnostics.ErrExecution, name)
	}
	pool := &threadPool{name: name, work: make(chan func(), 64)}
	for i := int32(0); i < threads; i++ {
		go func() {
			for job := range pool.work {
				job()
			}
		}()
	}
	m.poolsMu.Lock()
	m.pools[name] = pool
	m.lastPool = pool
	m.poolsMu.Unlock()
	return nil
}

func (m *Machine) pool(name string) *threadPool {
	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()
	if name == "" {
		return m.lastPool
	}
	return m.pools[name]
}

// forkThread schedules body on a pool worker; the body's scope chain roots
// at the global scope like any task.
func (m *Machine) forkThread(name, poolName string, body *ir.Block, caller *task) error {
	pool := m.pool(poolName)
	if pool == nil {
		return fmt.Errorf("%w: thread pool %q does not exist", diagnostics.ErrExecution, poolName)
	}
	t := m.newTask(name, caller)
	m.wg.Add(1)
	pool.work <- func() {
		defer m.wg.Done()
		ctx := newContext(m, t)
		if err := ctx.RunBlock(body); err != nil {
			m.recordError(err)
		}
	}
	return nil
}

// --- futures ---

// future is a single-assignment cell; reads block until the producer
// completes.
type future struct {
	done  chan struct{}
	value ir.RValue
	err   error
}

func (m *Machine) forkFuture(name string, producer ir.Operation, useThreadPool bool, ctx *ExecContext) error {
	m.futuresMu.Lock()
	if _, exists := m.futures[name]; exists {
		m.futuresMu.Unlock()
		return fmt.Errorf("%w: future %q is already bound", diagnostics.ErrExecution, name)
	}
	f := &future{done: make(chan struct{})}
	m.futures[name] = f
	m.futuresMu.Unlock()

	worker := ctx.fork()
	run := func() {
		defer m.wg.Done()
		f.value, f.err = producer.Execute(worker)
		close(f.done)
	}

	m.wg.Add(1)
	if useThreadPool {
		if pool := m.pool(""); pool != nil {
			pool.work <- run
			return nil
		}
	}
	go run()
	return nil
}

func (m *Machine) readFuture(name string) (ir.RValue, error) {
	m.futuresMu.Lock()
	f := m.futures[name]
	m.futuresMu.Unlock()
	if f == nil {
		return ir.NullValue(), fmt.Errorf("%w: future %q was never forked", diagnostics.ErrExecution, name)
	}
	<-f.done
	if f.err != nil {
		return ir.NullValue(), f.err
	}
	return f.value, nil
}
