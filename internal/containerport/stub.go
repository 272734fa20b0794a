package containerport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// StubPort is an in-process container platform used for tests and local
// development — it never actually isolates anything, it just tracks state
// transitions and lets tests script failure sequences, the same role the
// teacher's fake EFT/host failures play in its own test suites.
type StubPort struct {
	mu      sync.Mutex
	nextID  int64
	created map[ContainerID]bool
	hang    bool // Install/Create never returns, simulating a stuck call

	// CreateErrors, InstallErrors are consumed in order, one per call; once
	// exhausted, calls succeed.
	CreateErrors  []error
	InstallErrors []error
	DestroyErrors []error

	createCalls  int32
	installCalls int32
	destroyCalls int32
}

func NewStubPort() *StubPort {
	return &StubPort{created: make(map[ContainerID]bool)}
}

// HangOnNextCall makes the next blocking call (Create or Install) block
// forever unless ctx is canceled — used to model S5's stuck install.
func (p *StubPort) HangOnNextCall() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hang = true
}

func (p *StubPort) CreateCalls() int32  { return atomic.LoadInt32(&p.createCalls) }
func (p *StubPort) InstallCalls() int32 { return atomic.LoadInt32(&p.installCalls) }

func (p *StubPort) Create(ctx context.Context) (ContainerID, error) {
	atomic.AddInt32(&p.createCalls, 1)
	if p.consumeHang(ctx) != nil {
		return "", ctx.Err()
	}

	p.mu.Lock()
	var next error
	if len(p.CreateErrors) > 0 {
		next, p.CreateErrors = p.CreateErrors[0], p.CreateErrors[1:]
	}
	if next != nil {
		p.mu.Unlock()
		return "", next
	}
	p.nextID++
	id := ContainerID(fmt.Sprintf("container-%d", p.nextID))
	p.created[id] = true
	p.mu.Unlock()
	return id, nil
}

func (p *StubPort) Install(ctx context.Context, id ContainerID, _ []byte, _ []byte) error {
	atomic.AddInt32(&p.installCalls, 1)
	if err := p.consumeHang(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.created[id] {
		return &Error{Code: Permanent, Message: "install on unknown container"}
	}
	if len(p.InstallErrors) > 0 {
		var next error
		next, p.InstallErrors = p.InstallErrors[0], p.InstallErrors[1:]
		return next
	}
	return nil
}

func (p *StubPort) Destroy(ctx context.Context, id ContainerID) error {
	atomic.AddInt32(&p.destroyCalls, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.DestroyErrors) > 0 {
		var next error
		next, p.DestroyErrors = p.DestroyErrors[0], p.DestroyErrors[1:]
		return next
	}
	delete(p.created, id)
	return nil
}

// consumeHang blocks until ctx is done if a hang was armed, then disarms it.
func (p *StubPort) consumeHang(ctx context.Context) error {
	p.mu.Lock()
	hang := p.hang
	p.hang = false
	p.mu.Unlock()
	if !hang {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}
