// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-audit/internal/dom"
	"github.com/xkilldash9x/scalpel-audit/internal/element"
	"github.com/xkilldash9x/scalpel-audit/internal/network"
)

// -- Transport Mock --

// MockTransport mocks audit.Transport.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Queue(ctx context.Context, req *network.Request, cb network.Callback) error {
	args := m.Called(ctx, req, cb)
	return args.Error(0)
}

func (m *MockTransport) Do(ctx context.Context, req *network.Request) (*network.Response, error) {
	args := m.Called(ctx, req)
	var resp *network.Response
	if r := args.Get(0); r != nil {
		resp = r.(*network.Response)
	}
	return resp, args.Error(1)
}

func (m *MockTransport) IsCustom404(ctx context.Context, resp *network.Response) bool {
	args := m.Called(ctx, resp)
	return args.Bool(0)
}

// -- Results Sink Mock --

// MockResultsSink mocks audit.ResultsSink.
type MockResultsSink struct {
	mock.Mock
}

func (m *MockResultsSink) Register(ctx context.Context, issues []schemas.Issue) error {
	args := m.Called(ctx, issues)
	return args.Error(0)
}

func (m *MockResultsSink) HasIssue(id string) bool {
	args := m.Called(id)
	return args.Bool(0)
}

// -- Trainer Mock --

// MockTrainer mocks audit.Trainer. Responses are also kept for inspection
// since training is fire-and-forget.
type MockTrainer struct {
	mock.Mock

	mu        sync.Mutex
	responses []*network.Response
}

func (m *MockTrainer) Train(ctx context.Context, resp *network.Response) {
	m.mu.Lock()
	m.responses = append(m.responses, resp)
	m.mu.Unlock()
	m.Called(ctx, resp)
}

// Responses returns what the trainer has been given so far.
func (m *MockTrainer) Responses() []*network.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*network.Response(nil), m.responses...)
}

// -- Browser Handle Mock --

// MockHandle mocks dom.Handle.
type MockHandle struct {
	mock.Mock
}

func (m *MockHandle) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockHandle) Replay(ctx context.Context, t dom.Transition) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockHandle) Digest(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// -- Primitive Mock --

// MockPrimitive mocks core.Primitive.
type MockPrimitive struct {
	mock.Mock
}

func (m *MockPrimitive) Analyze(ctx context.Context, env core.Env, el *element.Element, in core.Input) error {
	args := m.Called(ctx, env, el, in)
	return args.Error(0)
}

// -- Analysis Environment --

// RecordingEnv is a scriptable core.Env. Submit answers through Respond and
// every submitted element and logged issue is kept for inspection.
type RecordingEnv struct {
	Owner     core.Check
	Respond   func(ctx context.Context, el *element.Element) (*network.Response, error)
	ZapLogger *zap.Logger

	mu        sync.Mutex
	submitted []*element.Element
	issues    []schemas.Issue
}

func (e *RecordingEnv) Check() core.Check { return e.Owner }

func (e *RecordingEnv) Logger() *zap.Logger {
	if e.ZapLogger == nil {
		return zap.NewNop()
	}
	return e.ZapLogger
}

func (e *RecordingEnv) Submit(ctx context.Context, el *element.Element) (*network.Response, error) {
	e.mu.Lock()
	e.submitted = append(e.submitted, el.Clone())
	e.mu.Unlock()
	return e.Respond(ctx, el)
}

func (e *RecordingEnv) NewIssue(el *element.Element, resp *network.Response, discriminators ...string) schemas.Issue {
	name := "check"
	if e.Owner != nil {
		name = e.Owner.Name()
	}
	issue := schemas.Issue{
		ID:       el.IssueID(name, discriminators...),
		Digest:   el.IssueID(name),
		Check:    name,
		Elem:     el.Kind,
		Var:      el.Altered,
		Injected: el.Injected,
	}
	if resp != nil {
		issue.URL = resp.URL
		issue.Response.StatusCode = resp.StatusCode
	}
	return issue
}

func (e *RecordingEnv) Log(ctx context.Context, issues ...schemas.Issue) {
	e.mu.Lock()
	e.issues = append(e.issues, issues...)
	e.mu.Unlock()
}

// Submitted returns copies of every element submitted so far.
func (e *RecordingEnv) Submitted() []*element.Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*element.Element(nil), e.submitted...)
}

// Issues returns every issue logged so far.
func (e *RecordingEnv) Issues() []schemas.Issue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]schemas.Issue(nil), e.issues...)
}
