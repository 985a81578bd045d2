package gateway

import (
	"context"
	"fmt"
	"sync"
)

// MockResult is one scripted answer to Query.
type MockResult struct {
	Status      Status
	Receipt     string
	Description string
	Err         error
}

// MockGateway is an in-memory Client for tests and local sandboxes.
// Query pops scripted results per reference and otherwise reports pending,
// or completed once AutoCompleteAfter queries have been seen.
type MockGateway struct {
	AutoCompleteAfter int

	mu           sync.Mutex
	seq          int
	initiateErrs []error
	scripts      map[string][]MockResult
	queries      map[string]int
	Initiated    []InitiateRequest
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		scripts: make(map[string][]MockResult),
		queries: make(map[string]int),
	}
}

// FailInitiate makes the next len(errs) Initiate calls return errs in order.
func (m *MockGateway) FailInitiate(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initiateErrs = append(m.initiateErrs, errs...)
}

func (m *MockGateway) Script(ref string, results ...MockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[ref] = append(m.scripts[ref], results...)
}

func (m *MockGateway) QueryCount(ref string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries[ref]
}

func (m *MockGateway) InitiateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Initiated)
}

func (m *MockGateway) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Initiated = append(m.Initiated, req)
	if len(m.initiateErrs) > 0 {
		err := m.initiateErrs[0]
		m.initiateErrs = m.initiateErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	m.seq++
	return &InitiateResult{
		ID:                fmt.Sprintf("mock-req-%d", m.seq),
		ExternalReference: fmt.Sprintf("ws_CO_MOCK_%d", m.seq),
		Message:           "Success. Request accepted for processing",
	}, nil
}

func (m *MockGateway) Query(ctx context.Context, ref string) (*QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries[ref]++
	if queue := m.scripts[ref]; len(queue) > 0 {
		next := queue[0]
		if len(queue) > 1 {
			m.scripts[ref] = queue[1:]
		}
		// the last scripted result sticks
		if next.Err != nil {
			return nil, next.Err
		}
		return &QueryResult{Status: next.Status, Receipt: next.Receipt, Description: next.Description}, nil
	}

	if m.AutoCompleteAfter > 0 && m.queries[ref] >= m.AutoCompleteAfter {
		return &QueryResult{Status: StatusCompleted, Receipt: "MOCK" + ref}, nil
	}
	return &QueryResult{Status: StatusPending}, nil
}
