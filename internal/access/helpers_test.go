package access

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeClock is a manually advanced clock shared by cache and evaluator tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeClient scripts the policy backend. Decisions are keyed by permission;
// unknown permissions are denied. Errors take precedence when set.
type fakeClient struct {
	mu        sync.Mutex
	decisions map[Permission]Decision
	err       error
	batchErr  error
	noBatch   bool

	calls      int
	batchCalls int
	inFlight   int
	maxSeen    int
	delay      time.Duration
}

func newFakeClient() *fakeClient {
	return &fakeClient{decisions: make(map[Permission]Decision)}
}

func (f *fakeClient) allow(permissions ...Permission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range permissions {
		f.decisions[p] = Decision{Allowed: true}
	}
}

func (f *fakeClient) deny(permission Permission, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions[permission] = Decision{Allowed: false, Reason: reason}
}

func (f *fakeClient) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeClient) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

func (f *fakeClient) Evaluate(ctx context.Context, permission Permission, pc PermissionContext) (Decision, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	err := f.err
	decision := f.decisions[permission]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			f.mu.Lock()
			f.inFlight--
			f.mu.Unlock()
			return Decision{}, ctx.Err()
		}
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if err != nil {
		return Decision{}, err
	}
	return decision, nil
}

// fakeBatchClient adds the batched call on top of fakeClient.
type fakeBatchClient struct {
	*fakeClient
}

func (f *fakeBatchClient) EvaluateBatch(ctx context.Context, permissions []Permission, pc PermissionContext) (map[Permission]Decision, error) {
	f.mu.Lock()
	f.batchCalls++
	err := f.batchErr
	out := make(map[Permission]Decision, len(permissions))
	for _, p := range permissions {
		if d, ok := f.decisions[p]; ok {
			out[p] = d
		}
	}
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return out, nil
}

// fakeFeed is a minimal in-process change feed for bus and session tests.
type fakeFeed struct {
	mu       sync.Mutex
	onChange func(InvalidationEvent)
	onError  func(error)
	released bool
	subErr   error
}

func (f *fakeFeed) Subscribe(_ context.Context, _ string, onChange func(InvalidationEvent), onError func(error)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.onChange = onChange
	f.onError = onError
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.released = true
	}, nil
}

func (f *fakeFeed) push(event InvalidationEvent) {
	f.mu.Lock()
	onChange := f.onChange
	f.mu.Unlock()
	if onChange != nil {
		onChange(event)
	}
}

func (f *fakeFeed) pushError(err error) {
	f.mu.Lock()
	onError := f.onError
	f.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

// fakeDirectory scripts ownership lookups.
type fakeDirectory struct {
	payrollOwners map[string]string
	reportOwners  map[string]string
	publicReports map[string]bool
	departments   map[string]string
	err           error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		payrollOwners: make(map[string]string),
		reportOwners:  make(map[string]string),
		publicReports: make(map[string]bool),
		departments:   make(map[string]string),
	}
}

func (d *fakeDirectory) PayrollOwner(_ context.Context, payrollID string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	owner, ok := d.payrollOwners[payrollID]
	if !ok {
		return "", errors.New("payroll record not found")
	}
	return owner, nil
}

func (d *fakeDirectory) ReportMeta(_ context.Context, reportID string) (string, bool, error) {
	if d.err != nil {
		return "", false, d.err
	}
	creator, ok := d.reportOwners[reportID]
	if !ok {
		return "", false, errors.New("report not found")
	}
	return creator, d.publicReports[reportID], nil
}

func (d *fakeDirectory) ResourceDepartment(_ context.Context, _ ResourceType, resourceID string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	department, ok := d.departments[resourceID]
	if !ok {
		return "", errors.New("resource department not found")
	}
	return department, nil
}

// recordingSink captures audit records for assertions.
type recordingSink struct {
	mu      sync.Mutex
	records []PermissionResult
}

func (s *recordingSink) Record(_ context.Context, _ Permission, result PermissionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, result)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func testContext(userID string) PermissionContext {
	return PermissionContext{
		UserID:    userID,
		Role:      "employee",
		Timestamp: time.Now(),
	}
}
