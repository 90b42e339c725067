package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-workflow/internal/application/dispatcher"
	"github.com/garyjia/procurement-workflow/internal/application/port"
	"github.com/garyjia/procurement-workflow/internal/domain/apperr"
	"github.com/garyjia/procurement-workflow/internal/domain/entity"
	"github.com/garyjia/procurement-workflow/internal/domain/event"
	"github.com/garyjia/procurement-workflow/internal/infrastructure/persistence/sqlstore"
	"github.com/garyjia/procurement-workflow/pkg/database"
)

type logEntry struct {
	level string
	msg   string
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level, msg})
}

func (l *recordingLogger) Info(msg string, _ ...interface{})  { l.record("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...interface{})  { l.record("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...interface{}) { l.record("error", msg) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "workflow.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, zap.NewNop()).Run()
	require.NoError(t, err)
	return sqlstore.New(db.DB, zap.NewNop())
}

// recordingDispatcher captures dispatched events synchronously
type recordingDispatcher struct {
	dispatcher.Dispatcher
	mu     sync.Mutex
	events []*event.Event
}

func (d *recordingDispatcher) DispatchAsync(_ context.Context, evt *event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
}

func (d *recordingDispatcher) types() []event.Type {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]event.Type, len(d.events))
	for i, e := range d.events {
		out[i] = e.Type
	}
	return out
}

func newTemplateService(t *testing.T) (TemplateService, *sqlstore.Store, *recordingDispatcher) {
	t.Helper()
	store := newTestStore(t)
	rec := &recordingDispatcher{}
	svc := NewTemplateService(store.Templates(), store, &recordingLogger{}, WithTemplateDispatcher(rec))
	return svc, store, rec
}

func TestTemplateService_CreateTemplate(t *testing.T) {
	svc, _, rec := newTemplateService(t)
	ctx := context.Background()

	tpl, err := svc.CreateTemplate(ctx, "  Budget sign-off ", "three steps", entity.WorkflowTypeBudgetApproval)
	require.NoError(t, err)
	assert.Equal(t, "Budget sign-off", tpl.Name)
	assert.True(t, tpl.IsActive)
	assert.False(t, tpl.IsDefault)

	got, err := svc.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, tpl.Name, got.Name)
	assert.Empty(t, got.Steps)

	_, err = svc.CreateTemplate(ctx, "", "", entity.WorkflowTypeBudgetApproval)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = svc.CreateTemplate(ctx, "x", "", entity.WorkflowType("po_approval"))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	assert.Equal(t, []event.Type{event.TypeTemplateCreated}, rec.types())
}

func TestTemplateService_AddStep(t *testing.T) {
	svc, _, _ := newTemplateService(t)
	ctx := context.Background()

	tpl, err := svc.CreateTemplate(ctx, "RFQ", "", entity.WorkflowTypeRFQApproval)
	require.NoError(t, err)

	first, err := svc.AddStep(ctx, tpl.ID, StepInput{ApproverType: entity.ApproverTypeRole, ApproverRole: "manager"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.StepOrder)

	second, err := svc.AddStep(ctx, tpl.ID, StepInput{ApproverType: entity.ApproverTypeUser, ApproverUserID: "u-7"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.StepOrder)

	got, err := svc.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "manager", got.Steps[0].ApproverRole)
	assert.Equal(t, "u-7", got.Steps[1].ApproverUserID)

	tests := []struct {
		name       string
		templateID string
		input      StepInput
	}{
		{"unknown template", "missing", StepInput{ApproverType: entity.ApproverTypeRole, ApproverRole: "manager"}},
		{"blank template id", " ", StepInput{ApproverType: entity.ApproverTypeRole, ApproverRole: "manager"}},
		{"role step without role", tpl.ID, StepInput{ApproverType: entity.ApproverTypeRole}},
		{"both role and user", tpl.ID, StepInput{ApproverType: entity.ApproverTypeUser, ApproverRole: "a", ApproverUserID: "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddStep(ctx, tt.templateID, tt.input)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestTemplateService_AddStep_InactiveTemplate(t *testing.T) {
	svc, _, _ := newTemplateService(t)
	ctx := context.Background()

	tpl, err := svc.CreateTemplate(ctx, "Old", "", entity.WorkflowTypeBidApproval)
	require.NoError(t, err)
	require.NoError(t, svc.DeactivateTemplate(ctx, tpl.ID))

	_, err = svc.AddStep(ctx, tpl.ID, StepInput{ApproverType: entity.ApproverTypeRole, ApproverRole: "manager"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestTemplateService_AddStep_ConcurrentAppendsGetDistinctOrders(t *testing.T) {
	svc, _, _ := newTemplateService(t)
	ctx := context.Background()

	tpl, err := svc.CreateTemplate(ctx, "Busy", "", entity.WorkflowTypeBudgetApproval)
	require.NoError(t, err)

	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AddStep(ctx, tpl.ID, StepInput{ApproverType: entity.ApproverTypeRole, ApproverRole: fmt.Sprintf("role-%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := svc.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, n)
	for i, step := range got.Steps {
		assert.Equal(t, i+1, step.StepOrder)
	}
}

func TestTemplateService_UpdateTemplate(t *testing.T) {
	svc, _, rec := newTemplateService(t)
	ctx := context.Background()

	tpl, err := svc.CreateTemplate(ctx, "Bid", "old", entity.WorkflowTypeBidApproval)
	require.NoError(t, err)

	name := "Bid review"
	updated, err := svc.UpdateTemplate(ctx, tpl.ID, TemplateUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Bid review", updated.Name)
	assert.Equal(t, "old", updated.Description)

	blank := "  "
	_, err = svc.UpdateTemplate(ctx, tpl.ID, TemplateUpdate{Name: &blank})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	bad := entity.WorkflowType("nope")
	_, err = svc.UpdateTemplate(ctx, tpl.ID, TemplateUpdate{WorkflowType: &bad})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = svc.UpdateTemplate(ctx, "missing", TemplateUpdate{Name: &name})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	assert.Contains(t, rec.types(), event.TypeTemplateUpdated)
}

func TestTemplateService_UpdateTemplate_MovingDefaultConflicts(t *testing.T) {
	svc, _, _ := newTemplateService(t)
	ctx := context.Background()

	rfq, err := svc.CreateTemplate(ctx, "RFQ default", "", entity.WorkflowTypeRFQApproval)
	require.NoError(t, err)
	_, err = svc.SetDefaultTemplate(ctx, rfq.ID)
	require.NoError(t, err)

	bid, err := svc.CreateTemplate(ctx, "Bid default", "", entity.WorkflowTypeBidApproval)
	require.NoError(t, err)
	_, err = svc.SetDefaultTemplate(ctx, bid.ID)
	require.NoError(t, err)

	wt := entity.WorkflowTypeRFQApproval
	_, err = svc.UpdateTemplate(ctx, bid.ID, TemplateUpdate{WorkflowType: &wt})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestTemplateService_UpdateTemplate_InactiveIsPrecondition(t *testing.T) {
	svc, _, _ := newTemplateService(t)
	ctx := context.Background()

	tpl, err := svc.CreateTemplate(ctx, "Gone", "", entity.WorkflowTypeBidApproval)
	require.NoError(t, err)
	require.NoError(t, svc.DeactivateTemplate(ctx, tpl.ID))

	desc := "new"
	_, err = svc.UpdateTemplate(ctx, tpl.ID, TemplateUpdate{Description: &desc})
	assert.True(t, errors.Is(err, apperr.ErrPrecondition))
}

func TestTemplateService_DeactivateTemplate(t *testing.T) {
	svc, _, rec := newTemplateService(t)
	ctx := context.Background()

	tpl, err := svc.CreateTemplate(ctx, "Temp", "", entity.WorkflowTypeBudgetApproval)
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateTemplate(ctx, tpl.ID))
	// deactivating twice is a no-op
	require.NoError(t, svc.DeactivateTemplate(ctx, tpl.ID))

	list, err := svc.ListTemplates(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list)

	// still readable by id
	got, err := svc.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	deactivations := 0
	for _, typ := range rec.types() {
		if typ == event.TypeTemplateDeactivated {
			deactivations++
		}
	}
	assert.Equal(t, 1, deactivations)

	err = svc.DeactivateTemplate(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestTemplateService_DeactivateDefaultRefused(t *testing.T) {
	svc, _, _ := newTemplateService(t)
	ctx := context.Background()

	tpl, err := svc.CreateTemplate(ctx, "Main", "", entity.WorkflowTypeBudgetApproval)
	require.NoError(t, err)
	_, err = svc.SetDefaultTemplate(ctx, tpl.ID)
	require.NoError(t, err)

	err = svc.DeactivateTemplate(ctx, tpl.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrPrecondition))
	assert.Contains(t, apperr.Message(err), "default")
}

func TestTemplateService_DefaultTemplate(t *testing.T) {
	svc, _, _ := newTemplateService(t)
	ctx := context.Background()

	_, err := svc.GetDefaultTemplate(ctx, entity.WorkflowTypeBudgetApproval)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = svc.GetDefaultTemplate(ctx, entity.WorkflowType("unknown"))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	first, err := svc.CreateTemplate(ctx, "First", "", entity.WorkflowTypeBudgetApproval)
	require.NoError(t, err)
	_, err = svc.AddStep(ctx, first.ID, StepInput{ApproverType: entity.ApproverTypeRole, ApproverRole: "manager"})
	require.NoError(t, err)
	_, err = svc.SetDefaultTemplate(ctx, first.ID)
	require.NoError(t, err)

	got, err := svc.GetDefaultTemplate(ctx, entity.WorkflowTypeBudgetApproval)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	require.Len(t, got.Steps, 1)

	second, err := svc.CreateTemplate(ctx, "Second", "", entity.WorkflowTypeBudgetApproval)
	require.NoError(t, err)
	_, err = svc.SetDefaultTemplate(ctx, second.ID)
	require.NoError(t, err)

	got, err = svc.GetDefaultTemplate(ctx, entity.WorkflowTypeBudgetApproval)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	old, err := svc.GetTemplate(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsDefault)

	// other types are unaffected
	_, err = svc.GetDefaultTemplate(ctx, entity.WorkflowTypeRFQApproval)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestTemplateService_SetDefaultOnInactiveRefused(t *testing.T) {
	svc, _, _ := newTemplateService(t)
	ctx := context.Background()

	tpl, err := svc.CreateTemplate(ctx, "Off", "", entity.WorkflowTypeRFQApproval)
	require.NoError(t, err)
	require.NoError(t, svc.DeactivateTemplate(ctx, tpl.ID))

	_, err = svc.SetDefaultTemplate(ctx, tpl.ID)
	assert.True(t, errors.Is(err, apperr.ErrPrecondition))
}

// duplicateDefaults simulates data written around the engine with two defaults
type duplicateDefaults struct {
	port.TemplateRepository
}

func (d duplicateDefaults) ListActiveDefaults(_ context.Context, wt entity.WorkflowType) ([]*entity.WorkflowTemplate, error) {
	return []*entity.WorkflowTemplate{
		{ID: "a", WorkflowType: wt, IsDefault: true, IsActive: true},
		{ID: "b", WorkflowType: wt, IsDefault: true, IsActive: true},
	}, nil
}

func TestResolveDefaultTemplate_MultipleDefaultsConflict(t *testing.T) {
	_, err := ResolveDefaultTemplate(context.Background(), duplicateDefaults{}, entity.WorkflowTypeBidApproval)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestTemplateService_ListTemplates(t *testing.T) {
	store := newTestStore(t)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewTemplateService(store.Templates(), store, &recordingLogger{},
		WithTemplateClock(func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		}))
	ctx := context.Background()

	a, err := svc.CreateTemplate(ctx, "A", "", entity.WorkflowTypeBudgetApproval)
	require.NoError(t, err)
	b, err := svc.CreateTemplate(ctx, "B", "", entity.WorkflowTypeRFQApproval)
	require.NoError(t, err)
	c, err := svc.CreateTemplate(ctx, "C", "", entity.WorkflowTypeBudgetApproval)
	require.NoError(t, err)

	all, err := svc.ListTemplates(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	wt := entity.WorkflowTypeBudgetApproval
	budget, err := svc.ListTemplates(ctx, &wt)
	require.NoError(t, err)
	require.Len(t, budget, 2)
	assert.Equal(t, c.ID, budget[0].ID)

	bad := entity.WorkflowType("x")
	_, err = svc.ListTemplates(ctx, &bad)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

const seedYAML = `
templates:
  - name: Standard budget
    description: Manager then finance
    workflow_type: budget_approval
    default: true
    steps:
      - approver_type: role
        approver_role: manager
      - approver_type: role
        approver_role: finance_lead
  - name: Bid by owner
    workflow_type: bid_approval
    steps:
      - approver_type: user
        approver_user_id: u-owner
`

func TestLoadTemplateSeeds(t *testing.T) {
	seeds, err := LoadTemplateSeeds(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, entity.WorkflowTypeBudgetApproval, seeds[0].WorkflowType)
	assert.True(t, seeds[0].Default)
	require.Len(t, seeds[0].Steps, 2)
	assert.Equal(t, "finance_lead", seeds[0].Steps[1].ApproverRole)
	assert.Equal(t, "u-owner", seeds[1].Steps[0].ApproverUserID)

	empty, err := LoadTemplateSeeds(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = LoadTemplateSeeds(strings.NewReader("templates:\n  - name: x\n    colour: red\n"))
	assert.Error(t, err)
}

func TestTemplateService_SeedTemplates(t *testing.T) {
	svc, _, _ := newTemplateService(t)
	ctx := context.Background()

	seeds, err := LoadTemplateSeeds(strings.NewReader(seedYAML))
	require.NoError(t, err)

	result, err := svc.SeedTemplates(ctx, seeds)
	require.NoError(t, err)
	assert.Equal(t, []string{"Standard budget", "Bid by owner"}, result.Created)
	assert.Empty(t, result.Skipped)

	def, err := svc.GetDefaultTemplate(ctx, entity.WorkflowTypeBudgetApproval)
	require.NoError(t, err)
	assert.Equal(t, "Standard budget", def.Name)
	require.Len(t, def.Steps, 2)

	again, err := svc.SeedTemplates(ctx, seeds)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Len(t, again.Skipped, 2)

	all, err := svc.ListTemplates(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTemplateService_SeedTemplates_InvalidStepRollsBack(t *testing.T) {
	svc, _, _ := newTemplateService(t)
	ctx := context.Background()

	_, err := svc.SeedTemplates(ctx, []TemplateSeed{{
		Name:         "Broken",
		WorkflowType: entity.WorkflowTypeRFQApproval,
		Steps: []StepInput{
			{ApproverType: entity.ApproverTypeRole, ApproverRole: "manager"},
			{ApproverType: entity.ApproverTypeRole},
		},
	}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	all, err := svc.ListTemplates(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []port.Change
	err       error
}

func (n *fakeNotifier) Publish(_ context.Context, c port.Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.published = append(n.published, c)
	return nil
}

func (n *fakeNotifier) Subscribe(context.Context, string) (<-chan port.Change, func(), error) {
	return nil, func() {}, nil
}

func (n *fakeNotifier) Close() error { return nil }

func TestChangesFor(t *testing.T) {
	tests := []struct {
		name string
		evt  *event.Event
		want []port.Change
	}{
		{
			name: "template created",
			evt:  event.NewEvent(event.TypeTemplateCreated, "t1", nil),
			want: []port.Change{{Table: port.TableTemplates, Op: port.OpInsert, RowID: "t1"}},
		},
		{
			name: "default changed",
			evt:  event.NewEvent(event.TypeDefaultChanged, "t1", nil),
			want: []port.Change{{Table: port.TableTemplates, Op: port.OpUpdate, RowID: "t1"}},
		},
		{
			name: "instance created",
			evt:  event.NewEvent(event.TypeInstanceCreated, "i1", nil),
			want: []port.Change{{Table: port.TableInstances, Op: port.OpInsert, RowID: "i1"}},
		},
		{
			name: "step decided touches instance and step",
			evt:  event.NewEvent(event.TypeStepDecided, "i1", map[string]interface{}{"step_id": "s1"}),
			want: []port.Change{
				{Table: port.TableInstances, Op: port.OpUpdate, RowID: "i1"},
				{Table: port.TableSteps, Op: port.OpUpdate, RowID: "s1"},
			},
		},
		{
			name: "instance approved is covered by step decided",
			evt:  event.NewEvent(event.TypeInstanceApproved, "i1", nil),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChangesFor(tt.evt)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i].Table, got[i].Table)
				assert.Equal(t, tt.want[i].Op, got[i].Op)
				assert.Equal(t, tt.want[i].RowID, got[i].RowID)
				assert.Equal(t, tt.evt.Timestamp, got[i].At)
			}
		})
	}
}

func TestChangePublisher_SwallowsPublishErrors(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("redis down")}
	logger := &recordingLogger{}
	pub := NewChangePublisher(notifier, logger)

	err := pub.Handle(context.Background(), event.NewEvent(event.TypeInstanceCreated, "i1", nil))
	assert.NoError(t, err)
	assert.Equal(t, 1, logger.count("warn"))
}

func TestChangePublisher_RegisteredOnEveryType(t *testing.T) {
	notifier := &fakeNotifier{}
	d := dispatcher.NewDispatcher()
	NewChangePublisher(notifier, &recordingLogger{}).Register(d)

	require.NoError(t, d.Dispatch(context.Background(), event.NewEvent(event.TypeTemplateCreated, "t1", nil)))
	require.NoError(t, d.Dispatch(context.Background(), event.NewEvent(event.TypeInstanceCreated, "i1", nil)))

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.published, 2)
	assert.Equal(t, port.TableTemplates, notifier.published[0].Table)
	assert.Equal(t, port.TableInstances, notifier.published[1].Table)
}
