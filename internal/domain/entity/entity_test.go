package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/procurement-workflow/internal/domain/apperr"
)

func TestNewWorkflowTemplate(t *testing.T) {
	tests := []struct {
		name         string
		tplName      string
		workflowType WorkflowType
		wantErr      bool
	}{
		{"valid budget template", "3-step budget", WorkflowTypeBudgetApproval, false},
		{"valid rfq template", "RFQ sign-off", WorkflowTypeRFQApproval, false},
		{"blank name", "   ", WorkflowTypeBidApproval, true},
		{"unknown type", "Other", WorkflowType("invoice_approval"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, err := NewWorkflowTemplate(tt.tplName, "desc", tt.workflowType)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperr.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, tpl.ID)
			assert.True(t, tpl.IsActive)
			assert.False(t, tpl.IsDefault)
			assert.Equal(t, tt.workflowType, tpl.WorkflowType)
		})
	}
}

func TestNewStepSpec_ApproverValidation(t *testing.T) {
	tests := []struct {
		name         string
		approverType ApproverType
		role         string
		userID       string
		wantErr      bool
	}{
		{"role step", ApproverTypeRole, "manager", "", false},
		{"user step", ApproverTypeUser, "", "U42", false},
		{"role step without role", ApproverTypeRole, "", "", true},
		{"user step without user", ApproverTypeUser, "", " ", true},
		{"role step naming a user", ApproverTypeRole, "manager", "U42", true},
		{"user step naming a role", ApproverTypeUser, "admin", "U42", true},
		{"unknown approver type", ApproverType("group"), "manager", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := NewStepSpec("tpl-1", 1, tt.approverType, tt.role, tt.userID)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, spec.StepOrder)
		})
	}
}

func TestNewStepSpec_RejectsBadOrder(t *testing.T) {
	_, err := NewStepSpec("tpl-1", 0, ApproverTypeRole, "manager", "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestDocumentType_WorkflowType(t *testing.T) {
	assert.Equal(t, WorkflowTypeRFQApproval, DocumentTypeRFQ.WorkflowType())
	assert.Equal(t, WorkflowTypeBidApproval, DocumentTypeBid.WorkflowType())
	assert.Equal(t, WorkflowTypeBudgetApproval, DocumentTypeBudget.WorkflowType())
}

func TestNewWorkflowInstance(t *testing.T) {
	inst, err := NewWorkflowInstance("tpl-1", DocumentTypeBudget, "B1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, inst.CurrentStep)
	assert.Equal(t, InstanceStatusPending, inst.Status)
	assert.Nil(t, inst.CompletedAt)

	_, err = NewWorkflowInstance("tpl-1", DocumentType("invoice"), "I1", "u1")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = NewWorkflowInstance("tpl-1", DocumentTypeRFQ, "  ", "u1")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestNewApprovalStep_SnapshotsSpec(t *testing.T) {
	spec := StepSpec{StepOrder: 2, ApproverType: ApproverTypeRole, ApproverRole: "finance_lead"}
	step, err := NewApprovalStep("inst-1", spec)
	require.NoError(t, err)

	assert.Equal(t, 2, step.StepNumber)
	assert.Equal(t, "finance_lead", step.ApproverRole)
	assert.Equal(t, StepStatusPending, step.Status)
}

func TestApprovalStep_Decide(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("approve sets approved_at", func(t *testing.T) {
		step := &ApprovalStep{StepNumber: 1, Status: StepStatusPending}
		require.NoError(t, step.Decide(DecisionApproved, "ok", "u1", "Alice", at))
		assert.Equal(t, StepStatusApproved, step.Status)
		require.NotNil(t, step.ApprovedAt)
		assert.Equal(t, at, *step.ApprovedAt)
		assert.Equal(t, "Alice", step.ApproverName)
	})

	t.Run("reject leaves approved_at empty", func(t *testing.T) {
		step := &ApprovalStep{StepNumber: 1, Status: StepStatusPending}
		require.NoError(t, step.Decide(DecisionRejected, "over budget", "u1", "", at))
		assert.Equal(t, StepStatusRejected, step.Status)
		assert.Nil(t, step.ApprovedAt)
		require.NotNil(t, step.DecidedAt)
	})

	t.Run("second decision conflicts", func(t *testing.T) {
		step := &ApprovalStep{StepNumber: 1, Status: StepStatusApproved}
		err := step.Decide(DecisionApproved, "", "u1", "", at)
		assert.True(t, errors.Is(err, apperr.ErrConflict))
	})

	t.Run("invalid decision", func(t *testing.T) {
		step := &ApprovalStep{StepNumber: 1, Status: StepStatusPending}
		err := step.Decide(Decision("maybe"), "", "u1", "", at)
		assert.True(t, errors.Is(err, apperr.ErrValidation))
		assert.Equal(t, StepStatusPending, step.Status)
	})
}

func TestApprovalStep_AssignedTo(t *testing.T) {
	roleStep := &ApprovalStep{ApproverRole: "finance_lead"}
	userStep := &ApprovalStep{ApproverUserID: "u9"}

	assert.True(t, roleStep.AssignedTo(Approver{ID: "u1", Role: "finance_lead"}))
	assert.False(t, roleStep.AssignedTo(Approver{ID: "u1", Role: "manager"}))
	assert.True(t, userStep.AssignedTo(Approver{ID: "u9", Role: "manager"}))
	assert.False(t, userStep.AssignedTo(Approver{ID: "u8"}))
	assert.False(t, roleStep.AssignedTo(Approver{}))
}
