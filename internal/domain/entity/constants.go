package entity

// WorkflowType identifies which kind of document a template approves
type WorkflowType string

const (
	WorkflowTypeBudgetApproval WorkflowType = "budget_approval"
	WorkflowTypeRFQApproval    WorkflowType = "rfq_approval"
	WorkflowTypeBidApproval    WorkflowType = "bid_approval"
)

// IsValid returns true if the workflow type is one of the supported values
func (t WorkflowType) IsValid() bool {
	switch t {
	case WorkflowTypeBudgetApproval, WorkflowTypeRFQApproval, WorkflowTypeBidApproval:
		return true
	default:
		return false
	}
}

// String returns the string representation of the workflow type
func (t WorkflowType) String() string {
	return string(t)
}

// DocumentType identifies the business document an instance approves
type DocumentType string

const (
	DocumentTypeRFQ    DocumentType = "rfq"
	DocumentTypeBid    DocumentType = "bid"
	DocumentTypeBudget DocumentType = "budget"
)

// IsValid returns true if the document type is one of the supported values
func (d DocumentType) IsValid() bool {
	switch d {
	case DocumentTypeRFQ, DocumentTypeBid, DocumentTypeBudget:
		return true
	default:
		return false
	}
}

// WorkflowType returns the template type used for documents of this type
func (d DocumentType) WorkflowType() WorkflowType {
	return WorkflowType(string(d) + "_approval")
}

// String returns the string representation of the document type
func (d DocumentType) String() string {
	return string(d)
}

// ApproverType says how a step's approver is identified
type ApproverType string

const (
	ApproverTypeRole ApproverType = "role"
	ApproverTypeUser ApproverType = "user"
)

// IsValid returns true if the approver type is role or user
func (a ApproverType) IsValid() bool {
	return a == ApproverTypeRole || a == ApproverTypeUser
}

// Instance status constants
const (
	InstanceStatusPending  = "pending"
	InstanceStatusApproved = "approved"
	InstanceStatusRejected = "rejected"
)

// Step status constants
const (
	StepStatusPending  = "pending"
	StepStatusApproved = "approved"
	StepStatusRejected = "rejected"
)

// Decision is an approver's verdict on a step
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// IsValid returns true if the decision is approved or rejected
func (d Decision) IsValid() bool {
	return d == DecisionApproved || d == DecisionRejected
}
