package payroll

// DocumentStatus is the lifecycle stage of a payroll document
type DocumentStatus string

const (
	StatusCalculationPending    DocumentStatus = "CALCULATION_PENDING"
	StatusPreviewRequested      DocumentStatus = "PREVIEW_REQUESTED"
	StatusPreviewGenerated      DocumentStatus = "PREVIEW_GENERATED"
	StatusPendingApproval       DocumentStatus = "PENDING_APPROVAL"
	StatusApprovedForGeneration DocumentStatus = "APPROVED_FOR_GENERATION"
	StatusGenerating            DocumentStatus = "GENERATING"
	StatusGenerated             DocumentStatus = "GENERATED"
	StatusGenerationFailed      DocumentStatus = "GENERATION_FAILED"
	StatusApproved              DocumentStatus = "APPROVED"
	StatusSent                  DocumentStatus = "SENT"
	StatusArchived              DocumentStatus = "ARCHIVED"
)

// statusInfo is the static row of the status taxonomy
type statusInfo struct {
	label   string
	color   string
	targets []DocumentStatus
}

// taxonomy is the directed transition graph. Any edge not listed here,
// including every self-loop, is illegal.
var taxonomy = map[DocumentStatus]statusInfo{
	StatusCalculationPending: {
		label:   "Calculation pending",
		color:   "bg-gray-100 text-gray-800",
		targets: []DocumentStatus{StatusPreviewRequested, StatusPendingApproval, StatusGenerating},
	},
	StatusPreviewRequested: {
		label:   "Preview requested",
		color:   "bg-sky-100 text-sky-800",
		targets: []DocumentStatus{StatusPreviewGenerated, StatusGenerationFailed},
	},
	StatusPreviewGenerated: {
		label:   "Preview ready",
		color:   "bg-cyan-100 text-cyan-800",
		targets: []DocumentStatus{StatusPreviewRequested, StatusPendingApproval, StatusApprovedForGeneration},
	},
	StatusPendingApproval: {
		label:   "Pending approval",
		color:   "bg-yellow-100 text-yellow-800",
		targets: []DocumentStatus{StatusApprovedForGeneration, StatusCalculationPending},
	},
	StatusApprovedForGeneration: {
		label:   "Approved for generation",
		color:   "bg-lime-100 text-lime-800",
		targets: []DocumentStatus{StatusGenerating},
	},
	StatusGenerating: {
		label:   "Generating",
		color:   "bg-blue-100 text-blue-800",
		targets: []DocumentStatus{StatusGenerated, StatusGenerationFailed, StatusApproved},
	},
	StatusGenerated: {
		label:   "Generated",
		color:   "bg-indigo-100 text-indigo-800",
		targets: []DocumentStatus{StatusApproved, StatusSent, StatusArchived},
	},
	StatusGenerationFailed: {
		label:   "Generation failed",
		color:   "bg-red-100 text-red-800",
		targets: []DocumentStatus{StatusGenerating, StatusCalculationPending},
	},
	StatusApproved: {
		label:   "Approved",
		color:   "bg-green-100 text-green-800",
		targets: []DocumentStatus{StatusSent, StatusArchived},
	},
	StatusSent: {
		label:   "Sent",
		color:   "bg-emerald-100 text-emerald-800",
		targets: []DocumentStatus{StatusArchived},
	},
	StatusArchived: {
		label:   "Archived",
		color:   "bg-slate-200 text-slate-700",
		targets: nil,
	},
}

// AllDocumentStatuses returns every status in lifecycle order
func AllDocumentStatuses() []DocumentStatus {
	return []DocumentStatus{
		StatusCalculationPending,
		StatusPreviewRequested,
		StatusPreviewGenerated,
		StatusPendingApproval,
		StatusApprovedForGeneration,
		StatusGenerating,
		StatusGenerated,
		StatusGenerationFailed,
		StatusApproved,
		StatusSent,
		StatusArchived,
	}
}

// IsValid returns true if the status is part of the taxonomy
func (s DocumentStatus) IsValid() bool {
	_, ok := taxonomy[s]
	return ok
}

// String returns the string representation
func (s DocumentStatus) String() string {
	return string(s)
}

// Label returns the human display label
func (s DocumentStatus) Label() string {
	if info, ok := taxonomy[s]; ok {
		return info.label
	}
	return string(s)
}

// Color returns the display color class
func (s DocumentStatus) Color() string {
	if info, ok := taxonomy[s]; ok {
		return info.color
	}
	return "bg-gray-100 text-gray-500"
}

// AllowedTransitions returns a copy of the legal next statuses
func (s DocumentStatus) AllowedTransitions() []DocumentStatus {
	info, ok := taxonomy[s]
	if !ok || len(info.targets) == 0 {
		return []DocumentStatus{}
	}
	out := make([]DocumentStatus, len(info.targets))
	copy(out, info.targets)
	return out
}

// CanTransitionTo checks the edge against the transition graph
func (s DocumentStatus) CanTransitionTo(target DocumentStatus) bool {
	return IsValidTransition(s, target)
}

// IsTerminal returns true when no outgoing edge exists
func (s DocumentStatus) IsTerminal() bool {
	return s.IsValid() && len(taxonomy[s].targets) == 0
}

// HasFinalFile returns true for statuses where a final (non-preview) file must exist
func (s DocumentStatus) HasFinalFile() bool {
	switch s {
	case StatusGenerated, StatusApproved, StatusSent, StatusArchived:
		return true
	default:
		return false
	}
}

// IsValidTransition returns the validity verdict for a (from, to) pair
func IsValidTransition(from, to DocumentStatus) bool {
	if from == to {
		return false
	}
	info, ok := taxonomy[from]
	if !ok {
		return false
	}
	for _, t := range info.targets {
		if t == to {
			return true
		}
	}
	return false
}
