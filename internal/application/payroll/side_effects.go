package payroll

import (
	"strings"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/google/uuid"
)

// applySideEffects runs the status-specific field updates for req.Target.
// Re-applying the same target overwrites the stamps with the latest call.
func applySideEffects(doc *payroll.PayrollDocument, req TransitionRequest, at time.Time) ([]string, *payroll.WorkflowError) {
	actorID := req.Actor.ID
	switch req.Target {
	case payroll.StatusCalculationPending:
		if doc.Approval != nil {
			doc.ClearApproval()
			return []string{"approval_cleared"}, nil
		}
		return nil, nil

	case payroll.StatusPreviewRequested:
		doc.RequestPreview()
		return []string{"preview_requested"}, nil

	case payroll.StatusPreviewGenerated:
		a := req.Artifact
		if a == nil || a.File == nil {
			return nil, missingArtifact(req.Target)
		}
		watermark := payroll.DefaultPreviewWatermark
		if a.Watermark != nil {
			watermark = *a.Watermark
		}
		expires := at.Add(24 * time.Hour)
		if a.ExpiresAt != nil {
			expires = *a.ExpiresAt
		}
		doc.RecordPreview(a.File, watermark, expires)
		return []string{"preview_file_recorded", "preview_expiry_set"}, nil

	case payroll.StatusPendingApproval:
		doc.RequestApproval(actorID, at)
		return []string{"approval_requested"}, nil

	case payroll.StatusApprovedForGeneration:
		doc.Approve(actorID, at, req.Comments)
		return []string{"approval_stamped"}, nil

	case payroll.StatusGenerating:
		doc.StartGeneration()
		return []string{"generation_started"}, nil

	case payroll.StatusGenerated:
		a := req.Artifact
		if a == nil || a.File == nil {
			return nil, missingArtifact(req.Target)
		}
		recordArtifact(doc, a, actorID, at)
		return []string{"file_recorded", "generation_stamped"}, nil

	case payroll.StatusGenerationFailed:
		failure := req.Failure
		if failure == nil {
			failure = payroll.NewWorkflowError(payroll.ErrCodePDFGenerationFailed, "generation failed")
		}
		doc.RecordFailure(failure.Code, failure.Message, at)
		return []string{"failure_recorded"}, nil

	case payroll.StatusApproved:
		var effects []string
		if a := req.Artifact; a != nil && a.File != nil {
			recordArtifact(doc, a, actorID, at)
			effects = append(effects, "file_recorded", "generation_stamped")
		}
		if doc.File == nil {
			return nil, missingArtifact(req.Target)
		}
		doc.Approve(actorID, at, req.Comments)
		return append(effects, "approval_stamped"), nil

	case payroll.StatusSent:
		recipients := cleanRecipients(req.Recipients)
		if len(recipients) == 0 {
			return nil, payroll.NewWorkflowError(payroll.ErrCodeMissingRequiredField,
				"sending a document requires at least one recipient",
				payroll.WithField("recipients", "at least one recipient", "[]"))
		}
		doc.MarkSent(recipients, actorID, at, req.TrackingID)
		return []string{"distribution_stamped"}, nil

	case payroll.StatusArchived:
		doc.MarkArchived(actorID, at)
		return []string{"archive_stamped"}, nil
	}
	return nil, payroll.NewWorkflowError(payroll.ErrCodeInvalidStatusTransition, "no side effect defined for target status",
		payroll.WithField("target_status", nil, req.Target))
}

func recordArtifact(doc *payroll.PayrollDocument, a *Artifact, by uuid.UUID, at time.Time) {
	doc.RecordGenerated(a.File, by, at, a.Duration)
	if a.Attempts > 1 {
		doc.Generation.RetryCount = a.Attempts - 1
	}
}

func missingArtifact(target payroll.DocumentStatus) *payroll.WorkflowError {
	return payroll.NewWorkflowError(payroll.ErrCodeMissingRequiredField,
		"status "+string(target)+" requires a generated file",
		payroll.WithField("file", "generated file metadata", nil))
}

func cleanRecipients(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
