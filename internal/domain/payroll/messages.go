package payroll

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const sanitizedKey = "SANITIZED_ERROR"

// userMessages holds the localized end-user text per code
var userMessages = map[string]struct{ en, fr string }{
	string(ErrCodeInvalidEmployeeData):       {"The employee record is incomplete or invalid.", "La fiche employé est incomplète ou invalide."},
	string(ErrCodeInvalidPayrollData):        {"The payroll figures are invalid.", "Les éléments de paie sont invalides."},
	string(ErrCodeInvalidPeriod):             {"The payroll period is invalid.", "La période de paie est invalide."},
	string(ErrCodeInvalidDocumentType):       {"This document type is not supported.", "Ce type de document n'est pas pris en charge."},
	string(ErrCodeMissingRequiredField):      {"A required field is missing.", "Un champ obligatoire est manquant."},
	string(ErrCodeInvalidBatchCriteria):      {"The selection criteria are invalid or match no document.", "Les critères de sélection sont invalides ou ne correspondent à aucun document."},
	string(ErrCodeInvalidStatusTransition):   {"This status change is not allowed.", "Ce changement de statut n'est pas autorisé."},
	string(ErrCodeCurrentStatusUnknown):      {"The current status of the document could not be determined.", "Le statut actuel du document est introuvable."},
	string(ErrCodeDocumentNotFound):          {"The document was not found.", "Le document est introuvable."},
	string(ErrCodeDocumentDeleted):           {"The document has been deleted.", "Le document a été supprimé."},
	string(ErrCodeDuplicateDocument):         {"A document already exists for this employee and period.", "Un document existe déjà pour cet employé et cette période."},
	string(ErrCodeEmployeeInactive):          {"The employee is not active.", "L'employé n'est pas actif."},
	string(ErrCodeBatchLimitExceeded):        {"Too many documents were selected.", "Trop de documents ont été sélectionnés."},
	string(ErrCodeBatchValidationFailed):     {"Some selected documents cannot be processed.", "Certains documents sélectionnés ne peuvent pas être traités."},
	string(ErrCodeOperationNotCancellable):   {"The operation can no longer be cancelled.", "L'opération ne peut plus être annulée."},
	string(ErrCodeOperationCancelled):        {"The operation was cancelled.", "L'opération a été annulée."},
	string(ErrCodeOperationNotFound):         {"The batch operation was not found.", "L'opération groupée est introuvable."},
	string(ErrCodePDFGenerationFailed):       {"The PDF could not be generated.", "Le PDF n'a pas pu être généré."},
	string(ErrCodePDFValidationFailed):       {"The generated PDF is invalid.", "Le PDF généré est invalide."},
	string(ErrCodeStorageWriteFailed):        {"The document could not be saved.", "Le document n'a pas pu être enregistré."},
	string(ErrCodeStorageReadFailed):         {"The document could not be read.", "Le document n'a pas pu être lu."},
	string(ErrCodeDatabaseConnectionFailed):  {"The service is temporarily unavailable.", "Le service est temporairement indisponible."},
	string(ErrCodeDatabaseQueryFailed):       {"The request could not be completed.", "La requête n'a pas pu aboutir."},
	string(ErrCodeAuditWriteFailed):          {"The change could not be recorded.", "La modification n'a pas pu être tracée."},
	string(ErrCodeInternal):                  {"An unexpected error occurred.", "Une erreur inattendue s'est produite."},
	string(ErrCodeUnauthorizedStatusChange):  {"You are not allowed to change this status.", "Vous n'êtes pas autorisé à modifier ce statut."},
	string(ErrCodeInsufficientPermissions):   {"You do not have permission for this action.", "Vous n'avez pas les droits pour cette action."},
	string(ErrCodeTimeoutExceeded):           {"The operation took too long.", "L'opération a pris trop de temps."},
	string(ErrCodeQueueCapacityExceeded):     {"The system is busy, please retry later.", "Le système est occupé, veuillez réessayer plus tard."},
	string(ErrCodeResourceExhausted):         {"The system is overloaded, please retry later.", "Le système est surchargé, veuillez réessayer plus tard."},
	string(ErrCodeStorageServiceUnavailable): {"Document storage is unavailable.", "Le stockage des documents est indisponible."},
	string(ErrCodeRendererUnavailable):       {"The document renderer is unavailable.", "Le moteur de rendu est indisponible."},
	sanitizedKey:                             {"An internal error occurred. Reference: %s", "Une erreur interne s'est produite. Référence : %s"},
}

var (
	supportedLanguages = []language.Tag{language.English, language.French}
	languageMatcher    = language.NewMatcher(supportedLanguages)
	messageCatalog     = buildMessageCatalog()
)

func buildMessageCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, m := range userMessages {
		_ = b.SetString(language.English, key, m.en)
		_ = b.SetString(language.French, key, m.fr)
	}
	return b
}

func printerFor(tag language.Tag) *message.Printer {
	_, idx, _ := languageMatcher.Match(tag)
	return message.NewPrinter(supportedLanguages[idx], message.Catalog(messageCatalog))
}

// MatchLanguage resolves an Accept-Language header to a supported tag
func MatchLanguage(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := languageMatcher.Match(tags...)
	return supportedLanguages[idx]
}

// UserMessage returns the localized end-user text for the code
func (c ErrorCode) UserMessage(tag language.Tag) string {
	return printerFor(tag).Sprintf(string(c))
}

// SanitizedMessage is returned instead of internal detail for non-client errors
func SanitizedMessage(tag language.Tag, requestID string) string {
	if requestID == "" {
		requestID = "n/a"
	}
	return printerFor(tag).Sprintf(sanitizedKey, requestID)
}
