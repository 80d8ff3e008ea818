package payroll

// DocumentType is the kind of payroll document produced
type DocumentType string

const (
	DocumentTypePayslip           DocumentType = "PAYSLIP"
	DocumentTypeTransferOrder     DocumentType = "TRANSFER_ORDER"
	DocumentTypeCNSSDeclaration   DocumentType = "CNSS_DECLARATION"
	DocumentTypeSalaryCertificate DocumentType = "SALARY_CERTIFICATE"
	DocumentTypePayrollSummary    DocumentType = "PAYROLL_SUMMARY"
)

// AllDocumentTypes returns all document types
func AllDocumentTypes() []DocumentType {
	return []DocumentType{
		DocumentTypePayslip,
		DocumentTypeTransferOrder,
		DocumentTypeCNSSDeclaration,
		DocumentTypeSalaryCertificate,
		DocumentTypePayrollSummary,
	}
}

// IsValid returns true if the document type is valid
func (t DocumentType) IsValid() bool {
	switch t {
	case DocumentTypePayslip, DocumentTypeTransferOrder, DocumentTypeCNSSDeclaration,
		DocumentTypeSalaryCertificate, DocumentTypePayrollSummary:
		return true
	}
	return false
}

// String returns the string representation
func (t DocumentType) String() string {
	return string(t)
}

// DisplayName returns a human-readable name
func (t DocumentType) DisplayName() string {
	switch t {
	case DocumentTypePayslip:
		return "Payslip"
	case DocumentTypeTransferOrder:
		return "Transfer Order"
	case DocumentTypeCNSSDeclaration:
		return "CNSS Declaration"
	case DocumentTypeSalaryCertificate:
		return "Salary Certificate"
	case DocumentTypePayrollSummary:
		return "Payroll Summary"
	}
	return string(t)
}

// Code returns the short prefix used in human-readable document ids
func (t DocumentType) Code() string {
	switch t {
	case DocumentTypePayslip:
		return "PAY"
	case DocumentTypeTransferOrder:
		return "TRF"
	case DocumentTypeCNSSDeclaration:
		return "CNSS"
	case DocumentTypeSalaryCertificate:
		return "CERT"
	case DocumentTypePayrollSummary:
		return "SUM"
	}
	return "DOC"
}

// RequiredEmployeeFields lists the employee attributes the document cannot be produced without
func (t DocumentType) RequiredEmployeeFields() []string {
	switch t {
	case DocumentTypePayslip:
		return []string{"employee_code", "cnss_number"}
	case DocumentTypeTransferOrder:
		return []string{"bank_name", "bank_account"}
	case DocumentTypeCNSSDeclaration:
		return []string{"cnss_number"}
	case DocumentTypeSalaryCertificate:
		return []string{"hire_date"}
	case DocumentTypePayrollSummary:
		return nil
	}
	return nil
}
