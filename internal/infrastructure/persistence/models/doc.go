// Package models contains GORM persistence models that map to database tables.
// They are kept apart from the domain aggregates so the domain layer stays free of
// ORM tags. Each model has ToDomain and ...FromDomain mappers used by the repositories.
//
// Tables:
//   - payroll_documents: document aggregates, one row per version
//   - status_audit_records: append-only transition audit trail
//   - employees: employee read model consumed by the generation gate
package models
