package models

import "time"

// CaseModel is the durable row behind one case's latest snapshot. The snapshot
// itself is an opaque, versioned JSON blob (runtime.Case.Snapshot's output);
// the surrounding columns exist purely so the store can list/filter cases
// without deserializing every blob, mirroring ExecutionModel's split between a
// few queryable columns and a jsonb payload column.
type CaseModel struct {
	CaseID      string    `bun:"case_id,pk" json:"case_id"`
	SpecURI     string    `bun:"spec_uri,notnull" json:"spec_uri"`
	SpecVersion string    `bun:"spec_version,notnull" json:"spec_version"`
	Status      string    `bun:"status,notnull" json:"status"`
	Snapshot    []byte    `bun:"snapshot,type:bytea,notnull" json:"-"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

func (CaseModel) TableName() string { return "yawl_cases" }

// SpecificationModel is the durable row behind one loaded specification
// document.
type SpecificationModel struct {
	URI       string    `bun:"uri,pk" json:"uri"`
	Version   string    `bun:"version,pk" json:"version"`
	Document  []byte    `bun:"document,type:bytea,notnull" json:"-"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

func (SpecificationModel) TableName() string { return "yawl_specifications" }
