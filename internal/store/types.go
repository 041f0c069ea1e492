package store

import "time"

// Header is shared by every row of one log sheet.
type Header struct {
	TableName         string
	TableDescription  string
	TableDate         string
	IncubationProfile string
}

// Row is one product line of a log sheet. Analyte values are canonical
// decimal text or nil when not measured.
type Row struct {
	ID int64
	Header
	RowIndex       int
	Product        string
	Code           string
	ExpirationDate *string
	Entero         *string
	TMC30          *string
	YeastsMolds    *string
	Bacillus       *string
	Eval2nd        string
	Eval3rd        string
	Eval4th        string
	StressTest     string
	Comments       string
	CreatedAt      time.Time
}

// RowFilter narrows a row search. Empty fields are ignored.
type RowFilter struct {
	TableDate      string
	Product        string
	Code           string
	ExpirationDate string
}

// Empty reports whether no filter is set.
func (f RowFilter) Empty() bool {
	return f.TableDate == "" && f.Product == "" && f.Code == "" && f.ExpirationDate == ""
}

// StatsFilter narrows the statistics page.
type StatsFilter struct {
	Product string
	From    string
	To      string
}

// SheetSummary is one sheet with its row count.
type SheetSummary struct {
	TableName        string
	TableDate        string
	TableDescription string
	Rows             int
}

// CalendarSheet is one sheet with a profile and the creation time of its
// first row, still in stored form.
type CalendarSheet struct {
	TableName         string
	TableDate         string
	TableDescription  string
	IncubationProfile string
	CreatedAt         string
}

// AnalyteValues holds the three flagged analytes of a row.
type AnalyteValues struct {
	Entero      *string
	YeastsMolds *string
	Bacillus    *string
}

// User is an account.
type User struct {
	ID           int64
	Name         string
	FullName     string
	PasswordHash string
	Role         string
	Active       bool
	CreatedAt    time.Time
}

// UserActivity summarizes what a user did to log sheets.
type UserActivity struct {
	UserID        int64
	Name          string
	TablesCreated int
	RowsUpdated   int
	TablesTouched int
}

// AuditEntry is written to audit_logs. Old and New hold JSON or nil.
type AuditEntry struct {
	UserID    int64
	Action    string
	TableName string
	RecordID  *int64
	Old       []byte
	New       []byte
	IP        string
	UserAgent string
}

// AuditRecord is a stored audit entry with the actor's name.
type AuditRecord struct {
	ID int64
	AuditEntry
	UserName  string
	CreatedAt time.Time
}

// Product is a cached catalog entry.
type Product struct {
	Code      string
	Name      string
	Group     string
	UpdatedAt time.Time
}
