package ipd

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Admission statuses. Every status other than admitted is terminal.
const (
	StatusAdmitted    = "admitted"
	StatusDischarged  = "discharged"
	StatusLAMA        = "lama"
	StatusDAMA        = "dama"
	StatusDisappeared = "disappeared"
	StatusCancelled   = "cancelled"
)

// specialStatuses are the close-outs other than a regular discharge.
var specialStatuses = map[string]bool{
	StatusLAMA:        true,
	StatusDAMA:        true,
	StatusDisappeared: true,
	StatusCancelled:   true,
}

// Bed states.
const (
	BedVacant      = "vacant"
	BedOccupied    = "occupied"
	BedReserved    = "reserved"
	BedPreoccupied = "preoccupied"
)

type Admission struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	AdmittedAt      time.Time  `json:"admitted_at"`
	DischargeAt     *time.Time `json:"discharge_at,omitempty"`
	Status          string     `json:"status"`
	CurrentBedID    *uuid.UUID `json:"current_bed_id,omitempty"`
	BillingLocked   bool       `json:"billing_locked"`
	BillingLockedAt *time.Time `json:"billing_locked_at,omitempty"`
	BillingLockedBy *string    `json:"billing_locked_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Terminal reports whether the stay has ended.
func (a *Admission) Terminal() bool {
	return a.Status != StatusAdmitted
}

// BedAssignment is one interval of a bed occupied by an admission. ToTS is
// nil while the patient is still in the bed. IDs are UUIDv7, so a higher
// id was recorded later.
type BedAssignment struct {
	ID          uuid.UUID  `json:"id"`
	AdmissionID uuid.UUID  `json:"admission_id"`
	BedID       uuid.UUID  `json:"bed_id"`
	FromTS      time.Time  `json:"from_ts"`
	ToTS        *time.Time `json:"to_ts,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`

	// Joined from the bed master on reads.
	RoomType string `json:"room_type,omitempty"`
	BedCode  string `json:"bed_code,omitempty"`
}

func (a *BedAssignment) Open() bool { return a.ToTS == nil }

// BedInfo is the bed master view: the bed with its room type and ward.
type BedInfo struct {
	ID       uuid.UUID `json:"id"`
	Code     string    `json:"code"`
	State    string    `json:"state"`
	RoomType string    `json:"room_type"`
	WardName string    `json:"ward_name"`
}

// Assignable reports whether a patient can be placed in the bed.
func (b *BedInfo) Assignable() bool {
	return b.State == BedVacant || b.State == BedReserved
}

// AutoFinalizePolicy decides whether a close-out finalizes the invoice when
// the caller does not say.
type AutoFinalizePolicy string

const (
	FinalizeImmediate     AutoFinalizePolicy = "immediate"
	FinalizeOnCompletion  AutoFinalizePolicy = "on_completion"
	FinalizeWhenNoPending AutoFinalizePolicy = "when_no_pending"
	FinalizeManual        AutoFinalizePolicy = "manual"
)

func ParseAutoFinalizePolicy(s string) (AutoFinalizePolicy, error) {
	switch p := AutoFinalizePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case FinalizeImmediate, FinalizeOnCompletion, FinalizeWhenNoPending, FinalizeManual:
		return p, nil
	case "":
		return FinalizeManual, nil
	default:
		return "", fmt.Errorf("unknown autofinalize policy %q", s)
	}
}

// decide applies the policy. An explicit caller choice always wins.
func (p AutoFinalizePolicy) decide(explicit *bool, discharge bool, missingRateDays int) bool {
	if explicit != nil {
		return *explicit
	}
	switch p {
	case FinalizeImmediate:
		return true
	case FinalizeOnCompletion:
		return discharge
	case FinalizeWhenNoPending:
		return discharge && missingRateDays == 0
	default:
		return false
	}
}

// Config is the engine's construction-time behavior.
type Config struct {
	// Location is the facility's civil calendar used to cut bed-days.
	Location          *time.Location
	AutoCreateInvoice bool
	DefaultTaxRate    decimal.Decimal
	AutoFinalize      AutoFinalizePolicy
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

type AdmitRequest struct {
	PatientID  uuid.UUID `json:"patient_id"`
	BedID      uuid.UUID `json:"bed_id"`
	AdmittedAt time.Time `json:"admitted_at"`
	Reason     string    `json:"reason"`
}

type TransferRequest struct {
	BedID  uuid.UUID `json:"bed_id"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

type CorrectionRequest struct {
	BedID  uuid.UUID `json:"bed_id"`
	From   time.Time `json:"from_ts"`
	To     time.Time `json:"to_ts"`
	Reason string    `json:"reason"`
}

// StatusRequest closes an admission out under one of the special statuses.
type StatusRequest struct {
	Status          string    `json:"status"`
	At              time.Time `json:"at"`
	FinalizeInvoice *bool     `json:"finalize_invoice"`
	LockedBy        string    `json:"-"`
}

type FinalizeRequest struct {
	StopTS          time.Time `json:"stop_ts"`
	FinalizeInvoice *bool     `json:"finalize_invoice"`
	LockedBy        string    `json:"-"`
}

// FinalizeResult is the billing snapshot left by a close-out.
type FinalizeResult struct {
	AdmissionID   uuid.UUID       `json:"admission_id"`
	Status        string          `json:"status"`
	InvoiceID     *uuid.UUID      `json:"invoice_id"`
	InvoiceStatus string          `json:"invoice_status,omitempty"`
	BillingLocked bool            `json:"billing_locked"`
	DischargeAt   *time.Time      `json:"discharge_at"`
	NetTotal      decimal.Decimal `json:"net_total"`
	BalanceDue    decimal.Decimal `json:"balance_due"`
}

type PreviewDay struct {
	Date         civil.Date      `json:"date"`
	BedID        uuid.UUID       `json:"bed_id"`
	BedCode      string          `json:"bed_code,omitempty"`
	RoomType     string          `json:"room_type"`
	Rate         decimal.Decimal `json:"rate"`
	RateMissing  bool            `json:"rate_missing"`
	AssignmentID uuid.UUID       `json:"assignment_id"`
}

// Preview is the room charge an admission would be billed over a range.
type Preview struct {
	AdmissionID     uuid.UUID       `json:"admission_id"`
	From            civil.Date      `json:"from"`
	To              civil.Date      `json:"to"`
	Days            []PreviewDay    `json:"days"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	MissingRateDays int             `json:"missing_rate_days"`
}

// SyncOutcome reports an on-demand room charge sync.
type SyncOutcome struct {
	AdmissionID     uuid.UUID       `json:"admission_id"`
	InvoiceID       uuid.UUID       `json:"invoice_id"`
	From            civil.Date      `json:"from"`
	To              civil.Date      `json:"to"`
	Inserted        int             `json:"inserted"`
	Updated         int             `json:"updated"`
	Unchanged       int             `json:"unchanged"`
	Pruned          int             `json:"pruned"`
	MissingRateDays int             `json:"missing_rate_days"`
	NetTotal        decimal.Decimal `json:"net_total"`
}
