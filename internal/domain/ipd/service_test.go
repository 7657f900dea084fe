package ipd

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/platform/apperr"
)

func utcConfig() Config {
	return Config{AutoCreateInvoice: true, AutoFinalize: FinalizeManual}
}

func TestAdmit_OccupiesBedAndCreatesInvoice(t *testing.T) {
	fx := newFixture(utcConfig())
	bed := fx.beds.add("G-1", "General Ward")

	adm := fx.admit(bed, "2024-01-01T09:00:00Z")

	assert.Equal(t, StatusAdmitted, adm.Status)
	require.NotNil(t, adm.CurrentBedID)
	assert.Equal(t, bed, *adm.CurrentBedID)
	assert.Equal(t, BedOccupied, fx.beds.items[bed].State)

	open, err := fx.assignments.GetOpen(context.Background(), adm.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, bed, open.BedID)
	assert.Equal(t, uuid.Version(7), open.ID.Version())

	inv := fx.invoiceFor(adm.ID)
	require.NotNil(t, inv)
	assert.Equal(t, billing.InvoiceDraft, inv.Status)
}

func TestAdmit_WithoutAutoInvoice(t *testing.T) {
	fx := newFixture(Config{})
	adm := fx.admit(fx.beds.add("G-1", "General"), "2024-01-01T09:00:00Z")
	assert.Nil(t, fx.invoiceFor(adm.ID))
}

func TestAdmit_BedNotAssignable(t *testing.T) {
	fx := newFixture(utcConfig())
	bed := fx.beds.add("G-1", "General")
	fx.admit(bed, "2024-01-01T09:00:00Z")

	_, err := fx.svc.Admit(context.Background(), AdmitRequest{PatientID: uuid.New(), BedID: bed})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStateConflict))
	assert.Contains(t, err.Error(), "G-1")
}

func TestAdmit_Validation(t *testing.T) {
	fx := newFixture(utcConfig())
	_, err := fx.svc.Admit(context.Background(), AdmitRequest{BedID: uuid.New()})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = fx.svc.Admit(context.Background(), AdmitRequest{PatientID: uuid.New(), BedID: uuid.New()})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

// Admitted 2024-01-01 in General at 1000, moved to ICU at 5000 on
// 2024-01-03 10:00, discharged 2024-01-05 18:00. The transfer day goes to
// the bed the patient ends the day in.
func TestScenario_TransferThenDischarge(t *testing.T) {
	fx := newFixture(utcConfig())
	bedA := fx.beds.add("G-1", "General Ward")
	bedB := fx.beds.add("I-1", "ICU")
	fx.rates.add("General", "1000", "2023-01-01")
	fx.rates.add("ICU", "5000", "2023-01-01")
	ctx := context.Background()

	adm := fx.admit(bedA, "2024-01-01T09:00:00Z")
	_, err := fx.svc.Transfer(ctx, adm.ID, TransferRequest{BedID: bedB, At: ts("2024-01-03T10:00:00Z")})
	require.NoError(t, err)
	assert.Equal(t, BedVacant, fx.beds.items[bedA].State)
	assert.Equal(t, BedOccupied, fx.beds.items[bedB].State)

	res, err := fx.svc.Finalize(ctx, adm.ID, FinalizeRequest{StopTS: ts("2024-01-05T18:00:00Z"), FinalizeInvoice: boolPtr(true), LockedBy: "cashier"})
	require.NoError(t, err)

	lines := fx.invoices.roomLines()
	require.Len(t, lines, 5)
	want := []struct{ day, roomType, price string }{
		{"2024-01-01", "General", "1000"},
		{"2024-01-02", "General", "1000"},
		{"2024-01-03", "ICU", "5000"},
		{"2024-01-04", "ICU", "5000"},
		{"2024-01-05", "ICU", "5000"},
	}
	for i, w := range want {
		assert.Equal(t, w.day, lines[i].NaturalKey)
		assert.Equal(t, w.roomType, *lines[i].RoomType)
		assert.True(t, lines[i].UnitPrice.Equal(dec(w.price)), "day %s price %s", w.day, lines[i].UnitPrice)
	}

	assert.True(t, res.NetTotal.Equal(dec("17000")), "net total %s", res.NetTotal)
	assert.Equal(t, billing.InvoiceFinalized, res.InvoiceStatus)
	assert.True(t, res.BillingLocked)
	assert.Equal(t, ts("2024-01-05T18:00:00Z"), *res.DischargeAt)
	assert.Equal(t, BedVacant, fx.beds.items[bedB].State)

	stored := fx.admissions.items[adm.ID]
	assert.Equal(t, StatusDischarged, stored.Status)
	assert.Nil(t, stored.CurrentBedID)
	require.NotNil(t, stored.BillingLockedBy)
	assert.Equal(t, "cashier", *stored.BillingLockedBy)
}

func TestScenario_MissingDeluxeRate(t *testing.T) {
	fx := newFixture(Config{AutoCreateInvoice: true, AutoFinalize: FinalizeWhenNoPending})
	bed := fx.beds.add("D-1", "deluxe room")
	fx.rates.add("General", "1000", "2023-01-01")
	ctx := context.Background()

	adm := fx.admit(bed, "2024-01-01T09:00:00Z")

	p, err := fx.svc.Preview(ctx, adm.ID, nil, ptrDay("2024-01-03"))
	require.NoError(t, err)
	assert.Equal(t, 3, p.MissingRateDays)
	assert.True(t, p.TotalAmount.IsZero())
	for _, d := range p.Days {
		assert.Equal(t, "Deluxe", d.RoomType)
		assert.True(t, d.RateMissing)
		assert.True(t, d.Rate.IsZero())
	}

	res, err := fx.svc.Finalize(ctx, adm.ID, FinalizeRequest{StopTS: ts("2024-01-03T12:00:00Z")})
	require.NoError(t, err)
	assert.True(t, res.NetTotal.IsZero())
	// Days billed without a tariff hold the invoice back for review.
	assert.Equal(t, billing.InvoiceDraft, res.InvoiceStatus)

	lines := fx.invoices.roomLines()
	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.True(t, l.RateMissing)
	}
}

func TestScenario_DoubleFinalizeReturnsSnapshot(t *testing.T) {
	fx := newFixture(utcConfig())
	bed := fx.beds.add("G-1", "General")
	fx.rates.add("General", "1000", "2023-01-01")
	ctx := context.Background()
	adm := fx.admit(bed, "2024-01-01T09:00:00Z")

	first, err := fx.svc.Finalize(ctx, adm.ID, FinalizeRequest{StopTS: ts("2024-01-04T11:00:00Z"), FinalizeInvoice: boolPtr(true)})
	require.NoError(t, err)
	linesBefore := len(fx.invoices.lines)

	second, err := fx.svc.Finalize(ctx, adm.ID, FinalizeRequest{StopTS: ts("2024-01-09T11:00:00Z")})
	require.NoError(t, err)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.JSONEq(t, string(a), string(b))
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, linesBefore, len(fx.invoices.lines))
	assert.Equal(t, ts("2024-01-04T11:00:00Z"), *fx.admissions.items[adm.ID].DischargeAt)
}

func TestScenario_PruneAfterEarlierDischarge(t *testing.T) {
	fx := newFixture(utcConfig())
	bed := fx.beds.add("G-1", "General")
	fx.rates.add("General", "1000", "2023-01-01")
	ctx := context.Background()
	adm := fx.admit(bed, "2024-01-01T09:00:00Z")

	fx.clock = ts("2024-01-10T12:00:00Z")
	out, err := fx.svc.SyncRoomCharges(ctx, adm.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, out.Inserted)
	require.Len(t, fx.invoices.roomLines(), 10)

	res, err := fx.svc.Finalize(ctx, adm.ID, FinalizeRequest{StopTS: ts("2024-01-05T12:00:00Z")})
	require.NoError(t, err)
	assert.Len(t, fx.invoices.roomLines(), 5)
	assert.True(t, res.NetTotal.Equal(dec("5000")))
	for _, l := range fx.invoices.roomLines() {
		assert.False(t, l.ServiceDate.After(day("2024-01-05")), "line %s survived the prune", l.NaturalKey)
	}
}

func TestScenario_RateCorrectionUpdatesInPlace(t *testing.T) {
	fx := newFixture(utcConfig())
	bed := fx.beds.add("D-1", "Deluxe")
	ctx := context.Background()
	adm := fx.admit(bed, "2024-01-01T09:00:00Z")
	fx.clock = ts("2024-01-03T12:00:00Z")

	first, err := fx.svc.SyncRoomCharges(ctx, adm.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, first.MissingRateDays)
	ids := make(map[string]uuid.UUID)
	for _, l := range fx.invoices.roomLines() {
		ids[l.NaturalKey] = l.ID
	}

	fx.rates.add("Deluxe", "3000", "2023-06-01")
	second, err := fx.svc.SyncRoomCharges(ctx, adm.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Updated)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 0, second.MissingRateDays)

	lines := fx.invoices.roomLines()
	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.Equal(t, ids[l.NaturalKey], l.ID)
		assert.True(t, l.UnitPrice.Equal(dec("3000")))
		assert.False(t, l.RateMissing)
	}
	assert.True(t, second.NetTotal.Equal(dec("9000")))
}

func TestScenario_EffectiveDatedRateChange(t *testing.T) {
	fx := newFixture(utcConfig())
	bed := fx.beds.add("G-1", "General")
	fx.rates.add("General", "1000", "2023-01-01")
	fx.rates.add("General", "1200", "2024-01-03")
	adm := fx.admit(bed, "2024-01-01T09:00:00Z")

	p, err := fx.svc.Preview(context.Background(), adm.ID, nil, ptrDay("2024-01-04"))
	require.NoError(t, err)
	require.Len(t, p.Days, 4)
	assert.True(t, p.Days[1].Rate.Equal(dec("1000")))
	assert.True(t, p.Days[2].Rate.Equal(dec("1200")))
	assert.True(t, p.TotalAmount.Equal(dec("4400")))
}

func TestScenario_CorrectionOverlapIsDeterministic(t *testing.T) {
	fx := newFixture(utcConfig())
	bedA := fx.beds.add("G-1", "General")
	bedB := fx.beds.add("I-1", "ICU")
	fx.rates.add("General", "1000", "2023-01-01")
	fx.rates.add("ICU", "5000", "2023-01-01")
	ctx := context.Background()
	adm := fx.admit(bedA, "2024-01-01T09:00:00Z")

	_, err := fx.svc.RecordCorrection(ctx, adm.ID, CorrectionRequest{
		BedID: bedB, From: ts("2024-01-02T02:00:00Z"), To: ts("2024-01-02T22:00:00Z"), Reason: "charted late",
	})
	require.NoError(t, err)

	var first []byte
	for i := 0; i < 3; i++ {
		p, err := fx.svc.Preview(ctx, adm.ID, nil, ptrDay("2024-01-03"))
		require.NoError(t, err)
		require.Len(t, p.Days, 3)
		assert.Equal(t, bedB, p.Days[1].BedID)
		assert.Equal(t, "ICU", p.Days[1].RoomType)
		assert.Equal(t, bedA, p.Days[2].BedID)

		out, _ := json.Marshal(p)
		if first == nil {
			first = out
		}
		assert.Equal(t, string(first), string(out))
	}
}

func TestRoomLineCountNeverExceedsDays(t *testing.T) {
	fx := newFixture(utcConfig())
	beds := []uuid.UUID{fx.beds.add("A", "General"), fx.beds.add("B", "ICU"), fx.beds.add("C", "Private")}
	fx.rates.add("General", "1000", "2023-01-01")
	ctx := context.Background()
	adm := fx.admit(beds[0], "2024-01-01T09:00:00Z")

	moves := []string{"2024-01-02T08:00:00Z", "2024-01-02T14:00:00Z", "2024-01-04T23:59:00Z", "2024-01-05T00:00:00Z"}
	for i, at := range moves {
		_, err := fx.svc.Transfer(ctx, adm.ID, TransferRequest{BedID: beds[(i+1)%len(beds)], At: ts(at)})
		require.NoError(t, err)
		fx.clock = ts(at)
		_, err = fx.svc.SyncRoomCharges(ctx, adm.ID)
		require.NoError(t, err)
	}
	_, err := fx.svc.RecordCorrection(ctx, adm.ID, CorrectionRequest{
		BedID: beds[2], From: ts("2024-01-01T10:00:00Z"), To: ts("2024-01-03T10:00:00Z"),
	})
	require.NoError(t, err)

	_, err = fx.svc.Finalize(ctx, adm.ID, FinalizeRequest{StopTS: ts("2024-01-07T10:00:00Z")})
	require.NoError(t, err)

	lines := fx.invoices.roomLines()
	assert.LessOrEqual(t, len(lines), 7)
	seen := make(map[string]bool)
	for _, l := range lines {
		assert.False(t, seen[l.NaturalKey], "duplicate line for %s", l.NaturalKey)
		seen[l.NaturalKey] = true
	}
}

func TestPreview_IsReadOnly(t *testing.T) {
	fx := newFixture(Config{})
	bed := fx.beds.add("G-1", "General")
	fx.rates.add("General", "1000", "2023-01-01")
	adm := fx.admit(bed, "2024-01-01T09:00:00Z")
	fx.clock = ts("2024-01-04T09:00:00Z")

	p, err := fx.svc.Preview(context.Background(), adm.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, day("2024-01-01"), p.From)
	assert.Equal(t, day("2024-01-04"), p.To)
	assert.Len(t, p.Days, 4)
	assert.Empty(t, fx.invoices.invoices)
	assert.Empty(t, fx.invoices.lines)
}

func TestPreview_InvertedRange(t *testing.T) {
	fx := newFixture(utcConfig())
	adm := fx.admit(fx.beds.add("G-1", "General"), "2024-01-01T09:00:00Z")

	_, err := fx.svc.Preview(context.Background(), adm.ID, ptrDay("2024-01-05"), ptrDay("2024-01-02"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "2024-01-05")
}

func TestPreview_ClipsToStay(t *testing.T) {
	fx := newFixture(utcConfig())
	fx.rates.add("General", "1000", "2023-01-01")
	ctx := context.Background()
	adm := fx.admit(fx.beds.add("G-1", "General"), "2024-01-01T09:00:00Z")
	_, err := fx.svc.Finalize(ctx, adm.ID, FinalizeRequest{StopTS: ts("2024-01-03T09:00:00Z")})
	require.NoError(t, err)

	p, err := fx.svc.Preview(ctx, adm.ID, ptrDay("0001-01-01"), ptrDay("9999-12-31"))
	require.NoError(t, err)
	assert.Equal(t, day("2024-01-01"), p.From)
	assert.Equal(t, day("2024-01-03"), p.To)
	assert.Len(t, p.Days, 3)
	assert.True(t, p.TotalAmount.Equal(dec("3000")))
}

func TestPreview_RejectsUnboundedRange(t *testing.T) {
	fx := newFixture(utcConfig())
	adm := fx.admit(fx.beds.add("G-1", "General"), "2024-01-01T09:00:00Z")

	_, err := fx.svc.Preview(context.Background(), adm.ID, nil, ptrDay("9999-12-31"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "exceeds")

	_, err = fx.svc.Preview(context.Background(), adm.ID, ptrDay("2023-01-01"), ptrDay("2023-06-01"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestLockedAdmissionRejectsChanges(t *testing.T) {
	fx := newFixture(utcConfig())
	bed := fx.beds.add("G-1", "General")
	other := fx.beds.add("G-2", "General")
	ctx := context.Background()
	adm := fx.admit(bed, "2024-01-01T09:00:00Z")
	_, err := fx.svc.Finalize(ctx, adm.ID, FinalizeRequest{StopTS: ts("2024-01-02T09:00:00Z")})
	require.NoError(t, err)
	lines := len(fx.invoices.lines)

	_, err = fx.svc.SyncRoomCharges(ctx, adm.ID)
	assert.True(t, apperr.Is(err, apperr.KindStateConflict), "sync: %v", err)

	_, err = fx.svc.RecordCorrection(ctx, adm.ID, CorrectionRequest{BedID: other, From: ts("2024-01-01T10:00:00Z"), To: ts("2024-01-01T12:00:00Z")})
	assert.True(t, apperr.Is(err, apperr.KindStateConflict), "correction: %v", err)

	_, err = fx.svc.Transfer(ctx, adm.ID, TransferRequest{BedID: other})
	assert.True(t, apperr.Is(err, apperr.KindStateConflict), "transfer: %v", err)

	_, err = fx.svc.MarkStatus(ctx, adm.ID, StatusRequest{Status: StatusLAMA})
	assert.True(t, apperr.Is(err, apperr.KindStateConflict), "mark status: %v", err)

	assert.Equal(t, lines, len(fx.invoices.lines))
}

func TestFinalize_StopBeforeAdmission(t *testing.T) {
	fx := newFixture(utcConfig())
	adm := fx.admit(fx.beds.add("G-1", "General"), "2024-01-05T09:00:00Z")

	_, err := fx.svc.Finalize(context.Background(), adm.ID, FinalizeRequest{StopTS: ts("2024-01-01T09:00:00Z")})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.False(t, fx.admissions.items[adm.ID].BillingLocked)
}

func TestFinalize_AutoFinalizePolicies(t *testing.T) {
	tests := []struct {
		policy   AutoFinalizePolicy
		explicit *bool
		want     string
	}{
		{FinalizeManual, nil, billing.InvoiceDraft},
		{FinalizeManual, boolPtr(true), billing.InvoiceFinalized},
		{FinalizeImmediate, nil, billing.InvoiceFinalized},
		{FinalizeImmediate, boolPtr(false), billing.InvoiceDraft},
		{FinalizeOnCompletion, nil, billing.InvoiceFinalized},
		{FinalizeWhenNoPending, nil, billing.InvoiceFinalized},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			fx := newFixture(Config{AutoCreateInvoice: true, AutoFinalize: tt.policy})
			fx.rates.add("General", "1000", "2023-01-01")
			adm := fx.admit(fx.beds.add("G-1", "General"), "2024-01-01T09:00:00Z")

			res, err := fx.svc.Finalize(context.Background(), adm.ID, FinalizeRequest{StopTS: ts("2024-01-02T09:00:00Z"), FinalizeInvoice: tt.explicit})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.InvoiceStatus)
		})
	}
}

func TestMarkStatus_LAMA(t *testing.T) {
	fx := newFixture(Config{AutoCreateInvoice: true, AutoFinalize: FinalizeOnCompletion})
	bed := fx.beds.add("G-1", "General")
	fx.rates.add("General", "1000", "2023-01-01")
	ctx := context.Background()
	adm := fx.admit(bed, "2024-01-01T09:00:00Z")

	res, err := fx.svc.MarkStatus(ctx, adm.ID, StatusRequest{Status: StatusLAMA, At: ts("2024-01-03T07:00:00Z")})
	require.NoError(t, err)
	assert.Equal(t, StatusLAMA, res.Status)
	assert.True(t, res.BillingLocked)
	// on_completion only finalizes regular discharges
	assert.Equal(t, billing.InvoiceDraft, res.InvoiceStatus)
	assert.Len(t, fx.invoices.roomLines(), 3)
	assert.Equal(t, BedVacant, fx.beds.items[bed].State)

	again, err := fx.svc.MarkStatus(ctx, adm.ID, StatusRequest{Status: StatusLAMA})
	require.NoError(t, err)
	assert.Equal(t, res, again)

	_, err = fx.svc.Finalize(ctx, adm.ID, FinalizeRequest{})
	assert.True(t, apperr.Is(err, apperr.KindStateConflict))
}

func TestMarkStatus_ImmediatePolicyFinalizes(t *testing.T) {
	fx := newFixture(Config{AutoCreateInvoice: true, AutoFinalize: FinalizeImmediate})
	adm := fx.admit(fx.beds.add("G-1", "General"), "2024-01-01T09:00:00Z")

	res, err := fx.svc.MarkStatus(context.Background(), adm.ID, StatusRequest{Status: StatusDAMA, At: ts("2024-01-02T07:00:00Z")})
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceFinalized, res.InvoiceStatus)
}

func TestMarkStatus_CancelledDropsRoomLines(t *testing.T) {
	fx := newFixture(utcConfig())
	bed := fx.beds.add("G-1", "General")
	fx.rates.add("General", "1000", "2023-01-01")
	ctx := context.Background()
	adm := fx.admit(bed, "2024-01-01T09:00:00Z")
	fx.clock = ts("2024-01-03T09:00:00Z")
	_, err := fx.svc.SyncRoomCharges(ctx, adm.ID)
	require.NoError(t, err)
	require.Len(t, fx.invoices.roomLines(), 3)

	res, err := fx.svc.MarkStatus(ctx, adm.ID, StatusRequest{Status: StatusCancelled, At: ts("2024-01-03T10:00:00Z")})
	require.NoError(t, err)
	assert.Empty(t, fx.invoices.roomLines())
	assert.Equal(t, billing.InvoiceCancelled, res.InvoiceStatus)
	assert.True(t, res.NetTotal.IsZero())
	assert.Equal(t, BedVacant, fx.beds.items[bed].State)

	again, err := fx.svc.MarkStatus(ctx, adm.ID, StatusRequest{Status: StatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, res, again)
}

func TestMarkStatus_CancelledKeepsInvoiceWithServiceLines(t *testing.T) {
	fx := newFixture(utcConfig())
	ctx := context.Background()
	adm := fx.admit(fx.beds.add("G-1", "General"), "2024-01-01T09:00:00Z")

	inv := fx.invoiceFor(adm.ID)
	_, created, err := fx.svc.Synchronizer().EnsureServiceLine(ctx, inv, billing.ServiceCharge{
		ServiceType: "lab", NaturalRef: "LAB-42", UnitPrice: dec("450"),
	})
	require.NoError(t, err)
	require.True(t, created)

	res, err := fx.svc.MarkStatus(ctx, adm.ID, StatusRequest{Status: StatusCancelled, At: ts("2024-01-01T12:00:00Z")})
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceDraft, res.InvoiceStatus)
	assert.True(t, res.NetTotal.Equal(dec("450")))
}

func TestMarkStatus_RejectsDischarged(t *testing.T) {
	fx := newFixture(utcConfig())
	adm := fx.admit(fx.beds.add("G-1", "General"), "2024-01-01T09:00:00Z")
	_, err := fx.svc.MarkStatus(context.Background(), adm.ID, StatusRequest{Status: StatusDischarged})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestTransfer_Guards(t *testing.T) {
	fx := newFixture(utcConfig())
	bedA := fx.beds.add("G-1", "General")
	bedB := fx.beds.add("G-2", "General")
	ctx := context.Background()
	adm := fx.admit(bedA, "2024-01-02T09:00:00Z")

	_, err := fx.svc.Transfer(ctx, adm.ID, TransferRequest{BedID: bedA})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "same bed: %v", err)

	fx.beds.items[bedB].State = BedPreoccupied
	_, err = fx.svc.Transfer(ctx, adm.ID, TransferRequest{BedID: bedB, At: ts("2024-01-03T09:00:00Z")})
	assert.True(t, apperr.Is(err, apperr.KindStateConflict), "preoccupied: %v", err)

	fx.beds.items[bedB].State = BedReserved
	_, err = fx.svc.Transfer(ctx, adm.ID, TransferRequest{BedID: bedB, At: ts("2024-01-01T09:00:00Z")})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "before open assignment: %v", err)
	assert.Equal(t, BedOccupied, fx.beds.items[bedA].State)
}

func TestRecordCorrection_BeforeAdmission(t *testing.T) {
	fx := newFixture(utcConfig())
	bed := fx.beds.add("G-1", "General")
	adm := fx.admit(bed, "2024-01-05T09:00:00Z")

	_, err := fx.svc.RecordCorrection(context.Background(), adm.ID, CorrectionRequest{
		BedID: bed, From: ts("2024-01-01T00:00:00Z"), To: ts("2024-01-02T00:00:00Z"),
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestListAdmissions_InvalidStatus(t *testing.T) {
	fx := newFixture(utcConfig())
	_, _, err := fx.svc.ListAdmissions(context.Background(), AdmissionFilter{Status: "gone"}, 10, 0)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
