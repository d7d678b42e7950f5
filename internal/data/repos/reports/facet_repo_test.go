package reports

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/labtrace-backend/internal/data/repos/testutil"
	types "github.com/yungbote/labtrace-backend/internal/domain/reports"
	"github.com/yungbote/labtrace-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/pkg/pointers"
)

func TestFacetRepoPersistOrderAndCleanRecords(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewFacetRepo(tx, testutil.Logger(t))
	r := testutil.SeedReport(t, ctx, tx, uuid.New(), types.StatusEnqueued, false)

	records, err := repo.Persist(dbc, r.ID, types.FacetSet{
		Metadata: &types.ReportMetadata{
			AccessionNumber: pointers.String("249068"),
			RawOCRText:      pointers.String("raw"),
		},
		Specimen: &types.SpecimenValidity{PHLevel: pointers.Float64(5.7), IsValid: pointers.Ptr(true)},
		TestResults: []types.TestResult{
			{TestName: pointers.String("Oxycodone"), ResultValue: pointers.String("265"), Unit: pointers.String("ng/mL")},
		},
		Screening:     []types.ScreeningTest{{TestName: pointers.String("THC - Screening")}},
		Confirmations: []types.ConfirmationTest{{Method: pointers.String("LC-MS/MS")}},
		Medications:   []types.ReportedMedication{{}},
	})
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}

	wantOrder := []string{
		types.CollectionMetadata,
		types.CollectionSpecimenValidity,
		types.CollectionTestResults,
		types.CollectionScreeningTests,
		types.CollectionConfirmation,
	}
	if len(records) != len(wantOrder) {
		t.Fatalf("records: want=%d got=%d (%+v)", len(wantOrder), len(records), records)
	}
	for i, rec := range records {
		if rec.Collection != wantOrder[i] {
			t.Fatalf("record %d: want=%s got=%s", i, wantOrder[i], rec.Collection)
		}
		if rec.CollectionID == uuid.Nil {
			t.Fatalf("record %d missing id", i)
		}
		for k, v := range rec.Data {
			if v == nil {
				t.Fatalf("record %d leaks null attribute %q", i, k)
			}
			if k == "id" || k == "report_id" || k == "raw_ocr_text" {
				t.Fatalf("record %d leaks key %q", i, k)
			}
		}
	}
	if records[2].Data["test_name"] != "Oxycodone" || records[2].Data["unit"] != "ng/mL" {
		t.Fatalf("test result record: %+v", records[2].Data)
	}

	n, err := repo.CountForReport(dbc, r.ID)
	if err != nil || n != 6 {
		t.Fatalf("CountForReport: want=6 got=%d err=%v", n, err)
	}
}

func TestFacetRepoLookupEnforcesOwner(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewFacetRepo(tx, testutil.Logger(t))
	owner := uuid.New()
	r := testutil.SeedReport(t, ctx, tx, owner, types.StatusEnqueued, false)

	records, err := repo.Persist(dbc, r.ID, types.FacetSet{
		TestResults: []types.TestResult{{TestName: pointers.String("Morphine"), ResultValue: pointers.String("95")}},
	})
	if err != nil || len(records) != 1 {
		t.Fatalf("Persist: records=%d err=%v", len(records), err)
	}
	id := records[0].CollectionID

	got, err := repo.Lookup(dbc, owner, types.CollectionTestResults, id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got["test_name"] != "Morphine" {
		t.Fatalf("Lookup: got=%v", got)
	}
	if _, err := repo.Lookup(dbc, uuid.New(), types.CollectionTestResults, id); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("Lookup other owner: want ErrNotFound got=%v", err)
	}
	if _, err := repo.Lookup(dbc, owner, "users", id); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("Lookup unknown collection: want ErrInvalidArgument got=%v", err)
	}
}

func TestFacetRepoQuarantine(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewFacetRepo(tx, testutil.Logger(t))
	r := testutil.SeedReport(t, ctx, tx, uuid.New(), types.StatusEnqueued, false)

	if err := repo.Quarantine(dbctx.Context{Ctx: ctx}, r.ID, 1, "{not json", errors.New("unexpected EOF"), map[string]any{"model": "gpt"}); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	var rows []types.ExtractionQuarantine
	if err := tx.Where("report_id = ?", r.ID).Find(&rows).Error; err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rows) != 1 || rows[0].ParseError != "unexpected EOF" || rows[0].Attempt != 1 {
		t.Fatalf("quarantine rows: %+v", rows)
	}
}
