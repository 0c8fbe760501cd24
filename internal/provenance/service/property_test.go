package service

import (
	"context"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"provenance/internal/provenance/store"
	dErrors "provenance/pkg/domain-errors"
)

// TestProperty_LedgerInvariants drives random register/transfer/verify
// sequences against a model and checks the ledger agrees after every step.
func TestProperty_LedgerInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		svc := New(store.NewInMemory())

		serials := []string{"SN1", "SN2", "SN3"}
		ids := make([]string, 8)
		for i := range ids {
			ids[i] = fmt.Sprintf("ID-%d", i)
		}

		// model: serial -> history, identifier -> owner
		history := map[string][]string{}
		owner := map[string]string{}

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for range steps {
			serial := rapid.SampledFrom(serials).Draw(t, "serial")
			id := rapid.SampledFrom(ids).Draw(t, "identifier")

			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				_, err := svc.Register(ctx, serial, id, "Widget", "Acme")
				switch {
				case history[serial] != nil:
					expectCode(t, err, dErrors.CodeAlreadyExists)
				case owner[id] != "":
					expectCode(t, err, dErrors.CodeDuplicateIdentifier)
				default:
					if err != nil {
						t.Fatalf("register %s/%s: %v", serial, id, err)
					}
					history[serial] = []string{id}
					owner[id] = serial
				}
			case 1:
				_, err := svc.Transfer(ctx, serial, id)
				switch {
				case history[serial] == nil:
					expectCode(t, err, dErrors.CodeNotFound)
				case len(history[serial]) == 3:
					expectCode(t, err, dErrors.CodeTerminalStage)
				case owner[id] != "":
					expectCode(t, err, dErrors.CodeDuplicateIdentifier)
				default:
					if err != nil {
						t.Fatalf("transfer %s/%s: %v", serial, id, err)
					}
					history[serial] = append(history[serial], id)
					owner[id] = serial
				}
			case 2:
				v, err := svc.Verify(ctx, id)
				if err != nil {
					t.Fatalf("verify %s: %v", id, err)
				}
				o := owner[id]
				wantAuthentic := o != "" && history[o][len(history[o])-1] == id
				if v.SerialNumber != o || v.IsAuthentic != wantAuthentic {
					t.Fatalf("verify %s = %+v, want serial %q authentic %v", id, v, o, wantAuthentic)
				}
			}

			for s, h := range history {
				rec, err := svc.GetDetails(ctx, s)
				if err != nil {
					t.Fatalf("details %s: %v", s, err)
				}
				if err := rec.CheckInvariants(); err != nil {
					t.Fatalf("invariants %s: %v", s, err)
				}
				if int(rec.Stage) != len(h)-1 || fmt.Sprint(rec.IdentifierHistory) != fmt.Sprint(h) {
					t.Fatalf("record %s = %+v, want history %v", s, rec, h)
				}
			}
		}
	})
}

func expectCode(t *rapid.T, err error, code dErrors.Code) {
	if !dErrors.HasCode(err, code) {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

