package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"provenance/internal/provenance/handler/mocks"
	"provenance/internal/provenance/models"
	dErrors "provenance/pkg/domain-errors"
	"provenance/pkg/platform/audit"
	"provenance/pkg/platform/httputil"
)

//go:generate mockgen -source=handler.go -destination=mocks/handler-mocks.go -package=mocks
type HandlerSuite struct {
	suite.Suite
	service   *mocks.MockService
	reader    *mocks.MockReader
	trail     *mocks.MockAuditTrail
	generator *mocks.MockGenerator
	router    chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.reader = mocks.NewMockReader(ctrl)
	s.trail = mocks.NewMockAuditTrail(ctrl)
	s.generator = mocks.NewMockGenerator(ctrl)

	h := New(s.service, s.reader, s.trail, slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithGenerator(s.generator)
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *HandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		buf = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		s.Require().NoError(err)
		buf = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decodeError(rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	var resp httputil.ErrorResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (s *HandlerSuite) TestRegister() {
	s.Run("creates product", func() {
		s.SetupTest()
		s.service.EXPECT().Register(gomock.Any(), "SN1", "ID-A", "Widget", "Acme").
			Return(&models.Registered{SerialNumber: "SN1", Identifier: "ID-A"}, nil)

		rec := s.do(http.MethodPost, "/products", RegisterRequest{
			SerialNumber: " SN1 ", InitialIdentifier: "ID-A", ProductName: "Widget", Manufacturer: "Acme",
		})
		s.Equal(http.StatusCreated, rec.Code)
		var event models.Registered
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &event))
		s.Equal("ID-A", event.Identifier)
	})

	s.Run("generates identifier when omitted", func() {
		s.SetupTest()
		s.generator.EXPECT().Generate(models.StageManufacturer).Return("PROD-GEN")
		s.service.EXPECT().Register(gomock.Any(), "SN1", "PROD-GEN", "Widget", "Acme").
			Return(&models.Registered{SerialNumber: "SN1", Identifier: "PROD-GEN"}, nil)

		rec := s.do(http.MethodPost, "/products", RegisterRequest{SerialNumber: "SN1", ProductName: "Widget", Manufacturer: "Acme"})
		s.Equal(http.StatusCreated, rec.Code)
	})

	s.Run("rejects malformed identifier at the boundary", func() {
		s.SetupTest()
		rec := s.do(http.MethodPost, "/products", RegisterRequest{
			SerialNumber: "SN1", InitialIdentifier: "ID A!", ProductName: "Widget", Manufacturer: "Acme",
		})
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal(string(dErrors.CodeInvalidInput), s.decodeError(rec).Error)
	})

	s.Run("rejects missing fields", func() {
		s.SetupTest()
		rec := s.do(http.MethodPost, "/products", RegisterRequest{SerialNumber: "SN1", ProductName: "Widget"})
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Contains(s.decodeError(rec).Description, "manufacturer")
	})

	s.Run("rejects invalid json", func() {
		s.SetupTest()
		rec := s.do(http.MethodPost, "/products", "{")
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal(string(dErrors.CodeBadRequest), s.decodeError(rec).Error)
	})

	s.Run("maps registry conflicts to 409", func() {
		s.SetupTest()
		for _, code := range []dErrors.Code{dErrors.CodeAlreadyExists, dErrors.CodeDuplicateIdentifier} {
			s.service.EXPECT().Register(gomock.Any(), "SN1", "ID-A", "Widget", "Acme").
				Return(nil, dErrors.WithOp("register", dErrors.New(code, "rejected")))
			rec := s.do(http.MethodPost, "/products", RegisterRequest{
				SerialNumber: "SN1", InitialIdentifier: "ID-A", ProductName: "Widget", Manufacturer: "Acme",
			})
			s.Equal(http.StatusConflict, rec.Code)
			s.Equal(string(code), s.decodeError(rec).Error)
		}
	})
}

func (s *HandlerSuite) TestTransfer() {
	s.Run("transfers with given identifier", func() {
		s.SetupTest()
		s.service.EXPECT().Transfer(gomock.Any(), "SN1", "ID-B").
			Return(&models.Transferred{SerialNumber: "SN1", OldIdentifier: "ID-A", NewIdentifier: "ID-B", NewStage: models.StageDistributor}, nil)

		rec := s.do(http.MethodPost, "/products/SN1/transfer", TransferRequest{NewIdentifier: "ID-B"})
		s.Equal(http.StatusOK, rec.Code)
		var event models.Transferred
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &event))
		s.Equal(models.StageDistributor, event.NewStage)
	})

	s.Run("generates identifier for the next stage", func() {
		s.SetupTest()
		s.service.EXPECT().GetDetails(gomock.Any(), "SN1").
			Return(&models.Record{SerialNumber: "SN1", Stage: models.StageDistributor}, nil)
		s.generator.EXPECT().Generate(models.StageRetailer).Return("RET-GEN")
		s.service.EXPECT().Transfer(gomock.Any(), "SN1", "RET-GEN").
			Return(&models.Transferred{SerialNumber: "SN1", NewIdentifier: "RET-GEN", NewStage: models.StageRetailer}, nil)

		rec := s.do(http.MethodPost, "/products/SN1/transfer", TransferRequest{})
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("terminal stage is a conflict", func() {
		s.SetupTest()
		s.service.EXPECT().Transfer(gomock.Any(), "SN1", "ID-D").
			Return(nil, dErrors.WithOp("transfer", dErrors.New(dErrors.CodeTerminalStage, "product is at its final stage")))

		rec := s.do(http.MethodPost, "/products/SN1/transfer", TransferRequest{NewIdentifier: "ID-D"})
		s.Equal(http.StatusConflict, rec.Code)
		s.Equal(string(dErrors.CodeTerminalStage), s.decodeError(rec).Error)
	})

	s.Run("unknown serial is not found", func() {
		s.SetupTest()
		s.service.EXPECT().GetDetails(gomock.Any(), "SN-missing").
			Return(nil, dErrors.New(dErrors.CodeNotFound, "product not found"))

		rec := s.do(http.MethodPost, "/products/SN-missing/transfer", TransferRequest{})
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *HandlerSuite) TestReads() {
	s.Run("details", func() {
		s.SetupTest()
		s.reader.EXPECT().GetDetails(gomock.Any(), "SN1").Return(&models.Record{
			SerialNumber: "SN1", CurrentIdentifier: "ID-B", Stage: models.StageDistributor,
			IdentifierHistory: []string{"ID-A", "ID-B"},
		}, nil)

		rec := s.do(http.MethodGet, "/products/SN1", nil)
		s.Equal(http.StatusOK, rec.Code)
		var resp RecordResponse
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.Equal("distributor", resp.Stage)
		s.Equal([]string{"ID-A", "ID-B"}, resp.IdentifierHistory)
	})

	s.Run("history", func() {
		s.SetupTest()
		s.reader.EXPECT().GetHistory(gomock.Any(), "SN1").Return([]string{"ID-A"}, nil)

		rec := s.do(http.MethodGet, "/products/SN1/history", nil)
		s.Equal(http.StatusOK, rec.Code)
		var resp HistoryResponse
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.Equal([]string{"ID-A"}, resp.Identifiers)
	})

	s.Run("not visible asks the client to retry", func() {
		s.SetupTest()
		s.reader.EXPECT().GetDetails(gomock.Any(), "SN1").
			Return(nil, dErrors.Wrap(errors.New("lagging"), dErrors.CodeNotVisible, "details still not visible"))

		rec := s.do(http.MethodGet, "/products/SN1", nil)
		s.Equal(http.StatusServiceUnavailable, rec.Code)
		s.NotEmpty(rec.Header().Get("Retry-After"))
		s.Equal(string(dErrors.CodeNotVisible), s.decodeError(rec).Error)
	})

	s.Run("internal errors hide their description", func() {
		s.SetupTest()
		s.reader.EXPECT().GetHistory(gomock.Any(), "SN1").
			Return(nil, dErrors.Wrap(errors.New("dial tcp"), dErrors.CodeInternal, "projection read failed"))

		rec := s.do(http.MethodGet, "/products/SN1/history", nil)
		s.Equal(http.StatusInternalServerError, rec.Code)
		s.Empty(s.decodeError(rec).Description)
	})
}

func (s *HandlerSuite) TestVerify() {
	s.Run("negative outcomes are answered with 200", func() {
		s.SetupTest()
		s.service.EXPECT().Verify(gomock.Any(), "ID-X").
			Return(models.Verification{Identifier: "ID-X", Outcome: models.OutcomeUnknown}, nil)

		rec := s.do(http.MethodPost, "/verify", VerifyRequest{Identifier: "ID-X"})
		s.Equal(http.StatusOK, rec.Code)
		var v models.Verification
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &v))
		s.False(v.IsAuthentic)
		s.Equal(models.OutcomeUnknown, v.Outcome)
	})

	s.Run("record flag passes the audit option", func() {
		s.SetupTest()
		s.service.EXPECT().Verify(gomock.Any(), "ID-A", gomock.Any()).
			Return(models.Verification{Identifier: "ID-A", IsAuthentic: true, SerialNumber: "SN1", Outcome: models.OutcomeAuthentic}, nil)

		rec := s.do(http.MethodPost, "/verify", VerifyRequest{Identifier: "ID-A", Record: true})
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("empty identifier", func() {
		s.SetupTest()
		rec := s.do(http.MethodPost, "/verify", VerifyRequest{Identifier: "  "})
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestListAudit() {
	s.Run("lists events", func() {
		s.SetupTest()
		s.trail.EXPECT().List(gomock.Any(), "SN1").Return([]audit.Event{{
			ID:        uuid.New(),
			Action:    string(audit.EventProductRegistered),
			Category:  audit.CategoryCustody,
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}}, nil)

		rec := s.do(http.MethodGet, "/audit?serial=SN1", nil)
		s.Equal(http.StatusOK, rec.Code)
		var resp AuditResponse
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.Require().Len(resp.Events, 1)
		s.Equal("product_registered", resp.Events[0].Action)
	})

	s.Run("serial is required", func() {
		s.SetupTest()
		rec := s.do(http.MethodGet, "/audit", nil)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func TestAuditRouteRequiresTrail(t *testing.T) {
	h := New(nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?serial=SN1", nil).WithContext(context.Background()))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without audit trail, got %d", rec.Code)
	}
}
