package patient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/mamacare/mamacare/internal/platform/auth"
)

func newRequest(method, target, body string, p *auth.Principal) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
	}
	return req
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T: %v", err, err)
	}
	return httpErr.Code
}

func TestHandler_Enroll(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	a, b := nurse("fac-a"), nurse("fac-b")

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, "/api/v1/patients", `{"name":"Amina","phone":"0712345678"}`, &a), rec)
	if err := h.Enroll(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var res EnrollResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Outcome != OutcomeCreated || res.Patient == nil || res.Patient.Phone != "+254712345678" {
		t.Errorf("unexpected result %+v", res)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodPost, "/api/v1/patients", `{"name":"Amina","phone":"254712345678"}`, &a), rec)
	if err := h.Enroll(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for update, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodPost, "/api/v1/patients", `{"name":"Amina","phone":"+254712345678","transferReason":"Moved"}`, &b), rec)
	if err := h.Enroll(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202 for transfer request, got %d", rec.Code)
	}

	// A second identical request from fac-b conflicts with the pending one.
	c = e.NewContext(newRequest(http.MethodPost, "/api/v1/patients", `{"name":"Amina","phone":"+254712345678","transferReason":"Moved"}`, &b), httptest.NewRecorder())
	if code := statusOf(t, h.Enroll(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_Enroll_Errors(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	a := nurse("fac-a")

	c := e.NewContext(newRequest(http.MethodPost, "/api/v1/patients", `{"name":"Amina","phone":"123"}`, &a), httptest.NewRecorder())
	if code := statusOf(t, h.Enroll(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}

	c = e.NewContext(newRequest(http.MethodPost, "/api/v1/patients", `{"name":"Amina","phone":"0712345678"}`, nil), httptest.NewRecorder())
	if code := statusOf(t, h.Enroll(c)); code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", code)
	}
}

func TestHandler_FindByPhone(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	p := f.enroll(t, "Amina", "0712345678", "fac-a")
	e := echo.New()
	b := nurse("fac-b")

	rec := httptest.NewRecorder()
	target := "/api/v1/patients/lookup?phone=" + url.QueryEscape("254 712 345 678")
	c := e.NewContext(newRequest(http.MethodGet, target, "", &b), rec)
	if err := h.FindByPhone(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var l Lookup
	if err := json.Unmarshal(rec.Body.Bytes(), &l); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !l.Exists || *l.PatientID != p.ID || l.FacilityID != "fac-a" {
		t.Errorf("unexpected lookup %+v", l)
	}

	c = e.NewContext(newRequest(http.MethodGet, "/api/v1/patients/lookup", "", &b), httptest.NewRecorder())
	if code := statusOf(t, h.FindByPhone(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetPatient(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	p := f.enroll(t, "Amina", "0712345678", "fac-a")
	e := echo.New()
	a, b := nurse("fac-a"), nurse("fac-b")

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/", "", &a), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(newRequest(http.MethodGet, "/", "", &b), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if code := statusOf(t, h.GetPatient(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}

	c = e.NewContext(newRequest(http.MethodGet, "/", "", &a), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if code := statusOf(t, h.GetPatient(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_Medications(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	p := f.enroll(t, "Amina", "0712345678", "fac-a")
	e := echo.New()
	a := nurse("fac-a")

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, "/", `{"name":"Iron","dosage":"200mg","time":"8:00 PM","type":"evening"}`, &a), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.AddMedication(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var m Medication
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}

	c = e.NewContext(newRequest(http.MethodPost, "/", `{"name":"Iron","time":"20:00","type":"evening"}`, &a), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if code := statusOf(t, h.AddMedication(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 for 24h time, got %d", code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodPut, "/", `{"taken":true}`, &a), rec)
	c.SetParamNames("id")
	c.SetParamValues(m.ID.String())
	if err := h.MarkMedicationTaken(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var marked Medication
	if err := json.Unmarshal(rec.Body.Bytes(), &marked); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !marked.Taken || marked.TakenAt == nil {
		t.Errorf("expected taken, got %+v", marked)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodGet, "/", "", &a), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.ListMedications(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var list []Medication
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || !list[0].Taken {
		t.Errorf("expected one taken medication, got %+v", list)
	}
}

func TestHandler_ChannelAndAppointment(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	p := f.enroll(t, "Amina", "0712345678", "fac-a")
	e := echo.New()
	a := nurse("fac-a")

	c := e.NewContext(newRequest(http.MethodPut, "/", `{"channel":"fax"}`, &a), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if code := statusOf(t, h.SetChannelPreference(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}

	rec := httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodPut, "/", `{"at":"2026-03-11T08:00:00Z"}`, &a), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.ScheduleAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.NextAppointment == nil || got.NextAppointment.Hour() != 8 {
		t.Errorf("expected appointment set, got %+v", got.NextAppointment)
	}
}
