package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lease-ledger/internal/domain"
	"lease-ledger/internal/service"

	"github.com/shopspring/decimal"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && err != io.EOF {
		return &ValidationError{Message: "invalid JSON"}
	}
	return nil
}

func toStringPtr(v any) (*string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, nil
		}
		return &t, nil
	case float64:
		s := strconv.FormatInt(int64(t), 10)
		return &s, nil
	default:
		return nil, &ValidationError{Message: "invalid type for string field"}
	}
}

func toIntPtr(v any) (*int, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case float64:
		if t != float64(int(t)) {
			return nil, &ValidationError{Message: "must be an integer"}
		}
		i := int(t)
		return &i, nil
	case string:
		if t == "" {
			return nil, nil
		}
		i, err := strconv.Atoi(t)
		if err != nil {
			return nil, err
		}
		return &i, nil
	default:
		return nil, &ValidationError{Message: "invalid type for int field"}
	}
}

// toDecimalPtr accepts JSON numbers and decimal strings. Strings are
// preferred since they keep cents exact.
func toDecimalPtr(v any) (*decimal.Decimal, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, nil
		}
		d, err := decimal.NewFromString(t)
		if err != nil {
			return nil, err
		}
		return &d, nil
	case float64:
		d := decimal.NewFromFloat(t)
		return &d, nil
	default:
		return nil, &ValidationError{Message: "invalid type for amount field"}
	}
}

// parseDate accepts YYYY-MM-DD or an RFC 3339 timestamp.
func parseDate(s string) (*time.Time, error) {
	return parseDateIn(s, time.UTC)
}

// parseDateIn reads a bare YYYY-MM-DD as midnight in loc.
func parseDateIn(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func toDatePtr(v any) (*time.Time, error) {
	return toDateInPtr(v, time.UTC)
}

func toDateInPtr(v any, loc *time.Location) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return parseDateIn(t, loc)
	default:
		return nil, &ValidationError{Message: "invalid type for date field"}
	}
}

type rawCustomerRequest struct {
	FullName           any `json:"fullName"`
	PhoneNumber        any `json:"phoneNumber"`
	CarBrand           any `json:"carBrand"`
	CarModel           any `json:"carModel"`
	CarYear            any `json:"carYear"`
	CarPurchaseCost    any `json:"carPurchaseCost"`
	LeasingAmount      any `json:"leasingAmount"`
	MonthlyInstallment any `json:"monthlyInstallment"`
	LeaseDuration      any `json:"leaseDuration"`
	LeaseStartDate     any `json:"leaseStartDate"`
}

func requiredDecimal(field string, v any) (decimal.Decimal, error) {
	d, err := toDecimalPtr(v)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: field, Message: field + " must be a decimal amount"}
	}
	if d == nil {
		return decimal.Zero, &ValidationError{Field: field, Message: field + " is required"}
	}
	return *d, nil
}

type customerProfile struct {
	FullName        string
	PhoneNumber     *string
	CarBrand        *string
	CarModel        *string
	CarYear         *int
	CarPurchaseCost decimal.Decimal
}

func parseCustomerProfile(raw rawCustomerRequest) (customerProfile, error) {
	var (
		p   customerProfile
		err error
	)

	name, err := toStringPtr(raw.FullName)
	if err != nil || name == nil {
		return p, &ValidationError{Field: "fullName", Message: "fullName is required"}
	}
	p.FullName = *name

	strFields := []struct {
		field string
		raw   any
		dst   **string
	}{
		{"phoneNumber", raw.PhoneNumber, &p.PhoneNumber},
		{"carBrand", raw.CarBrand, &p.CarBrand},
		{"carModel", raw.CarModel, &p.CarModel},
	}
	for _, f := range strFields {
		if *f.dst, err = toStringPtr(f.raw); err != nil {
			return p, &ValidationError{Field: f.field, Message: f.field + " must be a string or empty"}
		}
	}

	if p.CarYear, err = toIntPtr(raw.CarYear); err != nil {
		return p, &ValidationError{Field: "carYear", Message: "carYear must be an integer or empty"}
	}

	cost, err := toDecimalPtr(raw.CarPurchaseCost)
	if err != nil {
		return p, &ValidationError{Field: "carPurchaseCost", Message: "carPurchaseCost must be a decimal amount"}
	}
	if cost != nil {
		p.CarPurchaseCost = *cost
	}
	return p, nil
}

func ValidateCustomerRequest(r *http.Request) (*service.NewCustomer, error) {
	var raw rawCustomerRequest
	if err := decodeJSON(r, &raw); err != nil {
		return nil, err
	}

	p, err := parseCustomerProfile(raw)
	if err != nil {
		return nil, err
	}
	in := service.NewCustomer{
		FullName:        p.FullName,
		PhoneNumber:     p.PhoneNumber,
		CarBrand:        p.CarBrand,
		CarModel:        p.CarModel,
		CarYear:         p.CarYear,
		CarPurchaseCost: p.CarPurchaseCost,
	}

	if in.LeasingAmount, err = requiredDecimal("leasingAmount", raw.LeasingAmount); err != nil {
		return nil, err
	}
	if in.MonthlyInstallment, err = requiredDecimal("monthlyInstallment", raw.MonthlyInstallment); err != nil {
		return nil, err
	}

	duration, err := toIntPtr(raw.LeaseDuration)
	if err != nil || duration == nil {
		return nil, &ValidationError{Field: "leaseDuration", Message: "leaseDuration must be a whole number of months"}
	}
	in.LeaseDuration = *duration

	start, err := toDatePtr(raw.LeaseStartDate)
	if err != nil || start == nil {
		return nil, &ValidationError{Field: "leaseStartDate", Message: "leaseStartDate must be YYYY-MM-DD"}
	}
	in.LeaseStartDate = *start

	return &in, nil
}

// ValidateCustomerUpdateRequest reads the body of PUT /customers/{id}. Lease
// terms may be echoed back but are optional.
func ValidateCustomerUpdateRequest(r *http.Request) (*service.CustomerUpdate, error) {
	var raw rawCustomerRequest
	if err := decodeJSON(r, &raw); err != nil {
		return nil, err
	}

	p, err := parseCustomerProfile(raw)
	if err != nil {
		return nil, err
	}
	in := service.CustomerUpdate{
		FullName:        p.FullName,
		PhoneNumber:     p.PhoneNumber,
		CarBrand:        p.CarBrand,
		CarModel:        p.CarModel,
		CarYear:         p.CarYear,
		CarPurchaseCost: p.CarPurchaseCost,
	}

	if in.LeasingAmount, err = toDecimalPtr(raw.LeasingAmount); err != nil {
		return nil, &ValidationError{Field: "leasingAmount", Message: "leasingAmount must be a decimal amount"}
	}
	if in.MonthlyInstallment, err = toDecimalPtr(raw.MonthlyInstallment); err != nil {
		return nil, &ValidationError{Field: "monthlyInstallment", Message: "monthlyInstallment must be a decimal amount"}
	}
	if in.LeaseDuration, err = toIntPtr(raw.LeaseDuration); err != nil {
		return nil, &ValidationError{Field: "leaseDuration", Message: "leaseDuration must be a whole number of months"}
	}
	if in.LeaseStartDate, err = toDatePtr(raw.LeaseStartDate); err != nil {
		return nil, &ValidationError{Field: "leaseStartDate", Message: "leaseStartDate must be YYYY-MM-DD"}
	}
	return &in, nil
}

// PayRequest is the form of POST /payments/{id}/pay before the proof file,
// if any, has been stored.
type PayRequest struct {
	PaymentDate  time.Time
	ActualAmount *decimal.Decimal
	Notes        *string
}

// buildPayRequest reads a bare paymentDate as a calendar day in loc, the
// ledger's timezone.
func buildPayRequest(loc *time.Location, paymentDate, actualAmount, notes any) (*PayRequest, error) {
	date, err := toDateInPtr(paymentDate, loc)
	if err != nil {
		return nil, &ValidationError{Field: "paymentDate", Message: "paymentDate must be YYYY-MM-DD or RFC 3339"}
	}
	if date == nil {
		return nil, &ValidationError{Field: "paymentDate", Message: "paymentDate is required"}
	}

	amount, err := toDecimalPtr(actualAmount)
	if err != nil {
		return nil, &ValidationError{Field: "actualAmount", Message: "actualAmount must be a decimal amount"}
	}

	n, err := toStringPtr(notes)
	if err != nil {
		return nil, &ValidationError{Field: "notes", Message: "notes must be a string"}
	}

	return &PayRequest{PaymentDate: *date, ActualAmount: amount, Notes: n}, nil
}

func formValue(r *http.Request, key string) any {
	if vs, ok := r.MultipartForm.Value[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return nil
}

// ValidatePayForm reads a multipart pay request. The proof file is left on
// the parsed form.
func ValidatePayForm(r *http.Request, loc *time.Location) (*PayRequest, error) {
	return buildPayRequest(loc, formValue(r, "paymentDate"), formValue(r, "actualAmount"), formValue(r, "notes"))
}

func ValidatePayJSON(r *http.Request, loc *time.Location) (*PayRequest, error) {
	var raw struct {
		PaymentDate  any `json:"paymentDate"`
		ActualAmount any `json:"actualAmount"`
		Notes        any `json:"notes"`
	}
	if err := decodeJSON(r, &raw); err != nil {
		return nil, err
	}
	return buildPayRequest(loc, raw.PaymentDate, raw.ActualAmount, raw.Notes)
}

func ValidateRevertRequest(r *http.Request) (*string, error) {
	var raw struct {
		Notes any `json:"notes"`
	}
	if err := decodeJSON(r, &raw); err != nil {
		return nil, err
	}
	notes, err := toStringPtr(raw.Notes)
	if err != nil {
		return nil, &ValidationError{Field: "notes", Message: "notes must be a string"}
	}
	return notes, nil
}

func queryDate(r *http.Request, key string) (*time.Time, error) {
	t, err := parseDate(r.URL.Query().Get(key))
	if err != nil {
		return nil, &ValidationError{Field: key, Message: key + " must be YYYY-MM-DD"}
	}
	return t, nil
}

func queryWindow(r *http.Request) (service.Window, error) {
	from, err := queryDate(r, "startDate")
	if err != nil {
		return service.Window{}, err
	}
	to, err := queryDate(r, "endDate")
	if err != nil {
		return service.Window{}, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return service.Window{}, &ValidationError{Field: "endDate", Message: "endDate must not be before startDate"}
	}
	return service.Window{From: from, To: to}, nil
}

func parseStatus(s string) (*domain.PaymentStatus, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return nil, nil
	}
	st, err := domain.ParsePaymentStatus(s)
	if err != nil {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("status must be one of pending, overdue, paid (got %q)", s)}
	}
	return &st, nil
}

func ValidatePaymentsQuery(r *http.Request) (*service.PaymentsQuery, error) {
	q := r.URL.Query()

	status, err := parseStatus(q.Get("status"))
	if err != nil {
		return nil, err
	}
	w, err := queryWindow(r)
	if err != nil {
		return nil, err
	}

	out := &service.PaymentsQuery{Status: status, StartDate: w.From, EndDate: w.To}
	if s := strings.TrimSpace(q.Get("search")); s != "" {
		out.Search = &s
	}
	return out, nil
}

type PaymentsExportRequest struct {
	Fields []string
	Query  service.PaymentsQuery
}

// ValidatePaymentsExportRequest reads the export body. Fields may be empty,
// in which case the default ledger columns are used.
func ValidatePaymentsExportRequest(r *http.Request) (*PaymentsExportRequest, error) {
	var raw struct {
		Fields    []string `json:"fields"`
		Status    any      `json:"status"`
		Search    any      `json:"search"`
		StartDate any      `json:"startDate"`
		EndDate   any      `json:"endDate"`
	}
	if err := decodeJSON(r, &raw); err != nil {
		return nil, err
	}

	req := &PaymentsExportRequest{Fields: raw.Fields}

	status, err := toStringPtr(raw.Status)
	if err != nil {
		return nil, &ValidationError{Field: "status", Message: "status must be a string"}
	}
	if status != nil {
		if req.Query.Status, err = parseStatus(*status); err != nil {
			return nil, err
		}
	}

	if req.Query.Search, err = toStringPtr(raw.Search); err != nil {
		return nil, &ValidationError{Field: "search", Message: "search must be a string"}
	}
	if req.Query.StartDate, err = toDatePtr(raw.StartDate); err != nil {
		return nil, &ValidationError{Field: "startDate", Message: "startDate must be YYYY-MM-DD or empty"}
	}
	if req.Query.EndDate, err = toDatePtr(raw.EndDate); err != nil {
		return nil, &ValidationError{Field: "endDate", Message: "endDate must be YYYY-MM-DD or empty"}
	}
	return req, nil
}
