package service

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/apperr"

	"github.com/shopspring/decimal"
)

var voucherColumns = []string{"code", "value", "currency", "merchant", "description", "plan_tier", "expires_at"}

// ParseVoucherCSV reads pool vouchers from CSV with a header row. code,
// value and merchant are required; expires_at is RFC 3339 or a date.
func ParseVoucherCSV(r io.Reader) ([]VoucherSpec, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperr.Validation("csv is empty")
	}
	if err != nil {
		return nil, apperr.Validation("read csv header: %v", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range voucherColumns[:2] {
		if _, ok := index[required]; !ok {
			return nil, apperr.Validation("csv is missing column %q", required)
		}
	}
	if _, ok := index["merchant"]; !ok {
		return nil, apperr.Validation("csv is missing column %q", "merchant")
	}

	var specs []VoucherSpec
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Validation("csv line %d: %v", line, err)
		}
		get := func(col string) string {
			if i, ok := index[col]; ok && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}

		value, err := decimal.NewFromString(get("value"))
		if err != nil {
			return nil, apperr.Validation("csv line %d: invalid value %q", line, get("value"))
		}
		spec := VoucherSpec{
			Code:        get("code"),
			Value:       value,
			Currency:    get("currency"),
			Merchant:    get("merchant"),
			Description: get("description"),
			PlanTier:    get("plan_tier"),
		}
		if raw := get("expires_at"); raw != "" {
			t, err := parseExpiry(raw)
			if err != nil {
				return nil, apperr.Validation("csv line %d: invalid expires_at %q", line, raw)
			}
			spec.ExpiresAt = &t
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, apperr.Validation("csv has no vouchers")
	}
	return specs, nil
}

func parseExpiry(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expiry: %w", err)
	}
	// a bare date is valid through the end of that day
	return t.Add(24*time.Hour - time.Millisecond).UTC(), nil
}
