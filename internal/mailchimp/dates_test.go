package mailchimp

import (
	"testing"
	"time"
)

// TestAddYear 验证跨年计算，尤其是闰日顺延。
func TestAddYear(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain date", in: "2026-01-15", want: "2027-01-15"},
		{name: "leap day rolls to march 1", in: "2024-02-29", want: "2025-03-01"},
		{name: "feb 28 stays", in: "2026-02-28", want: "2027-02-28"},
		{name: "year end", in: "2026-12-31", want: "2027-12-31"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ParseDate(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got := FormatDate(AddYear(in)); got != tt.want {
				t.Errorf("AddYear(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

// TestExtendExpiry 验证续费日期计算：提前续费顺延，过期续费重新起算。
func TestExtendExpiry(t *testing.T) {
	today := time.Date(2026, time.August, 25, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		existing string
		want     string
	}{
		{name: "no existing expiry", existing: "", want: "2027-08-25"},
		{name: "lapsed membership", existing: "2025-01-10", want: "2027-08-25"},
		{name: "early renewal extends", existing: "2027-02-01", want: "2028-02-01"},
		{name: "unparseable existing value", existing: "soon", want: "2027-08-25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDate(ExtendExpiry(today, tt.existing)); got != tt.want {
				t.Errorf("ExtendExpiry = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestTodayPacific 验证返回值为零点且位于太平洋时区。
func TestTodayPacific(t *testing.T) {
	d := TodayPacific()
	if d.Hour() != 0 || d.Minute() != 0 || d.Second() != 0 {
		t.Errorf("TodayPacific() = %v, want midnight", d)
	}
}
