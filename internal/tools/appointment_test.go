package tools

import (
	"testing"
	"time"
)

func TestDeclarationsSchema(t *testing.T) {
	decls, err := Declarations()
	if err != nil {
		t.Fatalf("Declarations() error = %v", err)
	}
	if len(decls) != 1 || decls[0].Name != CreateAppointment {
		t.Fatalf("unexpected declarations: %+v", decls)
	}
	params := decls[0].Parameters
	if params == nil || params.Type != "object" {
		t.Fatalf("Parameters = %+v, want object schema", params)
	}

	want := []string{"customerName", "date", "time", "procedure", "phone"}
	required := map[string]bool{}
	for _, name := range params.Required {
		required[name] = true
	}
	for _, name := range want {
		prop, ok := params.Properties[name]
		if !ok {
			t.Fatalf("missing property %q", name)
		}
		if prop.Type != "string" {
			t.Fatalf("property %q type = %q, want string", name, prop.Type)
		}
		if prop.Description == "" {
			t.Fatalf("property %q has no description", name)
		}
		if !required[name] {
			t.Fatalf("property %q should be required", name)
		}
	}
}

func TestParseAppointmentFullArgs(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.Local)
	got := ParseAppointment(map[string]any{
		"customerName": "Иван Иванов",
		"date":         "2025-03-20",
		"time":         "14:30",
		"procedure":    "почистване",
		"phone":        "0888123456",
	}, now, DefaultDefaults())

	want := Appointment{
		CustomerName: "Иван Иванов",
		Date:         "2025-03-20",
		Time:         "14:30",
		Procedure:    "почистване",
		Phone:        "0888123456",
	}
	if got != want {
		t.Fatalf("ParseAppointment() = %+v, want %+v", got, want)
	}
}

func TestParseAppointmentDefaults(t *testing.T) {
	now := time.Date(2025, 3, 14, 23, 30, 0, 0, time.Local)
	tests := []struct {
		name string
		args map[string]any
		want Appointment
	}{
		{
			name: "missing phone",
			args: map[string]any{"customerName": "Мария", "date": "утре", "time": "11:00", "procedure": "болка"},
			want: Appointment{CustomerName: "Мария", Date: "утре", Time: "11:00", Procedure: "болка", Phone: "N/A"},
		},
		{
			name: "empty args",
			args: map[string]any{},
			want: Appointment{CustomerName: "Пациент", Date: "2025-03-14", Time: "10:00", Procedure: "Преглед", Phone: "N/A"},
		},
		{
			name: "nil args",
			args: nil,
			want: Appointment{CustomerName: "Пациент", Date: "2025-03-14", Time: "10:00", Procedure: "Преглед", Phone: "N/A"},
		},
		{
			name: "blank strings count as missing",
			args: map[string]any{"customerName": "  ", "time": "", "phone": nil},
			want: Appointment{CustomerName: "Пациент", Date: "2025-03-14", Time: "10:00", Procedure: "Преглед", Phone: "N/A"},
		},
		{
			name: "numbers are stringified",
			args: map[string]any{"phone": float64(888123456), "time": 14.5},
			want: Appointment{CustomerName: "Пациент", Date: "2025-03-14", Time: "14.5", Procedure: "Преглед", Phone: "888123456"},
		},
		{
			name: "unsupported types fall back",
			args: map[string]any{"procedure": []any{"x"}},
			want: Appointment{CustomerName: "Пациент", Date: "2025-03-14", Time: "10:00", Procedure: "Преглед", Phone: "N/A"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseAppointment(tc.args, now, DefaultDefaults()); got != tc.want {
				t.Fatalf("ParseAppointment() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestParseAppointmentCustomDefaults(t *testing.T) {
	d := Defaults{CustomerName: "Patient", Time: "09:00", Procedure: "Checkup", Phone: "-"}
	got := ParseAppointment(nil, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), d)
	if got.CustomerName != "Patient" || got.Time != "09:00" || got.Procedure != "Checkup" || got.Phone != "-" {
		t.Fatalf("ParseAppointment() = %+v", got)
	}
	if got.Date != "2025-01-02" {
		t.Fatalf("Date = %q, want 2025-01-02", got.Date)
	}
}

func TestSuccessResponse(t *testing.T) {
	if got := SuccessResponse()["result"]; got != SuccessResult {
		t.Fatalf("result = %v, want %q", got, SuccessResult)
	}
}
