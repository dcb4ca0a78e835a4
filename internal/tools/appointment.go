package tools

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// CreateAppointment is the only function the receptionist may call.
const CreateAppointment = "create_appointment"

const createAppointmentDescription = "Създаване на нов час за преглед в денталната клиника. Използвай този инструмент, когато имаш цялата информация."

// SuccessResult is relayed back to the model after a reservation is recorded.
const SuccessResult = "Appointment confirmed successfully in the medical system. Tell the user it is done."

// AppointmentArgs is the argument object of create_appointment. The schema
// advertised to the model is generated from it, so every field is required.
type AppointmentArgs struct {
	CustomerName string `json:"customerName" jsonschema:"Името на пациента."`
	Date         string `json:"date" jsonschema:"Датата на посещението (напр. 2024-10-25 или „утре“)."`
	Time         string `json:"time" jsonschema:"Часът на посещението (напр. 14:30)."`
	Procedure    string `json:"procedure" jsonschema:"Причина за посещението (напр. профилактичен преглед, болка, почистване на зъбен камък)."`
	Phone        string `json:"phone" jsonschema:"Телефонен номер за контакт."`
}

// Appointment is a fully populated booking request handed to the observer.
type Appointment struct {
	CustomerName string `json:"customerName"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	Procedure    string `json:"procedure"`
	Phone        string `json:"phone"`

	// SessionID is the call the appointment was taken in. Set by the session
	// controller, never by the model.
	SessionID string `json:"-"`
}

// Defaults fill in any argument the model omitted. The date default is always
// the current local day and is not configurable.
type Defaults struct {
	CustomerName string
	Time         string
	Procedure    string
	Phone        string
}

func DefaultDefaults() Defaults {
	return Defaults{
		CustomerName: "Пациент",
		Time:         "10:00",
		Procedure:    "Преглед",
		Phone:        "N/A",
	}
}

// Declaration describes a callable function to the model.
type Declaration struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// Declarations returns the function set offered to the model.
func Declarations() ([]Declaration, error) {
	params, err := jsonschema.For[AppointmentArgs](nil)
	if err != nil {
		return nil, fmt.Errorf("build %s schema: %w", CreateAppointment, err)
	}
	return []Declaration{{
		Name:        CreateAppointment,
		Description: createAppointmentDescription,
		Parameters:  params,
	}}, nil
}

// ParseAppointment extracts an appointment from loosely typed call arguments.
// Missing, empty or whitespace-only values are replaced by defaults. It never fails.
func ParseAppointment(args map[string]any, now time.Time, d Defaults) Appointment {
	return Appointment{
		CustomerName: stringArg(args, "customerName", d.CustomerName),
		Date:         stringArg(args, "date", now.Format(time.DateOnly)),
		Time:         stringArg(args, "time", d.Time),
		Procedure:    stringArg(args, "procedure", d.Procedure),
		Phone:        stringArg(args, "phone", d.Phone),
	}
}

func stringArg(args map[string]any, key, fallback string) string {
	raw, ok := args[key]
	if !ok || raw == nil {
		return fallback
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case bool, int, int64, float32:
		s = fmt.Sprint(v)
	default:
		return fallback
	}
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return strings.TrimSpace(s)
}

// SuccessResponse is the payload returned for a recorded appointment.
func SuccessResponse() map[string]any {
	return map[string]any{"result": SuccessResult}
}

// ErrorResponse is the payload returned for calls that cannot be served.
func ErrorResponse(msg string) map[string]any {
	return map[string]any{"error": msg}
}
