// Package dashboard composes appointments and the patient catalog into the
// views the clinic front desk works from: today's patients, the ones already
// attended, and the full catalog.
package dashboard

import (
	"fmt"
	"sort"

	"github.com/consultorio/agenda/internal/apperr"
	"github.com/consultorio/agenda/internal/appointment"
	"github.com/consultorio/agenda/internal/identity"
	"github.com/consultorio/agenda/internal/patient"
	"github.com/consultorio/agenda/internal/status"
)

// Visit is one appointment of a card, with its status already normalized.
type Visit struct {
	AppointmentID string           `json:"appointment_id"`
	Time          string           `json:"time"`
	Type          appointment.Type `json:"type"`
	Status        status.Status    `json:"status"`
	Revision      int              `json:"revision"`
}

// Card is one patient on the day's agenda.
type Card struct {
	Patient  patient.Patient `json:"patient"`
	Linked   bool            `json:"linked"`
	Rule     identity.Rule   `json:"rule"`
	RecordID string          `json:"record_id,omitempty"`
	Visits   []Visit         `json:"visits"`
}

// AppointmentIDs lists the card's appointments in time order.
func (c Card) AppointmentIDs() []string {
	ids := make([]string, len(c.Visits))
	for i, v := range c.Visits {
		ids[i] = v.AppointmentID
	}
	return ids
}

func (c Card) attended() bool {
	for _, v := range c.Visits {
		if v.Status == status.Concluida {
			return true
		}
	}
	return false
}

type Stats struct {
	TotalPatients      int `json:"total_patients"`
	TodayConsultations int `json:"today_consultations"`
	CompletedToday     int `json:"completed_today"`
}

type Dashboard struct {
	Date             string            `json:"date"`
	TodayPatients    []Card            `json:"today_patients"`
	AttendedPatients []Card            `json:"attended_patients"`
	AllPatients      []patient.Patient `json:"all_patients"`
	Stats            Stats             `json:"stats"`
	Warnings         []apperr.Warning  `json:"warnings"`
	// Degraded is set when the patient catalog could not be loaded and every
	// identity on the agenda is a placeholder.
	Degraded bool `json:"degraded"`
}

// Build is a pure function of its inputs: the same date, appointments and
// patients always produce the same dashboard. Appointments dated on other days
// are ignored. Statuses are normalized here and nowhere else on the read path.
func Build(date string, appts []appointment.Appointment, patients []patient.Patient) Dashboard {
	d := Dashboard{
		Date:             date,
		TodayPatients:    []Card{},
		AttendedPatients: []Card{},
		AllPatients:      []patient.Patient{},
		Warnings:         []apperr.Warning{},
	}

	catalog := identity.Dedupe(patients)
	for _, p := range catalog {
		d.AllPatients = append(d.AllPatients, p.Coalesce())
	}
	d.Stats.TotalPatients = len(d.AllPatients)

	today := make([]appointment.Appointment, 0, len(appts))
	for _, a := range appts {
		if a.Date == date {
			today = append(today, a)
		}
	}
	sort.SliceStable(today, func(i, j int) bool { return today[i].Time < today[j].Time })

	resolver := identity.NewResolver(catalog)
	byPatient := make(map[string]int)
	for _, a := range today {
		st, known := status.Normalize(string(a.Status))
		if !known {
			d.Warnings = append(d.Warnings, apperr.Warning{
				Code:    apperr.WarnUnknownStatus,
				Message: fmt.Sprintf("appointment %s has unrecognized status %q", a.ID, a.Status),
			})
		}

		d.Stats.TodayConsultations++
		if st == status.Concluida {
			d.Stats.CompletedToday++
		}

		visit := Visit{AppointmentID: a.ID, Time: a.Time, Type: a.Type, Status: st, Revision: a.Revision}

		res := resolver.Resolve(a.IdentityRef())
		if idx, ok := byPatient[res.Patient.ID]; ok {
			d.TodayPatients[idx].Visits = append(d.TodayPatients[idx].Visits, visit)
			continue
		}

		card := Card{
			Patient: res.Patient.Coalesce(),
			Linked:  res.Linked(),
			Rule:    res.Rule,
			Visits:  []Visit{visit},
		}
		if id, ok := res.RecordID(); ok {
			card.RecordID = id
		}
		if w, ok := res.Warning(); ok {
			d.Warnings = append(d.Warnings, w)
		}
		byPatient[res.Patient.ID] = len(d.TodayPatients)
		d.TodayPatients = append(d.TodayPatients, card)
	}

	for _, c := range d.TodayPatients {
		if c.attended() {
			d.AttendedPatients = append(d.AttendedPatients, c)
		}
	}
	return d
}
