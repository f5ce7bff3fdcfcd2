package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/consultorio/agenda/internal/appointment"
	"github.com/consultorio/agenda/internal/calendar"
	"github.com/consultorio/agenda/internal/config"
	"github.com/consultorio/agenda/internal/db"
	"github.com/consultorio/agenda/internal/logging"
	"github.com/consultorio/agenda/internal/patient"
	"github.com/consultorio/agenda/internal/slot"
	"github.com/consultorio/agenda/internal/status"
)

func main() {
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Fill the agenda database with fake patients, contacts, slots and appointments",
		SilenceUsage: true,
		RunE:         runSeed,
	}
	cmd.Flags().Int("patients", 200, "Number of patients to create")
	cmd.Flags().Int("contacts", 50, "Number of contacts without a patient record")
	cmd.Flags().Int("days", 14, "Days of agenda to generate, centred on today")
	cmd.Flags().Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSeed(cmd *cobra.Command, _ []string) error {
	patients, _ := cmd.Flags().GetInt("patients")
	contacts, _ := cmd.Flags().GetInt("contacts")
	days, _ := cmd.Flags().GetInt("days")
	seed, _ := cmd.Flags().GetUint64("seed")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.Env, os.Stdout).With().Str("service", "seed").Logger()
	logger.Info().Uint64("seed", seed).Msg("seed starting")

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	cancel()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	s := &seeder{
		f:     gofakeit.New(seed),
		pool:  pool,
		clock: calendar.SystemClock(cfg.Timezone),
		log:   logger,
	}

	ctx = cmd.Context()
	catalog, err := s.seedPatients(ctx, patients)
	if err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}
	contactIDs, err := s.seedContacts(ctx, contacts)
	if err != nil {
		return fmt.Errorf("seed contacts: %w", err)
	}
	if err := s.seedAgenda(ctx, days, catalog, contactIDs); err != nil {
		return fmt.Errorf("seed agenda: %w", err)
	}

	logger.Info().Msg("seed complete")
	return nil
}

type seeder struct {
	f     *gofakeit.Faker
	pool  *pgxpool.Pool
	clock calendar.Clock
	log   zerolog.Logger
}

var plans = []string{"Unimed", "Bradesco Saúde", "SulAmérica", "Amil", "Porto Seguro"}

func (s *seeder) seedPatients(ctx context.Context, count int) ([]patient.Patient, error) {
	s.log.Info().Int("count", count).Msg("seeding patients")

	repo := patient.NewPgRepository(s.pool)
	out := make([]patient.Patient, 0, count)
	for i := 0; i < count; i++ {
		p := patient.Patient{
			ID:        uuid.NewString(),
			Name:      s.f.Name(),
			Phone:     s.f.Numerify("119########"),
			Insurance: patient.Insurance{Type: patient.InsuranceParticular},
		}
		if s.f.Bool() {
			// older records only carry whatsapp and full_name
			p.Whatsapp, p.Phone = p.Phone, ""
			p.FullName, p.Name = p.Name, ""
		}
		if s.f.Number(0, 3) > 0 {
			email := s.f.Email()
			p.Email = &email
		}
		cpf := s.f.Numerify("###########")
		p.CPF = &cpf
		birth := s.f.DateRange(time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)).Format(calendar.DateLayout)
		p.BirthDate = &birth
		if s.f.Bool() {
			plan := s.f.RandomString(plans)
			p.Insurance = patient.Insurance{Type: "convenio", Plan: &plan}
		}

		if err := repo.CreatePatient(ctx, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	s.log.Info().Int("count", len(out)).Msg("patients seeded")
	return out, nil
}

func (s *seeder) seedContacts(ctx context.Context, count int) ([]string, error) {
	s.log.Info().Int("count", count).Msg("seeding contacts")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.NewString()
		email := s.f.Email()
		_, err := tx.Exec(ctx, `
			INSERT INTO contacts (id, name, phone, whatsapp, email, newsletter_opt_in, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
		`, id, s.f.Name(), s.f.Numerify("119########"), s.f.Numerify("119########"), email, s.f.Bool())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info().Int("count", len(ids)).Msg("contacts seeded")
	return ids, nil
}

var sampleNotes = []string{
	"trazer exames anteriores",
	"primeira consulta",
	"paciente em jejum",
	"retorno pós-operatório",
	"confirmar por whatsapp",
}

var types = []appointment.Type{
	appointment.TypeConsulta, appointment.TypeConsulta, appointment.TypeRetorno,
	appointment.TypeTeleconsulta, appointment.TypeExame, appointment.TypeProcedimento,
}

// seedAgenda opens morning and afternoon slots for each weekday and books
// most of them, mixing the identity shapes the different booking flows
// produce.
func (s *seeder) seedAgenda(ctx context.Context, days int, catalog []patient.Patient, contactIDs []string) error {
	slots := slot.NewService(slot.NewPgRepository(s.pool), s.clock, s.log)
	repo := appointment.NewPgRepository(s.pool)

	today := s.clock.Now()
	created := 0
	for d := -days / 2; d < days-days/2; d++ {
		day := today.AddDate(0, 0, d)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		date := day.Format(calendar.DateLayout)
		past := d < 0

		var open []slot.Slot
		for _, span := range [][2]string{{"08:00", "12:00"}, {"14:00", "18:00"}} {
			generated, err := slots.GenerateDay(ctx, date, span[0], span[1], 30, true)
			if err != nil {
				return err
			}
			open = append(open, generated...)
		}

		for _, sl := range open {
			if s.f.Number(0, 9) < 3 {
				continue
			}
			a := s.randomAppointment(date, sl.Time, past, catalog, contactIDs)
			if err := repo.Create(ctx, a); err != nil {
				if errors.Is(err, appointment.ErrDoubleBooking) {
					continue
				}
				return err
			}
			created++
		}
	}

	s.log.Info().Int("count", created).Msg("appointments seeded")
	return nil
}

func (s *seeder) randomAppointment(date, hm string, past bool, catalog []patient.Patient, contactIDs []string) *appointment.Appointment {
	a := &appointment.Appointment{
		ID:            uuid.NewString(),
		Date:          date,
		Time:          hm,
		Type:          types[s.f.Number(0, len(types)-1)],
		Status:        status.Agendada,
		InsuranceType: patient.InsuranceParticular,
		CreatedBy:     "seed",
		Source:        s.f.RandomString([]string{appointment.SourceSecretaria, appointment.SourceMedico, appointment.SourceAgendar}),
	}

	switch n := s.f.Number(0, 9); {
	case n < 6 && len(catalog) > 0:
		p := catalog[s.f.Number(0, len(catalog)-1)].Coalesce()
		a.MedicalPatientID = p.ID
		a.PatientName = p.Name
		a.PatientPhone = p.Phone
		a.PatientWhatsapp = p.Whatsapp
		a.InsuranceType = p.Insurance.Type
		a.InsurancePlan = p.Insurance.Plan
	case n < 8 && len(contactIDs) > 0:
		a.CommunicationContactID = contactIDs[s.f.Number(0, len(contactIDs)-1)]
		a.PatientName = s.f.Name()
		a.PatientWhatsapp = s.f.Numerify("119########")
	default:
		// walk-in booked by name only
		a.PatientName = s.f.Name()
		a.PatientPhone = s.f.Numerify("119########")
	}

	if past {
		a.Status = status.Status(s.f.RandomString([]string{
			string(status.Concluida), string(status.Concluida), string(status.Concluida),
			string(status.Cancelada), string(status.NoShow),
		}))
	} else if s.f.Bool() {
		a.Status = status.Confirmada
	}
	if s.f.Number(0, 4) == 0 {
		notes := s.f.RandomString(sampleNotes)
		a.Notes = &notes
	}
	return a
}
