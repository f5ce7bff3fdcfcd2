// Package status maps the many spellings appointment status arrives in onto
// the canonical state machine, and owns the legal-transition table.
package status

import (
	"strings"

	"github.com/consultorio/agenda/internal/apperr"
)

type Status string

const (
	Agendada    Status = "AGENDADA"
	Confirmada  Status = "CONFIRMADA"
	EmAndamento Status = "EM_ANDAMENTO"
	Concluida   Status = "CONCLUIDA"
	Cancelada   Status = "CANCELADA"
	NoShow      Status = "NO_SHOW"
)

// All lists the canonical states in lifecycle order.
var All = []Status{Agendada, Confirmada, EmAndamento, Concluida, Cancelada, NoShow}

var (
	ErrUnknownStatus     = apperr.Validation("unknown_status", "unknown appointment status")
	ErrIllegalTransition = apperr.Validation("illegal_status_transition", "status transition not allowed")
)

// aliases is keyed by the folded token (see fold).
var aliases = map[string]Status{
	"agendada":       Agendada,
	"agendado":       Agendada,
	"scheduled":      Agendada,
	"booked":         Agendada,
	"pending":        Agendada,
	"confirmada":     Confirmada,
	"confirmado":     Confirmada,
	"confirmed":      Confirmada,
	"em_andamento":   EmAndamento,
	"andamento":      EmAndamento,
	"em_atendimento": EmAndamento,
	"in_progress":    EmAndamento,
	"inprogress":     EmAndamento,
	"started":        EmAndamento,
	"concluida":      Concluida,
	"concluido":      Concluida,
	"realizada":      Concluida,
	"atendido":       Concluida,
	"completed":      Concluida,
	"complete":       Concluida,
	"done":           Concluida,
	"fulfilled":      Concluida,
	"cancelada":      Cancelada,
	"cancelado":      Cancelada,
	"cancelled":      Cancelada,
	"canceled":       Cancelada,
	"no_show":        NoShow,
	"noshow":         NoShow,
	"faltou":         NoShow,
	"falta":          NoShow,
	"nao_compareceu": NoShow,
}

// Aliases returns a copy of the recognized spellings, keyed by folded token.
func Aliases() map[string]Status {
	out := make(map[string]Status, len(aliases))
	for k, v := range aliases {
		out[k] = v
	}
	return out
}

var accentFolds = strings.NewReplacer(
	"á", "a", "à", "a", "ã", "a", "â", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "õ", "o", "ô", "o",
	"ú", "u",
	"ç", "c",
)

func fold(token string) string {
	t := strings.ToLower(strings.TrimSpace(token))
	t = accentFolds.Replace(t)
	t = strings.NewReplacer("-", "_", " ", "_").Replace(t)
	return t
}

// Normalize returns the canonical status for token and whether it was
// recognized. Unrecognized tokens come back unchanged with ok=false so the
// caller decides whether to reject or flag them.
func Normalize(token string) (Status, bool) {
	if s, ok := aliases[fold(token)]; ok {
		return s, true
	}
	return Status(token), false
}

// Parse is Normalize for write paths: unknown tokens are a validation error.
func Parse(token string) (Status, error) {
	s, ok := Normalize(token)
	if !ok {
		return "", ErrUnknownStatus.Withf("unknown appointment status %q", token)
	}
	return s, nil
}

func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == Concluida || s == Cancelada || s == NoShow
}

// Active reports whether s still occupies the patient's time.
func (s Status) Active() bool {
	return s != Cancelada
}

// rank orders the main line. Cancel and no-show sit off it.
var rank = map[Status]int{
	Agendada:    0,
	Confirmada:  1,
	EmAndamento: 2,
	Concluida:   3,
	Cancelada:   -1,
	NoShow:      -1,
}

// CanTransition reports whether from -> to is legal. Moving forward along
// AGENDADA -> CONFIRMADA -> EM_ANDAMENTO -> CONCLUIDA may skip steps; CANCELADA
// and NO_SHOW are only reachable before the visit starts; terminal states are
// final. Staying in the same state is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() || !from.Valid() || !to.Valid() {
		return false
	}
	if to == Cancelada || to == NoShow {
		return from == Agendada || from == Confirmada
	}
	return rank[to] > rank[from]
}

// Transition validates from -> to, honouring an admin override.
func Transition(from, to Status, override bool) error {
	if !to.Valid() {
		return ErrUnknownStatus.Withf("unknown appointment status %q", to)
	}
	if override || CanTransition(from, to) {
		return nil
	}
	return ErrIllegalTransition.Withf("cannot move appointment from %s to %s", from, to)
}
