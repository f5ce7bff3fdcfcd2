package identity

import "github.com/consultorio/agenda/internal/patient"

// DedupeBy keeps the first item per key, preserving order.
func DedupeBy[T any](items []T, key func(T) string) []T {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := key(it)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}

// Dedupe collapses patients to one entry per id.
func Dedupe(patients []patient.Patient) []patient.Patient {
	return DedupeBy(patients, func(p patient.Patient) string { return p.ID })
}
