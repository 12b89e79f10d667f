// Package merge combines per-backend person fragments into unified
// profiles under the configured field-priority table. Merging is pure and
// deterministic: the same fragment set produces the same output in any
// arrival order.
package merge

import (
	"sort"

	"github.com/sells-group/people-lookup/internal/model"
)

// Merger resolves field conflicts between backends.
type Merger struct {
	prio Priority
}

// New creates a Merger with the given priority table.
func New(prio Priority) *Merger {
	if len(prio.Default) == 0 {
		prio = DefaultPriority()
	}
	return &Merger{prio: prio}
}

// Merge groups fragments by identity key and resolves each group into one
// UnifiedProfile. Fragments without an identity key are dropped: they
// cannot be correlated. Output is sorted by identity key.
func (m *Merger) Merge(records []model.PersonRecord) []model.UnifiedProfile {
	groups := make(map[string][]model.PersonRecord)
	for _, rec := range records {
		if rec.IdentityKey == "" {
			continue
		}
		groups[rec.IdentityKey] = append(groups[rec.IdentityKey], rec)
	}

	profiles := make([]model.UnifiedProfile, 0, len(groups))
	for key, frags := range groups {
		profiles = append(profiles, m.mergeGroup(key, frags))
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].IdentityKey < profiles[j].IdentityKey })
	return profiles
}

func (m *Merger) mergeGroup(key string, frags []model.PersonRecord) model.UnifiedProfile {
	// Fix fragment order up front so every later step is arrival-order
	// independent.
	sort.Slice(frags, func(i, j int) bool { return frags[i].Backend.Rank() < frags[j].Backend.Rank() })

	// byField[field][backend] = first non-empty value that backend reported.
	byField := make(map[string]map[model.Backend]string)
	sources := make([]model.Backend, 0, len(frags))
	seenSource := make(map[model.Backend]bool)
	var rawPhones []model.RawPhone

	for _, f := range frags {
		if !seenSource[f.Backend] {
			seenSource[f.Backend] = true
			sources = append(sources, f.Backend)
		}
		for name, fv := range f.Fields {
			if fv.Value == "" {
				continue
			}
			if byField[name] == nil {
				byField[name] = make(map[model.Backend]string)
			}
			if _, ok := byField[name][f.Backend]; !ok {
				byField[name][f.Backend] = fv.Value
			}
		}
		rawPhones = append(rawPhones, f.Phones...)
	}

	fields := make(map[string]model.ResolvedField, len(byField))
	for name, values := range byField {
		fields[name] = m.resolveField(name, values)
	}

	return model.UnifiedProfile{
		IdentityKey: key,
		Fields:      fields,
		Phones:      mergePhones(rawPhones),
		Sources:     sources,
	}
}

// resolveField picks the winner by the priority table; backends holding
// the field but absent from the table still count as contributors and act
// as a rank-ordered fallback.
func (m *Merger) resolveField(name string, values map[model.Backend]string) model.ResolvedField {
	contributors := make([]model.Backend, 0, len(values))
	for b := range values {
		contributors = append(contributors, b)
	}
	sort.Slice(contributors, func(i, j int) bool { return contributors[i].Rank() < contributors[j].Rank() })

	for _, b := range m.prio.OrderFor(name) {
		if v, ok := values[b]; ok && v != "" {
			return model.ResolvedField{Value: v, Source: b, Contributors: contributors}
		}
	}

	// No configured backend supplied the field; fall back to rank order.
	b := contributors[0]
	return model.ResolvedField{Value: values[b], Source: b, Contributors: contributors}
}

// mergePhones normalizes and dedupes phone numbers. Numbers normalizing
// identically collapse into one entry keeping every origin; the kind is
// taken from a directory-sourced copy when one exists, since directory
// attribute semantics own phone classification.
func mergePhones(raw []model.RawPhone) []model.PhoneNumber {
	sort.SliceStable(raw, func(i, j int) bool { return raw[i].Source.Rank() < raw[j].Source.Rank() })

	byNorm := make(map[string]*model.PhoneNumber)
	var order []string
	for _, rp := range raw {
		pn := model.NormalizePhone(rp)
		existing, ok := byNorm[pn.Normalized]
		if !ok {
			pn.Origins = []model.Backend{pn.Source}
			byNorm[pn.Normalized] = &pn
			order = append(order, pn.Normalized)
			continue
		}

		if !containsBackend(existing.Origins, pn.Source) {
			existing.Origins = append(existing.Origins, pn.Source)
		}
		// Directory copy overrides classification.
		if pn.Source == model.BackendDirectory && existing.Source != model.BackendDirectory {
			existing.Kind = pn.Kind
		}
	}

	sort.Strings(order)
	out := make([]model.PhoneNumber, 0, len(order))
	for _, norm := range order {
		pn := byNorm[norm]
		sort.Slice(pn.Origins, func(i, j int) bool { return pn.Origins[i].Rank() < pn.Origins[j].Rank() })
		out = append(out, *pn)
	}
	return out
}

func containsBackend(list []model.Backend, b model.Backend) bool {
	for _, x := range list {
		if x == b {
			return true
		}
	}
	return false
}
