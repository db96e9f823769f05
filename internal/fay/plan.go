package fay

import (
	"fmt"
	"sort"
)

// BuildPlan is the ordered package list for one stage. Purely derived,
// never persisted.
type BuildPlan struct {
	Stage int
	Names []string
}

// Plan selects the manifests of one stage and orders them by build-order
// ascending; packages without one sort last. Ties keep declaration order.
//
// Ordering is stage-then-build-order only. Dependency edges are checked per
// package right before it builds (CheckDeps), never used to reorder: a
// cross-stage dependency that is not yet installed is a hard error, not a
// scheduling input.
func (s *ManifestStore) Plan(stage int) *BuildPlan {
	var picked []*Manifest
	for _, m := range s.ordered {
		if m.Stage == stage {
			picked = append(picked, m)
		}
	}
	sort.SliceStable(picked, func(i, j int) bool {
		return picked[i].BuildOrder < picked[j].BuildOrder
	})

	plan := &BuildPlan{Stage: stage}
	for _, m := range picked {
		plan.Names = append(plan.Names, m.Name)
	}
	return plan
}

// CheckDeps verifies every dependency of m is already present in the package
// database. Failure is fatal for m only.
func CheckDeps(m *Manifest, db *PackageDB) error {
	for _, dep := range m.Depends {
		if _, _, err := db.Query(dep); err != nil {
			return fmt.Errorf("%w: %s requires %s", ErrDependencyUnmet, m.Name, dep)
		}
	}
	return nil
}
