// Package authz holds the role gate, the clinic scope gate and the
// tenant-scoped document accessor. All checks fail closed.
package authz

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jwalitptl/nutri-api/internal/model"
	"github.com/jwalitptl/nutri-api/internal/repository"
	apperrors "github.com/jwalitptl/nutri-api/pkg/errors"
)

// Decision is the outcome of a gate. Reason is for the audit log only.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Err converts a denial into a Forbidden error. Nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperrors.Forbidden(d.Reason)
}

// Authorize is the role gate.
func Authorize(c model.Claims, allowed ...model.Role) Decision {
	if !c.HasRole() {
		return deny("missing role claim")
	}
	if !slices.Contains(allowed, c.Role) {
		return deny(fmt.Sprintf("role %s not allowed", c.Role))
	}
	return allow()
}

// EnforceClinicScope is the clinic scope gate. Platform admins bypass it.
// Patients are scoped by their patient linkage rather than a clinic claim.
func EnforceClinicScope(c model.Claims) Decision {
	switch {
	case c.Role == model.RolePlatformAdmin, c.Role == model.RolePatient:
		return allow()
	case c.Role.IsTeam():
		if !c.HasClinic() {
			return deny("missing clinic scope")
		}
		return allow()
	}
	return deny("missing role claim")
}

// ClinicScoped is implemented by documents owned by a clinic.
type ClinicScoped interface {
	GetClinicID() string
}

// GetInClinic loads a document through fetch and hides it unless it belongs to
// clinicID. A document in another clinic is indistinguishable from a missing
// one. fetch must return repository.ErrNotFound for absent documents.
func GetInClinic[T ClinicScoped](ctx context.Context, resource string, fetch func(context.Context, string) (T, error), id, clinicID string) (T, error) {
	var zero T
	if clinicID == "" {
		return zero, apperrors.NotFound(resource)
	}

	doc, err := fetch(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return zero, apperrors.NotFound(resource)
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load %s: %w", resource, err)
	}

	if doc.GetClinicID() != clinicID {
		return zero, apperrors.NotFound(resource)
	}
	return doc, nil
}
