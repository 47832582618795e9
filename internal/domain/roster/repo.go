package roster

import "context"

type Repository interface {
	// ProviderIDs lists users with a practitioner id, ordered by id.
	ProviderIDs(ctx context.Context) ([]string, error)
	// ActiveProviders returns up to limit active practitioners.
	ActiveProviders(ctx context.Context, limit int) ([]Provider, error)
	// PatientExternalIDs lists the distinct external ids of the patients
	// the provider has appointments with.
	PatientExternalIDs(ctx context.Context, providerID string) ([]string, error)
}
