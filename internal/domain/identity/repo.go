// Package identity maps remote telehealth identifiers onto local database ids.
package identity

import "context"

// Repository performs the raw lookups. Not-found is (0, false, nil).
type Repository interface {
	PatientIDByExternalID(ctx context.Context, externalID string) (int64, bool, error)
	UserIDByAccountID(ctx context.Context, accountID string) (int64, bool, error)
}

// Resolver is what the migration pipeline consults. It is safe for
// concurrent use.
type Resolver interface {
	LocalPatientID(ctx context.Context, externalID string) (int64, bool, error)
	LocalAuthorID(ctx context.Context, externalAccountID string) (int64, bool, error)
}
