package auth

import "context"

// SessionStorer defines the contract for any component that can persist and
// rehydrate the credential.
type SessionStorer interface {
	LoadCredential(ctx context.Context) (*Credential, error)
	SaveCredential(ctx context.Context, cred Credential) error
	ClearCredential(ctx context.Context) error
}

// WorkspaceStorer persists the last workspace the user selected.
type WorkspaceStorer interface {
	LastWorkspace(ctx context.Context) (string, bool, error)
	SetLastWorkspace(ctx context.Context, id string) error
}
