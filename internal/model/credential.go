package model

type CredentialStatus string

const (
	CredentialActive   CredentialStatus = "active"
	CredentialInactive CredentialStatus = "inactive"
)

// Credential is a tenant's messaging provider sub-account for one channel.
type Credential struct {
	TenantID   string
	Channel    Channel
	AccountSID string
	AuthToken  string
	FromNumber string
	Status     CredentialStatus
}
