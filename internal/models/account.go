package models

// AccountStatus enumerates whether an account may source jobs.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
)

// Account is the identity a work item executes under. Provisioned externally.
type Account struct {
	ID            string        `json:"id"`
	Status        AccountStatus `json:"status"`
	CredentialRef string        `json:"credential_ref,omitempty"`
	DisplayName   string        `json:"display_name,omitempty"`
}

// Active reports whether the account is eligible to source jobs.
func (a Account) Active() bool {
	return a.Status == AccountActive
}
