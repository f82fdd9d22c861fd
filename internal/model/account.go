package model

import "time"

// Provider identifies an email-marketing service an account talks to
type Provider string

const (
	ProviderSendX       Provider = "sendx"
	ProviderSendPulse   Provider = "sendpulse"
	ProviderGetResponse Provider = "getresponse"
	ProviderMagicLink   Provider = "magiclink"
)

// Providers lists every supported provider
var Providers = []Provider{ProviderSendX, ProviderSendPulse, ProviderGetResponse, ProviderMagicLink}

func (p Provider) Valid() bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

// Account is a named set of credentials for one provider.
// Which credential fields are used depends on the provider.
type Account struct {
	ID             string    `bson:"_id" json:"id"`
	Name           string    `bson:"name" json:"name"`
	Provider       Provider  `bson:"provider" json:"provider"`
	APIKey         string    `bson:"api_key,omitempty" json:"api_key,omitempty"`
	ClientID       string    `bson:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret   string    `bson:"client_secret,omitempty" json:"client_secret,omitempty"`
	PublishableKey string    `bson:"publishable_key,omitempty" json:"publishable_key,omitempty"`
	SecretKey      string    `bson:"secret_key,omitempty" json:"secret_key,omitempty"`
	ApplicationID  string    `bson:"application_id,omitempty" json:"application_id,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

// AccountStatus values
const (
	StatusConnected = "connected"
	StatusFailed    = "failed"
)

// AccountStatus is the outcome of probing a provider with an account's credentials
type AccountStatus struct {
	AccountID string      `json:"account_id"`
	Name      string      `json:"name,omitempty"`
	Provider  Provider    `json:"provider,omitempty"`
	Status    string      `json:"status"`
	Response  interface{} `json:"response,omitempty"`
	CheckedAt time.Time   `json:"checked_at"`
}

// Contact is one record queued for import
type Contact struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}
