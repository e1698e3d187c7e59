package session

// Session is the server-side record behind an issued session token.
//
// CredentialVersion pins the session to the credential it was created
// against; a session whose version no longer matches the account's current
// credential is treated as revoked even if its Redis key survived.
type Session struct {
	SchemaVersion uint8

	SessionID  string
	AccountID  string
	LoginEmail string

	CredentialVersion int64
	IPHash            [32]byte
	UserAgentHash     [32]byte

	CreatedAt int64
	ExpiresAt int64
}
