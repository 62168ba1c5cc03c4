// Package security generates and verifies the shared secrets daemons
// authenticate with. Secrets are random 32-byte hex tokens, compared
// in constant time so auth failures cannot be timed.
package security
