// Package auth handles users, passwords and API tokens.
//
// Three roles mirror the Domoticz user rights: viewer (read only), user
// (may operate devices) and admin (everything, including hardware, rules
// and user management). Permissions are a static role mapping.
//
// Passwords are hashed with Argon2id. Logins get a short-lived JWT access
// token and an opaque refresh token. Refresh tokens are stored hashed and
// rotate on every use; presenting a token that was already rotated
// revokes its whole family.
package auth
