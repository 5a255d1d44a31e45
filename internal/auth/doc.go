// Package auth provides optional bearer-token protection for the status
// API, using HS256-signed operator tokens minted by the herald CLI.
package auth
