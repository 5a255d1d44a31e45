// Package chat defines the contract between the session controller and the
// messaging transport: the lifecycle event union, the correspondent id
// classification rules, and the Client interface the transport implements.
package chat
