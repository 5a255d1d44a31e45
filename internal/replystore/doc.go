// Package replystore persists the set of correspondents that have already
// received the one-time greeting, backed by a JSON file rewritten in full
// on every mutation.
package replystore
